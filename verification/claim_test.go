package verification_test

import (
	"encoding/base64"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402pay/testutil"
	"github.com/vitwit/x402pay/types"
	"github.com/vitwit/x402pay/verification"
)

const devnet = types.NetworkSolanaDevnet

func TestDecodeClaim(t *testing.T) {
	recipient := solana.NewWallet().PublicKey()
	payment := testutil.MustPayment(true, testutil.Transfer{Opcode: 3, Amount: 490000, Destination: recipient})

	claim, err := verification.DecodeClaim(testutil.ExactHeader(string(devnet), payment.Raw), devnet)
	require.NoError(t, err)

	assert.Equal(t, types.X402Version1, claim.Version)
	assert.Equal(t, types.SchemeExact, claim.Scheme)
	assert.Equal(t, devnet, claim.Network)
	assert.Equal(t, payment.Raw, claim.SerializedTransaction)
	assert.Equal(t, payment.Signature, claim.Signature)
	require.NotNil(t, claim.Transaction)
	assert.Len(t, claim.Transaction.Message.Instructions, 1)
}

func TestDecodeClaimErrors(t *testing.T) {
	recipient := solana.NewWallet().PublicKey()
	signed := testutil.MustPayment(true, testutil.Transfer{Opcode: 3, Amount: 1, Destination: recipient})
	unsigned := testutil.MustPayment(false, testutil.Transfer{Opcode: 3, Amount: 1, Destination: recipient})
	b64 := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"empty header", "", types.ErrMalformedClaim},
		{"not base64", "%%%not-base64%%%", types.ErrMalformedClaim},
		{"not json", b64("hello"), types.ErrMalformedClaim},
		{"missing version", b64(`{"scheme":"exact","network":"solana-devnet","payload":{}}`), types.ErrMalformedClaim},
		{"version 2", testutil.Header(2, "exact", string(devnet), signed.Raw), types.ErrUnsupportedVersion},
		{"version 0", testutil.Header(0, "exact", string(devnet), signed.Raw), types.ErrUnsupportedVersion},
		{"upto scheme", testutil.Header(1, "upto", string(devnet), signed.Raw), types.ErrUnsupportedScheme},
		{"mainnet claim on devnet", testutil.ExactHeader(string(types.NetworkSolanaMainnet), signed.Raw), types.ErrNetworkMismatch},
		{"missing payload", b64(`{"x402Version":1,"scheme":"exact","network":"solana-devnet"}`), types.ErrMalformedClaim},
		{"missing transaction", b64(`{"x402Version":1,"scheme":"exact","network":"solana-devnet","payload":{}}`), types.ErrMalformedClaim},
		{"transaction not base64", b64(`{"x402Version":1,"scheme":"exact","network":"solana-devnet","payload":{"serializedTransaction":"***"}}`), types.ErrMalformedClaim},
		{"garbage transaction", testutil.ExactHeader(string(devnet), []byte{1, 2, 3}), types.ErrMalformedClaim},
		{"trailing bytes", testutil.ExactHeader(string(devnet), append(append([]byte{}, signed.Raw...), 0)), types.ErrMalformedClaim},
		{"unsigned", testutil.ExactHeader(string(devnet), unsigned.Raw), types.ErrUnsignedTransaction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claim, err := verification.DecodeClaim(tt.header, devnet)
			require.Error(t, err)
			assert.Nil(t, claim)
			assert.Equal(t, tt.code, types.ErrorCode(err), err.Error())
		})
	}
}
