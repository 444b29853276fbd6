package clients

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	x402types "github.com/vitwit/x402pay/types"
)

func newTestTx(t *testing.T) *solana.Transaction {
	t.Helper()

	payer := solana.NewWallet()
	dest := solana.NewWallet().PublicKey()
	inst := solana.NewInstruction(solana.TokenProgramID, solana.AccountMetaSlice{
		solana.Meta(payer.PublicKey()).WRITE(),
		solana.Meta(dest).WRITE(),
		solana.Meta(payer.PublicKey()).SIGNER(),
	}, []byte{3, 1, 0, 0, 0, 0, 0, 0, 0})

	tx, err := solana.NewTransaction([]solana.Instruction{inst}, solana.Hash{1}, solana.TransactionPayer(payer.PublicKey()))
	require.NoError(t, err)
	return tx
}

func TestNewSolanaClient(t *testing.T) {
	_, err := NewSolanaClient("polygon", "http://localhost:8899", 0)
	assert.Error(t, err)

	_, err = NewSolanaClient(x402types.NetworkSolanaDevnet, "", 0)
	assert.Error(t, err)

	c, err := NewSolanaClient(x402types.NetworkSolanaDevnet, "http://localhost:8899", 0)
	require.NoError(t, err)
	assert.Equal(t, x402types.NetworkSolanaDevnet, c.GetNetwork())
	assert.Equal(t, defaultPollInterval, c.pollInterval)
}

func TestToConfirmedTransaction(t *testing.T) {
	tx := newTestTx(t)
	mint := solana.MustPublicKeyFromBase58(x402types.USDCMintDevnet)
	owner := solana.NewWallet().PublicKey()
	sig := solana.Signature{7}

	meta := &rpc.TransactionMeta{
		PreTokenBalances: []rpc.TokenBalance{
			{AccountIndex: 1, Mint: mint, Owner: &owner, UiTokenAmount: &rpc.UiTokenAmount{Amount: "1000", Decimals: 6}},
		},
		PostTokenBalances: []rpc.TokenBalance{
			{AccountIndex: 1, Mint: mint, Owner: &owner, UiTokenAmount: &rpc.UiTokenAmount{Amount: "491000", Decimals: 6}},
		},
	}

	confirmed, err := toConfirmedTransaction(sig, 42, tx, meta)
	require.NoError(t, err)

	assert.Equal(t, sig.String(), confirmed.Signature)
	assert.Equal(t, uint64(42), confirmed.Slot)
	assert.Empty(t, confirmed.Err)
	require.Len(t, confirmed.AccountKeys, len(tx.Message.AccountKeys))
	assert.Equal(t, tx.Message.AccountKeys[1].String(), confirmed.AccountKeys[1])

	require.Len(t, confirmed.PostTokenBalances, 1)
	assert.Equal(t, uint64(491000), confirmed.PostTokenBalances[0].Amount)
	assert.Equal(t, owner.String(), confirmed.PostTokenBalances[0].Owner)
	assert.Equal(t, x402types.USDCMintDevnet, confirmed.PreTokenBalances[0].Mint)
}

func TestToConfirmedTransactionRejectsBadAmount(t *testing.T) {
	tx := newTestTx(t)
	meta := &rpc.TransactionMeta{
		PostTokenBalances: []rpc.TokenBalance{
			{AccountIndex: 1, UiTokenAmount: &rpc.UiTokenAmount{Amount: "-5"}},
		},
	}

	_, err := toConfirmedTransaction(solana.Signature{1}, 1, tx, meta)
	assert.Error(t, err)
}

func TestToConfirmedTransactionCarriesExecutionError(t *testing.T) {
	tx := newTestTx(t)
	meta := &rpc.TransactionMeta{
		Err: map[string]any{"InstructionError": []any{0, "InsufficientFunds"}},
	}

	confirmed, err := toConfirmedTransaction(solana.Signature{1}, 1, tx, meta)
	require.NoError(t, err)
	assert.Contains(t, confirmed.Err, "InsufficientFunds")
}

func TestReached(t *testing.T) {
	c := &SolanaClient{commitment: rpc.CommitmentConfirmed}
	assert.False(t, c.reached(rpc.ConfirmationStatusProcessed))
	assert.True(t, c.reached(rpc.ConfirmationStatusConfirmed))
	assert.True(t, c.reached(rpc.ConfirmationStatusFinalized))

	c.commitment = rpc.CommitmentFinalized
	assert.False(t, c.reached(rpc.ConfirmationStatusConfirmed))
}

func TestErrorsFormat(t *testing.T) {
	simErr := &SimulationError{Err: "AccountNotFound", Logs: []string{"Program log: a", "Program log: b"}}
	assert.Contains(t, simErr.Error(), "AccountNotFound")
	assert.Contains(t, simErr.Error(), "Program log: b")

	txErr := &TransactionError{Signature: "abc", Err: "boom"}
	assert.Equal(t, "transaction abc failed on-chain: boom", txErr.Error())
}
