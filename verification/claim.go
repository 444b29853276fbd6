package verification

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/x402pay/types"
)

// PaymentClaim is a decoded payment header: the payer's assertion of a signed
// transaction plus the transaction itself.
type PaymentClaim struct {
	Version               types.X402Version
	Scheme                types.PaymentScheme
	Network               types.Network
	SerializedTransaction []byte
	Transaction           *solana.Transaction
	Signature             solana.Signature
}

// envelope is the tag of a payment header. Payload stays raw until the
// (version, scheme) pair selects a concrete payload type.
type envelope struct {
	X402Version *int            `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

type exactPayloadV1 struct {
	SerializedTransaction string `json:"serializedTransaction"`
}

type variant struct {
	version types.X402Version
	scheme  types.PaymentScheme
}

type payloadDecoder func(raw json.RawMessage) ([]byte, error)

var payloadDecoders = map[variant]payloadDecoder{
	{version: types.X402Version1, scheme: types.SchemeExact}: decodeExactV1,
}

// DecodeClaim decodes a payment header and checks it targets network. It
// performs no network calls.
func DecodeClaim(header string, network types.Network) (*PaymentClaim, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, types.NewError(types.ErrMalformedClaim, "payment header is empty")
	}

	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, types.WrapError(types.ErrMalformedClaim, err, "payment header is not valid base64")
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, types.WrapError(types.ErrMalformedClaim, err, "payment header is not valid JSON")
	}
	if env.X402Version == nil {
		return nil, types.NewError(types.ErrMalformedClaim, "payment header has no x402Version")
	}

	version := types.X402Version(*env.X402Version)
	if version != types.X402Version1 {
		return nil, types.NewError(types.ErrUnsupportedVersion, "unsupported x402Version %d", version)
	}

	scheme := types.PaymentScheme(env.Scheme)
	decode, ok := payloadDecoders[variant{version: version, scheme: scheme}]
	if !ok {
		return nil, types.NewError(types.ErrUnsupportedScheme, "unsupported scheme %q", env.Scheme)
	}

	if types.Network(env.Network) != network {
		return nil, types.NewError(types.ErrNetworkMismatch,
			"payment targets network %q, expected %q", env.Network, network)
	}

	raw, err := decode(env.Payload)
	if err != nil {
		return nil, err
	}

	tx, err := decodeTransaction(raw)
	if err != nil {
		return nil, err
	}

	if err := checkSigned(tx); err != nil {
		return nil, err
	}

	return &PaymentClaim{
		Version:               version,
		Scheme:                scheme,
		Network:               network,
		SerializedTransaction: raw,
		Transaction:           tx,
		Signature:             tx.Signatures[0],
	}, nil
}

func decodeExactV1(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, types.NewError(types.ErrMalformedClaim, "payment header has no payload")
	}

	var payload exactPayloadV1
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, types.WrapError(types.ErrMalformedClaim, err, "payload is not valid JSON")
	}
	if payload.SerializedTransaction == "" {
		return nil, types.NewError(types.ErrMalformedClaim, "payload has no serializedTransaction")
	}

	txBytes, err := base64.StdEncoding.DecodeString(payload.SerializedTransaction)
	if err != nil {
		return nil, types.WrapError(types.ErrMalformedClaim, err, "serializedTransaction is not valid base64")
	}
	return txBytes, nil
}

func decodeTransaction(raw []byte) (*solana.Transaction, error) {
	dec := bin.NewBinDecoder(raw)
	tx, err := solana.TransactionFromDecoder(dec)
	if err != nil {
		return nil, types.WrapError(types.ErrMalformedClaim, err, "failed to decode transaction")
	}
	if dec.Remaining() != 0 {
		return nil, types.NewError(types.ErrMalformedClaim, "transaction has %d trailing bytes", dec.Remaining())
	}
	if len(tx.Message.Instructions) == 0 {
		return nil, types.NewError(types.ErrMalformedClaim, "transaction has no instructions")
	}
	return tx, nil
}

// checkSigned requires every signature slot the message asks for to be
// filled.
func checkSigned(tx *solana.Transaction) error {
	required := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) == 0 || len(tx.Signatures) < required {
		return types.NewError(types.ErrUnsignedTransaction,
			"transaction carries %d of %d required signatures", len(tx.Signatures), required)
	}
	for i, sig := range tx.Signatures {
		if sig == (solana.Signature{}) {
			return types.NewError(types.ErrUnsignedTransaction, "signature %d is empty", i)
		}
	}
	return nil
}
