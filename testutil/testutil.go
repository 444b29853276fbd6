// Package testutil builds signed payment transactions, payment headers and a
// scriptable network client for tests.
package testutil

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Transfer describes a single token-program instruction to embed in a test
// transaction.
type Transfer struct {
	Opcode      uint8
	Amount      uint64
	Destination solana.PublicKey
	// Data overrides the encoded opcode and amount when set.
	Data []byte
}

// Payment is a built test transaction.
type Payment struct {
	Payer     solana.PrivateKey
	Source    solana.PublicKey
	Tx        *solana.Transaction
	Raw       []byte
	Signature solana.Signature
}

// TransferData encodes a token-program instruction body: opcode followed by a
// little-endian u64 amount.
func TransferData(opcode uint8, amount uint64) []byte {
	data := make([]byte, 9)
	data[0] = opcode
	binary.LittleEndian.PutUint64(data[1:], amount)
	return data
}

// NewPayment builds and signs a transaction carrying the given token
// instructions. With signed false the signature slot is left zeroed.
func NewPayment(signed bool, transfers ...Transfer) (*Payment, error) {
	payer, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, err
	}
	source := solana.NewWallet().PublicKey()

	instructions := make([]solana.Instruction, 0, len(transfers))
	for _, tr := range transfers {
		data := tr.Data
		if data == nil {
			data = TransferData(tr.Opcode, tr.Amount)
		}
		instructions = append(instructions, solana.NewInstruction(solana.TokenProgramID, solana.AccountMetaSlice{
			solana.Meta(source).WRITE(),
			solana.Meta(tr.Destination).WRITE(),
			solana.Meta(payer.PublicKey()).SIGNER(),
		}, data))
	}

	tx, err := solana.NewTransaction(instructions, solana.Hash{1}, solana.TransactionPayer(payer.PublicKey()))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}

	if signed {
		_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
			if key.Equals(payer.PublicKey()) {
				return &payer
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("sign transaction: %w", err)
		}
	} else {
		tx.Signatures = []solana.Signature{{}}
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal transaction: %w", err)
	}

	return &Payment{
		Payer:     payer,
		Source:    source,
		Tx:        tx,
		Raw:       raw,
		Signature: tx.Signatures[0],
	}, nil
}

// MustPayment is NewPayment that panics on error.
func MustPayment(signed bool, transfers ...Transfer) *Payment {
	p, err := NewPayment(signed, transfers...)
	if err != nil {
		panic(err)
	}
	return p
}

// Header encodes a payment header envelope around raw transaction bytes.
func Header(version int, scheme, network string, raw []byte) string {
	envelope := map[string]any{
		"x402Version": version,
		"scheme":      scheme,
		"network":     network,
		"payload": map[string]string{
			"serializedTransaction": base64.StdEncoding.EncodeToString(raw),
		},
	}
	b, err := json.Marshal(envelope)
	if err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}

// ExactHeader is Header for version 1 of the exact scheme.
func ExactHeader(network string, raw []byte) string {
	return Header(1, "exact", network, raw)
}
