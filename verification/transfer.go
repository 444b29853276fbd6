package verification

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/x402pay/types"
)

// TokenOpcode is the first data byte of an SPL Token program instruction.
type TokenOpcode uint8

const (
	OpInitializeMint TokenOpcode = iota
	OpInitializeAccount
	OpInitializeMultisig
	OpTransfer
	OpApprove
	OpRevoke
	OpSetAuthority
	OpMintTo
	OpBurn
	OpCloseAccount
	OpFreezeAccount
	OpThawAccount
	OpTransferChecked
	OpApproveChecked
	OpMintToChecked
	OpBurnChecked
	OpInitializeAccount2
	OpSyncNative
	OpInitializeAccount3
	OpInitializeMultisig2
	OpInitializeMint2
	OpGetAccountDataSize
	OpInitializeImmutableOwner
	OpAmountToUiAmount
	OpUiAmountToAmount
	opCount
)

var opcodeNames = [opCount]string{
	"InitializeMint",
	"InitializeAccount",
	"InitializeMultisig",
	"Transfer",
	"Approve",
	"Revoke",
	"SetAuthority",
	"MintTo",
	"Burn",
	"CloseAccount",
	"FreezeAccount",
	"ThawAccount",
	"TransferChecked",
	"ApproveChecked",
	"MintToChecked",
	"BurnChecked",
	"InitializeAccount2",
	"SyncNative",
	"InitializeAccount3",
	"InitializeMultisig2",
	"InitializeMint2",
	"GetAccountDataSize",
	"InitializeImmutableOwner",
	"AmountToUiAmount",
	"UiAmountToAmount",
}

func (op TokenOpcode) Known() bool {
	return op < opCount
}

func (op TokenOpcode) String() string {
	if !op.Known() {
		return fmt.Sprintf("Unknown(%d)", uint8(op))
	}
	return opcodeNames[op]
}

// Transfer instruction layout: opcode byte then a little-endian u64 amount.
const (
	transferDataLen     = 9
	transferAccountsMin = 3
)

// Rejection records why a token instruction was not accepted as a payment.
type Rejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// TransferMismatch is attached to NoValidTransferInstruction errors.
type TransferMismatch struct {
	BestObserved uint64      `json:"bestObserved"`
	Required     uint64      `json:"required"`
	Rejections   []Rejection `json:"rejections,omitempty"`
}

// DecodeTransfer decodes a token-program instruction that must be a plain
// Transfer. accounts are the resolved instruction accounts.
func DecodeTransfer(index int, data []byte, accounts []solana.PublicKey) (*types.ParsedTransferInstruction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty instruction data")
	}

	op := TokenOpcode(data[0])
	if !op.Known() {
		return nil, fmt.Errorf("unknown token opcode %d", data[0])
	}
	if op != OpTransfer {
		return nil, fmt.Errorf("opcode %s is not Transfer", op)
	}
	if len(data) != transferDataLen {
		return nil, fmt.Errorf("transfer data is %d bytes, want %d", len(data), transferDataLen)
	}
	if len(accounts) < transferAccountsMin {
		return nil, fmt.Errorf("transfer has %d accounts, want %d", len(accounts), transferAccountsMin)
	}

	return &types.ParsedTransferInstruction{
		Index:       index,
		Opcode:      uint8(op),
		Source:      accounts[0].String(),
		Destination: accounts[1].String(),
		Authority:   accounts[2].String(),
		Amount:      binary.LittleEndian.Uint64(data[1:transferDataLen]),
	}, nil
}

// ValidateTransfer looks for a token Transfer paying at least minAmount into
// recipient. The check is static; the confirmed balance delta is what counts.
func ValidateTransfer(tx *solana.Transaction, recipient solana.PublicKey, minAmount uint64) (*types.ParsedTransferInstruction, error) {
	mismatch := &TransferMismatch{Required: minAmount}
	keys := tx.Message.AccountKeys

	for i, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(keys) {
			mismatch.Rejections = append(mismatch.Rejections, Rejection{Index: i, Reason: "program index out of range"})
			continue
		}
		if !keys[inst.ProgramIDIndex].Equals(solana.TokenProgramID) {
			continue
		}

		accounts, err := resolveAccounts(keys, inst.Accounts)
		if err != nil {
			mismatch.Rejections = append(mismatch.Rejections, Rejection{Index: i, Reason: err.Error()})
			continue
		}

		transfer, err := DecodeTransfer(i, inst.Data, accounts)
		if err != nil {
			mismatch.Rejections = append(mismatch.Rejections, Rejection{Index: i, Reason: err.Error()})
			continue
		}

		if transfer.Destination != recipient.String() {
			mismatch.Rejections = append(mismatch.Rejections, Rejection{
				Index:  i,
				Reason: fmt.Sprintf("destination %s is not the recipient", transfer.Destination),
			})
			continue
		}

		if transfer.Amount >= minAmount {
			return transfer, nil
		}

		if transfer.Amount > mismatch.BestObserved {
			mismatch.BestObserved = transfer.Amount
		}
		mismatch.Rejections = append(mismatch.Rejections, Rejection{
			Index:  i,
			Reason: fmt.Sprintf("amount %d below required %d", transfer.Amount, minAmount),
		})
	}

	return nil, &types.X402Error{
		Code: types.ErrNoValidTransferInstruction,
		Message: fmt.Sprintf("no transfer of at least %d to %s (best observed %d)",
			minAmount, recipient, mismatch.BestObserved),
		Data: mismatch,
	}
}

func resolveAccounts(keys solana.PublicKeySlice, indexes []uint16) ([]solana.PublicKey, error) {
	accounts := make([]solana.PublicKey, 0, len(indexes))
	for _, idx := range indexes {
		if int(idx) >= len(keys) {
			return nil, fmt.Errorf("account index %d out of range", idx)
		}
		accounts = append(accounts, keys[idx])
	}
	return accounts, nil
}
