package verification

import (
	"fmt"

	"github.com/vitwit/x402pay/types"
)

// Reconciliation is the balance delta observed for the recipient.
type Reconciliation struct {
	AccountIndex int    `json:"accountIndex"`
	Pre          uint64 `json:"pre"`
	Post         uint64 `json:"post"`
	Received     uint64 `json:"received"`
	Required     uint64 `json:"required"`
}

// Reconcile derives how much of mint the recipient token account received in
// a confirmed transaction and fails unless it covers required. A missing
// pre-balance counts as zero; a decrease counts as nothing received.
func Reconcile(confirmed *types.ConfirmedTransaction, recipient, mint string, required uint64) (*Reconciliation, error) {
	if confirmed == nil {
		return nil, types.NewError(types.ErrReconciliationMismatch, "no confirmed transaction to reconcile")
	}
	if confirmed.Err != "" {
		return nil, types.NewError(types.ErrOnChainFailure,
			"transaction %s failed on-chain: %s", confirmed.Signature, confirmed.Err)
	}

	index := -1
	for i, key := range confirmed.AccountKeys {
		if key == recipient {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, &types.X402Error{
			Code:    types.ErrReconciliationMismatch,
			Message: fmt.Sprintf("recipient %s is not part of transaction %s", recipient, confirmed.Signature),
			Data:    &Reconciliation{AccountIndex: -1, Required: required},
		}
	}

	rec := &Reconciliation{
		AccountIndex: index,
		Pre:          balanceAt(confirmed.PreTokenBalances, index, mint),
		Post:         balanceAt(confirmed.PostTokenBalances, index, mint),
		Required:     required,
	}
	if rec.Post > rec.Pre {
		rec.Received = rec.Post - rec.Pre
	}

	if rec.Received < required {
		return nil, &types.X402Error{
			Code: types.ErrReconciliationMismatch,
			Message: fmt.Sprintf("recipient received %d, required %d in transaction %s",
				rec.Received, required, confirmed.Signature),
			Data: rec,
		}
	}

	return rec, nil
}

func balanceAt(balances []types.TokenBalance, index int, mint string) uint64 {
	for _, b := range balances {
		if int(b.AccountIndex) == index && (mint == "" || b.Mint == mint) {
			return b.Amount
		}
	}
	return 0
}
