package verification_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402pay/types"
	"github.com/vitwit/x402pay/verification"
)

const (
	recipientAcct = "RecipientTokenAccount1111111111111111111111"
	mint          = types.USDCMintDevnet
)

func confirmedTx(pre, post []types.TokenBalance) *types.ConfirmedTransaction {
	return &types.ConfirmedTransaction{
		Signature:         "sig",
		AccountKeys:       []string{"Payer", "Source", recipientAcct, "Program"},
		PreTokenBalances:  pre,
		PostTokenBalances: post,
	}
}

func TestReconcile(t *testing.T) {
	tx := confirmedTx(
		[]types.TokenBalance{{AccountIndex: 2, Mint: mint, Amount: 1000}},
		[]types.TokenBalance{{AccountIndex: 2, Mint: mint, Amount: 491000}},
	)

	rec, err := verification.Reconcile(tx, recipientAcct, mint, 490000)
	require.NoError(t, err)
	assert.Equal(t, uint64(490000), rec.Received)
	assert.Equal(t, 2, rec.AccountIndex)
}

func TestReconcileMissingPreBalanceCountsAsZero(t *testing.T) {
	tx := confirmedTx(nil, []types.TokenBalance{{AccountIndex: 2, Mint: mint, Amount: 490000}})

	rec, err := verification.Reconcile(tx, recipientAcct, mint, 490000)
	require.NoError(t, err)
	assert.Equal(t, uint64(490000), rec.Received)
}

// The declared instruction amount is irrelevant here: only the observed
// balance delta is compared.
func TestReconcileDeltaBelowRequired(t *testing.T) {
	tx := confirmedTx(
		[]types.TokenBalance{{AccountIndex: 2, Mint: mint, Amount: 10}},
		[]types.TokenBalance{{AccountIndex: 2, Mint: mint, Amount: 400010}},
	)

	_, err := verification.Reconcile(tx, recipientAcct, mint, 490000)
	require.Error(t, err)
	assert.Equal(t, types.ErrReconciliationMismatch, types.ErrorCode(err))

	var xe *types.X402Error
	require.True(t, errors.As(err, &xe))
	rec := xe.Data.(*verification.Reconciliation)
	assert.Equal(t, uint64(400000), rec.Received)
}

func TestReconcileNegativeDelta(t *testing.T) {
	tx := confirmedTx(
		[]types.TokenBalance{{AccountIndex: 2, Mint: mint, Amount: 900000}},
		[]types.TokenBalance{{AccountIndex: 2, Mint: mint, Amount: 100}},
	)

	_, err := verification.Reconcile(tx, recipientAcct, mint, 1)
	assert.Equal(t, types.ErrReconciliationMismatch, types.ErrorCode(err))
}

func TestReconcileIgnoresOtherMint(t *testing.T) {
	tx := confirmedTx(nil, []types.TokenBalance{{AccountIndex: 2, Mint: "OtherMint", Amount: 490000}})

	_, err := verification.Reconcile(tx, recipientAcct, mint, 490000)
	assert.Equal(t, types.ErrReconciliationMismatch, types.ErrorCode(err))
}

func TestReconcileRecipientAbsent(t *testing.T) {
	tx := confirmedTx(nil, []types.TokenBalance{{AccountIndex: 2, Mint: mint, Amount: 490000}})

	_, err := verification.Reconcile(tx, "SomeoneElse", mint, 490000)
	assert.Equal(t, types.ErrReconciliationMismatch, types.ErrorCode(err))
}

func TestReconcileFailedTransaction(t *testing.T) {
	tx := confirmedTx(nil, nil)
	tx.Err = `{"InstructionError":[0,"InsufficientFunds"]}`

	_, err := verification.Reconcile(tx, recipientAcct, mint, 1)
	assert.Equal(t, types.ErrOnChainFailure, types.ErrorCode(err))

	_, err = verification.Reconcile(nil, recipientAcct, mint, 1)
	assert.Equal(t, types.ErrReconciliationMismatch, types.ErrorCode(err))
}
