package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetwork(t *testing.T) {
	n, err := NetworkFromCluster("mainnet-beta")
	require.NoError(t, err)
	assert.Equal(t, NetworkSolanaMainnet, n)
	assert.Equal(t, USDCMintMainnet, n.DefaultMint())
	assert.Equal(t, "https://explorer.solana.com/tx/abc", n.ExplorerURL("abc"))
	assert.False(t, n.IsTestnet())

	n, err = NetworkFromCluster("devnet")
	require.NoError(t, err)
	assert.Equal(t, "https://explorer.solana.com/tx/abc?cluster=devnet", n.ExplorerURL("abc"))
	assert.True(t, n.IsSolana())

	_, err = NetworkFromCluster("testnet")
	assert.Error(t, err)
	assert.False(t, Network("base").IsSolana())
}

func TestErrorCode(t *testing.T) {
	base := NewError(ErrSimulationFailure, "simulation failed: %s", "custom program error")
	wrapped := fmt.Errorf("settle: %w", base)

	assert.Equal(t, ErrSimulationFailure, ErrorCode(wrapped))
	assert.True(t, HasCode(wrapped, ErrSimulationFailure))
	assert.True(t, errors.Is(wrapped, &X402Error{Code: ErrSimulationFailure}))
	assert.False(t, errors.Is(wrapped, &X402Error{Code: ErrOnChainFailure}))
	assert.Empty(t, ErrorCode(errors.New("plain")))
	assert.Empty(t, ErrorCode(nil))

	cause := errors.New("connection refused")
	xe := WrapError(ErrNetworkSubmissionFailure, cause, "broadcast failed")
	assert.ErrorIs(t, xe, cause)
	assert.Contains(t, xe.Error(), "broadcast failed")
}

func TestQuoteStatus(t *testing.T) {
	assert.False(t, QuoteStatusPending.IsTerminal())
	assert.True(t, QuoteStatusCompleted.IsTerminal())
	assert.True(t, QuoteStatusFailed.IsTerminal())
}

func TestConfigMint(t *testing.T) {
	c := &Config{Network: NetworkSolanaDevnet}
	assert.Equal(t, USDCMintDevnet, c.Mint())
	c.TokenMint = USDCMintMainnet
	assert.Equal(t, USDCMintMainnet, c.Mint())
}
