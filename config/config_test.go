package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402pay/types"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(env(nil))
	require.NoError(t, err)

	assert.Equal(t, types.NetworkSolanaDevnet, cfg.Engine.Network)
	assert.Equal(t, DefaultRecipientWallet, cfg.Engine.RecipientWallet)
	assert.Equal(t, types.USDCMintDevnet, cfg.Engine.Mint())
	assert.Equal(t, "0.01", cfg.Engine.MinPrice.String())
	assert.Equal(t, "1000", cfg.Engine.MaxPrice.String())
	assert.Equal(t, 60*time.Second, cfg.Engine.ConfirmTimeout)
	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.DBSource)
	assert.Equal(t, "https://api.devnet.solana.com", cfg.RPCURL())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{
		"SOLANA_CLUSTER":   "mainnet-beta",
		"SOLANA_RPC_URL":   "https://rpc.example.com",
		"MIN_PAYMENT_USDC": "0.5",
		"CONFIRM_TIMEOUT":  "90s",
		"ENABLE_METRICS":   "true",
		"DB_SOURCE":        "postgres://localhost/x402pay",
		"SERVER_PORT":      "9000",
	}))
	require.NoError(t, err)

	assert.Equal(t, types.NetworkSolanaMainnet, cfg.Engine.Network)
	assert.Equal(t, types.USDCMintMainnet, cfg.Engine.Mint())
	assert.Equal(t, "0.5", cfg.Engine.MinPrice.String())
	assert.Equal(t, 90*time.Second, cfg.Engine.ConfirmTimeout)
	assert.True(t, cfg.Engine.EnableMetrics)
	assert.Equal(t, "https://rpc.example.com", cfg.RPCURL())
	assert.Equal(t, "9000", cfg.Port)
}

func TestLoadRejectsBadValues(t *testing.T) {
	for name, vars := range map[string]map[string]string{
		"cluster":  {"SOLANA_CLUSTER": "testnet"},
		"min":      {"MIN_PAYMENT_USDC": "cheap"},
		"timeout":  {"CONFIRM_TIMEOUT": "soon"},
		"metrics":  {"ENABLE_METRICS": "maybe"},
		"bounds":   {"MIN_PAYMENT_USDC": "5", "MAX_PAYMENT_USDC": "1"},
		"wallet":   {"SOLANA_RECIPIENT_WALLET": "0OIl"},
		"rpc":      {"SOLANA_RPC_URL": "not a url"},
		"loglevel": {"LOG_LEVEL": "verbose"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(env(vars))
			assert.Equal(t, types.ErrConfigError, types.ErrorCode(err))
		})
	}
}
