// Package config reads the server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitwit/x402pay/types"
	"github.com/vitwit/x402pay/utils"
)

type Config struct {
	Engine   *types.Config
	DBSource string
	Port     string
	Env      string
}

func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom builds the configuration from getenv. DB_SOURCE is optional; an
// empty value selects the in-memory ledger.
func LoadFrom(getenv func(string) string) (*Config, error) {
	network, err := types.NetworkFromCluster(getenv("SOLANA_CLUSTER"))
	if err != nil {
		return nil, types.WrapError(types.ErrConfigError, err, "invalid SOLANA_CLUSTER")
	}

	engine := &types.Config{
		Network:         network,
		RPCURL:          getenv("SOLANA_RPC_URL"),
		RecipientWallet: getenv("SOLANA_RECIPIENT_WALLET"),
		TokenMint:       getenv("USDC_MINT"),
		LogLevel:        getenv("LOG_LEVEL"),
	}
	if engine.RecipientWallet == "" {
		engine.RecipientWallet = DefaultRecipientWallet
	}

	if engine.MinPrice, err = decimalEnv(getenv, "MIN_PAYMENT_USDC"); err != nil {
		return nil, err
	}
	if engine.MaxPrice, err = decimalEnv(getenv, "MAX_PAYMENT_USDC"); err != nil {
		return nil, err
	}
	if engine.ConfirmTimeout, err = durationEnv(getenv, "CONFIRM_TIMEOUT"); err != nil {
		return nil, err
	}
	if engine.PollInterval, err = durationEnv(getenv, "CONFIRM_POLL_INTERVAL"); err != nil {
		return nil, err
	}
	if s := getenv("ENABLE_METRICS"); s != "" {
		engine.EnableMetrics, err = strconv.ParseBool(s)
		if err != nil {
			return nil, types.WrapError(types.ErrConfigError, err, "invalid ENABLE_METRICS")
		}
	}

	if err := utils.ValidateConfig(engine); err != nil {
		return nil, err
	}

	port := getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	return &Config{
		Engine:   engine,
		DBSource: getenv("DB_SOURCE"),
		Port:     port,
		Env:      env,
	}, nil
}

// DefaultRecipientWallet receives payments when SOLANA_RECIPIENT_WALLET is
// unset.
const DefaultRecipientWallet = "seFkxFkXEY9JGEpCyPfCWTuPZG9WK6ucf95zvKCfsRX"

// RPCURL returns the configured endpoint or the public one of the cluster.
func (c *Config) RPCURL() string {
	if c.Engine.RPCURL != "" {
		return c.Engine.RPCURL
	}
	return "https://api." + c.Engine.Network.Cluster() + ".solana.com"
}

func decimalEnv(getenv func(string) string, key string) (decimal.Decimal, error) {
	s := getenv(key)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := utils.ValidateAmount(s)
	if err != nil {
		return decimal.Zero, types.WrapError(types.ErrConfigError, err, fmt.Sprintf("invalid %s", key))
	}
	return *d, nil
}

func durationEnv(getenv func(string) string, key string) (time.Duration, error) {
	s := getenv(key)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, types.WrapError(types.ErrConfigError, err, fmt.Sprintf("invalid %s", key))
	}
	return d, nil
}
