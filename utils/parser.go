package utils

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/vitwit/x402pay/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("base58", func(fl validator.FieldLevel) bool {
		return isBase58String(fl.Field().String())
	})
}

// Defaults applied by ParseConfig and ValidateConfig when fields are unset.
var (
	DefaultMinPrice       = decimal.RequireFromString("0.01")
	DefaultMaxPrice       = decimal.RequireFromString("1000")
	DefaultConfirmTimeout = 60 * time.Second
	DefaultPollInterval   = 2 * time.Second
)

// ParseQuoteRequest parses and validates a QuoteRequest from JSON
func ParseQuoteRequest(data []byte) (*types.QuoteRequest, error) {
	var req types.QuoteRequest

	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidRequest,
			Message: fmt.Sprintf("failed to parse quote request: %v", err),
		}
	}

	if err := ValidateStruct(&req); err != nil {
		return nil, err
	}

	return &req, nil
}

// ParseSettleRequest parses and validates a SettleRequest from JSON
func ParseSettleRequest(data []byte) (*types.SettleRequest, error) {
	var req types.SettleRequest

	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidRequest,
			Message: fmt.Sprintf("failed to parse settle request: %v", err),
		}
	}

	if err := ValidateStruct(&req); err != nil {
		return nil, err
	}

	return &req, nil
}

// ValidateStruct runs struct-tag validation and reports failures as
// InvalidRequest.
func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return &types.X402Error{
			Code:    types.ErrInvalidRequest,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}
	return nil
}

// ParseConfig parses Config from JSON and validates it
func ParseConfig(data []byte) (*types.Config, error) {
	var config types.Config

	if err := json.Unmarshal(data, &config); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("failed to parse config: %v", err),
		}
	}

	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ValidateConfig fills defaults and checks the engine configuration.
func ValidateConfig(config *types.Config) error {
	if config == nil {
		return types.NewError(types.ErrConfigError, "config is required")
	}

	if config.MinPrice.IsZero() {
		config.MinPrice = DefaultMinPrice
	}
	if config.MaxPrice.IsZero() {
		config.MaxPrice = DefaultMaxPrice
	}
	if config.ConfirmTimeout == 0 {
		config.ConfirmTimeout = DefaultConfirmTimeout
	}
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}

	if err := validate.Struct(config); err != nil {
		return &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	if err := ValidateSolanaAddress(config.RecipientWallet); err != nil {
		return types.WrapError(types.ErrConfigError, err, "invalid recipient wallet")
	}
	if err := ValidateSolanaAddress(config.Mint()); err != nil {
		return types.WrapError(types.ErrConfigError, err, "invalid token mint")
	}

	if config.MinPrice.IsNegative() || config.MinPrice.GreaterThan(config.MaxPrice) {
		return types.NewError(types.ErrConfigError,
			"invalid price bounds: min %s, max %s", config.MinPrice, config.MaxPrice)
	}

	return nil
}
