package utils

import (
	"fmt"
	"math"
	"math/big"
	"regexp"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

var base58Pattern = regexp.MustCompile("^[1-9A-HJ-NP-Za-km-z]+$")

// ValidateAmount checks if an amount string is a valid decimal
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}

// FiatToTokenUnits converts a fiat amount into token smallest units by a
// decimal shift, rounding half away from zero.
func FiatToTokenUnits(amount decimal.Decimal, decimals int32) (uint64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("amount cannot be negative")
	}

	units := amount.Shift(decimals).Round(0)
	if units.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("amount %s overflows token units", amount)
	}

	return uint64(units.IntPart()), nil
}

// TokenUnitsToDecimal formats token smallest units as a decimal amount.
func TokenUnitsToDecimal(units uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -decimals)
}

// ValidateSolanaAddress checks that s is a base58 encoded 32-byte public key.
func ValidateSolanaAddress(s string) error {
	if s == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if len(s) < 32 || len(s) > 44 {
		return fmt.Errorf("Solana address has invalid length")
	}
	if !isBase58String(s) {
		return fmt.Errorf("Solana address must be valid base58")
	}
	if _, err := solana.PublicKeyFromBase58(s); err != nil {
		return fmt.Errorf("invalid Solana address: %w", err)
	}
	return nil
}

// ValidateTransactionSignature checks a base58 Solana transaction signature.
func ValidateTransactionSignature(sig string) error {
	if sig == "" {
		return fmt.Errorf("transaction signature cannot be empty")
	}
	if len(sig) < 80 || len(sig) > 90 {
		return fmt.Errorf("Solana transaction signature has invalid length")
	}
	if !isBase58String(sig) {
		return fmt.Errorf("Solana transaction signature must be valid base58")
	}
	return nil
}

// Helper function to check if a string is valid base58
func isBase58String(s string) bool {
	// Base58 alphabet: 123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz
	return base58Pattern.MatchString(s)
}
