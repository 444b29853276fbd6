package types

import (
	"errors"
	"fmt"
)

// Error types
type X402Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Err     error  `json:"-"`
}

func (e *X402Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *X402Error) Unwrap() error {
	return e.Err
}

// Is matches any X402Error carrying the same code.
func (e *X402Error) Is(target error) bool {
	var t *X402Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Settlement error codes
const (
	ErrInvalidPlan                = "InvalidPlan"
	ErrAmountOutOfBounds          = "AmountOutOfBounds"
	ErrMalformedClaim             = "MalformedClaim"
	ErrUnsupportedVersion         = "UnsupportedVersion"
	ErrUnsupportedScheme          = "UnsupportedScheme"
	ErrNetworkMismatch            = "NetworkMismatch"
	ErrUnsignedTransaction        = "UnsignedTransaction"
	ErrDuplicateInFlight          = "DuplicateInFlight"
	ErrNoValidTransferInstruction = "NoValidTransferInstruction"
	ErrSimulationFailure          = "SimulationFailure"
	ErrNetworkSubmissionFailure   = "NetworkSubmissionFailure"
	ErrConfirmationTimeout        = "ConfirmationTimeout"
	ErrOnChainFailure             = "OnChainFailure"
	ErrReconciliationMismatch     = "ReconciliationMismatch"
	ErrTransactionNotFound        = "TransactionNotFound"
	ErrAlreadyCompleted           = "AlreadyCompleted"
	ErrQuoteNotPending            = "QuoteNotPending"
	ErrInvalidRequest             = "InvalidRequest"
	ErrLedgerFailure              = "LedgerFailure"
	ErrConfigError                = "ConfigError"
)

// NewError builds an X402Error with a formatted message.
func NewError(code string, format string, args ...any) *X402Error {
	return &X402Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError builds an X402Error around a cause.
func WrapError(code string, err error, message string) *X402Error {
	return &X402Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ErrorCode extracts the code of the first X402Error in err's chain, or ""
// when there is none.
func ErrorCode(err error) string {
	var xe *X402Error
	if errors.As(err, &xe) {
		return xe.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return ErrorCode(err) == code
}
