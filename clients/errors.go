package clients

import (
	"errors"
	"fmt"
)

// Wallet error codes, as defined by EIP-1193 and EIP-3326.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupported       = 4200
	CodeDisconnected      = 4900
	CodeUnrecognizedChain = 4902
	CodeInternal          = -32603
)

// ProviderError is returned by wallet requests.
type ProviderError struct {
	Code    int
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wallet error %d: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("wallet error %d: %s", e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func newProviderError(code int, msg string, err error) *ProviderError {
	return &ProviderError{Code: code, Message: msg, Err: err}
}

// ErrorCode extracts the wallet error code from err, or 0 if err is not a ProviderError.
func ErrorCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return 0
}

// IsUserRejected reports whether the user declined the request.
func IsUserRejected(err error) bool {
	return ErrorCode(err) == CodeUserRejected
}

// IsUnrecognizedChain reports whether a chain switch failed because the wallet does not know the chain.
func IsUnrecognizedChain(err error) bool {
	return ErrorCode(err) == CodeUnrecognizedChain
}

// ErrTransactionReverted is returned by Wait when the receipt reports failure.
var ErrTransactionReverted = errors.New("transaction reverted")
