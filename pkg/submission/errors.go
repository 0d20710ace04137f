package submission

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyPending is returned when a key already has a write in flight.
	ErrAlreadyPending = errors.New("submission already pending")
	// ErrUnknownCategory matches validation errors for unregistered categories.
	ErrUnknownCategory = errors.New("unknown category")
	// ErrExternalWrite matches every *ExternalWriteError.
	ErrExternalWrite = errors.New("external write failed")
	// ErrWalletRequired is returned when the context carries no wallet.
	ErrWalletRequired = errors.New("connect a wallet to submit")
)

// Validation error codes beyond the field codes of package category.
const (
	CodeUnknownCategory = "UNKNOWN_CATEGORY"
	CodeInvalidRecord   = "INVALID_RECORD"
)

// ValidationError reports missing or malformed input. It never reaches the
// chain writer.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Is lets errors.Is match ErrValidation, and ErrUnknownCategory when the
// category was not registered.
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return true
	case ErrUnknownCategory:
		return e.Code == CodeUnknownCategory
	}
	return false
}

// ExternalWriteError wraps whatever the chain writer reported.
type ExternalWriteError struct {
	Call string
	Err  error
}

func (e *ExternalWriteError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Call, e.Err)
}

func (e *ExternalWriteError) Unwrap() error { return e.Err }

// Is matches ErrExternalWrite.
func (e *ExternalWriteError) Is(target error) bool { return target == ErrExternalWrite }
