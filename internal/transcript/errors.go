package transcript

import (
	"errors"
	"fmt"
	"strings"
)

// Upstream conditions. Sources wrap these so the classifier can use errors.Is.
var (
	ErrNoTranscript      = errors.New("no transcript available")
	ErrDisabled          = errors.New("transcripts disabled")
	ErrUnavailable       = errors.New("item unavailable")
	ErrTooManyRequests   = errors.New("too many requests")
	ErrFallbackFailed    = errors.New("fallback transcription failed")
	ErrFallbackNotConfig = errors.New("fallback transcriber not configured")
)

// ItemError is a failure with an explicit taxonomy kind attached.
type ItemError struct {
	Kind    ErrorKind
	ItemID  string
	Message string
	Cause   error
}

func NewError(kind ErrorKind, itemID, message string) *ItemError {
	return &ItemError{
		Kind:    kind,
		ItemID:  itemID,
		Message: message,
	}
}

func WrapError(err error, kind ErrorKind, itemID, message string) *ItemError {
	return &ItemError{
		Kind:    kind,
		ItemID:  itemID,
		Message: message,
		Cause:   err,
	}
}

func (e *ItemError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Kind, e.Message))
	if e.ItemID != "" {
		parts = append(parts, "item="+e.ItemID)
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}
	return strings.Join(parts, " | ")
}

func (e *ItemError) Unwrap() error {
	return e.Cause
}

func IsKind(err error, kind ErrorKind) bool {
	var itemErr *ItemError
	if errors.As(err, &itemErr) {
		return itemErr.Kind == kind
	}
	return false
}

// SafeExecute runs fn and converts a panic into an unknown ItemError.
func SafeExecute(itemID string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(ErrorUnknown, itemID, fmt.Sprintf("runtime error: %v", r))
		}
	}()

	return fn()
}
