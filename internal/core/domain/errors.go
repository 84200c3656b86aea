package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUploadNotFound    = errors.New("upload not found")
	ErrInvoiceNotFound   = errors.New("invoice not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStageInFlight rejects a second concurrent stage invocation for the
	// same upload id.
	ErrStageInFlight = errors.New("stage already in flight")
	// ErrDuplicateContent is a control-flow signal, not a failure: the same
	// bytes already exist for this owner and the caller must decide.
	ErrDuplicateContent = errors.New("duplicate content")
	ErrTemporary        = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
