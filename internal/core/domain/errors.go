package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrTemporary         = errors.New("temporary failure")
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

// RollbackFailure names a document that could not be returned to pending.
type RollbackFailure struct {
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason"`
}

// PartialRollbackError reports a cancellation that rolled back only part of
// the in-flight documents. It is carried next to the result, not instead of it.
type PartialRollbackError struct {
	RolledBack []string
	Failed     []RollbackFailure
}

func (e *PartialRollbackError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		ids = append(ids, f.DocumentID)
	}
	return fmt.Sprintf("partial rollback: %d rolled back, %d failed (%s)",
		len(e.RolledBack), len(e.Failed), strings.Join(ids, ","))
}
