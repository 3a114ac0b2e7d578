package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrInvariantViolation: попытка построить или изменить схему в недопустимое состояние.
	ErrInvariantViolation = errors.New("schema invariant violation")
	// ErrDuplicateIdentity: два узла схемы с одним identity token.
	ErrDuplicateIdentity = errors.New("duplicate identity")
	ErrNotFound          = errors.New("not found")
)

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

func duplicate(format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrInvariantViolation, ErrDuplicateIdentity, fmt.Sprintf(format, args...))
}
