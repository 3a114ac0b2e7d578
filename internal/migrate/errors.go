package migrate

import (
	"errors"
	"fmt"
	"strings"

	"qbase/internal/change"
)

var ErrDestructiveChangeRejected = errors.New("destructive change rejected")

// DestructiveError: политика отклонила список: в нём есть изменения, теряющие данные,
// а вызывающий не передал AllowDestructive. До хранилища дело не доходит.
type DestructiveError struct {
	Changes []change.Change
}

func (e *DestructiveError) Error() string {
	parts := make([]string, len(e.Changes))
	for i, c := range e.Changes {
		parts[i] = c.String()
	}
	return fmt.Sprintf("%v: %s", ErrDestructiveChangeRejected, strings.Join(parts, "; "))
}

func (e *DestructiveError) Unwrap() error { return ErrDestructiveChangeRejected }

// ApplyError: хранилище отклонило изменение. Вся партия откатывается.
type ApplyError struct {
	Index  int
	Change change.Change
	Err    error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply change #%d %s: %v", e.Index, e.Change, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }
