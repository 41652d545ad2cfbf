package document

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound          = errors.New("document: not found")
	ErrAccessDenied      = errors.New("document: access denied")
	ErrInvalidTransition = errors.New("document: invalid status transition")
	// ErrIdempotencyConflict reports a Create that lost the race for an
	// idempotency key: another row already owns it.
	ErrIdempotencyConflict = errors.New("document: idempotency key already used")
	ErrInvalidInput      = errors.New("document: invalid input")
	ErrRenderFailed      = errors.New("document: render failed")
	ErrProtectionFailed  = errors.New("document: protection failed")
)

// MissingPlaceholderError lists every required placeholder absent from
// the supplied data, not just the first, so callers can fix all at once.
type MissingPlaceholderError struct {
	Names []string
}

func (e *MissingPlaceholderError) Error() string {
	names := append([]string(nil), e.Names...)
	sort.Strings(names)
	return fmt.Sprintf("document: missing required placeholders: %s", strings.Join(names, ", "))
}
