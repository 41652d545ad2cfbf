package document

import (
	"context"
	"time"

	"docvault.org/internal/access"
	"docvault.org/internal/audit"
)

// SearchFilter narrows Search at the data layer, before role filtering.
type SearchFilter struct {
	Query       string
	Type        string
	Sensitivity access.Sensitivity // zero means any
	From        time.Time
	To          time.Time
	CreatedBy   string
	Limit       int
	Offset      int
}

// StatusChange is the mutation applied by Transition.
type StatusChange struct {
	To         Status
	Readonly   bool
	ArchivedAt *time.Time
	UpdatedBy  string
	UpdatedAt  time.Time
}

// Repository is the transactional persistence contract for documents
// and their access log. Create and Transition persist the audit entry
// in the same transaction as the row mutation: both succeed or neither
// does. Transition is a compare-and-swap - it applies the change only
// if the current status is one of from, so concurrent archive/delete
// calls on one document cannot both succeed.
type Repository interface {
	Create(ctx context.Context, d *Document, entry *audit.Entry) error
	Get(ctx context.Context, id string) (Document, error)
	FindByIdempotencyKey(ctx context.Context, key string) (Document, error)
	Transition(ctx context.Context, id string, from []Status, change StatusChange, entry *audit.Entry) error
	Search(ctx context.Context, f SearchFilter) ([]Document, int, error)
}
