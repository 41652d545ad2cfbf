// Package audit records one immutable row for every access decision and
// lifecycle event. Rows are never updated or deleted; a failed append
// aborts the operation it was recording.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docvault.org/internal/access"
	"docvault.org/internal/ids"
	"docvault.org/internal/obs"
)

var (
	ErrWriteFailed  = errors.New("audit: write failed")
	ErrInvalidEntry = errors.New("audit: invalid entry")
)

// Outcome classifies how an attempted action ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeDenied  Outcome = "denied"
)

// Entry is a single access-log row.
type Entry struct {
	ID         string
	DocumentID string
	UserID     string
	Action     access.Action
	Outcome    Outcome
	Reason     string
	Origin     string
	Agent      string
	OccurredAt time.Time
}

// NewEntry builds a fully populated entry ready for persistence.
func NewEntry(documentID, userID string, action access.Action, outcome Outcome, reason string) Entry {
	return Entry{
		ID:         ids.New(),
		DocumentID: documentID,
		UserID:     userID,
		Action:     action,
		Outcome:    outcome,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}

// Validate enforces the row invariants: a reason is mandatory whenever
// the outcome is not success.
func (e *Entry) Validate() error {
	if e.DocumentID == "" || e.UserID == "" || e.Action == "" {
		return fmt.Errorf("%w: document_id, user_id and action are required", ErrInvalidEntry)
	}
	switch e.Outcome {
	case OutcomeSuccess:
	case OutcomeFailed, OutcomeDenied:
		if strings.TrimSpace(e.Reason) == "" {
			return fmt.Errorf("%w: reason is required for outcome %s", ErrInvalidEntry, e.Outcome)
		}
	default:
		return fmt.Errorf("%w: unsupported outcome %q", ErrInvalidEntry, e.Outcome)
	}
	return nil
}

// Filter narrows Query results. Zero fields are ignored. Results are
// ordered by timestamp ascending and bounded only by Limit/Offset.
type Filter struct {
	DocumentID string
	UserID     string
	Action     access.Action
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Store is the append-only persistence contract for entries.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	Query(ctx context.Context, f Filter) ([]Entry, error)
}

// Recorder couples persistence with the structured audit log line.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	return &Recorder{store: store}, nil
}

// Record persists the entry and emits its log line. A persistence
// failure is returned as ErrWriteFailed: the caller must fail the
// operation being audited.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if err := r.store.Append(ctx, &e); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	LogEvent(ctx, e)
	return nil
}

func (r *Recorder) Query(ctx context.Context, f Filter) ([]Entry, error) {
	return r.store.Query(ctx, f)
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit
// log lines.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent emits the structured JSON line mirroring a persisted entry.
// Callers that persist entries transactionally through the repository
// call this after commit; Record does it automatically.
func LogEvent(ctx context.Context, e Entry) {
	line := map[string]any{
		"ts":          e.OccurredAt.Format(time.RFC3339Nano),
		"type":        "audit",
		"document_id": e.DocumentID,
		"user_id":     e.UserID,
		"action":      string(e.Action),
		"outcome":     string(e.Outcome),
	}
	if e.Reason != "" {
		line["reason"] = e.Reason
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		line["request_id"] = rid
	}
	obs.Emit(line)
	obs.IncAuditEntry()
}
