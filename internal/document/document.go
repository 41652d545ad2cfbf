// Package document orchestrates generation, retrieval, archival and
// deletion of generated documents, gating every operation through the
// access engine and the audit recorder.
package document

import (
	"time"

	"docvault.org/internal/access"
)

// Status is the document lifecycle state.
type Status string

const (
	StatusGenerated Status = "generated"
	StatusArchived  Status = "archived"
	StatusDeleted   Status = "deleted"
)

// Legal transitions: generated->archived, generated->deleted,
// archived->deleted. Deleted is terminal; archival is one-way.
var transitions = map[Status][]Status{
	StatusGenerated: {StatusArchived, StatusDeleted},
	StatusArchived:  {StatusDeleted},
	StatusDeleted:   {},
}

// CanTransition reports whether to is a legal next status.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Document is a generated artifact's metadata row. The stored bytes
// live in the storage backend at Path; Hash is the SHA-256 of those
// bytes and must match at all times.
type Document struct {
	ID              string
	Title           string
	TemplateID      string
	TemplateVersion int
	Type            string
	Status          Status
	Sensitivity     access.Sensitivity
	Path            string
	Hash            string
	Size            int64
	MIME            string
	InputData       map[string]any
	Metadata        map[string]any
	Version         int
	ParentID        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ArchivedAt      *time.Time
	CreatedBy       string
	UpdatedBy       string
	Encrypted       bool
	KeyRef          string
	Readonly        bool
	RetentionDays   int
	IdempotencyKey  string
}

// Tags returns the tag list stored under metadata.
func (d Document) Tags() []string {
	raw, ok := d.Metadata["tags"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ExpiresAt exposes the computed retention expiry for an archived
// document so an external scheduler can act on it. The manager itself
// runs no background sweeper.
func (d Document) ExpiresAt() (time.Time, bool) {
	if d.ArchivedAt == nil || d.RetentionDays <= 0 {
		return time.Time{}, false
	}
	return d.ArchivedAt.Add(time.Duration(d.RetentionDays) * 24 * time.Hour), true
}

// Summary is the shape returned by Search.
type Summary struct {
	ID          string
	Title       string
	Type        string
	Status      Status
	Sensitivity access.Sensitivity
	Size        int64
	CreatedAt   time.Time
	CreatedBy   string
	Tags        []string
}

func (d Document) summary() Summary {
	return Summary{
		ID:          d.ID,
		Title:       d.Title,
		Type:        d.Type,
		Status:      d.Status,
		Sensitivity: d.Sensitivity,
		Size:        d.Size,
		CreatedAt:   d.CreatedAt,
		CreatedBy:   d.CreatedBy,
		Tags:        d.Tags(),
	}
}
