// Package memory is the in-process repository used by tests and local
// development. It implements the template, document and audit
// persistence contracts with the same atomicity guarantees the
// Postgres store provides through transactions.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"docvault.org/internal/audit"
	"docvault.org/internal/document"
	"docvault.org/internal/template"
)

type Store struct {
	mu        sync.RWMutex
	templates map[string]template.Template
	versions  map[string][]template.Version // template id -> versions ordered by number
	documents map[string]document.Document
	idemKeys  map[string]string // idempotency key -> document id
	logs      []audit.Entry
}

var (
	_ template.Store      = (*Store)(nil)
	_ document.Repository = (*Store)(nil)
	_ audit.Store         = (*Store)(nil)
)

func New() *Store {
	return &Store{
		templates: make(map[string]template.Template),
		versions:  make(map[string][]template.Version),
		documents: make(map[string]document.Document),
		idemKeys:  make(map[string]string),
	}
}

// --- template.Store ---

func (s *Store) CreateTemplate(ctx context.Context, t *template.Template, v *template.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.templates[t.ID]; exists {
		return fmt.Errorf("template %s already exists", t.ID)
	}
	s.templates[t.ID] = *t
	s.versions[t.ID] = []template.Version{*v}
	return nil
}

func (s *Store) AddVersion(ctx context.Context, templateID string, v *template.Version) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmpl, ok := s.templates[templateID]
	if !ok {
		return 0, fmt.Errorf("template %s: %w", templateID, template.ErrNotFound)
	}
	next := len(s.versions[templateID]) + 1
	v.Number = next
	s.versions[templateID] = append(s.versions[templateID], *v)
	tmpl.CurrentVersion = next
	tmpl.Path = v.Path
	tmpl.UpdatedAt = v.CreatedAt
	s.templates[templateID] = tmpl
	return next, nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (template.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tmpl, ok := s.templates[id]
	if !ok {
		return template.Template{}, fmt.Errorf("template %s: %w", id, template.ErrNotFound)
	}
	return tmpl, nil
}

func (s *Store) GetVersion(ctx context.Context, templateID string, number int) (template.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.versions[templateID]
	if number < 1 || number > len(versions) {
		return template.Version{}, fmt.Errorf("template %s version %d: %w", templateID, number, template.ErrNotFound)
	}
	return versions[number-1], nil
}

func (s *Store) ListTemplates(ctx context.Context, category string, activeOnly bool) ([]template.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []template.Template
	for _, tmpl := range s.templates {
		if activeOnly && !tmpl.Active {
			continue
		}
		if category != "" && tmpl.Category != category {
			continue
		}
		out = append(out, tmpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeactivateTemplate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmpl, ok := s.templates[id]
	if !ok {
		return template.ErrNotFound
	}
	tmpl.Active = false
	tmpl.UpdatedAt = time.Now().UTC()
	s.templates[id] = tmpl
	return nil
}

// --- document.Repository ---

func (s *Store) Create(ctx context.Context, d *document.Document, entry *audit.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.documents[d.ID]; exists {
		return fmt.Errorf("document %s already exists", d.ID)
	}
	if d.IdempotencyKey != "" {
		if _, taken := s.idemKeys[d.IdempotencyKey]; taken {
			return fmt.Errorf("idempotency key %s: %w", d.IdempotencyKey, document.ErrIdempotencyConflict)
		}
		s.idemKeys[d.IdempotencyKey] = d.ID
	}
	s.documents[d.ID] = *d
	s.logs = append(s.logs, *entry)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return document.Document{}, fmt.Errorf("document %s: %w", id, document.ErrNotFound)
	}
	return doc, nil
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idemKeys[key]
	if !ok {
		return document.Document{}, document.ErrNotFound
	}
	return s.documents[id], nil
}

func (s *Store) Transition(ctx context.Context, id string, from []document.Status, change document.StatusChange, entry *audit.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, document.ErrNotFound)
	}
	matched := false
	for _, st := range from {
		if doc.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return fmt.Errorf("document %s is %s: %w", id, doc.Status, document.ErrInvalidTransition)
	}
	doc.Status = change.To
	doc.UpdatedBy = change.UpdatedBy
	doc.UpdatedAt = change.UpdatedAt
	if change.ArchivedAt != nil {
		doc.ArchivedAt = change.ArchivedAt
	}
	if change.To == document.StatusArchived {
		doc.Readonly = change.Readonly
	}
	s.documents[id] = doc
	s.logs = append(s.logs, *entry)
	return nil
}

func (s *Store) Search(ctx context.Context, f document.SearchFilter) ([]document.Document, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []document.Document
	for _, doc := range s.documents {
		if doc.Status == document.StatusDeleted {
			continue
		}
		if f.Type != "" && doc.Type != f.Type {
			continue
		}
		if f.Sensitivity.Valid() && doc.Sensitivity != f.Sensitivity {
			continue
		}
		if f.CreatedBy != "" && doc.CreatedBy != f.CreatedBy {
			continue
		}
		if !f.From.IsZero() && doc.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && doc.CreatedAt.After(f.To) {
			continue
		}
		if f.Query != "" {
			q := strings.ToLower(f.Query)
			if !strings.Contains(strings.ToLower(doc.Title), q) &&
				!strings.Contains(strings.ToLower(doc.Type), q) &&
				!tagsContain(doc.Tags(), q) {
				continue
			}
		}
		matched = append(matched, doc)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if f.Limit <= 0 || end > total {
		end = total
	}
	return matched[f.Offset:end], total, nil
}

func tagsContain(tags []string, q string) bool {
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// --- audit.Store ---

func (s *Store) Append(ctx context.Context, e *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, *e)
	return nil
}

func (s *Store) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for _, e := range s.logs {
		if f.DocumentID != "" && e.DocumentID != f.DocumentID {
			continue
		}
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if !f.From.IsZero() && e.OccurredAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.OccurredAt.After(f.To) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
