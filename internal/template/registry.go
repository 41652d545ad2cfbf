package template

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"docvault.org/internal/ids"
	"docvault.org/internal/storage"
)

// Registry is the template catalog service. Content bytes live in the
// storage backend; catalog rows live in the Store.
type Registry struct {
	store   Store
	backend storage.Backend
}

func NewRegistry(store Store, backend storage.Backend) (*Registry, error) {
	if store == nil {
		return nil, errors.New("template store is required")
	}
	if backend == nil {
		return nil, errors.New("storage backend is required")
	}
	return &Registry{store: store, backend: backend}, nil
}

// CreateInput describes a new template at version 1.
type CreateInput struct {
	Name         string
	Category     string
	Description  string
	Format       Format
	Content      []byte
	Placeholders []Placeholder
	Metadata     map[string]string
	CreatedBy    string
}

// Create validates and stores a template, returning it at version 1.
func (r *Registry) Create(ctx context.Context, in CreateInput) (Template, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Category = strings.TrimSpace(in.Category)
	if in.Name == "" || in.Category == "" {
		return Template{}, fmt.Errorf("%w: name and category are required", ErrInvalidTemplate)
	}
	if err := validateContent(in.Format, in.Content); err != nil {
		return Template{}, err
	}
	if err := validatePlaceholders(in.Placeholders); err != nil {
		return Template{}, err
	}

	now := time.Now().UTC()
	versionID := ids.New()
	key := versionKey(in.Category, in.Name, versionID)
	path, err := r.backend.Put(ctx, key, in.Content)
	if err != nil {
		return Template{}, fmt.Errorf("store template %s: %w", in.Name, err)
	}

	tmpl := Template{
		ID:             ids.New(),
		Name:           in.Name,
		Category:       in.Category,
		Description:    in.Description,
		CurrentVersion: 1,
		Path:           path,
		Format:         in.Format,
		Placeholders:   in.Placeholders,
		Metadata:       in.Metadata,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
		CreatedBy:      in.CreatedBy,
	}
	ver := Version{
		ID:          versionID,
		TemplateID:  tmpl.ID,
		Number:      1,
		Path:        path,
		Hash:        storage.Digest(in.Content),
		Description: in.Description,
		CreatedAt:   now,
		CreatedBy:   in.CreatedBy,
	}
	if err := r.store.CreateTemplate(ctx, &tmpl, &ver); err != nil {
		// roll back the orphaned artifact, best effort
		_ = r.backend.Delete(ctx, path)
		return Template{}, fmt.Errorf("create template %s: %w", in.Name, err)
	}
	return tmpl, nil
}

// CreateVersion appends an immutable version and atomically bumps the
// template's current version. Prior versions are untouched.
func (r *Registry) CreateVersion(ctx context.Context, templateID string, content []byte, changeSummary, createdBy string) (Version, error) {
	tmpl, err := r.store.GetTemplate(ctx, templateID)
	if err != nil {
		return Version{}, fmt.Errorf("template %s: %w", templateID, err)
	}
	if !tmpl.Active {
		return Version{}, fmt.Errorf("template %s is inactive: %w", templateID, ErrNotFound)
	}
	if err := validateContent(tmpl.Format, content); err != nil {
		return Version{}, err
	}

	versionID := ids.New()
	key := versionKey(tmpl.Category, tmpl.Name, versionID)
	path, err := r.backend.Put(ctx, key, content)
	if err != nil {
		return Version{}, fmt.Errorf("store template %s: %w", templateID, err)
	}

	ver := Version{
		ID:            versionID,
		TemplateID:    templateID,
		Path:          path,
		Hash:          storage.Digest(content),
		ChangeSummary: changeSummary,
		CreatedAt:     time.Now().UTC(),
		CreatedBy:     createdBy,
	}
	number, err := r.store.AddVersion(ctx, templateID, &ver)
	if err != nil {
		_ = r.backend.Delete(ctx, path)
		return Version{}, fmt.Errorf("add version to template %s: %w", templateID, err)
	}
	ver.Number = number
	return ver, nil
}

// Get returns the template and the content bytes of the requested
// version. Version 0 selects the current version. Content is digest
// checked before it is returned.
func (r *Registry) Get(ctx context.Context, templateID string, version int) (Template, []byte, error) {
	tmpl, err := r.store.GetTemplate(ctx, templateID)
	if err != nil {
		return Template{}, nil, fmt.Errorf("template %s: %w", templateID, err)
	}
	if version == 0 {
		version = tmpl.CurrentVersion
	}
	ver, err := r.store.GetVersion(ctx, templateID, version)
	if err != nil {
		return Template{}, nil, fmt.Errorf("template %s version %d: %w", templateID, version, err)
	}
	content, err := r.backend.Get(ctx, ver.Path)
	if err != nil {
		return Template{}, nil, fmt.Errorf("load template %s version %d: %w", templateID, version, err)
	}
	if err := storage.VerifyDigest(content, ver.Hash); err != nil {
		return Template{}, nil, fmt.Errorf("template %s version %d: %w", templateID, version, err)
	}
	return tmpl, content, nil
}

// List returns catalog summaries, optionally narrowed to one category.
func (r *Registry) List(ctx context.Context, category string, activeOnly bool) ([]Template, error) {
	return r.store.ListTemplates(ctx, strings.TrimSpace(category), activeOnly)
}

// Deactivate soft deletes a template. Calling it twice is not an error;
// documents generated from it stay resolvable.
func (r *Registry) Deactivate(ctx context.Context, templateID string) error {
	if err := r.store.DeactivateTemplate(ctx, templateID); err != nil {
		return fmt.Errorf("deactivate template %s: %w", templateID, err)
	}
	return nil
}

// versionKey places each immutable version at its own location under
// the shared templates/{category}/{name} layout. The version row id
// makes the artifact name unique without depending on the version
// number, which the store assigns later in the same operation.
func versionKey(category, name, versionID string) string {
	return storage.TemplateKey(category, storage.SanitizeName(name)+"_"+versionID)
}

func validateContent(format Format, content []byte) error {
	if !format.Valid() {
		return fmt.Errorf("%w: unsupported format %q", ErrInvalidTemplate, format)
	}
	if len(content) == 0 {
		return fmt.Errorf("%w: content is empty", ErrInvalidTemplate)
	}
	if format.textual() {
		if !utf8.Valid(content) {
			return fmt.Errorf("%w: %s content is not valid utf-8", ErrInvalidTemplate, format)
		}
		if format == FormatHTML && !strings.Contains(string(content), "<") {
			return fmt.Errorf("%w: html content has no markup", ErrInvalidTemplate)
		}
	}
	return nil
}

func validatePlaceholders(phs []Placeholder) error {
	seen := make(map[string]struct{}, len(phs))
	for _, ph := range phs {
		name := strings.TrimSpace(ph.Name)
		if name == "" {
			return fmt.Errorf("%w: placeholder name is required", ErrInvalidTemplate)
		}
		if !ph.Kind.Valid() {
			return fmt.Errorf("%w: placeholder %s has unknown kind %q", ErrInvalidTemplate, name, ph.Kind)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate placeholder %s", ErrInvalidTemplate, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
