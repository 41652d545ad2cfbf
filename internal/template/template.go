// Package template holds the versioned template catalog. Every mutation
// creates a new immutable version; prior versions are never edited or
// removed, and "deletion" only clears the active flag.
package template

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("template: not found")
	ErrInvalidTemplate = errors.New("template: invalid content")
)

// Format is the template artifact type.
type Format string

const (
	FormatHTML     Format = "html"
	FormatMarkdown Format = "md"
	FormatWord     Format = "docx"
	FormatPDF      Format = "pdf"
)

func (f Format) Valid() bool {
	switch f {
	case FormatHTML, FormatMarkdown, FormatWord, FormatPDF:
		return true
	}
	return false
}

// textual reports whether the format is plain text on the wire.
func (f Format) textual() bool {
	return f == FormatHTML || f == FormatMarkdown
}

// Kind is a placeholder's declared data type.
type Kind string

const (
	KindText   Kind = "text"
	KindNumber Kind = "number"
	KindDate   Kind = "date"
	KindImage  Kind = "image"
	KindTable  Kind = "table"
)

func (k Kind) Valid() bool {
	switch k {
	case KindText, KindNumber, KindDate, KindImage, KindTable:
		return true
	}
	return false
}

// Placeholder is a named, typed slot filled with caller data at
// generation time.
type Placeholder struct {
	Name        string `json:"name"`
	Kind        Kind   `json:"kind"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// CheckValue validates a supplied value against the declared kind.
// Dates accept time.Time or RFC 3339 / date-only strings; images accept
// raw bytes or a non-empty string reference; tables accept row slices.
func (p Placeholder) CheckValue(value any) error {
	switch p.Kind {
	case KindText:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("placeholder %s: expected text", p.Name)
		}
	case KindNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("placeholder %s: expected number", p.Name)
		}
	case KindDate:
		switch v := value.(type) {
		case time.Time:
		case string:
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				if _, err := time.Parse("2006-01-02", v); err != nil {
					return fmt.Errorf("placeholder %s: expected date, got %q", p.Name, v)
				}
			}
		default:
			return fmt.Errorf("placeholder %s: expected date", p.Name)
		}
	case KindImage:
		switch v := value.(type) {
		case []byte:
		case string:
			if v == "" {
				return fmt.Errorf("placeholder %s: empty image reference", p.Name)
			}
		default:
			return fmt.Errorf("placeholder %s: expected image bytes or reference", p.Name)
		}
	case KindTable:
		switch value.(type) {
		case []any, []map[string]any, [][]string:
		default:
			return fmt.Errorf("placeholder %s: expected table rows", p.Name)
		}
	default:
		return fmt.Errorf("placeholder %s: unknown kind %q", p.Name, p.Kind)
	}
	return nil
}

// Template is a named, categorized document pattern.
type Template struct {
	ID             string
	Name           string
	Category       string
	Description    string
	CurrentVersion int
	Path           string
	Format         Format
	Placeholders   []Placeholder
	Metadata       map[string]string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CreatedBy      string
}

// Version is an immutable snapshot of a template's content. Its path
// and hash never change after insertion.
type Version struct {
	ID            string
	TemplateID    string
	Number        int
	Path          string
	Hash          string
	Description   string
	ChangeSummary string
	CreatedAt     time.Time
	CreatedBy     string
}

// Store is the persistence contract for the catalog. AddVersion assigns
// the next version number and bumps the template's current version in
// one atomic step; concurrent calls on one template serialize with
// contiguous, duplicate-free numbering.
type Store interface {
	CreateTemplate(ctx context.Context, t *Template, v *Version) error
	AddVersion(ctx context.Context, templateID string, v *Version) (int, error)
	GetTemplate(ctx context.Context, id string) (Template, error)
	GetVersion(ctx context.Context, templateID string, number int) (Version, error)
	ListTemplates(ctx context.Context, category string, activeOnly bool) ([]Template, error)
	DeactivateTemplate(ctx context.Context, id string) error
}
