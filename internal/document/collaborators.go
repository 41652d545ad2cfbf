package document

import (
	"context"

	"docvault.org/internal/template"
)

// Renderer turns template bytes plus caller data into document bytes.
// PDF/Word engines live behind this boundary; the lifecycle manager
// awaits completion and treats cancellation or failure as a render
// error, never as partial success.
type Renderer interface {
	Render(ctx context.Context, templateContent []byte, format template.Format, data map[string]any) ([]byte, error)
}

// ProtectionService watermarks and encrypts rendered bytes. Encrypt
// returns an opaque key reference; key material never reaches the
// document row.
type ProtectionService interface {
	Watermark(ctx context.Context, content []byte, text string) ([]byte, error)
	Encrypt(ctx context.Context, content []byte) (protected []byte, keyRef string, err error)
}

// Masker redacts personal data in rendered text. Applied to textual
// output only; binary formats pass through untouched.
type Masker interface {
	Apply(text string) string
}
