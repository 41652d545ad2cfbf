// Package storage provides byte-level persistence with a uniform
// contract across local-disk and object-store backends. Integrity
// checking is backend-agnostic: all content digests are SHA-256
// computed client-side.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("storage: not found")
	ErrUnavailable   = errors.New("storage: unavailable")
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
	ErrIntegrity     = errors.New("storage: content digest mismatch")
)

// DefaultMaxObjectSize is the per-object ceiling (10 GiB).
const DefaultMaxObjectSize int64 = 10 << 30

// Backend is the persistence contract shared by all variants.
//
// Put is idempotent under retry: re-putting the same key with identical
// bytes succeeds without duplication. Delete of an absent key is not an
// error. List is finite and restartable; no cursor state survives
// between calls. SetReadonly maps to permission bits on the local
// backend and to a tag update on object stores - callers must treat the
// document's readonly flag, not the backend, as the source of truth.
type Backend interface {
	Put(ctx context.Context, key string, content []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
	SetReadonly(ctx context.Context, key string, readonly bool) error
}

// Digest returns the hex SHA-256 of content.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// VerifyDigest checks content against a stored digest.
func VerifyDigest(content []byte, want string) error {
	if got := Digest(content); got != want {
		return fmt.Errorf("%w: got %s, want %s", ErrIntegrity, got, want)
	}
	return nil
}

// DocumentKey derives the deterministic storage location for a
// generated document: {category}/{yyyy-mm-dd}/{filename}. The key
// layout is a compatibility contract; stored rows reference it.
func DocumentKey(category string, createdAt time.Time, filename string) string {
	return path.Join(SanitizeName(category), createdAt.UTC().Format("2006-01-02"), filename)
}

// TemplateKey derives the storage location for a template artifact:
// templates/{category}/{name}.
func TemplateKey(category, name string) string {
	return path.Join("templates", SanitizeName(category), name)
}

// SanitizeName reduces a logical name to characters safe in storage
// keys across backends.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	b.Grow(len(name))
	lastDash := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "unnamed"
	}
	return out
}
