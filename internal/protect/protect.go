// Package protect applies watermarks and at-rest encryption to
// rendered document bytes. Encryption uses age X25519 recipients; the
// private identity stays in the key vault and only an opaque key
// reference travels with the document row.
package protect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"filippo.io/age"
	"github.com/google/uuid"
)

var (
	ErrEncrypt     = errors.New("protect: encrypt failed")
	ErrDecrypt     = errors.New("protect: decrypt failed")
	ErrKeyNotFound = errors.New("protect: key not found")
)

// KeyVault stores encryption identities by reference. The in-memory
// implementation suffices for single-node deployments; a KMS-backed
// vault implements the same contract.
type KeyVault interface {
	Save(ctx context.Context, ref string, identity string) error
	Load(ctx context.Context, ref string) (string, error)
}

type MemoryVault struct {
	mu   sync.RWMutex
	keys map[string]string
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{keys: make(map[string]string)}
}

func (v *MemoryVault) Save(ctx context.Context, ref, identity string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[ref] = identity
	return nil
}

func (v *MemoryVault) Load(ctx context.Context, ref string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	identity, ok := v.keys[ref]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, ref)
	}
	return identity, nil
}

// Service watermarks textual content and encrypts bytes with a fresh
// key per document.
type Service struct {
	vault KeyVault
}

func NewService(vault KeyVault) (*Service, error) {
	if vault == nil {
		return nil, errors.New("protect: nil vault")
	}
	return &Service{vault: vault}, nil
}

// Watermark appends a marker comment to textual content. Binary
// formats are returned unchanged; pixel-level watermarking belongs to
// the format converter.
func (s *Service) Watermark(ctx context.Context, content []byte, text string) ([]byte, error) {
	if text == "" {
		return content, nil
	}
	if !bytes.Contains(content, []byte("<")) {
		return content, nil
	}
	var buf bytes.Buffer
	buf.Write(content)
	fmt.Fprintf(&buf, "\n<!-- %s -->\n", text)
	return buf.Bytes(), nil
}

// Encrypt wraps content for a newly generated recipient, stores the
// identity in the vault and returns the key reference.
func (s *Service) Encrypt(ctx context.Context, content []byte) ([]byte, string, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, identity.Recipient())
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	if _, err := w.Write(content); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	ref := uuid.NewString()
	if err := s.vault.Save(ctx, ref, identity.String()); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	return buf.Bytes(), ref, nil
}

// Decrypt restores content encrypted under the given key reference.
func (s *Service) Decrypt(ctx context.Context, content []byte, keyRef string) ([]byte, error) {
	raw, err := s.vault.Load(ctx, keyRef)
	if err != nil {
		return nil, err
	}
	identity, err := age.ParseX25519Identity(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	r, err := age.Decrypt(bytes.NewReader(content), identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return out, nil
}
