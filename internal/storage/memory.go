package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process backend with object-store semantics: flat
// keys, no directories, SetReadonly is a tag only. Used by the shared
// contract tests and local development.
type Memory struct {
	mu       sync.RWMutex
	objects  map[string][]byte
	readonly map[string]bool
	maxSize  int64
}

var _ Backend = (*Memory)(nil)

func NewMemory(maxObjectSize int64) *Memory {
	if maxObjectSize <= 0 {
		maxObjectSize = DefaultMaxObjectSize
	}
	return &Memory{
		objects:  make(map[string][]byte),
		readonly: make(map[string]bool),
		maxSize:  maxObjectSize,
	}
}

func (m *Memory) Put(ctx context.Context, key string, content []byte) (string, error) {
	if int64(len(content)) > m.maxSize {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrQuotaExceeded, len(content), m.maxSize)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(content))
	copy(buf, content)
	m.objects[key] = buf
	return key, nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.readonly, key)
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// SetReadonly records the flag but does not enforce it, mirroring the
// object-store variant's tag-only behavior.
func (m *Memory) SetReadonly(ctx context.Context, key string, readonly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	m.readonly[key] = readonly
	return nil
}

// Corrupt overwrites stored bytes in place, bypassing Put semantics.
// Test hook for integrity-violation scenarios.
func (m *Memory) Corrupt(key string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = content
}
