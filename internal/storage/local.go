package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"docvault.org/internal/obs"
)

const (
	modeWritable fs.FileMode = 0o644
	modeReadonly fs.FileMode = 0o444
)

// Local stores objects under a root directory on the filesystem.
type Local struct {
	root    string
	maxSize int64
}

var _ Backend = (*Local)(nil)

// NewLocal creates the root directory if needed. maxObjectSize of zero
// selects DefaultMaxObjectSize.
func NewLocal(root string, maxObjectSize int64) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage root is required")
	}
	if maxObjectSize <= 0 {
		maxObjectSize = DefaultMaxObjectSize
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create root: %v", ErrUnavailable, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve root: %v", ErrUnavailable, err)
	}
	return &Local{root: abs, maxSize: maxObjectSize}, nil
}

// fullPath joins key under root and rejects traversal outside of it.
func (l *Local) fullPath(key string) (string, error) {
	full := filepath.Join(l.root, filepath.FromSlash(key))
	if !strings.HasPrefix(full, l.root+string(filepath.Separator)) && full != l.root {
		return "", fmt.Errorf("%w: invalid key %q", ErrNotFound, key)
	}
	return full, nil
}

func (l *Local) Put(ctx context.Context, key string, content []byte) (string, error) {
	defer obs.ObserveStorageOp("local", "put", time.Now())
	if int64(len(content)) > l.maxSize {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrQuotaExceeded, len(content), l.maxSize)
	}
	full, err := l.fullPath(key)
	if err != nil {
		return "", err
	}
	// Idempotent retry: identical bytes already at the key is success,
	// even when the file has been marked read-only.
	if existing, err := os.ReadFile(full); err == nil && bytes.Equal(existing, content) {
		return key, nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.WriteFile(full, content, modeWritable); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", ErrUnavailable, key, err)
	}
	return key, nil
}

func (l *Local) Get(ctx context.Context, key string) ([]byte, error) {
	defer obs.ObserveStorageOp("local", "get", time.Now())
	full, err := l.fullPath(key)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, key, err)
	}
	return content, nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	defer obs.ObserveStorageOp("local", "delete", time.Now())
	full, err := l.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	full, err := l.fullPath(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: stat %s: %v", ErrUnavailable, key, err)
	}
	return info.Mode().IsRegular(), nil
}

func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	defer obs.ObserveStorageOp("local", "list", time.Now())
	var keys []string
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *Local) SetReadonly(ctx context.Context, key string, readonly bool) error {
	full, err := l.fullPath(key)
	if err != nil {
		return err
	}
	mode := modeWritable
	if readonly {
		mode = modeReadonly
	}
	if err := os.Chmod(full, mode); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("%w: chmod %s: %v", ErrUnavailable, key, err)
	}
	return nil
}
