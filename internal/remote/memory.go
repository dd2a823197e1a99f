package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/liamg/memoryfs"
)

// MemoryBackend implements Storage on an in-memory filesystem. Used by
// tests that need real upload/move/delete semantics without a bucket.
// Thread-safe for concurrent use.
type MemoryBackend struct {
	fs *memoryfs.FS
	mu sync.RWMutex
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{fs: memoryfs.New()}
}

func (m *MemoryBackend) Upload(ctx context.Context, r io.Reader, name, remotePath string) (Object, error) {
	key := objectKey(name, remotePath)

	content, err := io.ReadAll(r)
	if err != nil {
		return Object{}, wrapErr("upload", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if dir := path.Dir(key); dir != "." {
		if err := m.fs.MkdirAll(dir, 0o755); err != nil {
			return Object{}, wrapErr("upload", err)
		}
	}
	if err := m.fs.WriteFile(key, content, 0o644); err != nil {
		return Object{}, wrapErr("upload", err)
	}

	return Object{
		ID:   key,
		Name: name,
		Size: int64(len(content)),
		Link: "mem://" + key,
	}, nil
}

func (m *MemoryBackend) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	m.mu.RLock()
	content, err := m.fs.ReadFile(id)
	m.mu.RUnlock()
	if err != nil {
		if isNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, wrapErr("open", err)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (m *MemoryBackend) Stat(ctx context.Context, id string) (Object, error) {
	m.mu.RLock()
	info, err := m.fs.Stat(id)
	m.mu.RUnlock()
	if err != nil {
		if isNotExist(err) {
			return Object{}, ErrNotFound
		}
		return Object{}, wrapErr("stat", err)
	}
	return Object{
		ID:   id,
		Name: path.Base(id),
		Size: info.Size(),
		Link: "mem://" + id,
	}, nil
}

func (m *MemoryBackend) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	err := m.fs.Remove(id)
	m.mu.Unlock()
	if err != nil && !isNotExist(err) {
		return wrapErr("delete", err)
	}
	return nil
}

func (m *MemoryBackend) Replace(ctx context.Context, id string, r io.Reader, name, remotePath string) (Object, error) {
	if err := m.Delete(ctx, id); err != nil {
		return Object{}, err
	}
	return m.Upload(ctx, r, name, remotePath)
}

func (m *MemoryBackend) Move(ctx context.Context, id, newRemotePath string) (Object, error) {
	newKey := path.Base(id)
	if dir := strings.Trim(newRemotePath, "/"); dir != "" {
		newKey = dir + "/" + newKey
	}
	if newKey == id {
		return m.Stat(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	content, err := m.fs.ReadFile(id)
	if err != nil {
		if isNotExist(err) {
			return Object{}, ErrNotFound
		}
		return Object{}, wrapErr("move", err)
	}

	if dir := path.Dir(newKey); dir != "." {
		if err := m.fs.MkdirAll(dir, 0o755); err != nil {
			return Object{}, wrapErr("move", err)
		}
	}
	if err := m.fs.WriteFile(newKey, content, 0o644); err != nil {
		return Object{}, wrapErr("move", err)
	}
	if err := m.fs.Remove(id); err != nil {
		return Object{}, wrapErr("move", err)
	}

	return Object{
		ID:   newKey,
		Name: path.Base(newKey),
		Size: int64(len(content)),
		Link: "mem://" + newKey,
	}, nil
}

func (m *MemoryBackend) Mkdir(ctx context.Context, remotePath string) error {
	dir := strings.Trim(remotePath, "/")
	if dir == "" {
		return nil
	}
	m.mu.Lock()
	err := m.fs.MkdirAll(dir, 0o755)
	m.mu.Unlock()
	return wrapErr("mkdir", err)
}

// HealthCheck always succeeds; there is no external dependency.
func (m *MemoryBackend) HealthCheck(ctx context.Context) error {
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
