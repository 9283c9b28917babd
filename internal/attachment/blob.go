package attachment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/moviemark/studio-chat/internal/apperr"
)

// Meta is what is remembered about a stored blob once it passed validation.
type Meta struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Size      int64  `json:"size"`
}

// BlobStore holds attachment bytes and their metadata.
type BlobStore interface {
	// Put copies at most limit bytes from r under key and returns the number
	// of bytes written.
	Put(ctx context.Context, key string, r io.Reader, limit int64) (int64, error)
	PutMeta(ctx context.Context, key string, m Meta) error
	Meta(ctx context.Context, key string) (Meta, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the blob and its metadata. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidKey reports whether key is safe to use as a file name.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// DiskStore keeps blobs as files in a single directory, with metadata in a
// sibling "<key>.meta.json" file.
type DiskStore struct {
	dir string
}

// NewDiskStore creates dir if needed and returns a store rooted there.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("attachment: create upload dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

func (d *DiskStore) path(key string) (string, error) {
	if !ValidKey(key) {
		return "", apperr.New(apperr.ErrInvalid, "invalid attachment key %q", key)
	}
	return filepath.Join(d.dir, key), nil
}

func (d *DiskStore) Put(_ context.Context, key string, r io.Reader, limit int64) (int64, error) {
	p, err := d.path(key)
	if err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(d.dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("attachment: create temp: %w", err)
	}
	n, copyErr := io.Copy(tmp, io.LimitReader(r, limit))
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp.Name())
		return n, fmt.Errorf("attachment: write %s: %w", key, errors.Join(copyErr, closeErr))
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return n, fmt.Errorf("attachment: commit %s: %w", key, err)
	}
	return n, nil
}

func (d *DiskStore) PutMeta(_ context.Context, key string, m Meta) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("attachment: marshal meta: %w", err)
	}
	if err := os.WriteFile(p+".meta.json", data, 0o644); err != nil {
		return fmt.Errorf("attachment: write meta %s: %w", key, err)
	}
	return nil
}

func (d *DiskStore) Meta(_ context.Context, key string) (Meta, error) {
	p, err := d.path(key)
	if err != nil {
		return Meta{}, err
	}
	data, err := os.ReadFile(p + ".meta.json")
	if errors.Is(err, fs.ErrNotExist) {
		return Meta{}, apperr.New(apperr.ErrNotFound, "attachment %s", key)
	}
	if err != nil {
		return Meta{}, fmt.Errorf("attachment: read meta %s: %w", key, err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("attachment: decode meta %s: %w", key, err)
	}
	return m, nil
}

func (d *DiskStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := d.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.New(apperr.ErrNotFound, "attachment %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("attachment: open %s: %w", key, err)
	}
	return f, nil
}

func (d *DiskStore) Delete(_ context.Context, key string) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	var errs []error
	for _, f := range []string{p, p + ".meta.json"} {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("attachment: delete %s: %w", key, errors.Join(errs...))
	}
	return nil
}

// MemoryStore is an in-process BlobStore for tests.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	metas map[string]Meta
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte), metas: make(map[string]Meta)}
}

func (m *MemoryStore) Put(_ context.Context, key string, r io.Reader, limit int64) (int64, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, limit))
	if err != nil {
		return n, err
	}
	m.mu.Lock()
	m.blobs[key] = buf.Bytes()
	m.mu.Unlock()
	return n, nil
}

func (m *MemoryStore) PutMeta(_ context.Context, key string, meta Meta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metas[key] = meta
	return nil
}

func (m *MemoryStore) Meta(_ context.Context, key string) (Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.metas[key]
	if !ok {
		return Meta{}, apperr.New(apperr.ErrNotFound, "attachment %s", key)
	}
	return meta, nil
}

func (m *MemoryStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "attachment %s", key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	delete(m.metas, key)
	return nil
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}
