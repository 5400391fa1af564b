package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/khanhnv2901/seca-trust/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/seca-trust/internal/shared/errors"
)

// ErrPathEscape indicates the resolved path would escape the storage directory.
var ErrPathEscape = errors.New("path escapes base directory")

// FileStorage implements Storage as a single JSON document on disk.
type FileStorage struct {
	path string
	mu   sync.RWMutex
}

// NewFileStorage creates a file-backed store named name inside dir.
func NewFileStorage(dir, name string) (*FileStorage, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory cannot be empty")
	}

	if err := os.MkdirAll(dir, constants.DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	path, err := resolveWithin(dir, name)
	if err != nil {
		return nil, err
	}

	return &FileStorage{path: path}, nil
}

// Path returns the backing file.
func (f *FileStorage) Path() string {
	return f.path
}

func (f *FileStorage) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	all, err := f.load()
	if err != nil {
		return nil, err
	}

	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := all[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (f *FileStorage) Set(ctx context.Context, record map[string]json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.load()
	if err != nil {
		return err
	}
	for k, v := range record {
		if !json.Valid(v) {
			return fmt.Errorf("%w: value for %q is not valid JSON", sharedErrors.ErrSerializationFailed, k)
		}
		all[k] = v
	}
	return f.save(all)
}

func (f *FileStorage) Remove(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.load()
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(all, k)
	}
	return f.save(all)
}

func (f *FileStorage) load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sharedErrors.ErrStorageUnavailable, err)
	}

	all := map[string]json.RawMessage{}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("%w: %v", sharedErrors.ErrDeserializationFailed, err)
	}
	return all, nil
}

// save writes through a temp file and rename so readers never observe a
// partially written document.
func (f *FileStorage) save(all map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", sharedErrors.ErrSerializationFailed, err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, constants.DefaultFilePerm); err != nil {
		return fmt.Errorf("failed to write storage file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace storage file: %w", err)
	}
	return nil
}

// resolveWithin joins elems under base and rejects results outside base.
func resolveWithin(base string, elems ...string) (string, error) {
	cleanBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("resolve base path: %w", err)
	}

	target, err := filepath.Abs(filepath.Join(append([]string{cleanBase}, elems...)...))
	if err != nil {
		return "", fmt.Errorf("resolve target path: %w", err)
	}

	rel, err := filepath.Rel(cleanBase, target)
	if err != nil {
		return "", fmt.Errorf("relativize path: %w", err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, target)
	}
	return target, nil
}
