package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileBackend stores keys for one origin in a JSON file shared by all
// origins: {"<origin>": {"token": "...", "username": "..."}}. The file is
// re-read on every access so that separate processes see each other's writes.
type FileBackend struct {
	path   string
	origin string

	mu sync.Mutex
}

// NewFileBackend returns a backend scoped to origin inside the file at path.
// The file and its directory are created on first write.
func NewFileBackend(path, origin string) (*FileBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("session: state file path is required")
	}
	if strings.TrimSpace(origin) == "" {
		return nil, fmt.Errorf("session: origin is required")
	}
	return &FileBackend{path: path, origin: origin}, nil
}

func (f *FileBackend) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.readLocked()
	if err != nil {
		return "", err
	}
	v, ok := all[f.origin][key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *FileBackend) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.readLocked()
	if err != nil {
		return err
	}
	keys := all[f.origin]
	if keys == nil {
		keys = make(map[string]string)
		all[f.origin] = keys
	}
	keys[key] = value
	return f.persistLocked(all)
}

func (f *FileBackend) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.readLocked()
	if err != nil {
		return err
	}
	keys, ok := all[f.origin]
	if !ok {
		return nil
	}
	if _, ok := keys[key]; !ok {
		return nil
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(all, f.origin)
	}
	return f.persistLocked(all)
}

func (f *FileBackend) readLocked() (map[string]map[string]string, error) {
	all := make(map[string]map[string]string)

	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return all, nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if len(b) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	return all, nil
}

func (f *FileBackend) persistLocked(all map[string]map[string]string) error {
	b, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("mkdir session dir: %w", err)
	}

	// Write-then-rename so a concurrent reader never sees a truncated file.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}
