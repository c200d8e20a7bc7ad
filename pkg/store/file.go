package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"vpc-mesh/pkg/model"
)

// DefaultPath is the snapshot document written next to the working directory.
const DefaultPath = "all_vpc.json"

// FileStore writes the snapshot document to a single file. The version is the file's
// modification time in unix nanoseconds.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath
	}
	return &FileStore{path: path}
}

// Path returns the document location.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Save(ctx context.Context, s model.Snapshot) (model.Snapshot, error) {
	if err := validate(s); err != nil {
		return model.Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Snapshot{}, err
	}
	b, err := EncodeDocument(s)
	if err != nil {
		return model.Snapshot{}, err
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return model.Snapshot{}, fmt.Errorf("store: create %s: %w", dir, err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("store: write snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		return model.Snapshot{}, fmt.Errorf("store: write snapshot: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return model.Snapshot{}, fmt.Errorf("store: write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return model.Snapshot{}, fmt.Errorf("store: write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return model.Snapshot{}, fmt.Errorf("store: write snapshot: %w", err)
	}
	return f.Load(ctx)
}

func (f *FileStore) Load(ctx context.Context) (model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.Snapshot{}, err
	}
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("store: read snapshot: %w", err)
	}
	s, err := DecodeDocument(b)
	if err != nil {
		return model.Snapshot{}, err
	}
	if info, err := os.Stat(f.path); err == nil {
		s.Version = info.ModTime().UnixNano()
		s.CreatedAt = info.ModTime().UTC().Truncate(time.Millisecond)
	}
	return s, nil
}
