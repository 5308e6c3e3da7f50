package convstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps one JSON file per user under a single directory. It exists
// for local runs and tests; production uses the S3 backend against the same
// record format.
type FileStore struct {
	dir          string
	defaultModel string
}

func NewFileStore(dir, defaultModel string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("convstore: empty directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", ErrUnavailable, dir, err)
	}
	return &FileStore{dir: dir, defaultModel: defaultModel}, nil
}

func (s *FileStore) path(userID int64) string {
	return filepath.Join(s.dir, storageKey(userID))
}

func (s *FileStore) GetOrCreate(_ context.Context, userID int64) (Record, error) {
	path := s.path(userID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.create(userID)
		}
		return Record{}, fmt.Errorf("%w: read %s: %v", ErrUnavailable, path, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: decode %s: %v", ErrUnavailable, path, err)
	}
	return normalize(rec, s.defaultModel), nil
}

// create persists the default record with an exclusive create, so two
// concurrent first contacts converge on a single stored record.
func (s *FileStore) create(userID int64) (Record, error) {
	path := s.path(userID)
	rec := NewRecord(s.defaultModel)
	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("%w: encode %s: %v", ErrUnavailable, path, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			// Lost the race; the winner's record is authoritative.
			return s.GetOrCreate(context.Background(), userID)
		}
		return Record{}, fmt.Errorf("%w: create %s: %v", ErrUnavailable, path, err)
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		return Record{}, fmt.Errorf("%w: write %s: %v", ErrUnavailable, path, werr)
	}
	if cerr != nil {
		return Record{}, fmt.Errorf("%w: close %s: %v", ErrUnavailable, path, cerr)
	}
	return rec, nil
}

func (s *FileStore) Save(_ context.Context, userID int64, rec Record) error {
	path := s.path(userID)
	data, err := json.Marshal(normalize(rec, s.defaultModel))
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrUnavailable, path, err)
	}
	tmp, err := os.CreateTemp(s.dir, storageKey(userID)+".tmp.*")
	if err != nil {
		return fmt.Errorf("%w: create temp for %s: %v", ErrUnavailable, path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("%w: write temp for %s: %v", ErrUnavailable, path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync temp for %s: %v", ErrUnavailable, path, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("%w: chmod temp for %s: %v", ErrUnavailable, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp for %s: %v", ErrUnavailable, path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: rename temp for %s: %v", ErrUnavailable, path, err)
	}
	return nil
}
