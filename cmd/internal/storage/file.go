package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"nidentity/cmd/internal/gotrue"
	"nidentity/cmd/security/seal"
)

// FileStore keeps the session in a single owner-only file.
// Writes go to a temp file in the same directory and are renamed into place.
type FileStore struct {
	path  string
	codec codec
}

// NewFileStore creates a FileStore writing to path.
func NewFileStore(path, profile string, s *seal.Sealer) (*FileStore, error) {
	if path == "" {
		return nil, ErrConfig
	}
	return &FileStore{path: filepath.Clean(path), codec: newCodec(profile, s)}, nil
}

// DefaultFilePath is $XDG_CONFIG_HOME/nidentity/session.json or the OS equivalent.
func DefaultFilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "nidentity", "session.json"), nil
}

// Path returns the file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) (*gotrue.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", s.path, err)
	}
	return s.codec.decode(b)
}

func (s *FileStore) Save(ctx context.Context, u *gotrue.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := s.codec.encode(u)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("storage: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("storage: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

func (s *FileStore) Clear(context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: remove %s: %w", s.path, err)
	}
	return nil
}

// Close is a noop.
func (s *FileStore) Close() error { return nil }
