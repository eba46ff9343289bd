package slot

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// File stores each key in its own file under a directory. Writes go
// through a temp file and a rename so readers never see partial data.
type File struct {
	dir string
	mu  sync.Mutex
}

func NewFile(dir string) (*File, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, goerrors.New("slot directory is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create slot directory")
	}

	return &File{dir: dir}, nil
}

// path hex encodes key so distinct keys never share a file and no key
// can leave the directory
func (f *File) path(key string) string {
	return filepath.Join(f.dir, hex.EncodeToString([]byte(key))+".json")
}

func (f *File) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read slot").
			WithMetadata(map[string]any{"key": key})
	}
	return data, nil
}

func (f *File) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, ".slot-*")
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create slot file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write slot file")
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to close slot file")
	}

	if err := os.Rename(tmpName, f.path(key)); err != nil {
		os.Remove(tmpName)
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store slot file").
			WithMetadata(map[string]any{"key": key})
	}
	return nil
}

func (f *File) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path(key))
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete slot file").
		WithMetadata(map[string]any{"key": key})
}
