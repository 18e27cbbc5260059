package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrInvalidName = errors.New("invalid blob name")

// FS stores snapshots as files under one directory and serves them under URLPrefix.
type FS struct {
	dir       string
	urlPrefix string
}

func NewFS(dir, urlPrefix string) (*FS, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("blob dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	if urlPrefix == "" {
		urlPrefix = "/frames"
	}
	return &FS{dir: dir, urlPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

func (f *FS) Dir() string {
	return f.dir
}

// Save writes data atomically and returns the URL it is served under.
func (f *FS) Save(ctx context.Context, data []byte, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validName(name); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(f.dir, "."+name+".*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, filepath.Join(f.dir, name)); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return path.Join(f.urlPrefix, name), nil
}

// Open returns a stored blob by the name it was saved under.
func (f *FS) Open(name string) (*os.File, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(f.dir, name))
}

// Delete removes a stored blob. A missing blob yields an error matching fs.ErrNotExist.
func (f *FS) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	return os.Remove(filepath.Join(f.dir, name))
}

func validName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
