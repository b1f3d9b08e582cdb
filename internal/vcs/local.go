package vcs

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/breezy-team/breezy-sub027/internal/wire"
)

// LocalTransport serves a directory tree on disk. The base is a file: URL
// so jail descent checks work the same way as for memory transports.
type LocalTransport struct {
	root     string // absolute filesystem path
	base     string // file:///... with trailing slash
	readonly bool
}

func NewLocalTransport(dir string, readonly bool) (*LocalTransport, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	base := "file://" + filepath.ToSlash(abs)
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &LocalTransport{root: abs, base: base, readonly: readonly}, nil
}

func (t *LocalTransport) Base() string     { return t.base }
func (t *LocalTransport) IsReadonly() bool { return t.readonly }

func (t *LocalTransport) abspath(relpath string) (string, error) {
	p := path.Clean("/" + relpath)
	if p == "/.." || strings.HasPrefix(p, "/../") {
		return "", &wire.PathNotChildError{Path: relpath, Base: t.base}
	}
	return filepath.Join(t.root, filepath.FromSlash(strings.TrimPrefix(p, "/"))), nil
}

func (t *LocalTransport) Clone(relpath string) (Transport, error) {
	dir, err := t.abspath(relpath)
	if err != nil {
		return nil, err
	}
	base := "file://" + filepath.ToSlash(dir)
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &LocalTransport{root: dir, base: base, readonly: t.readonly}, nil
}

func (t *LocalTransport) translateOSError(err error, relpath string) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &wire.NoSuchFileError{Path: relpath}
	case errors.Is(err, fs.ErrExist):
		return &wire.FileExistsError{Path: relpath}
	case errors.Is(err, fs.ErrPermission):
		return &wire.PermissionDeniedError{Path: relpath}
	}
	return err
}

func (t *LocalTransport) GetBytes(relpath string) ([]byte, error) {
	p, err := t.abspath(relpath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, t.translateOSError(err, relpath)
	}
	return data, nil
}

func (t *LocalTransport) PutBytes(relpath string, data []byte) error {
	if t.readonly {
		return &wire.ReadOnlyError{}
	}
	p, err := t.abspath(relpath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return t.translateOSError(err, relpath)
	}
	return nil
}

func (t *LocalTransport) Has(relpath string) (bool, error) {
	p, err := t.abspath(relpath)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, t.translateOSError(err, relpath)
	}
	return true, nil
}

func (t *LocalTransport) Mkdir(relpath string) error {
	if t.readonly {
		return &wire.ReadOnlyError{}
	}
	p, err := t.abspath(relpath)
	if err != nil {
		return err
	}
	if err := os.Mkdir(p, 0o755); err != nil {
		return t.translateOSError(err, relpath)
	}
	return nil
}

func (t *LocalTransport) Delete(relpath string) error {
	if t.readonly {
		return &wire.ReadOnlyError{}
	}
	p, err := t.abspath(relpath)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		var perr *fs.PathError
		if errors.As(err, &perr) && strings.Contains(perr.Err.Error(), "not empty") {
			return &wire.DirectoryNotEmptyError{Path: relpath}
		}
		return t.translateOSError(err, relpath)
	}
	return nil
}

func (t *LocalTransport) List(relpath string) ([]string, error) {
	p, err := t.abspath(relpath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, t.translateOSError(err, relpath)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func (t *LocalTransport) Rename(rel, to string) error {
	if t.readonly {
		return &wire.ReadOnlyError{}
	}
	from, err := t.abspath(rel)
	if err != nil {
		return err
	}
	dest, err := t.abspath(to)
	if err != nil {
		return err
	}
	if err := os.Rename(from, dest); err != nil {
		return t.translateOSError(err, rel)
	}
	return nil
}
