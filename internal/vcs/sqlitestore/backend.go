package sqlitestore

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/breezy-team/breezy-sub027/internal/vcs"
	"github.com/breezy-team/breezy-sub027/internal/wire"
)

// DatabaseName is the filename a repository database lives under inside its
// directory.
const DatabaseName = "vcs.db"

// Backend opens SQLite-backed repositories below a root directory. Stores
// are cached per path so lock state and active write groups are shared by
// every request in the process; durable state lives in the database.
type Backend struct {
	root     string // filesystem directory the transport base maps to
	base     string // transport base URL, with trailing slash
	readonly bool
	gen      vcs.TokenGenerator

	mu     sync.Mutex
	stores map[string]*Store
}

// NewBackend maps transports cloned from t onto directories below dir.
func NewBackend(dir string, t vcs.Transport, gen vcs.TokenGenerator) (*Backend, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	base := t.Base()
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &Backend{
		root:     abs,
		base:     base,
		readonly: t.IsReadonly(),
		gen:      gen,
		stores:   make(map[string]*Store),
	}, nil
}

// storeFor resolves the transport location to a cached Store. The database
// has to exist already: opens never create repositories.
func (b *Backend) storeFor(t vcs.Transport) (*Store, error) {
	loc := t.Base()
	if !strings.HasSuffix(loc, "/") {
		loc += "/"
	}
	if !strings.HasPrefix(loc, b.base) {
		return nil, &wire.PathNotChildError{Path: t.Base(), Base: b.base}
	}
	rel := strings.TrimPrefix(loc, b.base)
	dbPath := filepath.Join(b.root, filepath.FromSlash(rel), DatabaseName)

	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.stores[dbPath]; ok {
		return s, nil
	}
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &wire.NotBranchError{Path: t.Base()}
		}
		return nil, err
	}
	s, err := Open(dbPath, b.readonly, b.gen)
	if err != nil {
		return nil, err
	}
	b.stores[dbPath] = s
	return s, nil
}

func (b *Backend) OpenRepository(t vcs.Transport) (vcs.Repository, error) {
	return b.storeFor(t)
}

func (b *Backend) OpenBranch(t vcs.Transport) (vcs.Branch, error) {
	s, err := b.storeFor(t)
	if err != nil {
		return nil, err
	}
	return s.OpenBranch()
}

// Close releases every cached store.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for _, s := range b.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.stores = nil
	return firstErr
}

// Init creates (or opens) the database at dir and ensures a branch row, for
// the init command and tests.
func Init(dir string, gen vcs.TokenGenerator) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s, err := Open(filepath.Join(dir, DatabaseName), false, gen)
	if err != nil {
		return nil, err
	}
	if _, err := s.CreateBranch(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
