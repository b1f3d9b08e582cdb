// Package smart implements the server side of the smart protocol: the verb
// registry, the request lifecycle (args, body chunks, end), the handlers
// for branch, repository and VFS verbs, and the single boundary where
// handler errors become Failed responses.
package smart

import (
	"strings"

	"github.com/breezy-team/breezy-sub027/internal/vcs"
	"github.com/breezy-team/breezy-sub027/internal/wire"
)

// Jail restricts the transports a request may open. Every transport a
// handler derives from a client path is checked against the jail roots
// before any backend object is opened on it. The jail is carried explicitly
// on the request environment rather than held in process-global state, so
// concurrent requests with different roots cannot observe each other.
type Jail struct {
	roots []string
}

// NewJail builds a jail admitting transports that descend from any of the
// given roots.
func NewJail(roots ...vcs.Transport) *Jail {
	j := &Jail{}
	for _, r := range roots {
		j.roots = append(j.roots, normalizeBase(r.Base()))
	}
	return j
}

// Check returns a JailBreak error unless t descends from a jail root.
func (j *Jail) Check(t vcs.Transport) error {
	base := normalizeBase(t.Base())
	for _, root := range j.roots {
		if base == root || strings.HasPrefix(base, root) {
			return nil
		}
	}
	return &wire.JailBreakError{Path: t.Base()}
}

func normalizeBase(base string) string {
	if !strings.HasSuffix(base, "/") {
		return base + "/"
	}
	return base
}
