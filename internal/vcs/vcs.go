// Package vcs defines the contracts the smart-protocol handlers program
// against: the backing transport, repositories, branches, and revision
// graphs. Two backends implement them: an in-memory backend used by tests
// and the conformance harness, and a SQLite backend (sqlitestore) used by
// the serve command.
package vcs

import (
	"github.com/breezy-team/breezy-sub027/internal/pack"
)

// RevisionID identifies one revision. Ids are opaque byte strings; the
// NullRevision sentinel marks the empty start of history.
type RevisionID string

// NullRevision is the id of the empty revision at the root of every graph.
const NullRevision RevisionID = "null:"

// Token is an opaque lock or write-group token handed to clients.
type Token string

// MissingKey names a record that an insert could not complete without.
type MissingKey struct {
	Kind       string
	RevisionID RevisionID
}

// InsertResult is the outcome of Repository.InsertStream. When MissingKeys
// is non-empty the staged records were suspended and WriteGroupTokens allow
// the client to resume after supplying the missing basis data.
type InsertResult struct {
	WriteGroupTokens []Token
	MissingKeys      []MissingKey
}

// Transport is the backing byte transport a request operates on. Paths are
// relative, "/"-separated, already translated and jail-checked by the
// request layer.
type Transport interface {
	// Base is the absolute location of this transport, used for jail
	// descent checks.
	Base() string
	// Clone returns a transport rooted at relpath below this one.
	Clone(relpath string) (Transport, error)
	GetBytes(relpath string) ([]byte, error)
	PutBytes(relpath string, data []byte) error
	Has(relpath string) (bool, error)
	Mkdir(relpath string) error
	Delete(relpath string) error
	List(relpath string) ([]string, error)
	Rename(rel, to string) error
	IsReadonly() bool
}

// Graph answers parent queries over a repository's revision graph.
type Graph interface {
	// ParentMap returns the parents of every id that is present in the
	// repository. Absent (ghost) ids are omitted from the result.
	ParentMap(ids []RevisionID) (map[RevisionID][]RevisionID, error)
}

// Repository is the storage collaborator for repository verbs. Locking is
// token-based: LockWrite with an empty token mints a fresh one, LockWrite
// with a token revalidates a lock left in place by an earlier request.
type Repository interface {
	LockWrite(token Token) (Token, error)
	LockRead() error
	Unlock() error
	// LeaveLockInPlace keeps the durable lock when the in-process
	// reference count drops to zero, so the returned token stays valid
	// across requests.
	LeaveLockInPlace()
	DontLeaveLockInPlace()
	BreakLock() error
	PhysicalLockStatus() (bool, error)

	Graph() Graph
	AllRevisionIDs() ([]RevisionID, error)
	HasRevision(id RevisionID) (bool, error)
	RevisionCount() (int, error)

	StartWriteGroup() error
	SuspendWriteGroup() ([]Token, error)
	ResumeWriteGroup(tokens []Token) error
	CommitWriteGroup() error
	AbortWriteGroup() error

	// FormatName is the network name of the repository's record format,
	// sent as the leading record of every pack stream.
	FormatName() []byte
	InsertStream(format []byte, stream *pack.StreamReader, resumeTokens []Token) (*InsertResult, error)
	GetStream(keys []RevisionID) (pack.StreamSource, error)
	GetStreamForMissingKeys(keys []MissingKey) (pack.StreamSource, error)
}

// Branch is the branch collaborator. A branch lock is paired with its
// repository lock: acquiring the branch lock takes a nested repository
// reference, and releasing it releases that reference.
type Branch interface {
	Repository() Repository

	LockWrite(token Token) (Token, error)
	Unlock() error
	LeaveLockInPlace()
	DontLeaveLockInPlace()
	BreakLock() error
	PhysicalLockStatus() (bool, error)

	// LastRevisionInfo returns (0, NullRevision) for an empty branch.
	LastRevisionInfo() (int, RevisionID, error)
	SetLastRevisionInfo(revno int, id RevisionID) error
	// GenerateRevisionHistory moves the tip to id, recomputing the revno
	// by walking left-hand ancestry to NullRevision.
	GenerateRevisionHistory(id RevisionID) error
	// RevisionHistory returns mainline ids, oldest first.
	RevisionHistory() ([]RevisionID, error)
}

// Backend opens repositories and branches for jailed transports. Opens must
// not search upward: the object has to live at the transport's exact path.
type Backend interface {
	OpenRepository(t Transport) (Repository, error)
	OpenBranch(t Transport) (Branch, error)
}
