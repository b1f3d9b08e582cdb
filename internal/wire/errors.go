package wire

import "fmt"

// The error types below form the closed taxonomy of failures that the
// request boundary knows how to put on the wire. Handlers and collaborators
// return them (possibly wrapped); Translate matches them with errors.As and
// produces the corresponding error tuple. Anything outside the taxonomy is
// surfaced as a generic ("error", type, message) tuple.

// UnknownMethodError indicates a verb that is not registered.
type UnknownMethodError struct {
	Verb string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("unknown smart method %q", e.Verb)
}

// DisabledMethodError indicates a verb that is registered but switched off,
// e.g. the VFS family when the server runs with VFS disabled.
type DisabledMethodError struct {
	Verb string
}

func (e *DisabledMethodError) Error() string {
	return fmt.Sprintf("smart method %q is disabled", e.Verb)
}

// ProtocolError covers malformed requests: wrong argument counts, a body
// sent to a verb that takes none, unparsable argument encodings.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Msg
}

// BadSearchError indicates an unrecognised search recipe keyword.
type BadSearchError struct {
	Keyword string
}

func (e *BadSearchError) Error() string {
	return fmt.Sprintf("bad search recipe keyword %q", e.Keyword)
}

// NoSuchRevisionError indicates a revision that is not present, or a search
// whose result size contradicts the client's declared count.
type NoSuchRevisionError struct {
	RevisionID string
}

func (e *NoSuchRevisionError) Error() string {
	return fmt.Sprintf("no such revision %q", e.RevisionID)
}

// GhostRevisionsHaveNoRevnoError indicates a revision number was requested
// for a revision only reachable through a ghost.
type GhostRevisionsHaveNoRevnoError struct {
	RevisionID string
	GhostID    string
}

func (e *GhostRevisionsHaveNoRevnoError) Error() string {
	return fmt.Sprintf("could not determine revno for %q because of ghost %q",
		e.RevisionID, e.GhostID)
}

// DivergedError indicates a proposed branch tip that is not a descendant of
// the current tip.
type DivergedError struct{}

func (e *DivergedError) Error() string {
	return "branches have diverged"
}

// LockContentionError indicates a lock held elsewhere.
type LockContentionError struct {
	Lock string
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("could not acquire lock %q: held by another client", e.Lock)
}

// TokenMismatchError indicates a supplied lock token that does not match the
// live lock.
type TokenMismatchError struct {
	Given string
	Held  string
}

func (e *TokenMismatchError) Error() string {
	return fmt.Sprintf("token %q does not match lock token %q", e.Given, e.Held)
}

// LockFailedError indicates an I/O level locking failure, e.g. a read-only
// backing transport.
type LockFailedError struct {
	Lock string
	Why  string
}

func (e *LockFailedError) Error() string {
	return fmt.Sprintf("cannot lock %q: %s", e.Lock, e.Why)
}

// UnlockableTransportError indicates a backing transport with no locking
// support at all.
type UnlockableTransportError struct {
	Base string
}

func (e *UnlockableTransportError) Error() string {
	return fmt.Sprintf("transport %q does not support locking", e.Base)
}

// UnsuspendableWriteGroupError indicates a repository whose write groups
// cannot be suspended to tokens.
type UnsuspendableWriteGroupError struct{}

func (e *UnsuspendableWriteGroupError) Error() string {
	return "repository cannot suspend write groups"
}

// UnresumableWriteGroupError indicates a write-group resume attempt with a
// token set that does not exactly match a suspended group. The resume fails
// closed: no partial state is applied.
type UnresumableWriteGroupError struct {
	Tokens []string
	Reason string
}

func (e *UnresumableWriteGroupError) Error() string {
	return fmt.Sprintf("cannot resume write group %v: %s", e.Tokens, e.Reason)
}

// JailBreakError indicates an attempt to open a transport outside the
// request's jail roots.
type JailBreakError struct {
	Path string
}

func (e *JailBreakError) Error() string {
	return fmt.Sprintf("jail break: %q is outside the served tree", e.Path)
}

// PathNotChildError indicates a client path that does not descend from the
// root client path.
type PathNotChildError struct {
	Path string
	Base string
}

func (e *PathNotChildError) Error() string {
	return fmt.Sprintf("path %q is not a child of %q", e.Path, e.Base)
}

// NoSuchFileError is surfaced by the backing transport.
type NoSuchFileError struct {
	Path string
}

func (e *NoSuchFileError) Error() string {
	return fmt.Sprintf("no such file %q", e.Path)
}

// FileExistsError is surfaced by the backing transport.
type FileExistsError struct {
	Path string
}

func (e *FileExistsError) Error() string {
	return fmt.Sprintf("file exists: %q", e.Path)
}

// DirectoryNotEmptyError is surfaced by the backing transport.
type DirectoryNotEmptyError struct {
	Path string
}

func (e *DirectoryNotEmptyError) Error() string {
	return fmt.Sprintf("directory not empty: %q", e.Path)
}

// PermissionDeniedError is surfaced by the backing transport.
type PermissionDeniedError struct {
	Path  string
	Extra string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: %q %s", e.Path, e.Extra)
}

// ReadOnlyError indicates a mutating operation against a read-only
// transport.
type ReadOnlyError struct{}

func (e *ReadOnlyError) Error() string {
	return "transport is read-only"
}

// NotBranchError indicates no branch or repository exists at the location a
// verb was addressed to.
type NotBranchError struct {
	Path string
}

func (e *NotBranchError) Error() string {
	return fmt.Sprintf("not a branch: %q", e.Path)
}
