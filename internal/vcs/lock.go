package vcs

import (
	"sync"

	"github.com/breezy-team/breezy-sub027/internal/wire"
)

// LockState is the token-based lock shared by branches and repositories.
//
// States: fully unlocked; physically locked with zero in-process references
// (a lock left in place by an earlier request); and held, with a positive
// reference count. An empty token asks for a fresh lock; a non-empty token
// revalidates an existing physical lock.
type LockState struct {
	mu           sync.Mutex
	name         string // "branch lock" or "repository lock", for errors
	readonly     bool
	gen          TokenGenerator
	count        int
	token        Token
	physical     bool
	leaveInPlace bool
}

func NewLockState(name string, readonly bool, gen TokenGenerator) *LockState {
	if gen == nil {
		gen = UUIDv7Generator{}
	}
	return &LockState{name: name, readonly: readonly, gen: gen}
}

func (l *LockState) LockWrite(token Token) (Token, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readonly {
		return "", &wire.LockFailedError{Lock: l.name, Why: "transport is read-only"}
	}
	if l.count > 0 {
		// Held in-process. Reentrant for matching or absent tokens.
		if token != "" && token != l.token {
			return "", &wire.TokenMismatchError{Given: string(token), Held: string(l.token)}
		}
		l.count++
		return l.token, nil
	}
	if l.physical {
		if token == "" {
			return "", &wire.LockContentionError{Lock: l.name}
		}
		if token != l.token {
			return "", &wire.TokenMismatchError{Given: string(token), Held: string(l.token)}
		}
		l.count = 1
		return l.token, nil
	}
	if token != "" {
		return "", &wire.TokenMismatchError{Given: string(token), Held: ""}
	}
	l.token = l.gen.Generate()
	l.count = 1
	l.physical = true
	l.leaveInPlace = false
	return l.token, nil
}

func (l *LockState) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return &wire.LockFailedError{Lock: l.name, Why: "not locked"}
	}
	l.count--
	if l.count == 0 && !l.leaveInPlace {
		l.physical = false
		l.token = ""
	}
	return nil
}

func (l *LockState) BreakLock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count = 0
	l.token = ""
	l.physical = false
	l.leaveInPlace = false
	return nil
}

func (l *LockState) SetLeaveInPlace(leave bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.leaveInPlace = leave
}

func (l *LockState) PhysicalStatus() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.physical
}

// heldToken reports the live token, or "" when no lock exists.
func (l *LockState) HeldToken() Token {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.token
}

// restore reinstates a physical lock loaded from durable storage.
func (l *LockState) Restore(token Token) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if token == "" {
		return
	}
	l.token = token
	l.physical = true
	l.leaveInPlace = true
}
