package vcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezy-team/breezy-sub027/internal/wire"
)

func TestLockState_FreshLock(t *testing.T) {
	l := NewLockState("branch lock", false, NewFixedGenerator("tok-1"))

	tok, err := l.LockWrite("")
	require.NoError(t, err)
	assert.Equal(t, Token("tok-1"), tok)
	assert.True(t, l.PhysicalStatus())

	require.NoError(t, l.Unlock())
	assert.False(t, l.PhysicalStatus())
	assert.Equal(t, Token(""), l.HeldToken())
}

func TestLockState_Reentrant(t *testing.T) {
	l := NewLockState("branch lock", false, NewFixedGenerator("tok-1"))

	tok, err := l.LockWrite("")
	require.NoError(t, err)

	// Same token and absent token both re-enter.
	again, err := l.LockWrite(tok)
	require.NoError(t, err)
	assert.Equal(t, tok, again)
	_, err = l.LockWrite("")
	require.NoError(t, err)

	// Wrong token is rejected while held.
	_, err = l.LockWrite("other")
	var mismatch *wire.TokenMismatchError
	require.ErrorAs(t, err, &mismatch)

	require.NoError(t, l.Unlock())
	require.NoError(t, l.Unlock())
	assert.True(t, l.PhysicalStatus(), "still held once")
	require.NoError(t, l.Unlock())
	assert.False(t, l.PhysicalStatus())
}

func TestLockState_UnlockWhenUnlocked(t *testing.T) {
	l := NewLockState("branch lock", false, nil)
	err := l.Unlock()
	var failed *wire.LockFailedError
	require.ErrorAs(t, err, &failed)
}

func TestLockState_PhysicalOnly(t *testing.T) {
	l := NewLockState("branch lock", false, NewFixedGenerator("tok-1"))
	tok, err := l.LockWrite("")
	require.NoError(t, err)
	l.SetLeaveInPlace(true)
	require.NoError(t, l.Unlock())

	// The physical lock outlives the in-process reference.
	assert.True(t, l.PhysicalStatus())
	assert.Equal(t, tok, l.HeldToken())

	// Without the token the lock is contended; with the wrong token it
	// is a mismatch; with the right token it is reacquired.
	_, err = l.LockWrite("")
	var contention *wire.LockContentionError
	require.ErrorAs(t, err, &contention)

	_, err = l.LockWrite("wrong")
	var mismatch *wire.TokenMismatchError
	require.ErrorAs(t, err, &mismatch)

	got, err := l.LockWrite(tok)
	require.NoError(t, err)
	assert.Equal(t, tok, got)

	l.SetLeaveInPlace(false)
	require.NoError(t, l.Unlock())
	assert.False(t, l.PhysicalStatus())
}

func TestLockState_TokenAgainstUnlocked(t *testing.T) {
	l := NewLockState("branch lock", false, nil)
	_, err := l.LockWrite("stale-token")
	var mismatch *wire.TokenMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "stale-token", mismatch.Given)
	assert.Equal(t, "", mismatch.Held)
}

func TestLockState_Readonly(t *testing.T) {
	l := NewLockState("branch lock", true, nil)
	_, err := l.LockWrite("")
	var failed *wire.LockFailedError
	require.ErrorAs(t, err, &failed)
}

func TestLockState_BreakLock(t *testing.T) {
	l := NewLockState("branch lock", false, NewFixedGenerator("tok-1", "tok-2"))
	_, err := l.LockWrite("")
	require.NoError(t, err)
	l.SetLeaveInPlace(true)
	require.NoError(t, l.Unlock())

	require.NoError(t, l.BreakLock())
	assert.False(t, l.PhysicalStatus())

	// A fresh lock works again after the break.
	tok, err := l.LockWrite("")
	require.NoError(t, err)
	assert.Equal(t, Token("tok-2"), tok)
}

func TestLockState_Restore(t *testing.T) {
	l := NewLockState("repository lock", false, nil)
	l.Restore("persisted-token")

	assert.True(t, l.PhysicalStatus())

	_, err := l.LockWrite("")
	var contention *wire.LockContentionError
	require.ErrorAs(t, err, &contention)

	tok, err := l.LockWrite("persisted-token")
	require.NoError(t, err)
	assert.Equal(t, Token("persisted-token"), tok)
}

func TestFixedGenerator_WrapsPastEnd(t *testing.T) {
	g := NewFixedGenerator("a")
	assert.Equal(t, Token("a"), g.Generate())
	assert.Equal(t, Token("fixed-token-2"), g.Generate())
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	g := UUIDv7Generator{}
	assert.NotEqual(t, g.Generate(), g.Generate())
}
