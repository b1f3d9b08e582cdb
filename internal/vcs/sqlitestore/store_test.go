package sqlitestore

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezy-team/breezy-sub027/internal/pack"
	"github.com/breezy-team/breezy-sub027/internal/vcs"
	"github.com/breezy-team/breezy-sub027/internal/wire"
)

func setupStore(t *testing.T, tokens ...vcs.Token) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vcs.db")
	s, err := Open(path, false, vcs.NewFixedGenerator(tokens...))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func reopen(t *testing.T, path string, tokens ...vcs.Token) *Store {
	t.Helper()
	s, err := Open(path, false, vcs.NewFixedGenerator(tokens...))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Revisions(t *testing.T) {
	s, _ := setupStore(t)

	require.NoError(t, s.AddRevision(vcs.RevisionRecord{ID: "rev-1", Text: []byte("one")}))
	require.NoError(t, s.AddRevision(vcs.RevisionRecord{
		ID: "rev-2", Parents: []vcs.RevisionID{"rev-1"}, Text: []byte("two"),
	}))

	ok, err := s.HasRevision("rev-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.HasRevision("absent")
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := s.AllRevisionIDs()
	require.NoError(t, err)
	assert.Equal(t, []vcs.RevisionID{"rev-1", "rev-2"}, ids)

	n, err := s.RevisionCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pm, err := s.Graph().ParentMap([]vcs.RevisionID{"rev-2", "absent"})
	require.NoError(t, err)
	assert.Equal(t, map[vcs.RevisionID][]vcs.RevisionID{"rev-2": {"rev-1"}}, pm)
}

func TestStore_GetStream(t *testing.T) {
	s, _ := setupStore(t)
	require.NoError(t, s.AddRevision(vcs.RevisionRecord{ID: "rev-1", Text: []byte("one")}))

	source, err := s.GetStream([]vcs.RevisionID{"rev-1"})
	require.NoError(t, err)
	kind, records, err := source.Next()
	require.NoError(t, err)
	assert.Equal(t, "revisions", kind)
	body, err := records.Next()
	require.NoError(t, err)
	rec, err := vcs.DecodeRevisionRecord(body)
	require.NoError(t, err)
	assert.Equal(t, "one", string(rec.Text))

	_, err = s.GetStream([]vcs.RevisionID{"absent"})
	var noSuch *wire.NoSuchRevisionError
	require.ErrorAs(t, err, &noSuch)
}

func TestStore_LockPersistsAcrossReopen(t *testing.T) {
	s, path := setupStore(t, "repo-tok")

	tok, err := s.LockWrite("")
	require.NoError(t, err)
	assert.Equal(t, vcs.Token("repo-tok"), tok)
	s.LeaveLockInPlace()
	require.NoError(t, s.Unlock())
	require.NoError(t, s.Close())

	// A new process sees the physical lock and honours the token.
	s2 := reopen(t, path)
	physical, err := s2.PhysicalLockStatus()
	require.NoError(t, err)
	assert.True(t, physical)

	_, err = s2.LockWrite("")
	var contention *wire.LockContentionError
	require.ErrorAs(t, err, &contention)

	got, err := s2.LockWrite("repo-tok")
	require.NoError(t, err)
	assert.Equal(t, vcs.Token("repo-tok"), got)

	s2.DontLeaveLockInPlace()
	require.NoError(t, s2.Unlock())
	require.NoError(t, s2.Close())

	// The unlock cleared the durable token as well.
	s3 := reopen(t, path)
	physical, err = s3.PhysicalLockStatus()
	require.NoError(t, err)
	assert.False(t, physical)
}

func TestStore_BreakLockClearsDurableToken(t *testing.T) {
	s, path := setupStore(t, "repo-tok")
	_, err := s.LockWrite("")
	require.NoError(t, err)
	s.LeaveLockInPlace()
	require.NoError(t, s.Unlock())

	require.NoError(t, s.BreakLock())
	require.NoError(t, s.Close())

	s2 := reopen(t, path)
	physical, err := s2.PhysicalLockStatus()
	require.NoError(t, err)
	assert.False(t, physical)
}

func TestStore_WriteGroupSuspendResumeAcrossReopen(t *testing.T) {
	s, path := setupStore(t, "wg-1")

	require.NoError(t, s.StartWriteGroup())
	require.NoError(t, s.StageRecord(vcs.RevisionRecord{
		ID: "rev-2", Parents: []vcs.RevisionID{"rev-1"}, Basis: "rev-1", Text: []byte("delta"),
	}, "revisions"))

	tokens, err := s.SuspendWriteGroup()
	require.NoError(t, err)
	assert.Equal(t, []vcs.Token{"wg-1"}, tokens)
	assert.False(t, s.HasActiveWriteGroup())
	require.NoError(t, s.Close())

	// The suspended group survives a restart.
	s2 := reopen(t, path)
	require.NoError(t, s2.ResumeWriteGroup(tokens))
	missing, err := s2.MissingBases()
	require.NoError(t, err)
	assert.Equal(t, []vcs.MissingKey{{Kind: "revisions", RevisionID: "rev-1"}}, missing)

	// Same token on re-suspend.
	tokens, err = s2.SuspendWriteGroup()
	require.NoError(t, err)
	assert.Equal(t, []vcs.Token{"wg-1"}, tokens)

	// Supplying the basis lets the commit go through and clears the
	// durable rows.
	require.NoError(t, s2.ResumeWriteGroup(tokens))
	require.NoError(t, s2.StageRecord(vcs.RevisionRecord{ID: "rev-1", Text: []byte("full")}, "revisions"))
	require.NoError(t, s2.CommitWriteGroup())

	for _, id := range []vcs.RevisionID{"rev-1", "rev-2"} {
		ok, err := s2.HasRevision(id)
		require.NoError(t, err)
		assert.True(t, ok, "%s", id)
	}
	err = s2.ResumeWriteGroup(tokens)
	var unresumable *wire.UnresumableWriteGroupError
	require.ErrorAs(t, err, &unresumable)
}

func TestStore_ResumeUnknownToken(t *testing.T) {
	s, _ := setupStore(t)
	err := s.ResumeWriteGroup([]vcs.Token{"no-such"})
	var unresumable *wire.UnresumableWriteGroupError
	require.ErrorAs(t, err, &unresumable)
}

func TestStore_CommitFailsOnMissingBases(t *testing.T) {
	s, _ := setupStore(t)
	require.NoError(t, s.StartWriteGroup())
	require.NoError(t, s.StageRecord(vcs.RevisionRecord{ID: "rev-2", Basis: "rev-1"}, "revisions"))

	err := s.CommitWriteGroup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rev-1")
	assert.True(t, s.HasActiveWriteGroup())
}

func TestStore_AbortDiscardsResumedGroups(t *testing.T) {
	s, _ := setupStore(t, "wg-1")
	require.NoError(t, s.StartWriteGroup())
	require.NoError(t, s.StageRecord(vcs.RevisionRecord{ID: "rev-2", Basis: "rev-1"}, "revisions"))
	tokens, err := s.SuspendWriteGroup()
	require.NoError(t, err)

	require.NoError(t, s.ResumeWriteGroup(tokens))
	require.NoError(t, s.AbortWriteGroup())

	// The durable rows are gone with the abort.
	err = s.ResumeWriteGroup(tokens)
	var unresumable *wire.UnresumableWriteGroupError
	require.ErrorAs(t, err, &unresumable)
}

func TestStore_ResuspendConsumesMergedTokens(t *testing.T) {
	s, _ := setupStore(t, "wg-1", "wg-2", "wg-3")

	require.NoError(t, s.StartWriteGroup())
	require.NoError(t, s.StageRecord(vcs.RevisionRecord{ID: "rev-2", Basis: "rev-1"}, "revisions"))
	first, err := s.SuspendWriteGroup()
	require.NoError(t, err)
	assert.Equal(t, []vcs.Token{"wg-1"}, first)

	require.NoError(t, s.StartWriteGroup())
	require.NoError(t, s.StageRecord(vcs.RevisionRecord{ID: "rev-3", Basis: "rev-1"}, "revisions"))
	second, err := s.SuspendWriteGroup()
	require.NoError(t, err)
	assert.Equal(t, []vcs.Token{"wg-2"}, second)

	// Merging both groups and re-suspending moves the records under a
	// fresh token and retires the old ones.
	require.NoError(t, s.ResumeWriteGroup([]vcs.Token{"wg-1", "wg-2"}))
	merged, err := s.SuspendWriteGroup()
	require.NoError(t, err)
	assert.Equal(t, []vcs.Token{"wg-3"}, merged)

	var unresumable *wire.UnresumableWriteGroupError
	for _, tok := range []vcs.Token{"wg-1", "wg-2"} {
		err := s.ResumeWriteGroup([]vcs.Token{tok})
		require.ErrorAs(t, err, &unresumable, "%s", tok)
	}

	// The merged token still carries both records.
	require.NoError(t, s.ResumeWriteGroup(merged))
	require.NoError(t, s.StageRecord(vcs.RevisionRecord{ID: "rev-1", Text: []byte("full")}, "revisions"))
	require.NoError(t, s.CommitWriteGroup())
	for _, id := range []vcs.RevisionID{"rev-2", "rev-3"} {
		ok, err := s.HasRevision(id)
		require.NoError(t, err)
		assert.True(t, ok, "%s", id)
	}
}

func TestStore_InsertStream(t *testing.T) {
	s, _ := setupStore(t)

	enc := pack.NewStreamEncoder([]byte(vcs.RepositoryFormatName), pack.NewSliceSource(
		pack.Substream{Kind: "revisions", Records: [][]byte{
			vcs.EncodeRevisionRecord(vcs.RevisionRecord{ID: "rev-1", Text: []byte("one")}),
		}},
	))
	var data []byte
	for {
		chunk, err := enc.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data = append(data, chunk...)
	}
	format, stream, err := pack.NewStreamReader(&oneShotSource{data: data})
	require.NoError(t, err)

	result, err := s.InsertStream(format, stream, nil)
	require.NoError(t, err)
	assert.Empty(t, result.MissingKeys)

	ok, err := s.HasRevision("rev-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

type oneShotSource struct {
	data []byte
	done bool
}

func (s *oneShotSource) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	return s.data, nil
}

func TestBranch_TipAndHistory(t *testing.T) {
	s, _ := setupStore(t)
	b, err := s.CreateBranch()
	require.NoError(t, err)

	revno, tip, err := b.LastRevisionInfo()
	require.NoError(t, err)
	assert.Equal(t, 0, revno)
	assert.Equal(t, vcs.NullRevision, tip)

	require.NoError(t, s.AddRevision(vcs.RevisionRecord{ID: "rev-1"}))
	require.NoError(t, s.AddRevision(vcs.RevisionRecord{
		ID: "rev-2", Parents: []vcs.RevisionID{"rev-1"},
	}))

	require.NoError(t, b.GenerateRevisionHistory("rev-2"))
	revno, tip, err = b.LastRevisionInfo()
	require.NoError(t, err)
	assert.Equal(t, 2, revno)
	assert.Equal(t, vcs.RevisionID("rev-2"), tip)

	history, err := b.RevisionHistory()
	require.NoError(t, err)
	assert.Equal(t, []vcs.RevisionID{"rev-1", "rev-2"}, history)

	err = b.SetLastRevisionInfo(3, "absent")
	var noSuch *wire.NoSuchRevisionError
	require.ErrorAs(t, err, &noSuch)
}

func TestBranch_PairedLocksPersist(t *testing.T) {
	s, path := setupStore(t, "repo-tok", "branch-tok")
	b, err := s.CreateBranch()
	require.NoError(t, err)

	tok, err := b.LockWrite("")
	require.NoError(t, err)
	assert.Equal(t, vcs.Token("branch-tok"), tok)

	b.LeaveLockInPlace()
	s.LeaveLockInPlace()
	require.NoError(t, b.Unlock())
	require.NoError(t, s.Close())

	s2 := reopen(t, path)
	b2, err := s2.OpenBranch()
	require.NoError(t, err)

	physical, err := b2.PhysicalLockStatus()
	require.NoError(t, err)
	assert.True(t, physical)

	_, err = b2.LockWrite("")
	var contention *wire.LockContentionError
	require.ErrorAs(t, err, &contention)
}

func TestBranch_LockWriteReleasesLocksOnPersistFailure(t *testing.T) {
	s, _ := setupStore(t)
	b, err := s.CreateBranch()
	require.NoError(t, err)

	// Closing the db makes the durable write fail after both in-process
	// locks were taken; the failure must give them back.
	require.NoError(t, s.Close())

	_, err = b.LockWrite("")
	require.Error(t, err)

	physical, err := b.PhysicalLockStatus()
	require.NoError(t, err)
	assert.False(t, physical)
	physical, err = s.PhysicalLockStatus()
	require.NoError(t, err)
	assert.False(t, physical)
}

func TestStore_OpenBranchWithoutBranch(t *testing.T) {
	s, _ := setupStore(t)
	_, err := s.OpenBranch()
	var notBranch *wire.NotBranchError
	require.ErrorAs(t, err, &notBranch)
}
