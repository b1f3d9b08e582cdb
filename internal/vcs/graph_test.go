package vcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezy-team/breezy-sub027/internal/wire"
)

// testGraph builds a repository with this shape:
//
//	rev-1 <- rev-2 <- rev-3
//	     \          /
//	      <- rev-2b
func testGraph(t *testing.T) Graph {
	t.Helper()
	r := NewMemRepository(false, nil)
	r.AddRevision(RevisionRecord{ID: "rev-1"})
	r.AddRevision(RevisionRecord{ID: "rev-2", Parents: []RevisionID{"rev-1"}})
	r.AddRevision(RevisionRecord{ID: "rev-2b", Parents: []RevisionID{"rev-1"}})
	r.AddRevision(RevisionRecord{ID: "rev-3", Parents: []RevisionID{"rev-2", "rev-2b"}})
	return r.Graph()
}

func TestIsAncestor(t *testing.T) {
	g := testGraph(t)

	tests := []struct {
		ancestor, descendant RevisionID
		want                 bool
	}{
		{"rev-1", "rev-3", true},
		{"rev-2b", "rev-3", true},
		{"rev-3", "rev-1", false},
		{"rev-2", "rev-2b", false},
		{"rev-2", "rev-2", true},
		{NullRevision, "rev-1", true},
		{NullRevision, NullRevision, true},
	}
	for _, tt := range tests {
		got, err := IsAncestor(g, tt.ancestor, tt.descendant)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s ancestor of %s", tt.ancestor, tt.descendant)
	}
}

func TestDistanceToNull(t *testing.T) {
	g := testGraph(t)

	n, err := DistanceToNull(g, "rev-3", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = DistanceToNull(g, NullRevision, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDistanceToNull_Known(t *testing.T) {
	g := testGraph(t)

	// A known revno for rev-2 short-circuits the walk below it.
	n, err := DistanceToNull(g, "rev-3", map[RevisionID]int{"rev-2": 2})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDistanceToNull_Ghost(t *testing.T) {
	r := NewMemRepository(false, nil)
	r.AddRevision(RevisionRecord{ID: "rev-2", Parents: []RevisionID{"ghost-1"}})

	_, err := DistanceToNull(r.Graph(), "rev-2", nil)
	var ghost *wire.GhostRevisionsHaveNoRevnoError
	require.ErrorAs(t, err, &ghost)
	assert.Equal(t, "rev-2", ghost.RevisionID)
	assert.Equal(t, "ghost-1", ghost.GhostID)
}

func TestLeftHandHistory(t *testing.T) {
	g := testGraph(t)

	history, err := LeftHandHistory(g, "rev-3")
	require.NoError(t, err)
	assert.Equal(t, []RevisionID{"rev-1", "rev-2", "rev-3"}, history)

	history, err = LeftHandHistory(g, NullRevision)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestMemGraph_ParentMapOmitsGhosts(t *testing.T) {
	r := NewMemRepository(false, nil)
	r.AddRevision(RevisionRecord{ID: "rev-2", Parents: []RevisionID{"ghost-1"}})

	pm, err := r.Graph().ParentMap([]RevisionID{"rev-2", "ghost-1", "absent"})
	require.NoError(t, err)
	assert.Equal(t, map[RevisionID][]RevisionID{"rev-2": {"ghost-1"}}, pm)
}
