package vcs

import (
	"github.com/breezy-team/breezy-sub027/internal/wire"
)

// IsAncestor reports whether ancestor is reachable from descendant by
// walking parent edges. Every revision is its own ancestor. Ghost edges
// terminate the walk on that path.
func IsAncestor(g Graph, ancestor, descendant RevisionID) (bool, error) {
	if ancestor == descendant || ancestor == NullRevision {
		return true, nil
	}
	seen := map[RevisionID]bool{descendant: true}
	frontier := []RevisionID{descendant}
	for len(frontier) > 0 {
		pm, err := g.ParentMap(frontier)
		if err != nil {
			return false, err
		}
		var next []RevisionID
		for _, parents := range pm {
			for _, p := range parents {
				if p == ancestor {
					return true, nil
				}
				if p == NullRevision || seen[p] {
					continue
				}
				seen[p] = true
				next = append(next, p)
			}
		}
		frontier = next
	}
	return false, nil
}

// DistanceToNull returns the left-hand distance from rev to NullRevision,
// which is the revno a branch tip at rev would carry. known maps revision
// ids to already-computed revnos and short-circuits the walk. A ghost on
// the left-hand history makes the revno undefined.
func DistanceToNull(g Graph, rev RevisionID, known map[RevisionID]int) (int, error) {
	dist := 0
	cur := rev
	for cur != NullRevision {
		if n, ok := known[cur]; ok {
			return dist + n, nil
		}
		pm, err := g.ParentMap([]RevisionID{cur})
		if err != nil {
			return 0, err
		}
		parents, ok := pm[cur]
		if !ok {
			return 0, &wire.GhostRevisionsHaveNoRevnoError{
				RevisionID: string(rev),
				GhostID:    string(cur),
			}
		}
		dist++
		if len(parents) == 0 {
			cur = NullRevision
		} else {
			cur = parents[0]
		}
	}
	return dist, nil
}

// LeftHandHistory returns the mainline from rev back to the start of
// history, oldest first. It fails the same way DistanceToNull does when the
// mainline runs into a ghost.
func LeftHandHistory(g Graph, rev RevisionID) ([]RevisionID, error) {
	if rev == NullRevision {
		return nil, nil
	}
	var reversed []RevisionID
	cur := rev
	for cur != NullRevision {
		pm, err := g.ParentMap([]RevisionID{cur})
		if err != nil {
			return nil, err
		}
		parents, ok := pm[cur]
		if !ok {
			return nil, &wire.GhostRevisionsHaveNoRevnoError{
				RevisionID: string(rev),
				GhostID:    string(cur),
			}
		}
		reversed = append(reversed, cur)
		if len(parents) == 0 {
			break
		}
		cur = parents[0]
	}
	history := make([]RevisionID, len(reversed))
	for i, id := range reversed {
		history[len(reversed)-1-i] = id
	}
	return history, nil
}
