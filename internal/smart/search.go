package smart

import (
	"bytes"
	"strconv"

	"github.com/breezy-team/breezy-sub027/internal/vcs"
	"github.com/breezy-team/breezy-sub027/internal/wire"
)

// SearchResult is the set of revisions a stream request selected.
type SearchResult struct {
	// Keys are the included revisions, in a deterministic order.
	Keys []vcs.RevisionID
}

// RecreateSearch rebuilds a search result from a serialized recipe body.
// Three recipe kinds exist:
//
//	everything
//	ancestry-of\n<heads, space-joined>
//	search\n<starts>\n<excludes>\n<count>
//
// For the counted form the walk must rediscover exactly count revisions;
// when discardExcess is false a mismatch is reported as NoSuchRevision,
// since it means server and client disagree about the graph.
func RecreateSearch(repo vcs.Repository, body []byte, discardExcess bool) (*SearchResult, error) {
	lines := bytes.Split(body, []byte("\n"))
	switch string(lines[0]) {
	case "everything":
		ids, err := repo.AllRevisionIDs()
		if err != nil {
			return nil, err
		}
		return &SearchResult{Keys: ids}, nil
	case "ancestry-of":
		var heads []vcs.RevisionID
		for _, line := range lines[1:] {
			if len(line) > 0 {
				heads = append(heads, vcs.RevisionID(line))
			}
		}
		keys, err := ancestryOf(repo.Graph(), heads)
		if err != nil {
			return nil, err
		}
		return &SearchResult{Keys: keys}, nil
	case "search":
		return RecreateSearchFromRecipe(repo, lines[1:], discardExcess)
	}
	return nil, &wire.BadSearchError{Keyword: string(lines[0])}
}

// RecreateSearchFromRecipe handles the counted form without its leading
// keyword line: starts, excludes, expected count. The get_parent_map body
// carries this form directly.
func RecreateSearchFromRecipe(repo vcs.Repository, lines [][]byte, discardExcess bool) (*SearchResult, error) {
	if len(lines) < 3 {
		return nil, &wire.BadSearchError{Keyword: "search"}
	}
	starts := splitKeys(lines[0])
	excludes := splitKeys(lines[1])
	count, err := strconv.Atoi(string(lines[2]))
	if err != nil {
		return nil, &wire.BadSearchError{Keyword: string(lines[2])}
	}
	keys, err := pruningSearch(repo.Graph(), starts, excludes)
	if err != nil {
		return nil, err
	}
	if !discardExcess && len(keys) != count {
		// The client counted a different ancestry than we can see. Fewer
		// keys means revisions are missing here; more should not happen
		// because the exclude set accounts for ghosts.
		return nil, &wire.NoSuchRevisionError{}
	}
	return &SearchResult{Keys: keys}, nil
}

func splitKeys(line []byte) []vcs.RevisionID {
	if len(line) == 0 {
		return nil
	}
	parts := bytes.Split(line, []byte(" "))
	keys := make([]vcs.RevisionID, 0, len(parts))
	for _, p := range parts {
		if len(p) > 0 {
			keys = append(keys, vcs.RevisionID(p))
		}
	}
	return keys
}

// ancestryOf returns every revision reachable from heads that is present in
// the graph. Ghosts are walked over silently.
func ancestryOf(g vcs.Graph, heads []vcs.RevisionID) ([]vcs.RevisionID, error) {
	seen := make(map[vcs.RevisionID]bool)
	var included []vcs.RevisionID
	frontier := heads
	for len(frontier) > 0 {
		var query []vcs.RevisionID
		for _, id := range frontier {
			if id == vcs.NullRevision || seen[id] {
				continue
			}
			seen[id] = true
			query = append(query, id)
		}
		pm, err := g.ParentMap(query)
		if err != nil {
			return nil, err
		}
		var next []vcs.RevisionID
		for _, id := range query {
			parents, ok := pm[id]
			if !ok {
				continue // ghost
			}
			included = append(included, id)
			next = append(next, parents...)
		}
		frontier = next
	}
	return included, nil
}

// pruningSearch walks breadth-first from starts, stopping at excluded
// revisions. Excluded revisions are visited only far enough to prune their
// ancestry and are never included; revisions only reachable through an
// excluded one stay out unless another path reaches them.
func pruningSearch(g vcs.Graph, starts, excludes []vcs.RevisionID) ([]vcs.RevisionID, error) {
	excluded := make(map[vcs.RevisionID]bool, len(excludes))
	for _, id := range excludes {
		excluded[id] = true
	}
	seen := make(map[vcs.RevisionID]bool)
	var included []vcs.RevisionID
	frontier := starts
	for len(frontier) > 0 {
		var live []vcs.RevisionID
		for _, id := range frontier {
			if id == vcs.NullRevision || seen[id] {
				continue
			}
			seen[id] = true
			if excluded[id] {
				continue
			}
			live = append(live, id)
		}
		pm, err := g.ParentMap(live)
		if err != nil {
			return nil, err
		}
		var next []vcs.RevisionID
		for _, id := range live {
			parents, ok := pm[id]
			if !ok {
				continue // ghost: traversed but not included
			}
			included = append(included, id)
			next = append(next, parents...)
		}
		frontier = next
	}
	return included, nil
}
