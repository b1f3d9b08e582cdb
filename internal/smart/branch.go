package smart

import (
	"bytes"
	"strconv"

	"github.com/breezy-team/breezy-sub027/internal/vcs"
	"github.com/breezy-team/breezy-sub027/internal/wire"
)

// branchRequest is the base for verbs addressed to a branch path.
type branchRequest struct {
	Request
}

// withLockedBranch validates the client's tokens by taking the repository
// and branch locks, runs fn, and releases both references. Token validation
// and the nested repository reference follow the paired-lock contract: the
// branch lock holds one repository reference, released with it.
func (r *branchRequest) withLockedBranch(b vcs.Branch, branchToken, repoToken vcs.Token, fn func() (*wire.Response, error)) (*wire.Response, error) {
	repo := b.Repository()
	if _, err := repo.LockWrite(repoToken); err != nil {
		return nil, err
	}
	if _, err := b.LockWrite(branchToken); err != nil {
		repo.Unlock()
		return nil, err
	}
	defer repo.Unlock()
	defer b.Unlock()
	return fn()
}

type branchPhysicalLockStatusRequest struct{ branchRequest }

func newBranchPhysicalLockStatusRequest(env *Env) Handler {
	return &branchPhysicalLockStatusRequest{branchRequest{newRequest(env)}}
}

func (h *branchPhysicalLockStatusRequest) Do(args [][]byte) (*wire.Response, error) {
	b, err := h.BranchFor(args[0])
	if err != nil {
		return nil, err
	}
	locked, err := b.PhysicalLockStatus()
	if err != nil {
		return nil, err
	}
	if locked {
		return wire.NewSuccess([]byte("yes")), nil
	}
	return wire.NewSuccess([]byte("no")), nil
}

type branchLastRevisionInfoRequest struct{ branchRequest }

func newBranchLastRevisionInfoRequest(env *Env) Handler {
	return &branchLastRevisionInfoRequest{branchRequest{newRequest(env)}}
}

func (h *branchLastRevisionInfoRequest) Do(args [][]byte) (*wire.Response, error) {
	b, err := h.BranchFor(args[0])
	if err != nil {
		return nil, err
	}
	revno, tip, err := b.LastRevisionInfo()
	if err != nil {
		return nil, err
	}
	return wire.NewSuccess([]byte("ok"), []byte(strconv.Itoa(revno)), []byte(tip)), nil
}

type branchRevisionHistoryRequest struct{ branchRequest }

func newBranchRevisionHistoryRequest(env *Env) Handler {
	return &branchRevisionHistoryRequest{branchRequest{newRequest(env)}}
}

func (h *branchRevisionHistoryRequest) Do(args [][]byte) (*wire.Response, error) {
	b, err := h.BranchFor(args[0])
	if err != nil {
		return nil, err
	}
	history, err := b.RevisionHistory()
	if err != nil {
		return nil, err
	}
	parts := make([][]byte, len(history))
	for i, id := range history {
		parts[i] = []byte(id)
	}
	return wire.NewSuccessWithBody(bytes.Join(parts, []byte{0}), []byte("ok")), nil
}

type branchLockWriteRequest struct{ branchRequest }

func newBranchLockWriteRequest(env *Env) Handler {
	return &branchLockWriteRequest{branchRequest{newRequest(env)}}
}

func (h *branchLockWriteRequest) Do(args [][]byte) (*wire.Response, error) {
	b, err := h.BranchFor(args[0])
	if err != nil {
		return nil, err
	}
	var branchToken, repoToken vcs.Token
	if len(args) > 1 {
		branchToken = vcs.Token(args[1])
	}
	if len(args) > 2 {
		repoToken = vcs.Token(args[2])
	}
	repo := b.Repository()
	repoTok, err := repo.LockWrite(repoToken)
	if err != nil {
		return nil, err
	}
	branchTok, err := b.LockWrite(branchToken)
	if err != nil {
		repo.Unlock()
		return nil, err
	}
	// Drop the direct repository reference, leaving the one held through
	// the branch lock. Marking both locks leave-in-place keeps the
	// physical locks (and tokens) valid after the final unlock.
	if err := repo.Unlock(); err != nil {
		return nil, err
	}
	repo.LeaveLockInPlace()
	b.LeaveLockInPlace()
	if err := b.Unlock(); err != nil {
		return nil, err
	}
	return wire.NewSuccess([]byte("ok"), []byte(branchTok), []byte(repoTok)), nil
}

type branchUnlockRequest struct{ branchRequest }

func newBranchUnlockRequest(env *Env) Handler {
	return &branchUnlockRequest{branchRequest{newRequest(env)}}
}

func (h *branchUnlockRequest) Do(args [][]byte) (*wire.Response, error) {
	b, err := h.BranchFor(args[0])
	if err != nil {
		return nil, err
	}
	branchToken := vcs.Token(args[1])
	repoToken := vcs.Token(args[2])
	repo := b.Repository()
	if _, err := repo.LockWrite(repoToken); err != nil {
		return nil, err
	}
	if _, err := b.LockWrite(branchToken); err != nil {
		repo.Unlock()
		return nil, err
	}
	if err := repo.Unlock(); err != nil {
		return nil, err
	}
	repo.DontLeaveLockInPlace()
	b.DontLeaveLockInPlace()
	if err := b.Unlock(); err != nil {
		return nil, err
	}
	return wire.NewSuccess([]byte("ok")), nil
}

type branchBreakLockRequest struct{ branchRequest }

func newBranchBreakLockRequest(env *Env) Handler {
	return &branchBreakLockRequest{branchRequest{newRequest(env)}}
}

func (h *branchBreakLockRequest) Do(args [][]byte) (*wire.Response, error) {
	b, err := h.BranchFor(args[0])
	if err != nil {
		return nil, err
	}
	if err := b.BreakLock(); err != nil {
		return nil, err
	}
	return wire.NewSuccess([]byte("ok")), nil
}

type branchSetLastRevisionRequest struct{ branchRequest }

func newBranchSetLastRevisionRequest(env *Env) Handler {
	return &branchSetLastRevisionRequest{branchRequest{newRequest(env)}}
}

func (h *branchSetLastRevisionRequest) Do(args [][]byte) (*wire.Response, error) {
	b, err := h.BranchFor(args[0])
	if err != nil {
		return nil, err
	}
	branchToken := vcs.Token(args[1])
	repoToken := vcs.Token(args[2])
	newRev := vcs.RevisionID(args[3])
	return h.withLockedBranch(b, branchToken, repoToken, func() (*wire.Response, error) {
		if newRev != vcs.NullRevision {
			ok, err := b.Repository().HasRevision(newRev)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, &wire.NoSuchRevisionError{RevisionID: string(newRev)}
			}
		}
		if err := b.GenerateRevisionHistory(newRev); err != nil {
			return nil, err
		}
		return wire.NewSuccess([]byte("ok")), nil
	})
}

type branchSetLastRevisionInfoRequest struct{ branchRequest }

func newBranchSetLastRevisionInfoRequest(env *Env) Handler {
	return &branchSetLastRevisionInfoRequest{branchRequest{newRequest(env)}}
}

func (h *branchSetLastRevisionInfoRequest) Do(args [][]byte) (*wire.Response, error) {
	b, err := h.BranchFor(args[0])
	if err != nil {
		return nil, err
	}
	branchToken := vcs.Token(args[1])
	repoToken := vcs.Token(args[2])
	revno, err := strconv.Atoi(string(args[3]))
	if err != nil {
		return nil, &wire.ProtocolError{Msg: "invalid revno: " + string(args[3])}
	}
	newRev := vcs.RevisionID(args[4])
	return h.withLockedBranch(b, branchToken, repoToken, func() (*wire.Response, error) {
		if err := b.SetLastRevisionInfo(revno, newRev); err != nil {
			return nil, err
		}
		return wire.NewSuccess([]byte("ok")), nil
	})
}

type branchSetLastRevisionExRequest struct{ branchRequest }

func newBranchSetLastRevisionExRequest(env *Env) Handler {
	return &branchSetLastRevisionExRequest{branchRequest{newRequest(env)}}
}

func (h *branchSetLastRevisionExRequest) Do(args [][]byte) (*wire.Response, error) {
	b, err := h.BranchFor(args[0])
	if err != nil {
		return nil, err
	}
	branchToken := vcs.Token(args[1])
	repoToken := vcs.Token(args[2])
	newRev := vcs.RevisionID(args[3])
	allowDivergence := string(args[4]) != "0"
	allowOverwriteDescendant := string(args[5]) != "0"
	return h.withLockedBranch(b, branchToken, repoToken, func() (*wire.Response, error) {
		lastRevno, lastRev, err := b.LastRevisionInfo()
		if err != nil {
			return nil, err
		}
		graph := b.Repository().Graph()
		if !allowDivergence || !allowOverwriteDescendant {
			rel, err := revisionRelations(graph, lastRev, newRev)
			if err != nil {
				return nil, err
			}
			if rel == relDiverged && !allowDivergence {
				return nil, &wire.DivergedError{}
			}
			if rel == relADescendsFromB && !allowOverwriteDescendant {
				// Keep the current tip: the proposed tip is one of its
				// ancestors.
				return wire.NewSuccess([]byte("ok"),
					[]byte(strconv.Itoa(lastRevno)), []byte(lastRev)), nil
			}
		}
		newRevno, err := vcs.DistanceToNull(graph, newRev,
			map[vcs.RevisionID]int{lastRev: lastRevno})
		if err != nil {
			return nil, err
		}
		if err := b.SetLastRevisionInfo(newRevno, newRev); err != nil {
			return nil, err
		}
		return wire.NewSuccess([]byte("ok"),
			[]byte(strconv.Itoa(newRevno)), []byte(newRev)), nil
	})
}

type tipRelation int

const (
	relADescendsFromB tipRelation = iota + 1
	relBDescendsFromA
	relDiverged
)

// revisionRelations classifies the current tip a against the proposed tip
// b: b descends from a (fast-forward), a descends from b (set-to-ancestor),
// or the two have diverged.
func revisionRelations(g vcs.Graph, a, b vcs.RevisionID) (tipRelation, error) {
	if a == b || a == vcs.NullRevision {
		return relBDescendsFromA, nil
	}
	if b == vcs.NullRevision {
		return relADescendsFromB, nil
	}
	ok, err := vcs.IsAncestor(g, a, b)
	if err != nil {
		return 0, err
	}
	if ok {
		return relBDescendsFromA, nil
	}
	ok, err = vcs.IsAncestor(g, b, a)
	if err != nil {
		return 0, err
	}
	if ok {
		return relADescendsFromB, nil
	}
	return relDiverged, nil
}
