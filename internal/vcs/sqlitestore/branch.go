package sqlitestore

import (
	"database/sql"
	"fmt"

	"github.com/breezy-team/breezy-sub027/internal/vcs"
	"github.com/breezy-team/breezy-sub027/internal/wire"
)

// Branch exposes the branch row of a Store. Its write lock takes a nested
// repository reference, mirroring the paired-lock contract.
type Branch struct {
	s *Store
}

// OpenBranch returns the branch stored alongside the repository, or a
// not-a-branch error when none was created.
func (s *Store) OpenBranch() (*Branch, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM branch WHERE id = 1`).Scan(&one)
	if err == sql.ErrNoRows {
		return nil, &wire.NotBranchError{Path: "branch"}
	}
	if err != nil {
		return nil, fmt.Errorf("open branch: %w", err)
	}
	return &Branch{s: s}, nil
}

// CreateBranch initialises an empty branch row if none exists.
func (s *Store) CreateBranch() (*Branch, error) {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO branch (id, revno, tip) VALUES (1, 0, ?)`,
		string(vcs.NullRevision))
	if err != nil {
		return nil, fmt.Errorf("create branch: %w", err)
	}
	return &Branch{s: s}, nil
}

func (b *Branch) Repository() vcs.Repository { return b.s }

func (b *Branch) LockWrite(token vcs.Token) (vcs.Token, error) {
	if _, err := b.s.repoLock.LockWrite(""); err != nil {
		return "", err
	}
	tok, err := b.s.branchLock.LockWrite(token)
	if err != nil {
		b.s.repoLock.Unlock()
		return "", err
	}
	if err := b.s.persistLock("branch", b.s.branchLock); err != nil {
		b.s.branchLock.Unlock()
		b.s.repoLock.Unlock()
		return "", err
	}
	if err := b.s.persistLock("repository", b.s.repoLock); err != nil {
		b.s.branchLock.Unlock()
		b.s.repoLock.Unlock()
		return "", err
	}
	return tok, nil
}

func (b *Branch) Unlock() error {
	if err := b.s.branchLock.Unlock(); err != nil {
		return err
	}
	if err := b.s.repoLock.Unlock(); err != nil {
		return err
	}
	if err := b.s.persistLock("branch", b.s.branchLock); err != nil {
		return err
	}
	return b.s.persistLock("repository", b.s.repoLock)
}

func (b *Branch) LeaveLockInPlace()     { b.s.branchLock.SetLeaveInPlace(true) }
func (b *Branch) DontLeaveLockInPlace() { b.s.branchLock.SetLeaveInPlace(false) }

func (b *Branch) BreakLock() error {
	if err := b.s.branchLock.BreakLock(); err != nil {
		return err
	}
	if err := b.s.repoLock.BreakLock(); err != nil {
		return err
	}
	if err := b.s.persistLock("branch", b.s.branchLock); err != nil {
		return err
	}
	return b.s.persistLock("repository", b.s.repoLock)
}

func (b *Branch) PhysicalLockStatus() (bool, error) {
	return b.s.branchLock.PhysicalStatus(), nil
}

func (b *Branch) LastRevisionInfo() (int, vcs.RevisionID, error) {
	var revno int
	var tip string
	err := b.s.db.QueryRow(`SELECT revno, tip FROM branch WHERE id = 1`).
		Scan(&revno, &tip)
	if err == sql.ErrNoRows {
		return 0, vcs.NullRevision, nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("load branch tip: %w", err)
	}
	return revno, vcs.RevisionID(tip), nil
}

func (b *Branch) SetLastRevisionInfo(revno int, id vcs.RevisionID) error {
	if id != vcs.NullRevision {
		present, err := b.s.HasRevision(id)
		if err != nil {
			return err
		}
		if !present {
			return &wire.NoSuchRevisionError{RevisionID: string(id)}
		}
	}
	_, err := b.s.db.Exec(
		`INSERT OR REPLACE INTO branch (id, revno, tip) VALUES (1, ?, ?)`,
		revno, string(id))
	if err != nil {
		return fmt.Errorf("set branch tip: %w", err)
	}
	return nil
}

func (b *Branch) GenerateRevisionHistory(id vcs.RevisionID) error {
	if id == vcs.NullRevision {
		return b.SetLastRevisionInfo(0, vcs.NullRevision)
	}
	revno, err := vcs.DistanceToNull(b.s.Graph(), id, nil)
	if err != nil {
		return err
	}
	return b.SetLastRevisionInfo(revno, id)
}

func (b *Branch) RevisionHistory() ([]vcs.RevisionID, error) {
	_, tip, err := b.LastRevisionInfo()
	if err != nil {
		return nil, err
	}
	return vcs.LeftHandHistory(b.s.Graph(), tip)
}
