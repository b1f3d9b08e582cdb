// Package sqlitestore is the durable backend: one SQLite database per
// repository, holding revisions, the branch tip, physical lock tokens and
// suspended write groups. Lock tokens and write-group tokens survive
// process restarts, which is what makes them safe to hand to clients.
package sqlitestore

import (
	"database/sql"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/breezy-team/breezy-sub027/internal/pack"
	"github.com/breezy-team/breezy-sub027/internal/vcs"
	"github.com/breezy-team/breezy-sub027/internal/wire"
)

//go:embed schema.sql
var schemaSQL string

// Store is one repository (and optionally its branch) backed by a SQLite
// database.
type Store struct {
	db       *sql.DB
	gen      vcs.TokenGenerator
	readonly bool

	repoLock   *vcs.LockState
	branchLock *vcs.LockState

	mu sync.Mutex
	// active is the in-memory staging area of the current write group.
	// Suspending writes it to the write_groups table; only commit moves
	// records into revisions.
	active        map[vcs.RevisionID]stagedRec
	activeToken   vcs.Token
	hasActive     bool
	resumedTokens []vcs.Token
}

type stagedRec struct {
	rec  vcs.RevisionRecord
	kind string
}

// Open creates or opens the database at path. WAL mode allows readers to
// proceed during writes; a single connection avoids SQLITE_BUSY from
// concurrent writers.
func Open(path string, readonly bool, gen vcs.TokenGenerator) (*Store, error) {
	if gen == nil {
		gen = vcs.UUIDv7Generator{}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	s := &Store{
		db:         db,
		gen:        gen,
		readonly:   readonly,
		repoLock:   vcs.NewLockState("repository lock", readonly, gen),
		branchLock: vcs.NewLockState("branch lock", readonly, gen),
	}
	if err := s.restoreLocks(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// restoreLocks reinstates physical locks persisted by an earlier process.
func (s *Store) restoreLocks() error {
	rows, err := s.db.Query(`SELECT scope, token FROM locks`)
	if err != nil {
		return fmt.Errorf("load locks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var scope, token string
		if err := rows.Scan(&scope, &token); err != nil {
			return err
		}
		switch scope {
		case "repository":
			s.repoLock.Restore(vcs.Token(token))
		case "branch":
			s.branchLock.Restore(vcs.Token(token))
		}
	}
	return rows.Err()
}

// persistLock stores or clears the durable token for a lock scope.
func (s *Store) persistLock(scope string, lock *vcs.LockState) error {
	if lock.PhysicalStatus() {
		_, err := s.db.Exec(
			`INSERT OR REPLACE INTO locks (scope, token) VALUES (?, ?)`,
			scope, string(lock.HeldToken()))
		return err
	}
	_, err := s.db.Exec(`DELETE FROM locks WHERE scope = ?`, scope)
	return err
}

func (s *Store) LockWrite(token vcs.Token) (vcs.Token, error) {
	tok, err := s.repoLock.LockWrite(token)
	if err != nil {
		return "", err
	}
	if err := s.persistLock("repository", s.repoLock); err != nil {
		s.repoLock.Unlock()
		return "", err
	}
	return tok, nil
}

func (s *Store) LockRead() error { return nil }

func (s *Store) Unlock() error {
	if err := s.repoLock.Unlock(); err != nil {
		return err
	}
	return s.persistLock("repository", s.repoLock)
}

func (s *Store) LeaveLockInPlace()     { s.repoLock.SetLeaveInPlace(true) }
func (s *Store) DontLeaveLockInPlace() { s.repoLock.SetLeaveInPlace(false) }

func (s *Store) BreakLock() error {
	if err := s.repoLock.BreakLock(); err != nil {
		return err
	}
	return s.persistLock("repository", s.repoLock)
}

func (s *Store) PhysicalLockStatus() (bool, error) {
	return s.repoLock.PhysicalStatus(), nil
}

func (s *Store) Graph() vcs.Graph { return (*storeGraph)(s) }

type storeGraph Store

func (g *storeGraph) ParentMap(ids []vcs.RevisionID) (map[vcs.RevisionID][]vcs.RevisionID, error) {
	out := make(map[vcs.RevisionID][]vcs.RevisionID)
	for _, id := range ids {
		var parents string
		err := g.db.QueryRow(`SELECT parents FROM revisions WHERE id = ?`, string(id)).
			Scan(&parents)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("query parents of %s: %w", id, err)
		}
		out[id] = splitParents(parents)
	}
	return out, nil
}

func splitParents(parents string) []vcs.RevisionID {
	if parents == "" {
		return nil
	}
	parts := strings.Split(parents, " ")
	out := make([]vcs.RevisionID, len(parts))
	for i, p := range parts {
		out[i] = vcs.RevisionID(p)
	}
	return out
}

func joinParents(parents []vcs.RevisionID) string {
	parts := make([]string, len(parents))
	for i, p := range parents {
		parts[i] = string(p)
	}
	return strings.Join(parts, " ")
}

func (s *Store) AllRevisionIDs() ([]vcs.RevisionID, error) {
	rows, err := s.db.Query(`SELECT id FROM revisions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query revision ids: %w", err)
	}
	defer rows.Close()
	var ids []vcs.RevisionID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, vcs.RevisionID(id))
	}
	return ids, rows.Err()
}

func (s *Store) HasRevision(id vcs.RevisionID) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM revisions WHERE id = ?`, string(id)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query revision %s: %w", id, err)
	}
	return true, nil
}

func (s *Store) RevisionCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM revisions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count revisions: %w", err)
	}
	return n, nil
}

func (s *Store) loadRevision(id vcs.RevisionID) (vcs.RevisionRecord, string, error) {
	var parents, basis, kind string
	var body []byte
	err := s.db.QueryRow(
		`SELECT parents, basis, kind, body FROM revisions WHERE id = ?`, string(id)).
		Scan(&parents, &basis, &kind, &body)
	if err == sql.ErrNoRows {
		return vcs.RevisionRecord{}, "", &wire.NoSuchRevisionError{RevisionID: string(id)}
	}
	if err != nil {
		return vcs.RevisionRecord{}, "", fmt.Errorf("load revision %s: %w", id, err)
	}
	return vcs.RevisionRecord{
		ID:      id,
		Parents: splitParents(parents),
		Basis:   vcs.RevisionID(basis),
		Text:    body,
	}, kind, nil
}

// AddRevision inserts a revision directly, bypassing write groups. Used by
// fixtures and the init command.
func (s *Store) AddRevision(rec vcs.RevisionRecord) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO revisions (id, parents, basis, kind, body)
		 VALUES (?, ?, ?, 'revisions', ?)`,
		string(rec.ID), joinParents(rec.Parents), string(rec.Basis), rec.Text)
	if err != nil {
		return fmt.Errorf("add revision %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) StartWriteGroup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasActive {
		return fmt.Errorf("write group already active")
	}
	s.active = make(map[vcs.RevisionID]stagedRec)
	s.activeToken = ""
	s.hasActive = true
	s.resumedTokens = nil
	return nil
}

func (s *Store) SuspendWriteGroup() ([]vcs.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasActive {
		return nil, fmt.Errorf("no write group to suspend")
	}
	if s.readonly {
		return nil, &wire.UnsuspendableWriteGroupError{}
	}
	if s.activeToken == "" {
		s.activeToken = s.gen.Generate()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	for id, sr := range s.active {
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO write_groups
			 (token, revision_id, parents, basis, kind, body)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			string(s.activeToken), string(id), joinParents(sr.rec.Parents),
			string(sr.rec.Basis), sr.kind, sr.rec.Text)
		if err != nil {
			return nil, fmt.Errorf("suspend write group: %w", err)
		}
	}
	// Tokens merged in by a resume die with the re-suspend; their rows
	// would otherwise stay resumable with stale copies of the same records.
	for _, tok := range s.resumedTokens {
		if tok == s.activeToken {
			continue
		}
		if _, err := tx.Exec(
			`DELETE FROM write_groups WHERE token = ?`, string(tok)); err != nil {
			return nil, fmt.Errorf("suspend write group: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	token := s.activeToken
	s.hasActive = false
	s.active = nil
	s.resumedTokens = nil
	return []vcs.Token{token}, nil
}

func (s *Store) ResumeWriteGroup(tokens []vcs.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := make(map[vcs.RevisionID]stagedRec)
	for _, tok := range tokens {
		rows, err := s.db.Query(
			`SELECT revision_id, parents, basis, kind, body
			 FROM write_groups WHERE token = ?`, string(tok))
		if err != nil {
			return fmt.Errorf("resume write group: %w", err)
		}
		found := false
		for rows.Next() {
			var id, parents, basis, kind string
			var body []byte
			if err := rows.Scan(&id, &parents, &basis, &kind, &body); err != nil {
				rows.Close()
				return err
			}
			found = true
			staged[vcs.RevisionID(id)] = stagedRec{
				rec: vcs.RevisionRecord{
					ID:      vcs.RevisionID(id),
					Parents: splitParents(parents),
					Basis:   vcs.RevisionID(basis),
					Text:    body,
				},
				kind: kind,
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if !found {
			strs := make([]string, len(tokens))
			for i, t := range tokens {
				strs[i] = string(t)
			}
			return &wire.UnresumableWriteGroupError{
				Tokens: strs,
				Reason: fmt.Sprintf("unknown write group token %s", tok),
			}
		}
	}
	if !s.hasActive {
		s.active = make(map[vcs.RevisionID]stagedRec)
		s.hasActive = true
	}
	for id, sr := range staged {
		s.active[id] = sr
	}
	s.resumedTokens = append(s.resumedTokens, tokens...)
	if len(tokens) == 1 && len(s.active) == len(staged) {
		s.activeToken = tokens[0]
	} else {
		s.activeToken = ""
	}
	return nil
}

// missingBasesLocked lists basis records the active group still needs.
// Callers hold s.mu.
func (s *Store) missingBasesLocked() ([]vcs.MissingKey, error) {
	seen := make(map[vcs.MissingKey]bool)
	var missing []vcs.MissingKey
	for _, sr := range s.active {
		if sr.rec.Basis == "" {
			continue
		}
		if _, staged := s.active[sr.rec.Basis]; staged {
			continue
		}
		present, err := s.HasRevision(sr.rec.Basis)
		if err != nil {
			return nil, err
		}
		if present {
			continue
		}
		key := vcs.MissingKey{Kind: sr.kind, RevisionID: sr.rec.Basis}
		if !seen[key] {
			seen[key] = true
			missing = append(missing, key)
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].Kind != missing[j].Kind {
			return missing[i].Kind < missing[j].Kind
		}
		return missing[i].RevisionID < missing[j].RevisionID
	})
	return missing, nil
}

func (s *Store) CommitWriteGroup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasActive {
		return fmt.Errorf("no write group to commit")
	}
	missing, err := s.missingBasesLocked()
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		ids := make([]string, len(missing))
		for i, k := range missing {
			ids[i] = string(k.RevisionID)
		}
		return fmt.Errorf("cannot commit write group: missing basis records %s",
			strings.Join(ids, " "))
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for id, sr := range s.active {
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO revisions (id, parents, basis, kind, body)
			 VALUES (?, ?, ?, ?, ?)`,
			string(id), joinParents(sr.rec.Parents), string(sr.rec.Basis),
			sr.kind, sr.rec.Text)
		if err != nil {
			return fmt.Errorf("commit write group: %w", err)
		}
	}
	for _, tok := range s.resumedTokens {
		if _, err := tx.Exec(`DELETE FROM write_groups WHERE token = ?`, string(tok)); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.hasActive = false
	s.active = nil
	s.resumedTokens = nil
	return nil
}

func (s *Store) AbortWriteGroup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasActive {
		return fmt.Errorf("no write group to abort")
	}
	for _, tok := range s.resumedTokens {
		if _, err := s.db.Exec(`DELETE FROM write_groups WHERE token = ?`, string(tok)); err != nil {
			return err
		}
	}
	s.hasActive = false
	s.active = nil
	s.resumedTokens = nil
	return nil
}

func (s *Store) FormatName() []byte { return []byte(vcs.RepositoryFormatName) }

func (s *Store) InsertStream(format []byte, stream *pack.StreamReader, resumeTokens []vcs.Token) (*vcs.InsertResult, error) {
	return vcs.RunInsertStream(s, format, stream, resumeTokens)
}

// StageRecord adds one decoded record to the active write group.
func (s *Store) StageRecord(rec vcs.RevisionRecord, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasActive {
		return fmt.Errorf("no active write group")
	}
	s.active[rec.ID] = stagedRec{rec: rec, kind: kind}
	return nil
}

// HasActiveWriteGroup reports whether records are currently staged.
func (s *Store) HasActiveWriteGroup() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasActive
}

// MissingBases lists the basis records the active write group still needs.
func (s *Store) MissingBases() ([]vcs.MissingKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.missingBasesLocked()
}

func (s *Store) GetStream(keys []vcs.RevisionID) (pack.StreamSource, error) {
	return s.streamFor(keys, nil)
}

func (s *Store) GetStreamForMissingKeys(keys []vcs.MissingKey) (pack.StreamSource, error) {
	ids := make([]vcs.RevisionID, len(keys))
	kinds := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.RevisionID
		kinds[i] = k.Kind
	}
	return s.streamFor(ids, kinds)
}

func (s *Store) streamFor(ids []vcs.RevisionID, kinds []string) (pack.StreamSource, error) {
	var subs []pack.Substream
	for i, id := range ids {
		if id == vcs.NullRevision {
			continue
		}
		rec, kind, err := s.loadRevision(id)
		if err != nil {
			return nil, err
		}
		if kinds != nil {
			kind = kinds[i]
		}
		if kind == "" {
			kind = "revisions"
		}
		body := vcs.EncodeRevisionRecord(rec)
		if n := len(subs); n > 0 && subs[n-1].Kind == kind {
			subs[n-1].Records = append(subs[n-1].Records, body)
		} else {
			subs = append(subs, pack.Substream{Kind: kind, Records: [][]byte{body}})
		}
	}
	return pack.NewSliceSource(subs...), nil
}
