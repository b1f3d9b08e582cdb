package vcs

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/breezy-team/breezy-sub027/internal/pack"
	"github.com/breezy-team/breezy-sub027/internal/wire"
)

// RepositoryFormatName is the network name both backends expose and expect
// as the leading record of every pack stream.
const RepositoryFormatName = "Bazaar repository format 2a (needs bzr 1.16 or later)\n"

// memFiles is the byte tree shared by a MemTransport and its clones.
type memFiles struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
}

// MemTransport is an in-memory Transport rooted at a memory: URL. Clones
// share the same tree.
type MemTransport struct {
	shared   *memFiles
	base     string
	cwd      string
	readonly bool
}

func NewMemTransport() *MemTransport {
	return &MemTransport{
		shared: &memFiles{
			files: make(map[string][]byte),
			dirs:  map[string]bool{".": true},
		},
		base: "memory:///",
		cwd:  ".",
	}
}

// SetReadonly flips the transport (and every clone made afterwards) into
// read-only mode.
func (t *MemTransport) SetReadonly(ro bool) { t.readonly = ro }

func (t *MemTransport) Base() string { return t.base }

func (t *MemTransport) abspath(relpath string) (string, error) {
	p := path.Join(t.cwd, relpath)
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", &wire.PathNotChildError{Path: relpath, Base: t.base}
	}
	return p, nil
}

func (t *MemTransport) Clone(relpath string) (Transport, error) {
	p, err := t.abspath(relpath)
	if err != nil {
		return nil, err
	}
	base := t.base
	if p != "." {
		base = "memory:///" + p + "/"
	}
	return &MemTransport{shared: t.shared, base: base, cwd: p, readonly: t.readonly}, nil
}

func (t *MemTransport) GetBytes(relpath string) ([]byte, error) {
	p, err := t.abspath(relpath)
	if err != nil {
		return nil, err
	}
	t.shared.mu.Lock()
	defer t.shared.mu.Unlock()
	data, ok := t.shared.files[p]
	if !ok {
		return nil, &wire.NoSuchFileError{Path: relpath}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (t *MemTransport) PutBytes(relpath string, data []byte) error {
	if t.readonly {
		return &wire.ReadOnlyError{}
	}
	p, err := t.abspath(relpath)
	if err != nil {
		return err
	}
	t.shared.mu.Lock()
	defer t.shared.mu.Unlock()
	if !t.shared.dirs[path.Dir(p)] {
		return &wire.NoSuchFileError{Path: relpath}
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	t.shared.files[p] = stored
	return nil
}

func (t *MemTransport) Has(relpath string) (bool, error) {
	p, err := t.abspath(relpath)
	if err != nil {
		return false, err
	}
	t.shared.mu.Lock()
	defer t.shared.mu.Unlock()
	if _, ok := t.shared.files[p]; ok {
		return true, nil
	}
	return t.shared.dirs[p], nil
}

func (t *MemTransport) Mkdir(relpath string) error {
	if t.readonly {
		return &wire.ReadOnlyError{}
	}
	p, err := t.abspath(relpath)
	if err != nil {
		return err
	}
	t.shared.mu.Lock()
	defer t.shared.mu.Unlock()
	if t.shared.dirs[p] {
		return &wire.FileExistsError{Path: relpath}
	}
	if _, ok := t.shared.files[p]; ok {
		return &wire.FileExistsError{Path: relpath}
	}
	if !t.shared.dirs[path.Dir(p)] {
		return &wire.NoSuchFileError{Path: relpath}
	}
	t.shared.dirs[p] = true
	return nil
}

func (t *MemTransport) Delete(relpath string) error {
	if t.readonly {
		return &wire.ReadOnlyError{}
	}
	p, err := t.abspath(relpath)
	if err != nil {
		return err
	}
	t.shared.mu.Lock()
	defer t.shared.mu.Unlock()
	if _, ok := t.shared.files[p]; !ok {
		return &wire.NoSuchFileError{Path: relpath}
	}
	delete(t.shared.files, p)
	return nil
}

func (t *MemTransport) List(relpath string) ([]string, error) {
	p, err := t.abspath(relpath)
	if err != nil {
		return nil, err
	}
	t.shared.mu.Lock()
	defer t.shared.mu.Unlock()
	if !t.shared.dirs[p] {
		return nil, &wire.NoSuchFileError{Path: relpath}
	}
	var names []string
	seen := make(map[string]bool)
	collect := func(entry string) {
		if path.Dir(entry) != p {
			return
		}
		name := path.Base(entry)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for f := range t.shared.files {
		collect(f)
	}
	for d := range t.shared.dirs {
		if d != "." {
			collect(d)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (t *MemTransport) Rename(rel, to string) error {
	if t.readonly {
		return &wire.ReadOnlyError{}
	}
	from, err := t.abspath(rel)
	if err != nil {
		return err
	}
	dest, err := t.abspath(to)
	if err != nil {
		return err
	}
	t.shared.mu.Lock()
	defer t.shared.mu.Unlock()
	data, ok := t.shared.files[from]
	if !ok {
		return &wire.NoSuchFileError{Path: rel}
	}
	delete(t.shared.files, from)
	t.shared.files[dest] = data
	return nil
}

func (t *MemTransport) IsReadonly() bool { return t.readonly }

type stagedRecord struct {
	rec  RevisionRecord
	kind string
}

type writeGroup struct {
	staged map[RevisionID]stagedRecord
	// token is assigned on first suspend and reused by later suspends, so
	// a resume-then-resuspend cycle (commit failure, check_write_group)
	// leaves the client's tokens valid.
	token Token
}

func newWriteGroup() *writeGroup {
	return &writeGroup{staged: make(map[RevisionID]stagedRecord)}
}

// MemRepository stores revisions in memory. It implements the full
// Repository contract including suspendable write groups, so the protocol
// handlers behave identically against it and the SQLite backend.
type MemRepository struct {
	mu        sync.Mutex
	lock      *LockState
	gen       TokenGenerator
	revisions map[RevisionID]RevisionRecord
	kinds     map[RevisionID]string
	active    *writeGroup
	suspended map[Token]*writeGroup
}

func NewMemRepository(readonly bool, gen TokenGenerator) *MemRepository {
	return &MemRepository{
		lock:      NewLockState("repository lock", readonly, gen),
		gen:       orUUID(gen),
		revisions: make(map[RevisionID]RevisionRecord),
		kinds:     make(map[RevisionID]string),
		suspended: make(map[Token]*writeGroup),
	}
}

func orUUID(gen TokenGenerator) TokenGenerator {
	if gen == nil {
		return UUIDv7Generator{}
	}
	return gen
}

// AddRevision seeds a revision directly, bypassing write groups. Used by
// test fixtures and the harness setup step.
func (r *MemRepository) AddRevision(rec RevisionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revisions[rec.ID] = rec
	r.kinds[rec.ID] = "revisions"
}

func (r *MemRepository) LockWrite(token Token) (Token, error) { return r.lock.LockWrite(token) }
func (r *MemRepository) LockRead() error                      { return nil }
func (r *MemRepository) Unlock() error                        { return r.lock.Unlock() }
func (r *MemRepository) LeaveLockInPlace()                    { r.lock.SetLeaveInPlace(true) }
func (r *MemRepository) DontLeaveLockInPlace()                { r.lock.SetLeaveInPlace(false) }
func (r *MemRepository) BreakLock() error                     { return r.lock.BreakLock() }

func (r *MemRepository) PhysicalLockStatus() (bool, error) {
	return r.lock.PhysicalStatus(), nil
}

func (r *MemRepository) Graph() Graph { return (*memGraph)(r) }

type memGraph MemRepository

func (g *memGraph) ParentMap(ids []RevisionID) (map[RevisionID][]RevisionID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[RevisionID][]RevisionID)
	for _, id := range ids {
		if rec, ok := g.revisions[id]; ok {
			out[id] = append([]RevisionID(nil), rec.Parents...)
		}
	}
	return out, nil
}

func (r *MemRepository) AllRevisionIDs() ([]RevisionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]RevisionID, 0, len(r.revisions))
	for id := range r.revisions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *MemRepository) HasRevision(id RevisionID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.revisions[id]
	return ok, nil
}

func (r *MemRepository) RevisionCount() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.revisions), nil
}

func (r *MemRepository) StartWriteGroup() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return fmt.Errorf("write group already active")
	}
	r.active = newWriteGroup()
	return nil
}

func (r *MemRepository) SuspendWriteGroup() ([]Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil, fmt.Errorf("no write group to suspend")
	}
	if r.active.token == "" {
		r.active.token = r.gen.Generate()
	}
	token := r.active.token
	r.suspended[token] = r.active
	r.active = nil
	return []Token{token}, nil
}

func (r *MemRepository) ResumeWriteGroup(tokens []Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	groups := make([]*writeGroup, 0, len(tokens))
	for _, tok := range tokens {
		wg, ok := r.suspended[tok]
		if !ok {
			strs := make([]string, len(tokens))
			for i, t := range tokens {
				strs[i] = string(t)
			}
			return &wire.UnresumableWriteGroupError{
				Tokens: strs,
				Reason: fmt.Sprintf("unknown write group token %s", tok),
			}
		}
		groups = append(groups, wg)
	}
	if r.active == nil {
		r.active = newWriteGroup()
	}
	for i, wg := range groups {
		for id, sr := range wg.staged {
			r.active.staged[id] = sr
		}
		delete(r.suspended, tokens[i])
	}
	// A single resumed group keeps its token; merging several groups (or
	// resuming into live staged records) forces a fresh token on the next
	// suspend.
	if len(groups) == 1 && len(r.active.staged) == len(groups[0].staged) {
		r.active.token = groups[0].token
	} else {
		r.active.token = ""
	}
	return nil
}

// missingBasesLocked lists basis records the active group still needs,
// sorted and de-duplicated. Callers hold r.mu.
func (r *MemRepository) missingBasesLocked() []MissingKey {
	if r.active == nil {
		return nil
	}
	seen := make(map[MissingKey]bool)
	var missing []MissingKey
	for _, sr := range r.active.staged {
		if sr.rec.Basis == "" {
			continue
		}
		if _, ok := r.revisions[sr.rec.Basis]; ok {
			continue
		}
		if _, ok := r.active.staged[sr.rec.Basis]; ok {
			continue
		}
		key := MissingKey{Kind: sr.kind, RevisionID: sr.rec.Basis}
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
	return missing
}

func (r *MemRepository) CommitWriteGroup() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return fmt.Errorf("no write group to commit")
	}
	if missing := r.missingBasesLocked(); len(missing) > 0 {
		ids := make([]string, len(missing))
		for i, k := range missing {
			ids[i] = string(k.RevisionID)
		}
		return fmt.Errorf("cannot commit write group: missing basis records %s",
			strings.Join(ids, " "))
	}
	for id, sr := range r.active.staged {
		r.revisions[id] = sr.rec
		r.kinds[id] = sr.kind
	}
	r.active = nil
	return nil
}

func (r *MemRepository) AbortWriteGroup() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return fmt.Errorf("no write group to abort")
	}
	r.active = nil
	return nil
}

func (r *MemRepository) FormatName() []byte { return []byte(RepositoryFormatName) }

func (r *MemRepository) InsertStream(format []byte, stream *pack.StreamReader, resumeTokens []Token) (*InsertResult, error) {
	return RunInsertStream(r, format, stream, resumeTokens)
}

func (r *MemRepository) HasActiveWriteGroup() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

func (r *MemRepository) StageRecord(rec RevisionRecord, kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return fmt.Errorf("no active write group")
	}
	r.active.staged[rec.ID] = stagedRecord{rec: rec, kind: kind}
	return nil
}

func (r *MemRepository) MissingBases() ([]MissingKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.missingBasesLocked(), nil
}

func (r *MemRepository) GetStream(keys []RevisionID) (pack.StreamSource, error) {
	return r.streamFor(keys, nil)
}

func (r *MemRepository) GetStreamForMissingKeys(keys []MissingKey) (pack.StreamSource, error) {
	ids := make([]RevisionID, len(keys))
	kinds := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.RevisionID
		kinds[i] = k.Kind
	}
	return r.streamFor(ids, kinds)
}

// streamFor serialises the named revisions, grouping consecutive records of
// the same kind into one substream. kinds may be nil, in which case each
// revision's stored kind is used.
func (r *MemRepository) streamFor(ids []RevisionID, kinds []string) (pack.StreamSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var subs []pack.Substream
	for i, id := range ids {
		if id == NullRevision {
			continue
		}
		rec, ok := r.revisions[id]
		if !ok {
			return nil, &wire.NoSuchRevisionError{RevisionID: string(id)}
		}
		kind := r.kinds[id]
		if kinds != nil {
			kind = kinds[i]
		}
		if kind == "" {
			kind = "revisions"
		}
		body := EncodeRevisionRecord(rec)
		if n := len(subs); n > 0 && subs[n-1].Kind == kind {
			subs[n-1].Records = append(subs[n-1].Records, body)
		} else {
			subs = append(subs, pack.Substream{Kind: kind, Records: [][]byte{body}})
		}
	}
	return pack.NewSliceSource(subs...), nil
}

// MemBranch pairs a tip with a MemRepository. Its write lock nests a
// repository lock: taking the branch lock takes a repository reference, and
// Unlock releases both.
type MemBranch struct {
	mu    sync.Mutex
	lock  *LockState
	repo  *MemRepository
	revno int
	tip   RevisionID
}

func NewMemBranch(repo *MemRepository, readonly bool, gen TokenGenerator) *MemBranch {
	return &MemBranch{
		lock: NewLockState("branch lock", readonly, gen),
		repo: repo,
		tip:  NullRevision,
	}
}

func (b *MemBranch) Repository() Repository { return b.repo }

func (b *MemBranch) LockWrite(token Token) (Token, error) {
	// Take a nested repository reference, as branch.lock_write does. When
	// the repository lock is only physical (no in-process holder) this
	// fails with LockContention, matching the paired-lock contract.
	if _, err := b.repo.lock.LockWrite(""); err != nil {
		return "", err
	}
	tok, err := b.lock.LockWrite(token)
	if err != nil {
		b.repo.lock.Unlock()
		return "", err
	}
	return tok, nil
}

func (b *MemBranch) Unlock() error {
	if err := b.lock.Unlock(); err != nil {
		return err
	}
	return b.repo.lock.Unlock()
}

func (b *MemBranch) LeaveLockInPlace()     { b.lock.SetLeaveInPlace(true) }
func (b *MemBranch) DontLeaveLockInPlace() { b.lock.SetLeaveInPlace(false) }

func (b *MemBranch) BreakLock() error {
	if err := b.lock.BreakLock(); err != nil {
		return err
	}
	return b.repo.lock.BreakLock()
}

func (b *MemBranch) PhysicalLockStatus() (bool, error) {
	return b.lock.PhysicalStatus(), nil
}

func (b *MemBranch) LastRevisionInfo() (int, RevisionID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revno, b.tip, nil
}

func (b *MemBranch) SetLastRevisionInfo(revno int, id RevisionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id != NullRevision {
		ok, err := b.repo.HasRevision(id)
		if err != nil {
			return err
		}
		if !ok {
			return &wire.NoSuchRevisionError{RevisionID: string(id)}
		}
	}
	b.revno = revno
	b.tip = id
	return nil
}

func (b *MemBranch) GenerateRevisionHistory(id RevisionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id == NullRevision {
		b.revno = 0
		b.tip = NullRevision
		return nil
	}
	revno, err := DistanceToNull(b.repo.Graph(), id, nil)
	if err != nil {
		return err
	}
	b.revno = revno
	b.tip = id
	return nil
}

func (b *MemBranch) RevisionHistory() ([]RevisionID, error) {
	b.mu.Lock()
	tip := b.tip
	b.mu.Unlock()
	return LeftHandHistory(b.repo.Graph(), tip)
}

// MemBackend maps transport locations to in-memory repositories and
// branches. Locations are keyed on the transport base, so opens never
// search upward.
type MemBackend struct {
	mu       sync.Mutex
	gen      TokenGenerator
	readonly bool
	repos    map[string]*MemRepository
	branches map[string]*MemBranch
}

func NewMemBackend(gen TokenGenerator) *MemBackend {
	return &MemBackend{
		gen:      gen,
		repos:    make(map[string]*MemRepository),
		branches: make(map[string]*MemBranch),
	}
}

// SetReadonly makes every repository and branch created afterwards refuse
// write locks.
func (b *MemBackend) SetReadonly(ro bool) { b.readonly = ro }

// AddRepository creates (or returns) the repository at t's location.
func (b *MemBackend) AddRepository(t Transport) *MemRepository {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.repos[t.Base()]; ok {
		return r
	}
	r := NewMemRepository(b.readonly, b.gen)
	b.repos[t.Base()] = r
	return r
}

// AddBranch creates (or returns) the branch at t's location, creating its
// repository alongside.
func (b *MemBackend) AddBranch(t Transport) *MemBranch {
	b.mu.Lock()
	if br, ok := b.branches[t.Base()]; ok {
		b.mu.Unlock()
		return br
	}
	b.mu.Unlock()
	repo := b.AddRepository(t)
	b.mu.Lock()
	defer b.mu.Unlock()
	br := NewMemBranch(repo, b.readonly, b.gen)
	b.branches[t.Base()] = br
	return br
}

func (b *MemBackend) OpenRepository(t Transport) (Repository, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.repos[t.Base()]
	if !ok {
		return nil, &wire.NotBranchError{Path: t.Base()}
	}
	return r, nil
}

func (b *MemBackend) OpenBranch(t Transport) (Branch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	br, ok := b.branches[t.Base()]
	if !ok {
		return nil, &wire.NotBranchError{Path: t.Base()}
	}
	return br, nil
}
