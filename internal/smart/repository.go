package smart

import (
	"bytes"
	"sort"
	"strconv"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/zeebo/bencode"

	"github.com/breezy-team/breezy-sub027/internal/pack"
	"github.com/breezy-team/breezy-sub027/internal/vcs"
	"github.com/breezy-team/breezy-sub027/internal/wire"
)

// repoRequest is the base for verbs addressed to a repository path.
type repoRequest struct {
	Request
	repo vcs.Repository
}

func (r *repoRequest) open(clientPath []byte) error {
	repo, err := r.RepositoryFor(clientPath)
	if err != nil {
		return err
	}
	r.repo = repo
	return nil
}

// withLockedRepo validates the client's lock token, runs fn, and releases
// the reference. The physical lock survives when it was taken with a token
// left in place earlier.
func (r *repoRequest) withLockedRepo(token vcs.Token, fn func() (*wire.Response, error)) (*wire.Response, error) {
	if _, err := r.repo.LockWrite(token); err != nil {
		return nil, err
	}
	defer r.repo.Unlock()
	return fn()
}

func yesNo(v bool) *wire.Response {
	if v {
		return wire.NewSuccess([]byte("yes"))
	}
	return wire.NewSuccess([]byte("no"))
}

type repoBreakLockRequest struct{ repoRequest }

func newRepoBreakLockRequest(env *Env) Handler {
	return &repoBreakLockRequest{repoRequest{Request: newRequest(env)}}
}

func (h *repoBreakLockRequest) Do(args [][]byte) (*wire.Response, error) {
	if err := h.open(args[0]); err != nil {
		return nil, err
	}
	if err := h.repo.BreakLock(); err != nil {
		return nil, err
	}
	return wire.NewSuccess([]byte("ok")), nil
}

type repoPhysicalLockStatusRequest struct{ repoRequest }

func newRepoPhysicalLockStatusRequest(env *Env) Handler {
	return &repoPhysicalLockStatusRequest{repoRequest{Request: newRequest(env)}}
}

func (h *repoPhysicalLockStatusRequest) Do(args [][]byte) (*wire.Response, error) {
	if err := h.open(args[0]); err != nil {
		return nil, err
	}
	locked, err := h.repo.PhysicalLockStatus()
	if err != nil {
		return nil, err
	}
	return yesNo(locked), nil
}

type repoAllRevisionIDsRequest struct{ repoRequest }

func newRepoAllRevisionIDsRequest(env *Env) Handler {
	return &repoAllRevisionIDsRequest{repoRequest{Request: newRequest(env)}}
}

func (h *repoAllRevisionIDsRequest) Do(args [][]byte) (*wire.Response, error) {
	if err := h.open(args[0]); err != nil {
		return nil, err
	}
	ids, err := h.repo.AllRevisionIDs()
	if err != nil {
		return nil, err
	}
	lines := make([][]byte, len(ids))
	for i, id := range ids {
		lines[i] = []byte(id)
	}
	return wire.NewSuccessWithBody(bytes.Join(lines, []byte("\n")), []byte("ok")), nil
}

type repoHasRevisionRequest struct{ repoRequest }

func newRepoHasRevisionRequest(env *Env) Handler {
	return &repoHasRevisionRequest{repoRequest{Request: newRequest(env)}}
}

func (h *repoHasRevisionRequest) Do(args [][]byte) (*wire.Response, error) {
	if err := h.open(args[0]); err != nil {
		return nil, err
	}
	present, err := h.repo.HasRevision(vcs.RevisionID(args[1]))
	if err != nil {
		return nil, err
	}
	return yesNo(present), nil
}

type repoGatherStatsRequest struct{ repoRequest }

func newRepoGatherStatsRequest(env *Env) Handler {
	return &repoGatherStatsRequest{repoRequest{Request: newRequest(env)}}
}

func (h *repoGatherStatsRequest) Do(args [][]byte) (*wire.Response, error) {
	if err := h.open(args[0]); err != nil {
		return nil, err
	}
	revid := vcs.RevisionID(args[1])
	var revisions int
	if revid == "" {
		count, err := h.repo.RevisionCount()
		if err != nil {
			return nil, err
		}
		revisions = count
	} else {
		present, err := h.repo.HasRevision(revid)
		if err != nil {
			return nil, err
		}
		if !present {
			return wire.NewFailure([]byte("nosuchrevision"), []byte(revid)), nil
		}
		ancestry, err := ancestryOf(h.repo.Graph(), []vcs.RevisionID{revid})
		if err != nil {
			return nil, err
		}
		revisions = len(ancestry)
	}
	body := []byte("revisions: " + strconv.Itoa(revisions) + "\n")
	return wire.NewSuccessWithBody(body, []byte("ok")), nil
}

type repoLockWriteRequest struct{ repoRequest }

func newRepoLockWriteRequest(env *Env) Handler {
	return &repoLockWriteRequest{repoRequest{Request: newRequest(env)}}
}

func (h *repoLockWriteRequest) Do(args [][]byte) (*wire.Response, error) {
	if err := h.open(args[0]); err != nil {
		return nil, err
	}
	var token vcs.Token
	if len(args) > 1 {
		token = vcs.Token(args[1])
	}
	newToken, err := h.repo.LockWrite(token)
	if err != nil {
		return nil, err
	}
	h.repo.LeaveLockInPlace()
	if err := h.repo.Unlock(); err != nil {
		return nil, err
	}
	return wire.NewSuccess([]byte("ok"), []byte(newToken)), nil
}

type repoUnlockRequest struct{ repoRequest }

func newRepoUnlockRequest(env *Env) Handler {
	return &repoUnlockRequest{repoRequest{Request: newRequest(env)}}
}

func (h *repoUnlockRequest) Do(args [][]byte) (*wire.Response, error) {
	if err := h.open(args[0]); err != nil {
		return nil, err
	}
	if _, err := h.repo.LockWrite(vcs.Token(args[1])); err != nil {
		return nil, err
	}
	h.repo.DontLeaveLockInPlace()
	if err := h.repo.Unlock(); err != nil {
		return nil, err
	}
	return wire.NewSuccess([]byte("ok")), nil
}

type repoGetParentMapRequest struct {
	repoRequest
	revisionIDs    []vcs.RevisionID
	includeMissing bool
}

func newRepoGetParentMapRequest(env *Env) Handler {
	h := &repoGetParentMapRequest{repoRequest: repoRequest{Request: newRequest(env)}}
	h.body = h.doBody
	return h
}

func (h *repoGetParentMapRequest) Do(args [][]byte) (*wire.Response, error) {
	if err := h.open(args[0]); err != nil {
		return nil, err
	}
	for _, arg := range args[1:] {
		if string(arg) == "include-missing:" {
			h.includeMissing = true
			continue
		}
		h.revisionIDs = append(h.revisionIDs, vcs.RevisionID(arg))
	}
	return nil, nil // expect a body
}

func (h *repoGetParentMapRequest) doBody(body []byte) (*wire.Response, error) {
	// The body is the client's current search state: the revisions it has
	// already seen, as a counted recipe. Those are never repeated back.
	search, err := RecreateSearchFromRecipe(h.repo, bytes.Split(body, []byte("\n")), false)
	if err != nil {
		return nil, err
	}
	clientSeen := make(map[vcs.RevisionID]bool, len(search.Keys))
	for _, id := range search.Keys {
		clientSeen[id] = true
	}
	// Always answer for the requested ids themselves.
	for _, id := range h.revisionIDs {
		delete(clientSeen, id)
	}
	result, err := expandRequestedRevs(h.repo.Graph(), h.revisionIDs, clientSeen,
		h.includeMissing, defaultBodyBudget)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	// Lexicographic order puts similar ids together, which compresses
	// better.
	sort.Strings(keys)
	var lines [][]byte
	for _, k := range keys {
		parts := []string{k}
		for _, p := range result[k] {
			parts = append(parts, string(p))
		}
		lines = append(lines, []byte(strings.Join(parts, " ")))
	}
	compressed, err := bz2Compress(bytes.Join(lines, []byte("\n")))
	if err != nil {
		return nil, err
	}
	return wire.NewSuccessWithBody(compressed, []byte("ok")), nil
}

// expandRequestedRevs answers the requested ids and then keeps expanding
// ancestry a generation at a time until roughly maxSize bytes of compressed
// body are accumulated. Whole generations are always finished, keeping the
// server's idea of the walk in step with the client's. Ghosts appear in the
// result with a "missing:" key prefix when includeMissing is set.
func expandRequestedRevs(g vcs.Graph, requested []vcs.RevisionID, clientSeen map[vcs.RevisionID]bool, includeMissing bool, maxSize int) (map[string][]vcs.RevisionID, error) {
	result := make(map[string][]vcs.RevisionID)
	queried := make(map[vcs.RevisionID]bool)
	est := newSizeEstimator(maxSize)
	next := requested
	firstLoopDone := false
	for len(next) > 0 {
		for _, id := range next {
			queried[id] = true
		}
		pm, err := g.ParentMap(next)
		if err != nil {
			return nil, err
		}
		nextSet := make(map[vcs.RevisionID]bool)
		for _, id := range next {
			parents, present := pm[id]
			encoded := string(id)
			if present {
				if len(parents) == 1 && parents[0] == vcs.NullRevision {
					parents = nil
				}
				for _, p := range parents {
					nextSet[p] = true
				}
			} else {
				encoded = "missing:" + string(id)
				parents = nil
			}
			if clientSeen[id] || (!present && !includeMissing) {
				continue
			}
			result[encoded] = parents
			line := []byte(encoded)
			for _, p := range parents {
				line = append(line, ' ')
				line = append(line, p...)
			}
			line = append(line, '\n')
			est.Add(line)
		}
		if firstLoopDone && est.Full() {
			break
		}
		next = next[:0]
		for id := range nextSet {
			if !queried[id] {
				next = append(next, id)
			}
		}
		// Deterministic generation order keeps the walk reproducible.
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		firstLoopDone = true
	}
	return result, nil
}

func bz2Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type repoGetStreamRequest struct {
	repoRequest
	discardExcess bool
}

func newRepoGetStreamRequest(env *Env) Handler {
	h := &repoGetStreamRequest{repoRequest: repoRequest{Request: newRequest(env)}, discardExcess: true}
	h.body = h.doBody
	return h
}

func (h *repoGetStreamRequest) Do(args [][]byte) (*wire.Response, error) {
	if err := h.open(args[0]); err != nil {
		return nil, err
	}
	// args[1] is the requested network format name. Only our own format
	// is served; a client asking for anything else falls back to VFS.
	if string(args[1]) != string(h.repo.FormatName()) {
		return nil, &wire.UnknownMethodError{Verb: "Repository.get_stream"}
	}
	return nil, nil // expect a body
}

func (h *repoGetStreamRequest) doBody(body []byte) (*wire.Response, error) {
	search, err := RecreateSearch(h.repo, body, h.discardExcess)
	if err != nil {
		return nil, err
	}
	source, err := h.repo.GetStream(search.Keys)
	if err != nil {
		return nil, err
	}
	enc := pack.NewStreamEncoder(h.repo.FormatName(), source)
	return wire.NewSuccessWithStream(enc, []byte("ok")), nil
}

type repoGetStreamForMissingKeysRequest struct{ repoRequest }

func newRepoGetStreamForMissingKeysRequest(env *Env) Handler {
	h := &repoGetStreamForMissingKeysRequest{repoRequest{Request: newRequest(env)}}
	h.body = h.doBody
	return h
}

func (h *repoGetStreamForMissingKeysRequest) Do(args [][]byte) (*wire.Response, error) {
	if err := h.open(args[0]); err != nil {
		return nil, err
	}
	return nil, nil // expect a body
}

func (h *repoGetStreamForMissingKeysRequest) doBody(body []byte) (*wire.Response, error) {
	// Body lines are "kind\trevision-id", the keys a previous insert
	// reported as missing-basis.
	var keys []vcs.MissingKey
	for _, line := range bytes.Split(body, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		kind, id, ok := bytes.Cut(line, []byte("\t"))
		if !ok {
			return nil, &wire.ProtocolError{Msg: "malformed missing key: " + string(line)}
		}
		keys = append(keys, vcs.MissingKey{Kind: string(kind), RevisionID: vcs.RevisionID(id)})
	}
	source, err := h.repo.GetStreamForMissingKeys(keys)
	if err != nil {
		return nil, err
	}
	enc := pack.NewStreamEncoder(h.repo.FormatName(), source)
	return wire.NewSuccessWithStream(enc, []byte("ok")), nil
}

type repoStartWriteGroupRequest struct{ repoRequest }

func newRepoStartWriteGroupRequest(env *Env) Handler {
	return &repoStartWriteGroupRequest{repoRequest{Request: newRequest(env)}}
}

func (h *repoStartWriteGroupRequest) Do(args [][]byte) (*wire.Response, error) {
	if err := h.open(args[0]); err != nil {
		return nil, err
	}
	return h.withLockedRepo(vcs.Token(args[1]), func() (*wire.Response, error) {
		if err := h.repo.StartWriteGroup(); err != nil {
			return nil, err
		}
		tokens, err := h.repo.SuspendWriteGroup()
		if err != nil {
			return nil, err
		}
		respArgs := [][]byte{[]byte("ok")}
		for _, t := range tokens {
			respArgs = append(respArgs, []byte(t))
		}
		return wire.NewSuccess(respArgs...), nil
	})
}

func tokenArgs(args [][]byte) []vcs.Token {
	tokens := make([]vcs.Token, 0, len(args))
	for _, a := range args {
		if len(a) > 0 {
			tokens = append(tokens, vcs.Token(a))
		}
	}
	return tokens
}

type repoCommitWriteGroupRequest struct{ repoRequest }

func newRepoCommitWriteGroupRequest(env *Env) Handler {
	return &repoCommitWriteGroupRequest{repoRequest{Request: newRequest(env)}}
}

func (h *repoCommitWriteGroupRequest) Do(args [][]byte) (*wire.Response, error) {
	if err := h.open(args[0]); err != nil {
		return nil, err
	}
	return h.withLockedRepo(vcs.Token(args[1]), func() (*wire.Response, error) {
		if err := h.repo.ResumeWriteGroup(tokenArgs(args[2:])); err != nil {
			return nil, err
		}
		if err := h.repo.CommitWriteGroup(); err != nil {
			// Re-suspend so the client's staged data survives the failed
			// commit and can be completed or aborted later. The tokens
			// stay stable across the cycle.
			_, _ = h.repo.SuspendWriteGroup()
			return nil, err
		}
		return wire.NewSuccess([]byte("ok")), nil
	})
}

type repoAbortWriteGroupRequest struct{ repoRequest }

func newRepoAbortWriteGroupRequest(env *Env) Handler {
	return &repoAbortWriteGroupRequest{repoRequest{Request: newRequest(env)}}
}

func (h *repoAbortWriteGroupRequest) Do(args [][]byte) (*wire.Response, error) {
	if err := h.open(args[0]); err != nil {
		return nil, err
	}
	return h.withLockedRepo(vcs.Token(args[1]), func() (*wire.Response, error) {
		if err := h.repo.ResumeWriteGroup(tokenArgs(args[2:])); err != nil {
			return nil, err
		}
		if err := h.repo.AbortWriteGroup(); err != nil {
			return nil, err
		}
		return wire.NewSuccess([]byte("ok")), nil
	})
}

type repoCheckWriteGroupRequest struct{ repoRequest }

func newRepoCheckWriteGroupRequest(env *Env) Handler {
	return &repoCheckWriteGroupRequest{repoRequest{Request: newRequest(env)}}
}

func (h *repoCheckWriteGroupRequest) Do(args [][]byte) (*wire.Response, error) {
	if err := h.open(args[0]); err != nil {
		return nil, err
	}
	return h.withLockedRepo(vcs.Token(args[1]), func() (*wire.Response, error) {
		if err := h.repo.ResumeWriteGroup(tokenArgs(args[2:])); err != nil {
			return nil, err
		}
		if _, err := h.repo.SuspendWriteGroup(); err != nil {
			return nil, err
		}
		return wire.NewSuccess([]byte("ok")), nil
	})
}

// repoInsertStreamRequest handles Repository.insert_stream and its locked
// variant. The record stream arrives as body chunks and is decoded and
// inserted by a worker goroutine so slow storage never stalls the protocol
// read loop.
type repoInsertStreamRequest struct {
	repoRequest
	inserter *inserter
}

func newRepoInsertStreamRequest(env *Env) Handler {
	return &repoInsertStreamRequest{repoRequest: repoRequest{Request: newRequest(env)}}
}

func newRepoInsertStreamLockedRequest(env *Env) Handler {
	return &repoInsertStreamRequest{repoRequest: repoRequest{Request: newRequest(env)}}
}

func (h *repoInsertStreamRequest) Do(args [][]byte) (*wire.Response, error) {
	if err := h.open(args[0]); err != nil {
		return nil, err
	}
	var resumeTokens []vcs.Token
	for _, t := range strings.Fields(string(args[1])) {
		resumeTokens = append(resumeTokens, vcs.Token(t))
	}
	var lockToken vcs.Token
	if len(args) > 2 {
		lockToken = vcs.Token(args[2])
	}
	if _, err := h.repo.LockWrite(lockToken); err != nil {
		return nil, err
	}
	h.inserter = startInsert(h.repo, resumeTokens)
	return nil, nil // expect body chunks
}

func (h *repoInsertStreamRequest) DoChunk(chunk []byte) error {
	h.inserter.Accept(chunk)
	return nil
}

func (h *repoInsertStreamRequest) DoEnd() (*wire.Response, error) {
	result, err := h.inserter.Finish()
	h.inserter = nil
	h.repo.Unlock()
	if err != nil {
		return nil, err
	}
	if len(result.WriteGroupTokens) == 0 && len(result.MissingKeys) == 0 {
		return wire.NewSuccess([]byte("ok")), nil
	}
	tokens := make([]string, len(result.WriteGroupTokens))
	for i, t := range result.WriteGroupTokens {
		tokens[i] = string(t)
	}
	missing := make([][]string, len(result.MissingKeys))
	for i, k := range result.MissingKeys {
		missing[i] = []string{k.Kind, string(k.RevisionID)}
	}
	encoded, err := bencode.EncodeBytes([]interface{}{tokens, missing})
	if err != nil {
		return nil, err
	}
	return wire.NewSuccess([]byte("missing-basis"), encoded), nil
}

// Abort releases the worker and the repository lock when the connection
// drops before the body completed. The stream is simply abandoned: whatever
// the worker managed to stage was suspended or discarded with it.
func (h *repoInsertStreamRequest) Abort() {
	if h.inserter == nil {
		return
	}
	h.inserter.Abort()
	h.repo.Unlock()
	h.inserter = nil
}
