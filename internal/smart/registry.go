package smart

import (
	"sync/atomic"
)

// ReplaySafety classifies what a retrying client may do with a verb whose
// response was lost.
type ReplaySafety int

const (
	// ReplayRead verbs have no side effects.
	ReplayRead ReplaySafety = iota + 1
	// ReplayIdempotent verbs converge on the same state when repeated.
	ReplayIdempotent
	// ReplaySemi verbs are unsafe only if another writer raced the retry.
	ReplaySemi
	// ReplaySemiVFS marks semi-idempotent raw transport mutations.
	ReplaySemiVFS
	// ReplayStream verbs stream a body and must restart from scratch.
	ReplayStream
	// ReplayMutate verbs must never be blindly retried.
	ReplayMutate
)

type registryEntry struct {
	factory Factory
	safety  ReplaySafety
}

// Registry maps verb names to handler factories.
type Registry struct {
	verbs map[string]registryEntry
}

func (r *Registry) Register(verb string, safety ReplaySafety, f Factory) {
	if _, dup := r.verbs[verb]; dup {
		panic("duplicate verb registration: " + verb)
	}
	r.verbs[verb] = registryEntry{factory: f, safety: safety}
}

func (r *Registry) Lookup(verb string) (registryEntry, bool) {
	e, ok := r.verbs[verb]
	return e, ok
}

// Safety returns the replay-safety class of a registered verb.
func (r *Registry) Safety(verb string) (ReplaySafety, bool) {
	e, ok := r.verbs[verb]
	return e.safety, ok
}

// vfsEnabled gates the raw transport verbs. It is process-wide because it
// expresses a deployment policy, not a per-request one.
var vfsEnabled atomic.Bool

func init() { vfsEnabled.Store(true) }

// SetVFSEnabled toggles the raw transport verbs for the whole process.
func SetVFSEnabled(enabled bool) { vfsEnabled.Store(enabled) }

// VFSEnabled reports whether raw transport verbs are served.
func VFSEnabled() bool { return vfsEnabled.Load() }

// NewRegistry builds the full verb table.
func NewRegistry() *Registry {
	r := &Registry{verbs: make(map[string]registryEntry)}

	r.Register("hello", ReplayRead, newHelloRequest)
	r.Register("Transport.is_readonly", ReplayRead, newIsReadonlyRequest)

	r.Register("Branch.get_physical_lock_status", ReplayRead, newBranchPhysicalLockStatusRequest)
	r.Register("Branch.last_revision_info", ReplayRead, newBranchLastRevisionInfoRequest)
	r.Register("Branch.revision_history", ReplayRead, newBranchRevisionHistoryRequest)
	r.Register("Branch.lock_write", ReplaySemi, newBranchLockWriteRequest)
	r.Register("Branch.unlock", ReplaySemi, newBranchUnlockRequest)
	r.Register("Branch.break_lock", ReplayIdempotent, newBranchBreakLockRequest)
	r.Register("Branch.set_last_revision", ReplayIdempotent, newBranchSetLastRevisionRequest)
	r.Register("Branch.set_last_revision_info", ReplayIdempotent, newBranchSetLastRevisionInfoRequest)
	r.Register("Branch.set_last_revision_ex", ReplayIdempotent, newBranchSetLastRevisionExRequest)

	r.Register("Repository.get_physical_lock_status", ReplayRead, newRepoPhysicalLockStatusRequest)
	r.Register("Repository.all_revision_ids", ReplayRead, newRepoAllRevisionIDsRequest)
	r.Register("Repository.has_revision", ReplayRead, newRepoHasRevisionRequest)
	r.Register("Repository.gather_stats", ReplayRead, newRepoGatherStatsRequest)
	r.Register("Repository.get_parent_map", ReplayRead, newRepoGetParentMapRequest)
	r.Register("Repository.get_stream", ReplayStream, newRepoGetStreamRequest)
	r.Register("Repository.get_stream_for_missing_keys", ReplayStream, newRepoGetStreamForMissingKeysRequest)
	r.Register("Repository.lock_write", ReplaySemi, newRepoLockWriteRequest)
	r.Register("Repository.unlock", ReplaySemi, newRepoUnlockRequest)
	r.Register("Repository.break_lock", ReplayIdempotent, newRepoBreakLockRequest)
	r.Register("Repository.start_write_group", ReplaySemi, newRepoStartWriteGroupRequest)
	r.Register("Repository.commit_write_group", ReplaySemi, newRepoCommitWriteGroupRequest)
	r.Register("Repository.abort_write_group", ReplaySemi, newRepoAbortWriteGroupRequest)
	r.Register("Repository.check_write_group", ReplayRead, newRepoCheckWriteGroupRequest)
	r.Register("Repository.insert_stream", ReplayStream, newRepoInsertStreamRequest)
	r.Register("Repository.insert_stream_locked", ReplayStream, newRepoInsertStreamLockedRequest)

	r.Register("has", ReplayRead, newVFSHasRequest)
	r.Register("get", ReplayRead, newVFSGetRequest)
	r.Register("put", ReplaySemiVFS, newVFSPutRequest)
	r.Register("mkdir", ReplaySemiVFS, newVFSMkdirRequest)

	return r
}
