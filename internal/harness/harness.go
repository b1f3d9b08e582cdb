package harness

import (
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/breezy-team/breezy-sub027/internal/smart"
	"github.com/breezy-team/breezy-sub027/internal/vcs"
	"github.com/breezy-team/breezy-sub027/internal/wire"
)

// Harness executes one scenario against a fresh in-memory backend.
type Harness struct {
	transport  *vcs.MemTransport
	backend    *vcs.MemBackend
	dispatcher *smart.Dispatcher
	logger     *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory backend for isolation, with
// lock tokens from the scenario's fixed token sequence.
//
// Execution flow:
//  1. Seed branches and repositories from the setup section
//  2. Execute each step through the real dispatcher
//  3. Compare responses against the expect clauses
func Run(scenario *Scenario) (*Result, error) {
	tokens := make([]vcs.Token, len(scenario.Tokens))
	for i, t := range scenario.Tokens {
		tokens[i] = vcs.Token(t)
	}
	gen := vcs.NewFixedGenerator(tokens...)

	transport := vcs.NewMemTransport()
	backend := vcs.NewMemBackend(gen)
	if scenario.Readonly {
		transport.SetReadonly(true)
		backend.SetReadonly(true)
	}

	h := &Harness{
		transport: transport,
		backend:   backend,
		// Suppress logs in tests
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	h.dispatcher = smart.NewDispatcher(smart.NewRegistry(), backend, transport, "/", h.logger)

	if err := h.seed(&scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to seed backend: %w", err)
	}

	result := NewResult(scenario.Name)
	for i, step := range scenario.Steps {
		h.executeStep(i, &step, result)
	}
	return result, nil
}

// fixtureTransport resolves a fixture's client path the same way the
// request path translation does, so setup and requests agree on locations.
func (h *Harness) fixtureTransport(clientPath string) (vcs.Transport, error) {
	rel := strings.TrimPrefix(path.Clean(clientPath), "/")
	if rel == "" {
		rel = "."
	}
	return h.transport.Clone(rel)
}

func (h *Harness) seed(setup *Setup) error {
	for _, fix := range setup.Repositories {
		t, err := h.fixtureTransport(fix.Path)
		if err != nil {
			return fmt.Errorf("repository %q: %w", fix.Path, err)
		}
		repo := h.backend.AddRepository(t)
		for _, rev := range fix.Revisions {
			repo.AddRevision(revisionRecord(rev))
		}
	}
	for _, fix := range setup.Branches {
		t, err := h.fixtureTransport(fix.Path)
		if err != nil {
			return fmt.Errorf("branch %q: %w", fix.Path, err)
		}
		branch := h.backend.AddBranch(t)
		repo := branch.Repository().(*vcs.MemRepository)
		for _, rev := range fix.Revisions {
			repo.AddRevision(revisionRecord(rev))
		}
		if fix.Tip != "" {
			if err := branch.GenerateRevisionHistory(vcs.RevisionID(fix.Tip)); err != nil {
				return fmt.Errorf("branch %q: set tip %q: %w", fix.Path, fix.Tip, err)
			}
		}
	}
	return nil
}

func revisionRecord(fix RevisionFixture) vcs.RevisionRecord {
	parents := make([]vcs.RevisionID, len(fix.Parents))
	for i, p := range fix.Parents {
		parents[i] = vcs.RevisionID(p)
	}
	return vcs.RevisionRecord{
		ID:      vcs.RevisionID(fix.ID),
		Parents: parents,
		Text:    []byte(fix.Text),
	}
}

// executeStep drives one verb call through the request lifecycle and
// validates the expect clause.
func (h *Harness) executeStep(i int, step *Step, result *Result) {
	args := make([][]byte, 0, len(step.Args)+1)
	args = append(args, []byte(step.Call))
	for _, a := range step.Args {
		args = append(args, []byte(a))
	}

	rh := h.dispatcher.NewHandler()
	rh.ArgsReceived(args)

	chunks := step.Chunks
	if step.Body != "" {
		chunks = []string{step.Body}
	}
	// A handler that already produced its response ignores the rest of
	// the request, like the medium draining after an early failure.
	for _, chunk := range chunks {
		if rh.Finished() {
			break
		}
		rh.AcceptBody([]byte(chunk))
	}
	if !rh.Finished() {
		rh.EndReceived()
	}

	resp := rh.Response()
	if resp == nil {
		result.AddError(fmt.Sprintf("step %d (%s): no response produced", i, step.Call))
		return
	}
	h.checkExpect(i, step, resp, result)
}

func (h *Harness) checkExpect(i int, step *Step, resp *wire.Response, result *Result) {
	expect := step.Expect
	if expect == nil {
		expect = &Expect{}
	}
	wantStatus := expect.Status
	if wantStatus == "" {
		wantStatus = statusSuccess
	}
	gotStatus := statusFailed
	if resp.Successful() {
		gotStatus = statusSuccess
	}
	if gotStatus != wantStatus {
		result.AddError(fmt.Sprintf("step %d (%s): status %s, want %s (args %q)",
			i, step.Call, gotStatus, wantStatus, resp.Args))
	}

	if expect.Args != nil {
		got := make([]string, len(resp.Args))
		for j, a := range resp.Args {
			got[j] = string(a)
		}
		if !equalStrings(got, expect.Args) {
			result.AddError(fmt.Sprintf("step %d (%s): args %q, want %q",
				i, step.Call, got, expect.Args))
		}
	}

	if expect.Body == nil && len(expect.BodyContains) == 0 {
		return
	}
	body := resp.Body
	if resp.BodyStream != nil {
		drained, err := wire.Drain(resp.BodyStream)
		if err != nil {
			result.AddError(fmt.Sprintf("step %d (%s): body stream failed: %v", i, step.Call, err))
			return
		}
		body = drained
	}
	if expect.Body != nil && string(body) != *expect.Body {
		result.AddError(fmt.Sprintf("step %d (%s): body %q, want %q",
			i, step.Call, body, *expect.Body))
	}
	for _, want := range expect.BodyContains {
		if !strings.Contains(string(body), want) {
			result.AddError(fmt.Sprintf("step %d (%s): body %q does not contain %q",
				i, step.Call, body, want))
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
