package smart

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/breezy-team/breezy-sub027/internal/vcs"
	"github.com/breezy-team/breezy-sub027/internal/wire"
)

// testServer bundles a dispatcher with the in-memory backend it serves.
type testServer struct {
	dispatcher *Dispatcher
	backend    *vcs.MemBackend
	transport  *vcs.MemTransport
}

func newTestServer(t *testing.T, tokens ...vcs.Token) *testServer {
	t.Helper()
	transport := vcs.NewMemTransport()
	backend := vcs.NewMemBackend(vcs.NewFixedGenerator(tokens...))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &testServer{
		dispatcher: NewDispatcher(NewRegistry(), backend, transport, "/", logger),
		backend:    backend,
		transport:  transport,
	}
}

// addBranch seeds a branch reachable at the given client path.
func (s *testServer) addBranch(t *testing.T, clientPath string) *vcs.MemBranch {
	t.Helper()
	tr, err := s.transport.Clone(clientPath[1:])
	require.NoError(t, err)
	return s.backend.AddBranch(tr)
}

func (s *testServer) addRepository(t *testing.T, clientPath string) *vcs.MemRepository {
	t.Helper()
	tr, err := s.transport.Clone(clientPath[1:])
	require.NoError(t, err)
	return s.backend.AddRepository(tr)
}

// call executes a verb with no request body.
func (s *testServer) call(t *testing.T, verb string, args ...string) *wire.Response {
	t.Helper()
	h := s.dispatcher.NewHandler()
	h.ArgsReceived(byteArgs(verb, args))
	resp := h.Response()
	require.NotNil(t, resp, "verb %s expected a body", verb)
	return resp
}

// callWithBody executes a verb whose request carries a body.
func (s *testServer) callWithBody(t *testing.T, verb string, body []byte, args ...string) *wire.Response {
	t.Helper()
	h := s.dispatcher.NewHandler()
	h.ArgsReceived(byteArgs(verb, args))
	if !h.Finished() {
		h.AcceptBody(body)
		h.EndReceived()
	}
	resp := h.Response()
	require.NotNil(t, resp)
	return resp
}

func byteArgs(verb string, args []string) [][]byte {
	out := [][]byte{[]byte(verb)}
	for _, a := range args {
		out = append(out, []byte(a))
	}
	return out
}

func argStrings(resp *wire.Response) []string {
	out := make([]string, len(resp.Args))
	for i, a := range resp.Args {
		out[i] = string(a)
	}
	return out
}

// drainBody returns the response body, draining a stream when present.
func drainBody(t *testing.T, resp *wire.Response) []byte {
	t.Helper()
	if resp.BodyStream != nil {
		body, err := wire.Drain(resp.BodyStream)
		require.NoError(t, err)
		return body
	}
	return resp.Body
}
