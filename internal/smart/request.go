package smart

import (
	"bytes"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/breezy-team/breezy-sub027/internal/vcs"
	"github.com/breezy-team/breezy-sub027/internal/wire"
)

// Env is the per-request environment: the backend that opens repositories
// and branches, the backing transport the verb paths resolve against, the
// client-visible root those paths are expressed under, and the jail.
type Env struct {
	Backend        vcs.Backend
	Transport      vcs.Transport
	RootClientPath string
	Jail           *Jail
	Logger         *slog.Logger
}

// Handler is one verb. Do receives the request arguments and either
// produces the response or returns nil to signal that a body follows;
// DoChunk accepts body chunks and DoEnd produces the deferred response.
type Handler interface {
	// CheckEnabled runs before Do and may veto the verb entirely.
	CheckEnabled() error
	Do(args [][]byte) (*wire.Response, error)
	DoChunk(chunk []byte) error
	DoEnd() (*wire.Response, error)
}

// Factory builds a handler bound to a request environment.
type Factory func(env *Env) Handler

// Request is the base embedded by every handler. It buffers body chunks
// and dispatches the accumulated body to the handler's body function on
// DoEnd.
type Request struct {
	env    *Env
	chunks [][]byte
	body   func(body []byte) (*wire.Response, error)
}

func newRequest(env *Env) Request {
	return Request{env: env}
}

func (r *Request) CheckEnabled() error { return nil }

func (r *Request) DoChunk(chunk []byte) error {
	r.chunks = append(r.chunks, chunk)
	return nil
}

func (r *Request) DoEnd() (*wire.Response, error) {
	body := bytes.Join(r.chunks, nil)
	r.chunks = nil
	if r.body == nil {
		return nil, &wire.ProtocolError{Msg: "request does not expect a body"}
	}
	return r.body(body)
}

// TranslateClientPath maps a client path rooted at the virtual "/" onto a
// path relative to the request transport. Paths that do not descend from
// the root client path are rejected, including ones that try to escape
// with dot-dot segments.
func (r *Request) TranslateClientPath(clientPath []byte) (string, error) {
	p := string(clientPath)
	if p == "" {
		return "", &wire.ProtocolError{Msg: "empty path"}
	}
	root := r.env.RootClientPath
	if !strings.HasPrefix(p, "/") {
		return "", &wire.PathNotChildError{Path: p, Base: root}
	}
	cleaned := path.Clean(p)
	if cleaned+"/" == root {
		return ".", nil
	}
	if strings.HasPrefix(cleaned, root) {
		return cleaned[len(root):], nil
	}
	return "", &wire.PathNotChildError{Path: p, Base: root}
}

// TransportFor clones the request transport at the translated client path
// and checks it against the jail.
func (r *Request) TransportFor(clientPath []byte) (vcs.Transport, error) {
	rel, err := r.TranslateClientPath(clientPath)
	if err != nil {
		return nil, err
	}
	t, err := r.env.Transport.Clone(rel)
	if err != nil {
		return nil, err
	}
	if err := r.env.Jail.Check(t); err != nil {
		return nil, err
	}
	return t, nil
}

// RepositoryFor opens the repository at the translated, jailed client path.
func (r *Request) RepositoryFor(clientPath []byte) (vcs.Repository, error) {
	t, err := r.TransportFor(clientPath)
	if err != nil {
		return nil, err
	}
	return r.env.Backend.OpenRepository(t)
}

// BranchFor opens the branch at the translated, jailed client path.
func (r *Request) BranchFor(clientPath []byte) (vcs.Branch, error) {
	t, err := r.TransportFor(clientPath)
	if err != nil {
		return nil, err
	}
	return r.env.Backend.OpenBranch(t)
}

func (r *Request) logger() *slog.Logger {
	if r.env.Logger != nil {
		return r.env.Logger
	}
	return slog.Default()
}

// Dispatcher binds a registry to a serving environment and creates request
// handlers for incoming calls.
type Dispatcher struct {
	registry       *Registry
	backend        vcs.Backend
	transport      vcs.Transport
	rootClientPath string
	jail           *Jail
	logger         *slog.Logger
}

func NewDispatcher(reg *Registry, backend vcs.Backend, transport vcs.Transport, rootClientPath string, logger *slog.Logger) *Dispatcher {
	if rootClientPath == "" {
		rootClientPath = "/"
	}
	if !strings.HasPrefix(rootClientPath, "/") {
		rootClientPath = "/" + rootClientPath
	}
	if !strings.HasSuffix(rootClientPath, "/") {
		rootClientPath += "/"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:       reg,
		backend:        backend,
		transport:      transport,
		rootClientPath: rootClientPath,
		jail:           NewJail(transport),
		logger:         logger,
	}
}

// NewHandler starts the lifecycle for one incoming request.
func (d *Dispatcher) NewHandler() *RequestHandler {
	return &RequestHandler{d: d}
}

// RequestHandler drives one request through its phases. Once a response is
// set (success or failure) the remaining phases are ignored, which lets the
// medium keep draining body chunks after an early error without the handler
// seeing them.
type RequestHandler struct {
	d        *Dispatcher
	handler  Handler
	response *wire.Response
}

// Response is non-nil once the request has produced its outcome.
func (h *RequestHandler) Response() *wire.Response { return h.response }

// Finished reports whether no more request bytes are wanted.
func (h *RequestHandler) Finished() bool { return h.response != nil }

// ArgsReceived dispatches the verb. args[0] is the verb name.
func (h *RequestHandler) ArgsReceived(args [][]byte) {
	if len(args) == 0 {
		h.response = wire.TranslateToFailure(&wire.ProtocolError{Msg: "empty request"})
		return
	}
	verb := string(args[0])
	entry, ok := h.d.registry.Lookup(verb)
	if !ok {
		h.response = wire.TranslateToFailure(&wire.UnknownMethodError{Verb: verb})
		return
	}
	env := &Env{
		Backend:        h.d.backend,
		Transport:      h.d.transport,
		RootClientPath: h.d.rootClientPath,
		Jail:           h.d.jail,
		Logger:         h.d.logger.With("verb", verb),
	}
	h.handler = entry.factory(env)
	h.run(func() (*wire.Response, error) {
		if err := h.handler.CheckEnabled(); err != nil {
			return nil, err
		}
		return h.handler.Do(args[1:])
	})
}

// AcceptBody feeds one body chunk to the handler.
func (h *RequestHandler) AcceptBody(chunk []byte) {
	if h.response != nil {
		return
	}
	h.run(func() (*wire.Response, error) {
		return nil, h.handler.DoChunk(chunk)
	})
}

// EndReceived signals that the request body is complete.
func (h *RequestHandler) EndReceived() {
	if h.response != nil {
		return
	}
	h.run(h.handler.DoEnd)
}

// Abort tells the handler the connection dropped mid-request. Handlers
// running background work implement aborter to release it.
func (h *RequestHandler) Abort() {
	if a, ok := h.handler.(aborter); ok {
		a.Abort()
	}
}

type aborter interface{ Abort() }

// run is the single boundary where handler errors and panics become Failed
// responses. Nothing a handler does is fatal to the serving process.
func (h *RequestHandler) run(f func() (*wire.Response, error)) {
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("panic in request handler: %v", p)
			h.d.logger.Error("request handler panicked", "panic", p)
			h.response = wire.TranslateToFailure(err)
		}
	}()
	resp, err := f()
	if err != nil {
		h.response = wire.TranslateToFailure(err)
		return
	}
	if resp != nil {
		h.response = resp
	}
}
