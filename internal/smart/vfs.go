package smart

import (
	"github.com/breezy-team/breezy-sub027/internal/wire"
)

// vfsRequest is the base for raw transport verbs. They exist for clients
// whose format the structured verbs cannot serve, and deployments that only
// speak the structured protocol disable them process-wide.
type vfsRequest struct {
	Request
	verb string
}

func (r *vfsRequest) CheckEnabled() error {
	if !VFSEnabled() {
		return &wire.DisabledMethodError{Verb: r.verb}
	}
	return nil
}

type vfsHasRequest struct{ vfsRequest }

func newVFSHasRequest(env *Env) Handler {
	return &vfsHasRequest{vfsRequest{Request: newRequest(env), verb: "has"}}
}

func (h *vfsHasRequest) Do(args [][]byte) (*wire.Response, error) {
	rel, err := h.TranslateClientPath(args[0])
	if err != nil {
		return nil, err
	}
	present, err := h.env.Transport.Has(rel)
	if err != nil {
		return nil, err
	}
	if present {
		return wire.NewSuccess([]byte("yes")), nil
	}
	return wire.NewSuccess([]byte("no")), nil
}

type vfsGetRequest struct{ vfsRequest }

func newVFSGetRequest(env *Env) Handler {
	return &vfsGetRequest{vfsRequest{Request: newRequest(env), verb: "get"}}
}

func (h *vfsGetRequest) Do(args [][]byte) (*wire.Response, error) {
	rel, err := h.TranslateClientPath(args[0])
	if err != nil {
		return nil, err
	}
	data, err := h.env.Transport.GetBytes(rel)
	if err != nil {
		return nil, err
	}
	return wire.NewSuccessWithBody(data, []byte("ok")), nil
}

type vfsPutRequest struct {
	vfsRequest
	relpath string
}

func newVFSPutRequest(env *Env) Handler {
	h := &vfsPutRequest{vfsRequest: vfsRequest{Request: newRequest(env), verb: "put"}}
	h.body = h.doBody
	return h
}

func (h *vfsPutRequest) Do(args [][]byte) (*wire.Response, error) {
	rel, err := h.TranslateClientPath(args[0])
	if err != nil {
		return nil, err
	}
	h.relpath = rel
	return nil, nil // the file content arrives as the body
}

func (h *vfsPutRequest) doBody(body []byte) (*wire.Response, error) {
	if err := h.env.Transport.PutBytes(h.relpath, body); err != nil {
		return nil, err
	}
	return wire.NewSuccess([]byte("ok")), nil
}

type vfsMkdirRequest struct{ vfsRequest }

func newVFSMkdirRequest(env *Env) Handler {
	return &vfsMkdirRequest{vfsRequest{Request: newRequest(env), verb: "mkdir"}}
}

func (h *vfsMkdirRequest) Do(args [][]byte) (*wire.Response, error) {
	rel, err := h.TranslateClientPath(args[0])
	if err != nil {
		return nil, err
	}
	if err := h.env.Transport.Mkdir(rel); err != nil {
		return nil, err
	}
	return wire.NewSuccess([]byte("ok")), nil
}
