package smart

import (
	"github.com/breezy-team/breezy-sub027/internal/wire"
)

// ProtocolVersion is the highest protocol version this server answers
// "hello" with.
const ProtocolVersion = "2"

type helloRequest struct{ Request }

func newHelloRequest(env *Env) Handler {
	return &helloRequest{Request: newRequest(env)}
}

func (h *helloRequest) Do(args [][]byte) (*wire.Response, error) {
	return wire.NewSuccess([]byte("ok"), []byte(ProtocolVersion)), nil
}

type isReadonlyRequest struct{ Request }

func newIsReadonlyRequest(env *Env) Handler {
	return &isReadonlyRequest{Request: newRequest(env)}
}

func (h *isReadonlyRequest) Do(args [][]byte) (*wire.Response, error) {
	if h.env.Transport.IsReadonly() {
		return wire.NewSuccess([]byte("yes")), nil
	}
	return wire.NewSuccess([]byte("no")), nil
}
