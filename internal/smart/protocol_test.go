package smart

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHello(t *testing.T) {
	s := newTestServer(t)
	resp := s.call(t, "hello")
	assert.True(t, resp.Successful())
	assert.Equal(t, []string{"ok", "2"}, argStrings(resp))
}

func TestTransportIsReadonly(t *testing.T) {
	s := newTestServer(t)
	resp := s.call(t, "Transport.is_readonly")
	assert.Equal(t, []string{"no"}, argStrings(resp))

	s.transport.SetReadonly(true)
	resp = s.call(t, "Transport.is_readonly")
	assert.Equal(t, []string{"yes"}, argStrings(resp))
}

func TestUnknownVerb(t *testing.T) {
	s := newTestServer(t)
	resp := s.call(t, "Frobnicator.frob", "/x/")
	assert.False(t, resp.Successful())
	assert.Equal(t, []string{"UnknownMethod", "Frobnicator.frob"}, argStrings(resp))
}
