package smart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVFSVerbs(t *testing.T) {
	s := newTestServer(t)

	resp := s.call(t, "has", "/greeting.txt")
	require.True(t, resp.Successful())
	assert.Equal(t, []string{"no"}, argStrings(resp))

	resp = s.callWithBody(t, "put", []byte("hello world"), "/greeting.txt")
	require.True(t, resp.Successful())
	assert.Equal(t, []string{"ok"}, argStrings(resp))

	assert.Equal(t, []string{"yes"}, argStrings(s.call(t, "has", "/greeting.txt")))

	resp = s.call(t, "get", "/greeting.txt")
	require.True(t, resp.Successful())
	assert.Equal(t, "hello world", string(resp.Body))

	resp = s.call(t, "mkdir", "/subdir")
	require.True(t, resp.Successful())
	assert.Equal(t, []string{"yes"}, argStrings(s.call(t, "has", "/subdir")))
}

func TestVFSGet_Missing(t *testing.T) {
	s := newTestServer(t)
	resp := s.call(t, "get", "/nope.txt")
	assert.False(t, resp.Successful())
	assert.Equal(t, "NoSuchFile", argStrings(resp)[0])
}

func TestVFSVerbs_Disabled(t *testing.T) {
	SetVFSEnabled(false)
	defer SetVFSEnabled(true)

	s := newTestServer(t)
	for _, verb := range []string{"has", "get", "put", "mkdir"} {
		resp := s.call(t, verb, "/f")
		assert.False(t, resp.Successful(), verb)
		assert.Equal(t, []string{"DisabledMethod", verb}, argStrings(resp), verb)
	}

	// Structured verbs stay available.
	assert.True(t, s.call(t, "hello").Successful())
}
