package smart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezy-team/breezy-sub027/internal/vcs"
	"github.com/breezy-team/breezy-sub027/internal/wire"
)

func TestTranslateClientPath(t *testing.T) {
	req := newRequest(&Env{RootClientPath: "/base/"})

	tests := []struct {
		name       string
		clientPath string
		want       string
		wantErr    bool
	}{
		{name: "child", clientPath: "/base/trunk/", want: "trunk"},
		{name: "nested child", clientPath: "/base/a/b", want: "a/b"},
		{name: "root itself", clientPath: "/base/", want: "."},
		{name: "root without slash", clientPath: "/base", want: "."},
		{name: "sibling", clientPath: "/other/trunk", wantErr: true},
		{name: "dot dot escape", clientPath: "/base/../etc/passwd", wantErr: true},
		{name: "sneaky dot dot", clientPath: "/base/trunk/../../etc", wantErr: true},
		{name: "relative", clientPath: "trunk", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := req.TranslateClientPath([]byte(tt.clientPath))
			if tt.wantErr {
				var notChild *wire.PathNotChildError
				require.ErrorAs(t, err, &notChild)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTranslateClientPath_Empty(t *testing.T) {
	req := newRequest(&Env{RootClientPath: "/"})
	_, err := req.TranslateClientPath(nil)
	var protocol *wire.ProtocolError
	require.ErrorAs(t, err, &protocol)
}

func TestJailCheck(t *testing.T) {
	root := vcs.NewMemTransport()
	jail := NewJail(root)

	inside, err := root.Clone("trunk")
	require.NoError(t, err)
	assert.NoError(t, jail.Check(inside))
	assert.NoError(t, jail.Check(root))

	var jailBreak *wire.JailBreakError
	outside := vcs.NewMemTransport()
	require.ErrorAs(t, jail.Check(outside), &jailBreak)
}

func TestRequestHandler_PanicBecomesFailure(t *testing.T) {
	s := newTestServer(t)

	// Missing arguments make the handler panic; the dispatcher turns
	// that into a failure instead of killing the connection.
	resp := s.call(t, "Branch.last_revision_info")
	assert.False(t, resp.Successful())
	assert.Equal(t, "error", argStrings(resp)[0])
}

func TestRequestHandler_IgnoresBodyAfterResponse(t *testing.T) {
	s := newTestServer(t)
	s.addBranch(t, "/trunk/")

	h := s.dispatcher.NewHandler()
	h.ArgsReceived(byteArgs("hello", nil))
	require.True(t, h.Finished())
	want := h.Response()

	// Late chunks from a pipelining client change nothing.
	h.AcceptBody([]byte("stray"))
	h.EndReceived()
	assert.Equal(t, want, h.Response())
}

func TestRequest_UnexpectedBody(t *testing.T) {
	req := newRequest(&Env{RootClientPath: "/"})
	require.NoError(t, req.DoChunk([]byte("data")))
	_, err := req.DoEnd()
	var protocol *wire.ProtocolError
	require.ErrorAs(t, err, &protocol)
}

func TestRegistrySafety(t *testing.T) {
	reg := NewRegistry()

	safety, ok := reg.Safety("Repository.get_stream")
	require.True(t, ok)
	assert.Equal(t, ReplayStream, safety)

	safety, ok = reg.Safety("Branch.lock_write")
	require.True(t, ok)
	assert.Equal(t, ReplaySemi, safety)

	_, ok = reg.Safety("no-such-verb")
	assert.False(t, ok)
}

func TestRegistry_DuplicateRegistrationPanics(t *testing.T) {
	reg := NewRegistry()
	assert.Panics(t, func() {
		reg.Register("hello", ReplayRead, newHelloRequest)
	})
}
