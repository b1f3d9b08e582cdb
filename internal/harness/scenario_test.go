package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenarioFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario(t *testing.T) {
	path := writeScenarioFile(t, "basic.yaml", `
name: basic
tokens: [tok-1]
setup:
  branches:
    - path: /trunk/
steps:
  - call: hello
    expect:
      args: [ok, "2"]
`)
	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "basic", scenario.Name)
	assert.Equal(t, []string{"tok-1"}, scenario.Tokens)
	require.Len(t, scenario.Steps, 1)
	assert.Equal(t, "hello", scenario.Steps[0].Call)
	require.NotNil(t, scenario.Steps[0].Expect)
	assert.Equal(t, []string{"ok", "2"}, scenario.Steps[0].Expect.Args)
}

func TestLoadScenario_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown field",
			content: "name: x\nbogus: true\nsteps:\n  - call: hello\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "missing name",
			content: "steps:\n  - call: hello\n",
			wantErr: "missing name",
		},
		{
			name:    "no steps",
			content: "name: x\n",
			wantErr: "no steps",
		},
		{
			name:    "missing call",
			content: "name: x\nsteps:\n  - args: [a]\n",
			wantErr: "missing call",
		},
		{
			name:    "body and chunks",
			content: "name: x\nsteps:\n  - call: put\n    body: a\n    chunks: [b]\n",
			wantErr: "mutually exclusive",
		},
		{
			name:    "bad status",
			content: "name: x\nsteps:\n  - call: hello\n    expect:\n      status: maybe\n",
			wantErr: "unknown status",
		},
		{
			name:    "relative fixture path",
			content: "name: x\nsetup:\n  branches:\n    - path: trunk\nsteps:\n  - call: hello\n",
			wantErr: "must start with /",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenarioFile(t, "scenario.yaml", tt.content)
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestFindScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "c.yaml"), []byte("x"), 0o644))

	files, err := FindScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Len(t, files, 3)

	files, err = FindScenarioFiles(dir, "a.*")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.yaml", filepath.Base(files[0]))
}
