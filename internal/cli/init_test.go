package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezy-team/breezy-sub027/internal/vcs/sqlitestore"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "trunk")

	out, err := runCommand(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Created branch at "+dir)

	_, err = os.Stat(filepath.Join(dir, sqlitestore.DatabaseName))
	assert.NoError(t, err)
}

func TestInitCommand_BadPath(t *testing.T) {
	// A file where the directory should go.
	dir := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0o644))

	_, err := runCommand(t, "init", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInitCommand_RequiresDirArg(t *testing.T) {
	_, err := runCommand(t, "init")
	assert.Error(t, err)
}
