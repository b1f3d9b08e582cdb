package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/breezy-team/breezy-sub027/internal/vcs"
	"github.com/breezy-team/breezy-sub027/internal/vcs/sqlitestore"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions

	// TokenGenerator allows overriding the lock token generator (for testing).
	TokenGenerator vcs.TokenGenerator
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init <dir>",
		Short: "Create an empty repository with a branch",
		Long: `Create an empty repository with a branch in the given directory.

The directory is created if it does not exist. Serving the parent directory
then makes the new branch reachable by its path.

Example:
  bzrsmartd init /srv/repos/trunk`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, args[0], cmd)
		},
	}

	return cmd
}

func runInit(opts *InitOptions, dir string, cmd *cobra.Command) error {
	gen := opts.TokenGenerator
	if gen == nil {
		gen = vcs.UUIDv7Generator{}
	}
	store, err := sqlitestore.Init(dir, gen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create repository", err)
	}
	if err := store.Close(); err != nil {
		return WrapExitError(ExitCommandError, "failed to close repository", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created branch at %s\n", dir)
	return nil
}
