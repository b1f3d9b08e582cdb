package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/breezy-team/breezy-sub027/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string // scenario filter (glob pattern)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run protocol conformance scenarios",
		Long: `Run protocol conformance scenarios against an in-memory backend.

Each YAML scenario seeds branches and revisions, drives a sequence of verb
calls through the dispatcher, and asserts on the responses.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, malformed scenarios, etc.)

Examples:
  bzrsmartd test ./scenarios
  bzrsmartd test ./scenarios --filter "lock-*"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runScenarios(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}

	files, err := harness.FindScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	if len(files) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	out := cmd.OutOrStdout()
	passed, failed := 0, 0
	for _, file := range files {
		scenario, err := harness.LoadScenario(file)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to load %s", file), err)
		}
		result, err := harness.Run(scenario)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to run %s", scenario.Name), err)
		}
		if result.Passed() {
			passed++
			fmt.Fprintf(out, "PASS  %s\n", result.Name)
			continue
		}
		failed++
		fmt.Fprintf(out, "FAIL  %s\n", result.Name)
		for _, msg := range result.Errors {
			fmt.Fprintf(out, "      %s\n", msg)
		}
	}

	fmt.Fprintf(out, "\n%d passed, %d failed, %d total\n", passed, failed, passed+failed)
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", failed))
	}
	return nil
}
