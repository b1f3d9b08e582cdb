package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_TestdataScenarios(t *testing.T) {
	files, err := FindScenarioFiles("testdata", "")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		file := file
		t.Run(file, func(t *testing.T) {
			scenario, err := LoadScenario(file)
			require.NoError(t, err)
			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Passed(), "errors: %v", result.Errors)
		})
	}
}

func TestRun_ReportsMismatches(t *testing.T) {
	scenario := &Scenario{
		Name: "mismatch",
		Steps: []Step{
			{
				Call: "hello",
				Expect: &Expect{
					Args: []string{"ok", "99"},
				},
			},
			{
				Call: "Branch.last_revision_info",
				Args: []string{"/missing/"},
			},
		},
	}
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Passed())
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], `want ["ok" "99"]`)
	assert.Contains(t, result.Errors[1], "status failed, want success")
}

func TestRun_BodyExpectations(t *testing.T) {
	empty := ""
	scenario := &Scenario{
		Name: "bodies",
		Setup: Setup{
			Repositories: []RepositoryFixture{{
				Path:      "/repo/",
				Revisions: []RevisionFixture{{ID: "rev-1", Text: "one"}},
			}},
		},
		Steps: []Step{
			{
				Call:   "Repository.all_revision_ids",
				Args:   []string{"/repo/"},
				Expect: &Expect{BodyContains: []string{"rev-1"}},
			},
			{
				Call:   "Repository.has_revision",
				Args:   []string{"/repo/", "rev-1"},
				Expect: &Expect{Args: []string{"yes"}, Body: &empty},
			},
		},
	}
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Passed(), "errors: %v", result.Errors)
}

func TestRun_FreshBackendPerRun(t *testing.T) {
	scenario := &Scenario{
		Name:   "isolation",
		Tokens: []string{"repo-tok", "branch-tok"},
		Setup:  Setup{Branches: []BranchFixture{{Path: "/trunk/"}}},
		Steps: []Step{
			{
				Call:   "Branch.lock_write",
				Args:   []string{"/trunk/"},
				Expect: &Expect{Args: []string{"ok", "branch-tok", "repo-tok"}},
			},
		},
	}
	// The second run sees an unlocked branch and the same token sequence.
	for i := 0; i < 2; i++ {
		result, err := Run(scenario)
		require.NoError(t, err)
		assert.True(t, result.Passed(), "run %d: %v", i, result.Errors)
	}
}
