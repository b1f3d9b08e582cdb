package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines a protocol conformance scenario.
// Scenarios seed a backend with branches and revisions, then execute a
// sequence of verb calls and assert on the responses.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Tokens is the fixed lock-token sequence handed out during the run,
	// in consumption order. Steps can then expect exact token values.
	Tokens []string `yaml:"tokens,omitempty"`

	// Readonly serves the backend readonly, so write locks fail.
	Readonly bool `yaml:"readonly,omitempty"`

	// Setup seeds the backend before the first step.
	Setup Setup `yaml:"setup,omitempty"`

	// Steps are the verb calls, executed in order.
	Steps []Step `yaml:"steps"`
}

// Setup describes the backend fixtures for a scenario.
type Setup struct {
	// Branches creates a branch (and its repository) per entry.
	Branches []BranchFixture `yaml:"branches,omitempty"`

	// Repositories creates a shared repository without a branch.
	Repositories []RepositoryFixture `yaml:"repositories,omitempty"`
}

// BranchFixture seeds one branch.
type BranchFixture struct {
	// Path is the client path of the branch (e.g. "/trunk/").
	Path string `yaml:"path"`

	// Revisions are added to the branch's repository in order.
	Revisions []RevisionFixture `yaml:"revisions,omitempty"`

	// Tip sets the branch tip; the revno is derived by walking the
	// left-hand ancestry. Empty leaves the branch at the null revision.
	Tip string `yaml:"tip,omitempty"`
}

// RepositoryFixture seeds one repository.
type RepositoryFixture struct {
	Path      string            `yaml:"path"`
	Revisions []RevisionFixture `yaml:"revisions,omitempty"`
}

// RevisionFixture is one revision in a fixture repository.
type RevisionFixture struct {
	ID      string   `yaml:"id"`
	Parents []string `yaml:"parents,omitempty"`
	Text    string   `yaml:"text,omitempty"`
}

// Step is one verb call with an optional body and expected response.
type Step struct {
	// Call is the verb name (e.g. "Branch.lock_write").
	Call string `yaml:"call"`

	// Args are the request arguments after the verb.
	Args []string `yaml:"args,omitempty"`

	// Body is sent as a single body chunk when non-empty.
	Body string `yaml:"body,omitempty"`

	// Chunks are sent as separate body chunks. Mutually exclusive with
	// Body.
	Chunks []string `yaml:"chunks,omitempty"`

	// Expect validates the response. If nil, the step only has to
	// produce a successful response.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected response for a step.
type Expect struct {
	// Status is "success" or "failed". Empty means "success".
	Status string `yaml:"status,omitempty"`

	// Args is the exact expected response tuple. Nil skips the check.
	Args []string `yaml:"args,omitempty"`

	// Body is the exact expected body (streams are drained first).
	// Nil skips the check; use an empty string to require an empty body.
	Body *string `yaml:"body,omitempty"`

	// BodyContains lists substrings the body must contain.
	BodyContains []string `yaml:"body_contains,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// FindScenarioFiles finds all YAML scenario files under dir, optionally
// filtered by a glob pattern on the base filename.
func FindScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			match, matchErr := filepath.Match(filter, filepath.Base(path))
			if matchErr != nil {
				return matchErr
			}
			if !match {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("missing name")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("no steps")
	}
	for i, step := range s.Steps {
		if step.Call == "" {
			return fmt.Errorf("step %d: missing call", i)
		}
		if step.Body != "" && len(step.Chunks) > 0 {
			return fmt.Errorf("step %d: body and chunks are mutually exclusive", i)
		}
		if step.Expect != nil {
			switch step.Expect.Status {
			case "", statusSuccess, statusFailed:
			default:
				return fmt.Errorf("step %d: unknown status %q", i, step.Expect.Status)
			}
		}
	}
	for i, b := range s.Setup.Branches {
		if !strings.HasPrefix(b.Path, "/") {
			return fmt.Errorf("branch fixture %d: path must start with /", i)
		}
	}
	for i, r := range s.Setup.Repositories {
		if !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("repository fixture %d: path must start with /", i)
		}
	}
	return nil
}

// Statuses accepted in Expect.Status.
const (
	statusSuccess = "success"
	statusFailed  = "failed"
)
