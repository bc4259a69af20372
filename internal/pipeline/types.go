package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/pflag"

	"github.com/Iron-Ham/xflow/internal/errors"
)

// Phase represents the current phase of a pipeline run.
type Phase string

const (
	PhaseCreated  Phase = "created"
	PhaseSetup    Phase = "setup"
	PhaseRunning  Phase = "running"
	PhaseSuccess  Phase = "success"
	PhaseFailure  Phase = "failure"
	PhaseTeardown Phase = "teardown"
	PhaseDone     Phase = "done"
)

// String returns the string representation of the phase.
func (p Phase) String() string { return string(p) }

// IsTerminal returns true if the run has fully finished.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone
}

// Result is the terminal outcome of a run.
type Result string

const (
	ResultNone       Result = ""
	ResultSuccessful Result = "SUCCESSFUL"
	ResultFailed     Result = "FAILED"
)

// String returns the string representation of the result.
func (r Result) String() string { return string(r) }

// Selector picks nodes from an environment. Names and labels may be glob
// patterns; a node matches when its name matches any of Names or any of its
// labels matches any of Labels.
type Selector struct {
	Names  []string
	Labels []string
}

// IsZero reports whether the selector names nothing.
func (s Selector) IsZero() bool {
	return len(s.Names) == 0 && len(s.Labels) == 0
}

// String renders the selector for messages.
func (s Selector) String() string {
	var parts []string
	if len(s.Names) > 0 {
		parts = append(parts, "names="+strings.Join(s.Names, ","))
	}
	if len(s.Labels) > 0 {
		parts = append(parts, "labels="+strings.Join(s.Labels, ","))
	}
	if len(parts) == 0 {
		return "<none>"
	}
	return strings.Join(parts, " ")
}

// StageFunc is the body of a stage. It runs once per selected node, each call
// on its own goroutine with its own Context.
type StageFunc func(c *Context) error

// Stage is one ordered unit of pipeline work.
type Stage struct {
	Name        string
	Description string
	// Nodes overrides the pipeline's node selection for this stage.
	Nodes Selector
	Run   StageFunc
}

// HookFunc runs once per pipeline, outside of any node context.
type HookFunc func(ctx context.Context, p *Pipeline) error

// Options is the typed options value of a pipeline definition. The CLI binds
// its fields to flags and validates it before the pipeline is constructed.
type Options interface {
	BindFlags(fs *pflag.FlagSet)
	Validate() error
}

// Definition describes a pipeline: its default node selection, the options it
// accepts and its stages in execution order.
type Definition struct {
	Name        string
	Description string
	Nodes       Selector
	NewOptions  func() Options
	Stages      []Stage
	// Setup runs after the working directories exist and before the first
	// stage. A failing Setup fails the run.
	Setup HookFunc
	// Teardown always runs, even when Setup failed. Its error is logged and
	// never changes the result.
	Teardown HookFunc
}

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// Validate checks that the definition can be run.
func (d *Definition) Validate() error {
	if !namePattern.MatchString(d.Name) {
		return errors.NewValidationError("pipeline name must start with a letter and contain only letters, digits, '-' and '_'").
			WithField("name").WithValue(d.Name)
	}
	if len(d.Stages) == 0 {
		return errors.NewValidationError(fmt.Sprintf("pipeline %s has no stages", d.Name)).WithField("stages")
	}
	seen := make(map[string]bool, len(d.Stages))
	for i, st := range d.Stages {
		if st.Name == "" {
			return errors.NewValidationError(fmt.Sprintf("stage %d has no name", i+1)).WithField("stages.name")
		}
		if seen[st.Name] {
			return errors.NewValidationError("duplicate stage name").WithField("stages.name").WithValue(st.Name)
		}
		seen[st.Name] = true
		if st.Run == nil {
			return errors.NewValidationError(fmt.Sprintf("stage %s has no Run function", st.Name)).WithField("stages.run")
		}
	}
	return nil
}

// Options returns a fresh options value, or nil when the definition takes
// none.
func (d *Definition) Options() Options {
	if d.NewOptions == nil {
		return nil
	}
	return d.NewOptions()
}
