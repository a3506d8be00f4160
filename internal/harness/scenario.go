package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/stitchfeed/internal/gesture"
	"github.com/roach88/stitchfeed/internal/model"
)

// Scenario defines a scripted feed session.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is CUE source unified over the defaults.
	Config string `yaml:"config,omitempty"`

	// PageSize is the number of threads per fetched page. Zero serves the
	// whole feed in one page.
	PageSize int `yaml:"page_size,omitempty"`

	// SkipSeen drops threads whose parent is already in the seen ledger.
	SkipSeen bool `yaml:"skip_seen,omitempty"`

	// Unreachable lists video ids whose players fail to open.
	Unreachable []string `yaml:"unreachable,omitempty"`

	// Threads is the feed. Videos without a media_url get a sim:// one.
	Threads []model.ThreadRecord `yaml:"threads"`

	// Setup seeds persisted state before the session opens.
	Setup Setup `yaml:"setup,omitempty"`

	// Flow is the ordered list of steps.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Setup seeds the history store.
type Setup struct {
	// Seen video ids are marked before the session opens.
	Seen []string `yaml:"seen,omitempty"`

	// Checkpoint is saved before the session opens.
	Checkpoint *CheckpointSetup `yaml:"checkpoint,omitempty"`
}

// CheckpointSetup describes a saved position.
type CheckpointSetup struct {
	Thread int `yaml:"thread"`
	Stitch int `yaml:"stitch"`

	// Age is how long before the session opens the checkpoint was saved.
	Age string `yaml:"age,omitempty"`

	// Snapshot overrides the saved thread ids. Defaults to the feed's ids.
	Snapshot []string `yaml:"snapshot,omitempty"`
}

// FlowStep is one user or lifecycle step.
type FlowStep struct {
	// Action is one of the Action constants.
	Action string `yaml:"action"`

	// Direction is used by move.
	Direction string `yaml:"direction,omitempty"`

	// Translation and Velocity are used by drag.
	Translation gesture.Vector `yaml:"translation,omitempty"`
	Velocity    gesture.Vector `yaml:"velocity,omitempty"`

	// Thread and Stitch are used by jump.
	Thread int `yaml:"thread,omitempty"`
	Stitch int `yaml:"stitch,omitempty"`

	// Duration is used by wait.
	Duration string `yaml:"duration,omitempty"`

	// Reason and Except are used by kill.
	Reason string   `yaml:"reason,omitempty"`
	Except []string `yaml:"except,omitempty"`

	// Expect is checked after the step settles.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause describes the state after a step. Unset fields are not checked.
type ExpectClause struct {
	Thread      *int   `yaml:"thread,omitempty"`
	Stitch      *int   `yaml:"stitch,omitempty"`
	Video       string `yaml:"video,omitempty"`
	LivePlayers *int   `yaml:"live_players,omitempty"`
	Playing     *bool  `yaml:"playing,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert constants.
	Type string `yaml:"type"`

	// Event is the trace kind (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Video narrows Event to one video id.
	Video string `yaml:"video,omitempty"`

	// Events is the expected order of first occurrences (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Expect holds final state fields (final_state). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Flow actions.
const (
	ActionMove       = "move"
	ActionDrag       = "drag"
	ActionJump       = "jump"
	ActionWait       = "wait"
	ActionBackground = "background"
	ActionForeground = "foreground"
	ActionKill       = "kill"
	ActionFinish     = "finish"
)

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML. Unknown fields are rejected so typos
// surface as errors instead of silently skipped checks.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, err
	}
	return &scenario, nil
}

// validateScenario checks required fields and per-action arguments.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("scenario missing required field: name")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("scenario %q has empty flow", s.Name)
	}

	seen := make(map[string]bool)
	for i, t := range s.Threads {
		if t.ID == "" || t.Parent.ID == "" {
			return fmt.Errorf("thread %d: id and parent.id are required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("thread %d: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = true
	}

	if cp := s.Setup.Checkpoint; cp != nil && cp.Age != "" {
		if _, err := time.ParseDuration(cp.Age); err != nil {
			return fmt.Errorf("setup checkpoint: invalid age %q", cp.Age)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
	}
	return nil
}

func validateStep(step FlowStep) error {
	switch step.Action {
	case ActionMove:
		if gesture.ParseDirection(step.Direction) == gesture.None {
			return fmt.Errorf("move requires direction up, down, left or right, got %q", step.Direction)
		}
	case ActionWait:
		d, err := time.ParseDuration(step.Duration)
		if err != nil || d < 0 {
			return fmt.Errorf("wait requires a non-negative duration, got %q", step.Duration)
		}
	case ActionKill:
		if step.Reason == "" {
			return fmt.Errorf("kill requires reason")
		}
	case ActionDrag, ActionJump, ActionBackground, ActionForeground, ActionFinish:
	case "":
		return fmt.Errorf("missing required field: action")
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertTraceContains, AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("%s requires event", a.Type)
		}
	case AssertTraceOrder:
		if len(a.Events) < 2 {
			return fmt.Errorf("trace_order requires at least two events")
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("final_state requires expect")
		}
	case "":
		return fmt.Errorf("missing required field: type")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
