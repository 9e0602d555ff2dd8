// Package playbook implements the stage state machine that wraps a voice
// turn's LLM step with a bounded tool-call loop and declarative
// transitions between named stages.
package playbook

import (
	"context"
	"fmt"

	"github.com/voxbridge-ai/voxbridge/pkg/orchestrator"
)

// HistoryPolicy governs what happens to session history when a stage
// transition fires (spec §9 Open Question 1: "the source references
// stage-level history strategies (reset, summary, lastN) in docs but does
// not implement them"). Only HistoryFull is implemented; the others are
// typed so a misconfigured playbook fails loudly via
// orchestrator.ErrHistoryPolicyUnsupported instead of being silently
// ignored.
type HistoryPolicy string

const (
	// HistoryFull carries the full capped history across stage
	// transitions untouched — the spec's stated default.
	HistoryFull HistoryPolicy = "full"
	// HistoryReset would clear history on entering the stage.
	HistoryReset HistoryPolicy = "reset"
	// HistoryLastN would truncate to the stage's own shorter window.
	HistoryLastN HistoryPolicy = "lastN"
)

// ConditionType is the closed set of transition trigger kinds.
type ConditionType string

const (
	ConditionKeyword     ConditionType = "keyword"
	ConditionLLMDecision ConditionType = "llm_decision"
	ConditionToolResult  ConditionType = "tool_result"
	ConditionMaxTurns    ConditionType = "max_turns"
)

// WildcardStage matches a Transition's From against any current stage.
const WildcardStage = "*"

// TransitionPseudoTool is the reserved tool name injected into any stage
// that declares an llm_decision transition, letting the LLM request a
// stage change explicitly instead of relying on keyword matching.
const TransitionPseudoTool = "playbook_transition"

// Transition is one candidate edge between stages, scored by Priority (higher
// wins) with ties broken by declaration order.
type Transition struct {
	From      string
	To        string
	Condition ConditionType
	Keywords  []string // for ConditionKeyword
	Priority  int
}

// Tool is a callable registered in a ToolRegistry: its wire-level spec plus
// the Go function that executes it.
type Tool struct {
	Spec    orchestrator.ToolSpec
	Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// ToolRegistry maps tool name to Tool, shared across all stages of a
// Playbook.
type ToolRegistry struct {
	tools map[string]Tool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

func (r *ToolRegistry) Register(t Tool) {
	r.tools[t.Spec.Name] = t
}

func (r *ToolRegistry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Stage is one node of the playbook state machine.
type Stage struct {
	ID             string
	PromptFragment string
	AllowedTools   []string // names looked up in the shared ToolRegistry
	TwoPhase       bool     // zero value false: the tool loop runs only when set true; see Engine.RunToolLoop doc
	MaxTurns       int      // 0 = unbounded

	// HistoryPolicy governs history on entering this stage. Zero value
	// behaves as HistoryFull.
	HistoryPolicy HistoryPolicy
}

// EffectivePolicy returns the stage's configured policy, defaulting to
// HistoryFull when unset.
func (s Stage) EffectivePolicy() HistoryPolicy {
	if s.HistoryPolicy == "" {
		return HistoryFull
	}
	return s.HistoryPolicy
}

// Playbook is the static configuration: stages plus transitions between
// them. Validated once at construction time (spec §3 invariant: every
// transition's From names an existing stage or "*"; every To exists).
type Playbook struct {
	Stages      map[string]Stage
	InitialID   string
	Transitions []Transition
}

// NewPlaybook validates stages/transitions and returns a ready-to-drive
// Playbook, or an error describing the first invariant violation found.
func NewPlaybook(stages []Stage, initialID string, transitions []Transition) (*Playbook, error) {
	byID := make(map[string]Stage, len(stages))
	for _, s := range stages {
		byID[s.ID] = s
	}
	if _, ok := byID[initialID]; !ok {
		return nil, fmt.Errorf("playbook: initial stage %q is not declared", initialID)
	}
	for _, tr := range transitions {
		if tr.From != WildcardStage {
			if _, ok := byID[tr.From]; !ok {
				return nil, fmt.Errorf("playbook: transition from unknown stage %q", tr.From)
			}
		}
		if _, ok := byID[tr.To]; !ok {
			return nil, fmt.Errorf("playbook: transition to unknown stage %q", tr.To)
		}
	}
	return &Playbook{Stages: byID, InitialID: initialID, Transitions: transitions}, nil
}

// StageByID is a convenience accessor used by the engine.
func (p *Playbook) StageByID(id string) (Stage, bool) {
	s, ok := p.Stages[id]
	return s, ok
}

// ToolsFor resolves a stage's allowed tool names against the registry,
// skipping names with no registered handler.
func (s Stage) ToolsFor(registry *ToolRegistry) []orchestrator.ToolSpec {
	var out []orchestrator.ToolSpec
	for _, name := range s.AllowedTools {
		if t, ok := registry.Lookup(name); ok {
			out = append(out, t.Spec)
		}
	}
	return out
}

// HasLLMDecisionTransition reports whether any transition leaving this
// stage uses ConditionLLMDecision, which requires injecting the reserved
// playbook_transition pseudo-tool.
func (p *Playbook) HasLLMDecisionTransition(stageID string) bool {
	for _, tr := range p.Transitions {
		if (tr.From == stageID || tr.From == WildcardStage) && tr.Condition == ConditionLLMDecision {
			return true
		}
	}
	return false
}
