package playbook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/voxbridge-ai/voxbridge/pkg/orchestrator"
)

const (
	// DefaultMaxToolCallsPerTurn bounds the tool-call loop iteration count
	// (spec §4.C).
	DefaultMaxToolCallsPerTurn = 10
	// DefaultPhase1Timeout bounds the tool-call loop's wall time.
	DefaultPhase1Timeout = 60 * time.Second
)

// Engine drives one Playbook instance for one session: current stage,
// per-stage turn counters, and the bookkeeping a turn needs to evaluate
// transitions once it completes. It implements orchestrator.PlaybookDriver
// so turn.go can run it without importing this package.
type Engine struct {
	playbook *Playbook
	registry *ToolRegistry
	llm      orchestrator.LLMProvider

	maxToolCalls int
	phase1Budget time.Duration

	currentStage string
	turnCounts   map[string]int

	// per-turn scratch state, reset at the start of each RunToolLoop call
	requestedTransition string
	toolResultFlags     []string
}

func NewEngine(pb *Playbook, registry *ToolRegistry, llm orchestrator.LLMProvider) *Engine {
	return &Engine{
		playbook:     pb,
		registry:     registry,
		llm:          llm,
		maxToolCalls: DefaultMaxToolCallsPerTurn,
		phase1Budget: DefaultPhase1Timeout,
		currentStage: pb.InitialID,
		turnCounts:   make(map[string]int),
	}
}

func (e *Engine) WithLimits(maxToolCalls int, phase1Budget time.Duration) *Engine {
	if maxToolCalls > 0 {
		e.maxToolCalls = maxToolCalls
	}
	if phase1Budget > 0 {
		e.phase1Budget = phase1Budget
	}
	return e
}

func (e *Engine) CurrentStage() string { return e.currentStage }

// StageSystemPrompt implements orchestrator.PlaybookDriver.
func (e *Engine) StageSystemPrompt() (string, []orchestrator.ToolSpec) {
	stage, ok := e.playbook.StageByID(e.currentStage)
	if !ok {
		return "", nil
	}
	tools := stage.ToolsFor(e.registry)
	if e.playbook.HasLLMDecisionTransition(e.currentStage) {
		tools = append(tools, transitionPseudoTool())
	}
	return stage.PromptFragment, tools
}

func transitionPseudoTool() orchestrator.ToolSpec {
	return orchestrator.ToolSpec{
		Name:        TransitionPseudoTool,
		Description: "Request a transition to a different playbook stage.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"target": map[string]interface{}{"type": "string"},
				"reason": map[string]interface{}{"type": "string"},
			},
			"required": []string{"target"},
		},
	}
}

// RunToolLoop implements orchestrator.PlaybookDriver. It runs the
// non-streaming tool-call loop (spec §4.C "Tool-call loop") up to
// maxToolCalls iterations or until phase1Budget elapses, then reports
// whether phase 2 (the streamed, spoken reply) should run at all. A stage
// with TwoPhase==false skips phase 1 entirely and returns speak=true;
// turn.go's streaming call then passes the stage's tools to the LLM but
// uses only the text of each chunk: tool calls on the streamed reply are
// not executed and produce no tool-call events.
func (e *Engine) RunToolLoop(ctx context.Context, history []orchestrator.Message, emit func(orchestrator.TurnEvent)) ([]orchestrator.Message, bool, error) {
	stage, ok := e.playbook.StageByID(e.currentStage)
	if !ok {
		return history, true, fmt.Errorf("playbook: unknown current stage %q", e.currentStage)
	}

	e.requestedTransition = ""
	e.toolResultFlags = nil

	if !stage.TwoPhase {
		return history, true, nil
	}

	_, tools := e.StageSystemPrompt()
	if len(tools) > 0 && !e.llm.SupportsTools() {
		return history, false, orchestrator.ErrProviderLacksTools
	}

	deadline := time.Now().Add(e.phase1Budget)
	working := history

	for i := 0; i < e.maxToolCalls; i++ {
		if time.Now().After(deadline) {
			break
		}
		if ctx.Err() != nil {
			return working, false, ctx.Err()
		}

		result, err := e.llm.Complete(ctx, working, tools)
		if err != nil {
			return working, false, err
		}
		if len(result.ToolCalls) == 0 {
			break
		}

		working = append(working, orchestrator.Message{Role: "assistant", Content: result.Text})

		for _, call := range result.ToolCalls {
			emit(orchestrator.TurnEvent{Type: orchestrator.EvtToolCallStart, ToolName: call.Name, ToolCallID: call.ID, ToolArgs: call.Arguments})
			start := time.Now()

			resultValue, callErr := e.executeTool(ctx, call)
			duration := time.Since(start).Milliseconds()

			ev := orchestrator.TurnEvent{Type: orchestrator.EvtToolCallEnd, ToolCallID: call.ID, DurationMs: duration}
			var resultJSON string
			if callErr != nil {
				ev.ToolErr = callErr.Error()
				resultJSON = fmt.Sprintf(`{"error":%q}`, callErr.Error())
			} else {
				ev.ToolResult = resultValue
				if b, err := json.Marshal(resultValue); err == nil {
					resultJSON = string(b)
				} else {
					resultJSON = fmt.Sprintf("%v", resultValue)
				}
			}
			emit(ev)

			working = append(working, orchestrator.Message{
				Role:       "tool",
				Content:    resultJSON,
				ToolName:   call.Name,
				ToolCallID: call.ID,
			})
		}
	}

	return working, true, nil
}

func (e *Engine) executeTool(ctx context.Context, call orchestrator.ToolCall) (interface{}, error) {
	if call.Name == TransitionPseudoTool {
		target, _ := call.Arguments["target"].(string)
		reason, _ := call.Arguments["reason"].(string)
		e.requestedTransition = target
		return map[string]string{"acknowledged": target, "reason": reason}, nil
	}

	tool, ok := e.registry.Lookup(call.Name)
	if !ok {
		return nil, fmt.Errorf("tool %q not registered", call.Name)
	}
	result, err := tool.Handler(ctx, call.Arguments)
	if err != nil {
		return nil, err
	}
	if m, ok := result.(map[string]interface{}); ok {
		if target, ok := m["__transition"].(string); ok {
			e.toolResultFlags = append(e.toolResultFlags, target)
		}
	}
	return result, nil
}

// EvaluateTransition implements orchestrator.PlaybookDriver. It runs after
// the LLM response is finalized, per spec §4.C "Transition evaluation":
// candidates are scored by declared priority (ties by declaration order),
// first match wins.
func (e *Engine) EvaluateTransition(responseText string) (string, string, string, bool) {
	e.turnCounts[e.currentStage]++

	var best *Transition
	for i := range e.playbook.Transitions {
		tr := &e.playbook.Transitions[i]
		if tr.From != e.currentStage && tr.From != WildcardStage {
			continue
		}
		if !e.conditionMet(tr, responseText) {
			continue
		}
		if best == nil || tr.Priority > best.Priority {
			best = tr
		}
	}

	if best == nil {
		return "", "", "", false
	}

	from := e.currentStage
	e.currentStage = best.To
	e.turnCounts[best.To] = 0
	return from, best.To, string(best.Condition), true
}

// HistoryPolicyFor implements orchestrator.PlaybookDriver. It reports the
// policy the named stage applies to session history; turn.go consults this
// after a transition fires to decide whether history needs adjusting. Only
// HistoryFull is actually implemented today (spec §9 Open Question 1).
func (e *Engine) HistoryPolicyFor(stageID string) (string, error) {
	stage, ok := e.playbook.StageByID(stageID)
	if !ok {
		return string(HistoryFull), fmt.Errorf("playbook: unknown stage %q", stageID)
	}
	policy := stage.EffectivePolicy()
	if policy != HistoryFull {
		return string(policy), orchestrator.ErrHistoryPolicyUnsupported
	}
	return string(policy), nil
}

func (e *Engine) conditionMet(tr *Transition, responseText string) bool {
	switch tr.Condition {
	case ConditionKeyword:
		lower := strings.ToLower(responseText)
		for _, kw := range tr.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
		return false
	case ConditionLLMDecision:
		return e.requestedTransition == tr.To
	case ConditionToolResult:
		for _, target := range e.toolResultFlags {
			if target == tr.To {
				return true
			}
		}
		return false
	case ConditionMaxTurns:
		stage, ok := e.playbook.StageByID(e.currentStage)
		if !ok || stage.MaxTurns <= 0 {
			return false
		}
		return e.turnCounts[e.currentStage] >= stage.MaxTurns
	default:
		return false
	}
}
