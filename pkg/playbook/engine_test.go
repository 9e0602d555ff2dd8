package playbook

import (
	"context"
	"testing"

	"github.com/voxbridge-ai/voxbridge/pkg/orchestrator"
)

type fakeLLM struct {
	responses []orchestrator.CompletionResult
	call      int
}

func (f *fakeLLM) Complete(ctx context.Context, messages []orchestrator.Message, tools []orchestrator.ToolSpec) (orchestrator.CompletionResult, error) {
	if f.call >= len(f.responses) {
		return orchestrator.CompletionResult{StopReason: orchestrator.StopEndTurn}, nil
	}
	r := f.responses[f.call]
	f.call++
	return r, nil
}

func (f *fakeLLM) Stream(ctx context.Context, messages []orchestrator.Message, tools []orchestrator.ToolSpec, onChunk func(orchestrator.StreamChunk) error) error {
	return nil
}
func (f *fakeLLM) SupportsTools() bool { return true }
func (f *fakeLLM) Name() string        { return "fake-llm" }

func TestNewPlaybookValidation(t *testing.T) {
	stages := []Stage{{ID: "greet"}, {ID: "close"}}
	_, err := NewPlaybook(stages, "missing", nil)
	if err == nil {
		t.Fatal("expected error for unknown initial stage")
	}

	_, err = NewPlaybook(stages, "greet", []Transition{{From: "ghost", To: "close"}})
	if err == nil {
		t.Fatal("expected error for transition from unknown stage")
	}

	_, err = NewPlaybook(stages, "greet", []Transition{{From: "greet", To: "ghost"}})
	if err == nil {
		t.Fatal("expected error for transition to unknown stage")
	}

	pb, err := NewPlaybook(stages, "greet", []Transition{{From: "greet", To: "close", Condition: ConditionKeyword, Keywords: []string{"bye"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pb.InitialID != "greet" {
		t.Errorf("InitialID = %q, want greet", pb.InitialID)
	}
}

func TestEngineToolLoopExecutesAndAppendsHistory(t *testing.T) {
	stages := []Stage{{ID: "s1", TwoPhase: true, AllowedTools: []string{"lookup"}}}
	pb, err := NewPlaybook(stages, "s1", nil)
	if err != nil {
		t.Fatalf("NewPlaybook: %v", err)
	}

	registry := NewToolRegistry()
	called := false
	registry.Register(Tool{
		Spec: orchestrator.ToolSpec{Name: "lookup", Description: "look something up"},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			called = true
			return map[string]interface{}{"answer": 42}, nil
		},
	})

	llm := &fakeLLM{responses: []orchestrator.CompletionResult{
		{
			Text:       "let me check",
			ToolCalls:  []orchestrator.ToolCall{{ID: "call1", Name: "lookup", Arguments: map[string]interface{}{"q": "x"}}},
			StopReason: orchestrator.StopToolUse,
		},
		{Text: "done", StopReason: orchestrator.StopEndTurn},
	}}

	engine := NewEngine(pb, registry, llm)

	var events []orchestrator.TurnEvent
	history, speak, err := engine.RunToolLoop(context.Background(), nil, func(e orchestrator.TurnEvent) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("RunToolLoop: %v", err)
	}
	if !speak {
		t.Error("expected speak=true after phase 1 completes")
	}
	if !called {
		t.Error("expected tool handler to run")
	}

	var sawStart, sawEnd bool
	for _, e := range events {
		if e.Type == orchestrator.EvtToolCallStart {
			sawStart = true
		}
		if e.Type == orchestrator.EvtToolCallEnd {
			sawEnd = true
			if e.ToolErr != "" {
				t.Errorf("unexpected tool error: %s", e.ToolErr)
			}
		}
	}
	if !sawStart || !sawEnd {
		t.Errorf("expected tool-call-start/end events, got %+v", events)
	}

	foundToolMessage := false
	for _, m := range history {
		if m.Role == "tool" && m.ToolCallID == "call1" {
			foundToolMessage = true
		}
	}
	if !foundToolMessage {
		t.Errorf("expected a tool-role message in history, got %+v", history)
	}
}

func TestEngineSkipsToolLoopWhenNotTwoPhase(t *testing.T) {
	stages := []Stage{{ID: "s1", TwoPhase: false}}
	pb, _ := NewPlaybook(stages, "s1", nil)
	engine := NewEngine(pb, NewToolRegistry(), &fakeLLM{})

	history, speak, err := engine.RunToolLoop(context.Background(), []orchestrator.Message{{Role: "user", Content: "hi"}}, func(orchestrator.TurnEvent) {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !speak {
		t.Error("expected speak=true when TwoPhase is false")
	}
	if len(history) != 1 {
		t.Errorf("expected history unchanged, got %+v", history)
	}
}

func TestEvaluateTransitionKeywordMatch(t *testing.T) {
	stages := []Stage{{ID: "greet"}, {ID: "close"}}
	pb, _ := NewPlaybook(stages, "greet", []Transition{
		{From: "greet", To: "close", Condition: ConditionKeyword, Keywords: []string{"goodbye"}, Priority: 1},
	})
	engine := NewEngine(pb, NewToolRegistry(), &fakeLLM{})

	from, to, _, ok := engine.EvaluateTransition("Well, goodbye for now!")
	if !ok {
		t.Fatal("expected transition to match")
	}
	if from != "greet" || to != "close" {
		t.Errorf("got from=%s to=%s, want greet/close", from, to)
	}
	if engine.CurrentStage() != "close" {
		t.Errorf("CurrentStage = %s, want close", engine.CurrentStage())
	}
}

func TestEvaluateTransitionPriorityOrder(t *testing.T) {
	stages := []Stage{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	pb, _ := NewPlaybook(stages, "a", []Transition{
		{From: "a", To: "b", Condition: ConditionKeyword, Keywords: []string{"x"}, Priority: 1},
		{From: "a", To: "c", Condition: ConditionKeyword, Keywords: []string{"x"}, Priority: 5},
	})
	engine := NewEngine(pb, NewToolRegistry(), &fakeLLM{})

	_, to, _, ok := engine.EvaluateTransition("contains x")
	if !ok || to != "c" {
		t.Errorf("expected higher-priority transition to win, got to=%s ok=%v", to, ok)
	}
}

func TestEvaluateTransitionMaxTurns(t *testing.T) {
	stages := []Stage{{ID: "a", MaxTurns: 2}, {ID: "b"}}
	pb, _ := NewPlaybook(stages, "a", []Transition{
		{From: "a", To: "b", Condition: ConditionMaxTurns, Priority: 1},
	})
	engine := NewEngine(pb, NewToolRegistry(), &fakeLLM{})

	_, _, _, ok := engine.EvaluateTransition("first turn")
	if ok {
		t.Fatal("should not transition before max turns reached")
	}
	_, to, _, ok := engine.EvaluateTransition("second turn")
	if !ok || to != "b" {
		t.Errorf("expected transition at max turns, got ok=%v to=%s", ok, to)
	}
}

func TestRunToolLoopRejectsToolsWithoutSupport(t *testing.T) {
	stages := []Stage{{ID: "s1", TwoPhase: true, AllowedTools: []string{"lookup"}}}
	pb, _ := NewPlaybook(stages, "s1", nil)
	registry := NewToolRegistry()
	registry.Register(Tool{Spec: orchestrator.ToolSpec{Name: "lookup"}})

	engine := NewEngine(pb, registry, &noToolsLLM{})
	_, _, err := engine.RunToolLoop(context.Background(), nil, func(orchestrator.TurnEvent) {})
	if err != orchestrator.ErrProviderLacksTools {
		t.Errorf("expected ErrProviderLacksTools, got %v", err)
	}
}

func TestHistoryPolicyForDefaultsToFull(t *testing.T) {
	stages := []Stage{{ID: "a"}}
	pb, _ := NewPlaybook(stages, "a", nil)
	engine := NewEngine(pb, NewToolRegistry(), &fakeLLM{})

	policy, err := engine.HistoryPolicyFor("a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if policy != string(HistoryFull) {
		t.Errorf("policy = %s, want full", policy)
	}
}

func TestHistoryPolicyForRejectsUnimplemented(t *testing.T) {
	stages := []Stage{{ID: "a", HistoryPolicy: HistoryReset}}
	pb, _ := NewPlaybook(stages, "a", nil)
	engine := NewEngine(pb, NewToolRegistry(), &fakeLLM{})

	if _, err := engine.HistoryPolicyFor("a"); err != orchestrator.ErrHistoryPolicyUnsupported {
		t.Errorf("expected ErrHistoryPolicyUnsupported, got %v", err)
	}
}

type noToolsLLM struct{}

func (n *noToolsLLM) Complete(ctx context.Context, messages []orchestrator.Message, tools []orchestrator.ToolSpec) (orchestrator.CompletionResult, error) {
	return orchestrator.CompletionResult{}, nil
}
func (n *noToolsLLM) Stream(ctx context.Context, messages []orchestrator.Message, tools []orchestrator.ToolSpec, onChunk func(orchestrator.StreamChunk) error) error {
	return nil
}
func (n *noToolsLLM) SupportsTools() bool { return false }
func (n *noToolsLLM) Name() string        { return "no-tools-llm" }
