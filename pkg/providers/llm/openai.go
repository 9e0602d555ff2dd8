package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/voxbridge-ai/voxbridge/pkg/orchestrator"
)

type OpenAILLM struct {
	apiKey string
	url    string
	model  string
}

func NewOpenAILLM(apiKey string, model string) *OpenAILLM {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAILLM{
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/chat/completions",
		model:  model,
	}
}

type openAIToolFunc struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIToolFunc `json:"function"`
}

func toOpenAITools(tools []orchestrator.ToolSpec) []openAITool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openAITool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openAITool{
			Type: "function",
			Function: openAIToolFunc{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func toOpenAIMessages(messages []orchestrator.Message) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(messages))
	for _, m := range messages {
		entry := map[string]interface{}{"role": m.Role, "content": m.Content}
		if m.ToolCallID != "" {
			entry["tool_call_id"] = m.ToolCallID
		}
		if m.ToolName != "" {
			entry["name"] = m.ToolName
		}
		out = append(out, entry)
	}
	return out
}

type openAIChoice struct {
	Message struct {
		Content   string `json:"content"`
		ToolCalls []struct {
			ID       string `json:"id"`
			Function struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

func parseOpenAIToolCalls(choice openAIChoice) []orchestrator.ToolCall {
	if len(choice.Message.ToolCalls) == 0 {
		return nil
	}
	calls := make([]orchestrator.ToolCall, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		calls = append(calls, orchestrator.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return calls
}

func openAIStopReason(finishReason string, hasToolCalls bool) orchestrator.StopReason {
	if hasToolCalls || finishReason == "tool_calls" {
		return orchestrator.StopToolUse
	}
	if finishReason == "length" {
		return orchestrator.StopMaxTokens
	}
	return orchestrator.StopEndTurn
}

func (l *OpenAILLM) Complete(ctx context.Context, messages []orchestrator.Message, tools []orchestrator.ToolSpec) (orchestrator.CompletionResult, error) {
	payload := map[string]interface{}{
		"model":    l.model,
		"messages": toOpenAIMessages(messages),
	}
	if t := toOpenAITools(tools); t != nil {
		payload["tools"] = t
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return orchestrator.CompletionResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewReader(body))
	if err != nil {
		return orchestrator.CompletionResult{}, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return orchestrator.CompletionResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return orchestrator.CompletionResult{}, fmt.Errorf("openai llm error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Choices []openAIChoice `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return orchestrator.CompletionResult{}, err
	}

	if len(result.Choices) == 0 {
		return orchestrator.CompletionResult{}, fmt.Errorf("no choices returned from openai")
	}

	choice := result.Choices[0]
	toolCalls := parseOpenAIToolCalls(choice)
	return orchestrator.CompletionResult{
		Text:       choice.Message.Content,
		ToolCalls:  toolCalls,
		StopReason: openAIStopReason(choice.FinishReason, len(toolCalls) > 0),
	}, nil
}

// Stream issues a server-sent-events streaming chat completion, forwarding
// each text delta to onChunk. OpenAI's streaming API does not interleave
// tool call deltas in a form worth reconstructing incrementally here, so
// Stream reports chunks text-only; callers that need reliable tool calls use
// Complete, which the Playbook Engine's non-streaming phase 1 already does.
func (l *OpenAILLM) Stream(ctx context.Context, messages []orchestrator.Message, tools []orchestrator.ToolSpec, onChunk func(orchestrator.StreamChunk) error) error {
	payload := map[string]interface{}{
		"model":    l.model,
		"messages": toOpenAIMessages(messages),
		"stream":   true,
	}
	if t := toOpenAITools(tools); t != nil {
		payload["tools"] = t
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("openai llm stream error (status %d): %v", resp.StatusCode, errResp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return onChunk(orchestrator.StreamChunk{Done: true, StopReason: orchestrator.StopEndTurn})
		}

		var event struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		if len(event.Choices) == 0 {
			continue
		}
		delta := event.Choices[0].Delta.Content
		if delta != "" {
			if err := onChunk(orchestrator.StreamChunk{Content: delta}); err != nil {
				return err
			}
		}
		if event.Choices[0].FinishReason != "" {
			return onChunk(orchestrator.StreamChunk{
				Done:       true,
				StopReason: openAIStopReason(event.Choices[0].FinishReason, false),
			})
		}
	}
	return scanner.Err()
}

func (l *OpenAILLM) SupportsTools() bool {
	return true
}

func (l *OpenAILLM) Name() string {
	return "openai-llm"
}
