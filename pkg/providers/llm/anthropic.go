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

type AnthropicLLM struct {
	apiKey string
	url    string
	model  string
}

func NewAnthropicLLM(apiKey string, model string) *AnthropicLLM {
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}
	return &AnthropicLLM{
		apiKey: apiKey,
		url:    "https://api.anthropic.com/v1/messages",
		model:  model,
	}
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

func toAnthropicTools(tools []orchestrator.ToolSpec) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	return out
}

func splitAnthropicMessages(messages []orchestrator.Message) (system string, out []map[string]interface{}) {
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			system = msg.Content
		case "tool":
			out = append(out, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{
					{
						"type":        "tool_result",
						"tool_use_id": msg.ToolCallID,
						"content":     msg.Content,
					},
				},
			})
		default:
			out = append(out, map[string]interface{}{"role": msg.Role, "content": msg.Content})
		}
	}
	return system, out
}

type anthropicContentBlock struct {
	Type  string                 `json:"type"`
	Text  string                 `json:"text,omitempty"`
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`
}

func anthropicStopReason(stop string) orchestrator.StopReason {
	switch stop {
	case "tool_use":
		return orchestrator.StopToolUse
	case "max_tokens":
		return orchestrator.StopMaxTokens
	default:
		return orchestrator.StopEndTurn
	}
}

func (l *AnthropicLLM) buildPayload(messages []orchestrator.Message, tools []orchestrator.ToolSpec, stream bool) ([]byte, error) {
	system, anthropicMessages := splitAnthropicMessages(messages)

	payload := map[string]interface{}{
		"model":      l.model,
		"messages":   anthropicMessages,
		"max_tokens": 1024,
	}
	if system != "" {
		payload["system"] = system
	}
	if t := toAnthropicTools(tools); t != nil {
		payload["tools"] = t
	}
	if stream {
		payload["stream"] = true
	}
	return json.Marshal(payload)
}

func (l *AnthropicLLM) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", l.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	return req, nil
}

func (l *AnthropicLLM) Complete(ctx context.Context, messages []orchestrator.Message, tools []orchestrator.ToolSpec) (orchestrator.CompletionResult, error) {
	body, err := l.buildPayload(messages, tools, false)
	if err != nil {
		return orchestrator.CompletionResult{}, err
	}

	req, err := l.newRequest(ctx, body)
	if err != nil {
		return orchestrator.CompletionResult{}, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return orchestrator.CompletionResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return orchestrator.CompletionResult{}, fmt.Errorf("anthropic llm error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Content    []anthropicContentBlock `json:"content"`
		StopReason string                  `json:"stop_reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return orchestrator.CompletionResult{}, err
	}

	if len(result.Content) == 0 {
		return orchestrator.CompletionResult{}, fmt.Errorf("no content returned from anthropic")
	}

	var text strings.Builder
	var toolCalls []orchestrator.ToolCall
	for _, block := range result.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			toolCalls = append(toolCalls, orchestrator.ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}

	return orchestrator.CompletionResult{
		Text:       text.String(),
		ToolCalls:  toolCalls,
		StopReason: anthropicStopReason(result.StopReason),
	}, nil
}

// Stream issues an SSE streaming message request and forwards text deltas.
// Anthropic's `content_block_delta` events carry `text_delta` pieces for
// text blocks; tool_use blocks (if any) stream as `input_json_delta` pieces
// that aren't reconstructed here: the Playbook Engine's phase-1 tool loop
// uses Complete, and a streamed reply (including one for a TwoPhase==false
// stage with tools) yields text only.
func (l *AnthropicLLM) Stream(ctx context.Context, messages []orchestrator.Message, tools []orchestrator.ToolSpec, onChunk func(orchestrator.StreamChunk) error) error {
	body, err := l.buildPayload(messages, tools, true)
	if err != nil {
		return err
	}

	req, err := l.newRequest(ctx, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("anthropic llm stream error (status %d): %v", resp.StatusCode, errResp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var event struct {
			Type  string `json:"type"`
			Delta struct {
				Type       string `json:"type"`
				Text       string `json:"text"`
				StopReason string `json:"stop_reason"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta.Text != "" {
				if err := onChunk(orchestrator.StreamChunk{Content: event.Delta.Text}); err != nil {
					return err
				}
			}
		case "message_delta":
			if event.Delta.StopReason != "" {
				return onChunk(orchestrator.StreamChunk{Done: true, StopReason: anthropicStopReason(event.Delta.StopReason)})
			}
		case "message_stop":
			return onChunk(orchestrator.StreamChunk{Done: true, StopReason: orchestrator.StopEndTurn})
		}
	}
	return scanner.Err()
}

func (l *AnthropicLLM) SupportsTools() bool {
	return true
}

func (l *AnthropicLLM) Name() string {
	return "anthropic-llm"
}
