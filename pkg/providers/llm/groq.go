package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/voxbridge-ai/voxbridge/pkg/orchestrator"
)

// GroqLLM talks to Groq's chat-completions API, which is wire-compatible
// with OpenAI's — same request/response shape, same tool-call encoding —
// so it reuses the message/tool marshalling helpers from openai.go and only
// swaps the base URL, default model, and streaming omitted (Groq's SSE
// framing matches OpenAI's too, but this provider is the non-streaming
// fast-inference fallback; Stream delegates to Complete dressed as one
// chunk, same pattern as the Google provider).
type GroqLLM struct {
	apiKey string
	url    string
	model  string
}

func NewGroqLLM(apiKey string, model string) *GroqLLM {
	if model == "" {
		model = "llama3-70b-8192"
	}
	return &GroqLLM{
		apiKey: apiKey,
		url:    "https://api.groq.com/openai/v1/chat/completions",
		model:  model,
	}
}

func (l *GroqLLM) Complete(ctx context.Context, messages []orchestrator.Message, tools []orchestrator.ToolSpec) (orchestrator.CompletionResult, error) {
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
		return orchestrator.CompletionResult{}, fmt.Errorf("groq llm error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Choices []openAIChoice `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return orchestrator.CompletionResult{}, err
	}

	if len(result.Choices) == 0 {
		return orchestrator.CompletionResult{}, fmt.Errorf("no choices returned from groq")
	}

	choice := result.Choices[0]
	toolCalls := parseOpenAIToolCalls(choice)
	return orchestrator.CompletionResult{
		Text:       choice.Message.Content,
		ToolCalls:  toolCalls,
		StopReason: openAIStopReason(choice.FinishReason, len(toolCalls) > 0),
	}, nil
}

func (l *GroqLLM) Stream(ctx context.Context, messages []orchestrator.Message, tools []orchestrator.ToolSpec, onChunk func(orchestrator.StreamChunk) error) error {
	result, err := l.Complete(ctx, messages, tools)
	if err != nil {
		return err
	}
	if result.Text != "" {
		if err := onChunk(orchestrator.StreamChunk{Content: result.Text}); err != nil {
			return err
		}
	}
	return onChunk(orchestrator.StreamChunk{Done: true, ToolCalls: result.ToolCalls, StopReason: result.StopReason})
}

func (l *GroqLLM) SupportsTools() bool {
	return true
}

func (l *GroqLLM) Name() string {
	return "groq-llm"
}
