package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/voxbridge-ai/voxbridge/pkg/orchestrator"
)

type GoogleLLM struct {
	apiKey string
	url    string
	model  string
}

func NewGoogleLLM(apiKey string, model string) *GoogleLLM {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GoogleLLM{
		apiKey: apiKey,
		url:    "https://generativelanguage.googleapis.com/v1beta/models/" + model + ":generateContent",
		model:  model,
	}
}

// Complete ignores tools: Gemini's function-calling declaration shape
// doesn't match the Anthropic/OpenAI-style tools array this package builds
// elsewhere (see DESIGN.md known limitations), so a non-nil tools argument
// is simply not sent. SupportsTools reports false so the Playbook Engine
// can refuse a tool-bearing stage up front instead of silently dropping
// calls.
func (l *GoogleLLM) Complete(ctx context.Context, messages []orchestrator.Message, tools []orchestrator.ToolSpec) (orchestrator.CompletionResult, error) {
	type GoogleMessage struct {
		Role  string `json:"role"`
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	}

	var googleMessages []GoogleMessage
	for _, m := range messages {
		role := m.Role
		if role == "system" {
			role = "user" // Gemini doesn't always handle system role in the same way in all models
		}
		if role == "assistant" {
			role = "model"
		}
		msg := GoogleMessage{Role: role}
		msg.Parts = append(msg.Parts, struct {
			Text string `json:"text"`
		}{Text: m.Content})
		googleMessages = append(googleMessages, msg)
	}

	payload := map[string]interface{}{
		"contents": googleMessages,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return orchestrator.CompletionResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.url+"?key="+l.apiKey, bytes.NewReader(body))
	if err != nil {
		return orchestrator.CompletionResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return orchestrator.CompletionResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return orchestrator.CompletionResult{}, fmt.Errorf("google llm error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return orchestrator.CompletionResult{}, err
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return orchestrator.CompletionResult{}, fmt.Errorf("no response from google llm")
	}

	stop := orchestrator.StopEndTurn
	if result.Candidates[0].FinishReason == "MAX_TOKENS" {
		stop = orchestrator.StopMaxTokens
	}

	return orchestrator.CompletionResult{
		Text:       result.Candidates[0].Content.Parts[0].Text,
		StopReason: stop,
	}, nil
}

// Stream falls back to a single Complete call dressed up as one chunk:
// Gemini's streamGenerateContent endpoint needs a different URL suffix and
// its own SSE framing, which isn't worth adding for a provider that is
// already documented as the non-tool-calling fallback (see DESIGN.md).
func (l *GoogleLLM) Stream(ctx context.Context, messages []orchestrator.Message, tools []orchestrator.ToolSpec, onChunk func(orchestrator.StreamChunk) error) error {
	result, err := l.Complete(ctx, messages, tools)
	if err != nil {
		return err
	}
	if result.Text != "" {
		if err := onChunk(orchestrator.StreamChunk{Content: result.Text}); err != nil {
			return err
		}
	}
	return onChunk(orchestrator.StreamChunk{Done: true, StopReason: result.StopReason})
}

func (l *GoogleLLM) SupportsTools() bool {
	return false
}

func (l *GoogleLLM) Name() string {
	return "google-llm"
}
