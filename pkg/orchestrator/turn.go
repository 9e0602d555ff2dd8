package orchestrator

import (
	"context"
	"strings"
	"sync"
)

// TurnEventType enumerates every event the turn pipeline can emit, mirroring
// the wire protocol's server→client event names (§6) one-for-one.
type TurnEventType string

const (
	EvtTranscript    TurnEventType = "transcript"
	EvtLLMChunk      TurnEventType = "llm-chunk"
	EvtLLMFull       TurnEventType = "llm"
	EvtToolCallStart TurnEventType = "tool-call-start"
	EvtToolCallEnd   TurnEventType = "tool-call-end"
	EvtStageChange   TurnEventType = "stage-change"
	EvtTTSStart      TurnEventType = "tts-start"
	EvtTTSChunk      TurnEventType = "tts-chunk"
	EvtTTSComplete   TurnEventType = "tts-complete"
	EvtTTSCancelled  TurnEventType = "tts-cancelled"
	EvtError         TurnEventType = "error"
)

// TurnEvent is the sum type produced by RunTurnStream. Only the fields
// relevant to Type are populated; this mirrors the tagged union the wire
// protocol (§6) already uses, just kept in memory as one Go struct instead
// of N event types, since Go has no sum types of its own.
type TurnEvent struct {
	Type TurnEventType

	// transcript
	Text    string
	IsFinal bool

	// llm-chunk / llm
	Content string
	Done    bool

	// tool-call-start / tool-call-end
	ToolName   string
	ToolCallID string
	ToolArgs   map[string]interface{}
	ToolResult interface{}
	ToolErr    string
	DurationMs int64

	// stage-change
	FromStage string
	ToStage   string
	Reason    string

	// tts-chunk
	PCM []byte

	// error
	ErrCode ErrorCode
	Err     error
}

// TurnInput bundles what one turn needs beyond provider access: the
// utterance, any attached frames, the conversation history to extend, and
// an optional playbook driver. A nil Playbook runs the plain STT→LLM→TTS
// pipeline (spec §4.B steps 1-5, no playbook).
type TurnInput struct {
	PCM             []byte
	Attachments     []Attachment
	History         []Message
	SystemPrompt    string
	Voice           Voice
	Language        Language
	SentenceChunker SentenceChunkFunc
	Playbook        PlaybookDriver
}

// PlaybookDriver lets turn.go delegate the tool-call loop and transition
// evaluation to pkg/playbook without importing it (avoiding an import
// cycle: pkg/playbook needs these same event/message types). Implemented by
// *playbook.Engine.
type PlaybookDriver interface {
	// RunToolLoop executes phase 1 (the non-streaming tool-call loop) and
	// returns the full history it was given, extended by the messages the
	// loop produced, plus whether phase 2 should still stream a spoken reply.
	RunToolLoop(ctx context.Context, history []Message, emit func(TurnEvent)) (updatedHistory []Message, speak bool, err error)
	// StageSystemPrompt returns the current stage's prompt fragment to
	// append to the session system prompt, and the tools to attach.
	StageSystemPrompt() (fragment string, tools []ToolSpec)
	// EvaluateTransition runs after the LLM response is finalized and
	// returns ok=false if no transition matched.
	EvaluateTransition(responseText string) (from, to, reason string, ok bool)
	// HistoryPolicyFor reports the named stage's history policy, returning
	// ErrHistoryPolicyUnsupported for anything but the implemented "full"
	// default (spec §9 Open Question 1).
	HistoryPolicyFor(stageID string) (policy string, err error)
}

// TurnRunner drives the STT → (Playbook) LLM → sentence-chunk → TTS
// pipeline for one turn at a time, generalizing the teacher's
// ManagedStream cancellation-token idiom: a single context.CancelFunc,
// guarded by a mutex, checked between pipeline stages, safe to call
// multiple times.
type TurnRunner struct {
	stt    STTProvider
	llm    LLMProvider
	tts    TTSProvider
	config Config
	logger Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	turnActive bool
}

func NewTurnRunner(stt STTProvider, llm LLMProvider, tts TTSProvider, config Config, logger Logger) *TurnRunner {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &TurnRunner{stt: stt, llm: llm, tts: tts, config: config, logger: logger}
}

// Cancel requests cancellation of whatever turn is currently running. It is
// idempotent and safe to call when no turn is active (spec §5: "cancelling
// a completed turn is a no-op").
func (r *TurnRunner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// RunTurnStream runs one turn to completion, writing events to emit in the
// order spec §4.B and §5 require, and returns once the turn has ended: after
// tts-complete or tts-cancelled for a spoken or cancelled reply; after an
// error event when STT, the transcript, the playbook or the LLM call fails;
// after the final llm event, with no TTS events, when the reply is empty;
// and with nothing further when the playbook's tool loop reports that no
// spoken reply follows. Starting a new
// turn implicitly cancels any turn already in progress on this runner
// (spec §3: "starting a new turn cancels the prior").
func (r *TurnRunner) RunTurnStream(ctx context.Context, in TurnInput, emit func(TurnEvent)) []Message {
	turnCtx, _ := r.beginTurn(ctx)
	defer r.endTurn()

	history := append([]Message{}, in.History...)

	if turnCtx.Err() != nil {
		emit(TurnEvent{Type: EvtTTSCancelled})
		return history
	}

	transcript, err := r.stt.Transcribe(turnCtx, in.PCM, in.Language)
	if err != nil {
		emit(TurnEvent{Type: EvtError, ErrCode: ErrCodeSTTError, Err: err})
		return history
	}
	if strings.TrimSpace(transcript) == "" {
		emit(TurnEvent{Type: EvtError, ErrCode: ErrCodeSTTError, Err: ErrEmptyTranscription})
		return history
	}

	emit(TurnEvent{Type: EvtTranscript, Text: transcript, IsFinal: true})
	history = append(history, Message{Role: "user", Content: transcript, Attachments: in.Attachments})

	if turnCtx.Err() != nil {
		emit(TurnEvent{Type: EvtTTSCancelled})
		return history
	}

	systemPrompt := in.SystemPrompt
	var tools []ToolSpec
	if in.Playbook != nil {
		fragment, stageTools := in.Playbook.StageSystemPrompt()
		if fragment != "" {
			systemPrompt = strings.TrimSpace(systemPrompt + "\n" + fragment)
		}
		tools = stageTools
	}

	requestHistory := withSystemPrompt(history, systemPrompt)

	if in.Playbook != nil {
		updated, speak, err := in.Playbook.RunToolLoop(turnCtx, requestHistory, emit)
		if err != nil {
			emit(TurnEvent{Type: EvtError, ErrCode: ErrCodePlaybookError, Err: err})
			return history
		}
		history = stripSystemPrompt(updated)
		requestHistory = updated
		if !speak {
			return history
		}
	}

	if turnCtx.Err() != nil {
		emit(TurnEvent{Type: EvtTTSCancelled})
		return history
	}

	chunker := in.SentenceChunker
	if chunker == nil {
		chunker = DefaultSentenceChunker
	}

	var fullText strings.Builder
	sentences := make(chan string, 64)
	streamErrCh := make(chan error, 1)

	go func() {
		defer close(sentences)
		buf := ""
		streamErrCh <- r.llm.Stream(turnCtx, requestHistory, tools, func(chunk StreamChunk) error {
			if turnCtx.Err() != nil {
				return turnCtx.Err()
			}
			if chunk.Content != "" {
				fullText.WriteString(chunk.Content)
				emit(TurnEvent{Type: EvtLLMChunk, Content: chunk.Content, Done: false})
				buf += chunk.Content
				complete, remainder := chunker(buf)
				for _, s := range complete {
					select {
					case sentences <- s:
					case <-turnCtx.Done():
						return turnCtx.Err()
					}
				}
				buf = remainder
			}
			if chunk.Done {
				if s, ok := FlushSentence(buf); ok {
					select {
					case sentences <- s:
					case <-turnCtx.Done():
						return turnCtx.Err()
					}
				}
			}
			return nil
		})
	}()

	cancelled, startedTTS := r.runTTSConsumer(turnCtx, sentences, in.Voice, in.Language, emit)

	streamErr := <-streamErrCh
	emit(TurnEvent{Type: EvtLLMChunk, Content: "", Done: true})

	text := fullText.String()
	emit(TurnEvent{Type: EvtLLMFull, Content: text})

	if turnCtx.Err() != nil || cancelled {
		emit(TurnEvent{Type: EvtTTSCancelled})
		// Spec §4.B cancellation clause: keep history if cancellation
		// happened after LLM completion (streamErr nil) but during TTS.
		if streamErr == nil && strings.TrimSpace(text) != "" {
			history = append(history, Message{Role: "assistant", Content: text})
		}
		return history
	}

	if streamErr != nil {
		emit(TurnEvent{Type: EvtError, ErrCode: ErrCodeLLMError, Err: streamErr})
		// Spec §7 propagation policy: the terminal sentinel is
		// tts-cancelled whenever TTS had already started; "nothing
		// further" only applies when it hadn't.
		if startedTTS {
			emit(TurnEvent{Type: EvtTTSCancelled})
		}
		return history
	}

	if strings.TrimSpace(text) != "" {
		history = append(history, Message{Role: "assistant", Content: text})
	}

	if in.Playbook != nil {
		if from, to, reason, ok := in.Playbook.EvaluateTransition(text); ok {
			emit(TurnEvent{Type: EvtStageChange, FromStage: from, ToStage: to, Reason: reason})
			if _, err := in.Playbook.HistoryPolicyFor(to); err != nil {
				emit(TurnEvent{Type: EvtError, ErrCode: ErrCodePlaybookError, Err: err})
			}
		}
	}

	if strings.TrimSpace(text) == "" {
		// spec §4.B "Empty responses": no tts-start/chunk/complete at all.
		return history
	}

	emit(TurnEvent{Type: EvtTTSComplete})
	return history
}

// runTTSConsumer synthesizes each sentence as it arrives and emits
// tts-start/tts-chunk, returning whether the turn was cancelled mid-stream
// and whether tts-start had already been emitted when it stopped consuming.
func (r *TurnRunner) runTTSConsumer(ctx context.Context, sentences <-chan string, voice Voice, lang Language, emit func(TurnEvent)) (cancelled bool, startedTTS bool) {
	for sentence := range sentences {
		if ctx.Err() != nil {
			return true, startedTTS
		}
		if !startedTTS {
			emit(TurnEvent{Type: EvtTTSStart})
			startedTTS = true
		}

		err := r.tts.StreamSynthesize(ctx, sentence, voice, lang, func(pcm []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			emit(TurnEvent{Type: EvtTTSChunk, PCM: pcm})
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return true, startedTTS
			}
			// Streaming TTS failed mid-sentence: fall back to one-shot for
			// the same sentence (spec §4.B "TTS failure").
			pcm, fbErr := r.tts.Synthesize(ctx, sentence, voice, lang)
			if fbErr != nil {
				r.logger.Warn("tts sentence skipped after fallback failure", "error", fbErr)
				emit(TurnEvent{Type: EvtError, ErrCode: ErrCodeTTSError, Err: fbErr})
				continue
			}
			emit(TurnEvent{Type: EvtTTSChunk, PCM: pcm})
		}
	}
	return ctx.Err() != nil, startedTTS
}

func (r *TurnRunner) beginTurn(parent context.Context) (context.Context, context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	turnCtx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.turnActive = true
	return turnCtx, cancel
}

func (r *TurnRunner) endTurn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turnActive = false
}

func withSystemPrompt(history []Message, systemPrompt string) []Message {
	if strings.TrimSpace(systemPrompt) == "" {
		return history
	}
	out := make([]Message, 0, len(history)+1)
	out = append(out, Message{Role: "system", Content: systemPrompt})
	out = append(out, history...)
	return out
}

func stripSystemPrompt(history []Message) []Message {
	out := make([]Message, 0, len(history))
	for _, m := range history {
		if m.Role == "system" {
			continue
		}
		out = append(out, m)
	}
	return out
}
