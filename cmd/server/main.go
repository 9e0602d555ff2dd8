// Command server runs the voxbridge Connection Loop: an HTTP server that
// upgrades to a websocket per client, binds a Session Manager and Turn
// Orchestrator, and streams control events back per spec §6.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxbridge-ai/voxbridge/pkg/orchestrator"
	llmProvider "github.com/voxbridge-ai/voxbridge/pkg/providers/llm"
	sttProvider "github.com/voxbridge-ai/voxbridge/pkg/providers/stt"
	ttsProvider "github.com/voxbridge-ai/voxbridge/pkg/providers/tts"
	"github.com/voxbridge-ai/voxbridge/pkg/session"
	"github.com/voxbridge-ai/voxbridge/pkg/telemetry"
	"github.com/voxbridge-ai/voxbridge/pkg/transport"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	groqKey := os.Getenv("GROQ_API_KEY")
	openaiKey := os.Getenv("OPENAI_API_KEY")
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	googleKey := os.Getenv("GOOGLE_API_KEY")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	assemblyKey := os.Getenv("ASSEMBLYAI_API_KEY")
	lokutorKey := os.Getenv("LOKUTOR_API_KEY")

	sttProviderName := envOr("STT_PROVIDER", "groq")
	llmProviderName := envOr("LLM_PROVIDER", "groq")
	addr := envOr("LISTEN_ADDR", ":8080")

	if lokutorKey == "" {
		log.Fatal("Error: LOKUTOR_API_KEY must be set")
	}

	stt := buildSTT(sttProviderName, groqKey, openaiKey, deepgramKey, assemblyKey)
	llm := buildLLM(llmProviderName, groqKey, openaiKey, anthropicKey, googleKey)
	tts := ttsProvider.NewLokutorTTS(lokutorKey)

	if _, err := telemetry.InitProvider(context.Background(), telemetry.ProviderConfig{
		ServiceName:    "voxbridge-server",
		ServiceVersion: "0.1.0",
	}); err != nil {
		log.Fatalf("telemetry: %v", err)
	}

	manager := session.NewManager(session.DefaultSessionTimeout)
	defer manager.Shutdown()

	logger := &orchestrator.NoOpLogger{}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handleConnection(w, r, stt, llm, tts, manager, logger)
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Printf("voxbridge server listening on %s (STT=%s LLM=%s TTS=lokutor)", addr, sttProviderName, llmProviderName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

// handleConnection upgrades one client, performs the signalling handshake
// (spec §4.F), and runs the Connection Loop until the socket closes or the
// heartbeat times out.
func handleConnection(w http.ResponseWriter, r *http.Request, stt orchestrator.STTProvider, llm orchestrator.LLMProvider, tts orchestrator.TTSProvider, manager *session.Manager, logger orchestrator.Logger) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection closed")

	sink := transport.NewWebSocketSink(conn)
	peer := transport.NewAudioFallbackPeer()
	c := transport.NewConnection(sink, peer, manager, logger)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cfg := orchestrator.DefaultConfig()
	runner := orchestrator.NewTurnRunner(stt, llm, tts, cfg, logger)
	vad := orchestrator.NewHysteresisRMSVAD(0.02, 20*time.Millisecond, 150*time.Millisecond, 400*time.Millisecond)
	segmenter, err := orchestrator.NewSegmenter(vad, cfg.SampleRate)
	if err != nil {
		logger.Error("failed to build segmenter", "error", err)
		return
	}

	sess := manager.Create("", session.Prototype{
		SystemPrompt: "You are a helpful and concise voice assistant. Use short sentences suitable for speech.",
		Runner:       runner,
		Playbook:     nil,
	})
	c.BindSession(sess, segmenter)

	if err := c.SendReady(ctx, sess.ID, nil); err != nil {
		return
	}

	// The heartbeat ticker and the inbound-frame reader race to end the
	// connection first (timeout vs. socket close); errgroup.WithContext
	// cancels whichever is still running once either returns.
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return c.RunHeartbeat(egCtx)
	})

	eg.Go(func() error {
		for {
			_, raw, err := sink.ReadMessage(egCtx)
			if err != nil {
				return err
			}
			c.RecordPong()
			if err := c.Dispatch(egCtx, raw); err != nil {
				logger.Warn("dispatch error", "error", err)
			}
		}
	})

	if err := eg.Wait(); err != nil {
		logger.Warn("connection ended", "error", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func buildSTT(name, groqKey, openaiKey, deepgramKey, assemblyKey string) orchestrator.STTProvider {
	switch name {
	case "openai":
		if openaiKey == "" {
			log.Fatal("Error: OPENAI_API_KEY must be set for openai STT")
		}
		return sttProvider.NewOpenAISTT(openaiKey, "whisper-1")
	case "deepgram":
		if deepgramKey == "" {
			log.Fatal("Error: DEEPGRAM_API_KEY must be set for deepgram STT")
		}
		return sttProvider.NewDeepgramSTT(deepgramKey)
	case "assemblyai":
		if assemblyKey == "" {
			log.Fatal("Error: ASSEMBLYAI_API_KEY must be set for assemblyai STT")
		}
		return sttProvider.NewAssemblyAISTT(assemblyKey)
	case "groq":
		fallthrough
	default:
		if groqKey == "" {
			log.Fatal("Error: GROQ_API_KEY must be set for groq STT")
		}
		model := envOr("GROQ_STT_MODEL", "whisper-large-v3-turbo")
		return sttProvider.NewGroqSTT(groqKey, model)
	}
}

func buildLLM(name, groqKey, openaiKey, anthropicKey, googleKey string) orchestrator.LLMProvider {
	switch name {
	case "openai":
		if openaiKey == "" {
			log.Fatal("Error: OPENAI_API_KEY must be set for openai LLM")
		}
		return llmProvider.NewOpenAILLM(openaiKey, "gpt-4o")
	case "anthropic":
		if anthropicKey == "" {
			log.Fatal("Error: ANTHROPIC_API_KEY must be set for anthropic LLM")
		}
		return llmProvider.NewAnthropicLLM(anthropicKey, "claude-3-5-sonnet-20241022")
	case "google":
		if googleKey == "" {
			log.Fatal("Error: GOOGLE_API_KEY must be set for google LLM")
		}
		return llmProvider.NewGoogleLLM(googleKey, "gemini-1.5-flash")
	case "groq":
		fallthrough
	default:
		if groqKey == "" {
			log.Fatal("Error: GROQ_API_KEY must be set for groq LLM")
		}
		return llmProvider.NewGroqLLM(groqKey, "llama-3.3-70b-versatile")
	}
}
