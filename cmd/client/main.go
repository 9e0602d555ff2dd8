// Command client is a microphone/speaker demo client: it captures audio via
// malgo, drives the client-side Reconnect State Machine (spec §4.G) against
// a voxbridge server, and plays back streamed TTS audio.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"

	"github.com/voxbridge-ai/voxbridge/pkg/client"
	"github.com/voxbridge-ai/voxbridge/pkg/transport"
)

const (
	sampleRate = 16000
	channels   = 1
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	serverURL := flag.String("server", envOr("VOXBRIDGE_SERVER_URL", "ws://localhost:8080/"), "voxbridge server websocket URL")
	flag.Parse()

	dialer := client.NewWebSocketDialer(*serverURL)
	machine := client.New(dialer, client.Config{ReconnectEnabled: true})

	machine.OnStateChange(func(c client.StateChange) {
		fmt.Printf("\r\033[K[CONNECTION] %s -> %s\n", c.From, c.To)
	})
	machine.OnReconnecting(func(a client.ReconnectAttempt) {
		fmt.Printf("\r\033[K[RECONNECT] attempt %d/%d\n", a.Attempt, a.Max)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := machine.Start(ctx); err != nil {
		log.Fatalf("initial connect failed: %v", err)
	}

	var playbackMu sync.Mutex
	var playbackBytes []byte

	var botPlayingMu sync.Mutex
	var lastPlayedAt time.Time

	var rmsMu sync.Mutex
	lastRMS := 0.0

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			rms := rmsOf(pInput)
			rmsMu.Lock()
			lastRMS = rms
			rmsMu.Unlock()

			// Heuristic grounded on the teacher's own self-interruption guard:
			// raise the effective threshold while our own TTS is playing so
			// room reverb doesn't trigger the server's VAD as user speech.
			effectiveThreshold := 0.02
			botPlayingMu.Lock()
			if time.Since(lastPlayedAt) < 200*time.Millisecond {
				effectiveThreshold = 0.15
			}
			botPlayingMu.Unlock()

			conn := dialer.Conn()
			if conn != nil && rms > effectiveThreshold {
				sendAudio(ctx, dialer, pInput)
			}
		}
		if pOutput != nil {
			playbackMu.Lock()
			n := copy(pOutput, playbackBytes)
			playbackBytes = playbackBytes[n:]
			if n > 0 {
				botPlayingMu.Lock()
				lastPlayedAt = time.Now()
				botPlayingMu.Unlock()
			}
			for i := n; i < len(pOutput); i++ {
				pOutput[i] = 0
			}
			playbackMu.Unlock()
		}
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer mctx.Uninit()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = channels
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = channels
	deviceConfig.SampleRate = sampleRate

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		log.Fatal(err)
	}
	defer device.Uninit()
	if err := device.Start(); err != nil {
		log.Fatal(err)
	}

	go pumpEvents(ctx, machine, dialer, &playbackMu, &playbackBytes)
	go meter(&rmsMu, &lastRMS)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nShutting down...")
	machine.Close()
}

// pumpEvents drains the dialer's decoded event channel, rendering control
// events and queuing tts-chunk PCM for playback. On channel close (the
// socket died) it hands off to HandleLoss and resumes draining the new
// channel once reconnected.
func pumpEvents(ctx context.Context, machine *client.Machine, dialer *client.WebSocketDialer, playbackMu *sync.Mutex, playbackBytes *[]byte) {
	for {
		events := dialer.Events()
		for ev := range events {
			render(ev, playbackMu, playbackBytes)
		}
		if ctx.Err() != nil {
			return
		}
		if err := machine.HandleLoss(ctx); err != nil {
			fmt.Printf("\r\033[K[FATAL] reconnect failed: %v\n", err)
			return
		}
	}
}

func render(ev client.ServerEvent, playbackMu *sync.Mutex, playbackBytes *[]byte) {
	switch ev.Type {
	case transport.TypeSpeechStart:
		fmt.Printf("\r\033[K[USER] speaking...\n")
	case transport.TypeSpeechEnd:
		fmt.Printf("\r\033[K[STT] processing...\n")
	case transport.TypeTranscript:
		var t transport.ServerTranscript
		json.Unmarshal(ev.Raw, &t)
		if t.IsFinal {
			fmt.Printf("\r\033[K[TRANSCRIPT] %s\n", t.Text)
		}
	case transport.TypeTTSStart:
		fmt.Printf("\r\033[K[TTS] speaking...\n")
	case transport.TypeTTSChunk:
		var c transport.ServerTTSChunk
		json.Unmarshal(ev.Raw, &c)
		pcm, err := base64.StdEncoding.DecodeString(c.Data)
		if err == nil {
			playbackMu.Lock()
			*playbackBytes = append(*playbackBytes, pcm...)
			playbackMu.Unlock()
		}
	case transport.TypeTTSCancelled:
		fmt.Printf("\r\033[K[INTERRUPTED] user started talking.\n")
		playbackMu.Lock()
		*playbackBytes = nil
		playbackMu.Unlock()
	case transport.TypeToolCallStart:
		var tc transport.ServerToolCallStart
		json.Unmarshal(ev.Raw, &tc)
		fmt.Printf("\r\033[K[TOOL] calling %s...\n", tc.Name)
	case transport.TypeStageChange:
		var sc transport.ServerStageChange
		json.Unmarshal(ev.Raw, &sc)
		fmt.Printf("\r\033[K[STAGE] %s -> %s (%s)\n", sc.From, sc.To, sc.Reason)
	case transport.TypeError:
		var e transport.ServerError
		json.Unmarshal(ev.Raw, &e)
		fmt.Printf("\r\033[K[ERROR] %s: %s\n", e.Code, e.Message)
	}
}

func sendAudio(ctx context.Context, dialer *client.WebSocketDialer, pcm []byte) {
	conn := dialer.Conn()
	if conn == nil {
		return
	}
	body, err := json.Marshal(map[string]interface{}{
		"type": transport.TypeAudio,
		"data": base64.StdEncoding.EncodeToString(pcm),
	})
	if err != nil {
		return
	}
	_ = conn.Write(ctx, websocket.MessageText, body)
}

func rmsOf(pcm []byte) float64 {
	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | (int16(pcm[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
	}
	if len(pcm) < 2 {
		return 0
	}
	return math.Sqrt(sum / float64(len(pcm)/2))
}

func meter(mu *sync.Mutex, lastRMS *float64) {
	for {
		mu.Lock()
		level := *lastRMS
		mu.Unlock()
		dots := int(level * 500)
		if dots > 40 {
			dots = 40
		}
		bar := ""
		for i := 0; i < dots; i++ {
			bar += "|"
		}
		fmt.Printf("\r[MIC ENERGY: %-40s] RMS: %.5f", bar, level)
		time.Sleep(100 * time.Millisecond)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
