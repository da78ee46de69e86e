package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/meander-labs/voicetrace/src/audio"
	"github.com/meander-labs/voicetrace/src/config"
	"github.com/meander-labs/voicetrace/src/instrument"
	"github.com/meander-labs/voicetrace/src/observability"
	"github.com/meander-labs/voicetrace/src/observer"
	"github.com/meander-labs/voicetrace/src/pipeline"
	"github.com/meander-labs/voicetrace/src/services/assemblyai"
	"github.com/meander-labs/voicetrace/src/services/elevenlabs"
	"github.com/meander-labs/voicetrace/src/services/gemini"
	"github.com/meander-labs/voicetrace/src/transports"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.Component("main")

	logger.Info().
		Str("addr", cfg.Addr).
		Str("codec", cfg.InputCodec).
		Int("sample_rate", cfg.SampleRate).
		Msg("voicetrace starting")

	// Live event stream plus metrics on an ops mux next to the session socket.
	eventSink := observer.NewWebSocketSink()
	sinks := observer.Multi{observer.NewLogSink(observability.Component("events")), eventSink}

	opsMux := http.NewServeMux()
	opsMux.Handle(cfg.EventsPath, eventSink)
	opsMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	if cfg.MetricsEnabled {
		opsMux.Handle("/metrics", observability.MetricsHandler())
		logger.Info().Msg("prometheus metrics enabled at /metrics")
	}

	transport := transports.NewWebSocketTransport(transports.Config{
		Addr:       cfg.Addr,
		Path:       cfg.SessionPath,
		Codec:      cfg.InputCodec,
		SampleRate: cfg.SampleRate,
	})

	var detector audio.SpeechDetector
	if cfg.VADEnabled {
		detector = audio.NewEnergyDetector(audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
		})
	}

	stt := assemblyai.NewSTTService(assemblyai.STTConfig{
		APIKey:     cfg.AssemblyAIAPIKey,
		SampleRate: cfg.SampleRate,
		Detector:   detector,
	})
	agent := gemini.NewAgentService(gemini.AgentConfig{
		APIKey:       cfg.GeminiAPIKey,
		Model:        cfg.GeminiModel,
		SystemPrompt: cfg.GeminiPrompt,
		Temperature:  cfg.GeminiTemperature,
	})
	tts := elevenlabs.NewTTSService(elevenlabs.TTSConfig{
		APIKey:       cfg.ElevenLabsAPIKey,
		VoiceID:      cfg.ElevenLabsVoice,
		Model:        cfg.ElevenLabsModel,
		OutputFormat: cfg.ElevenLabsFormat,
	})

	stages := []pipeline.Stage{
		{Proc: transport.Input(), Style: instrument.Style{Short: "IN", Color: "#8899aa"}},
		{Proc: stt, Style: instrument.Style{Short: "STT", Color: "#4fc3f7"}},
		{Proc: agent, Style: instrument.Style{Short: "AGENT", Color: "#ba68c8"}},
		{Proc: tts, Style: instrument.Style{Short: "TTS", Color: "#81c784"}},
		{Proc: transport.Output(), Style: instrument.Style{Short: "OUT", Color: "#ffb74d"}},
	}

	p := pipeline.NewPipeline(stages, pipeline.Options{
		IdleThreshold: time.Duration(cfg.TurnIdleThresholdMs) * time.Millisecond,
		Sink:          sinks,
	})
	task := pipeline.NewTask(p, cfg.SampleRate)
	task.OnError(func(err error) {
		logger.Error().Err(err).Msg("pipeline error")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opsServer := &http.Server{
		Addr:        opsAddr(cfg.Addr),
		Handler:     opsMux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", opsServer.Addr).Msg("ops server listening")
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("ops server failed")
		}
	}()

	go func() {
		if err := transport.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("transport failed")
			cancel()
		}
	}()

	done := make(chan error, 1)
	go func() { done <- task.Run(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-done:
		if err != nil {
			logger.Error().Err(err).Msg("pipeline exited with error")
		}
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		task.Cancel()
		<-done
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	opsServer.Shutdown(shutdownCtx)
	eventSink.Close()
	cancel()

	logger.Info().Msg("voicetrace exited")
}

// opsAddr derives the metrics/events listen address from the session
// address by shifting the port up by one.
func opsAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ":9090"
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return ":9090"
	}
	return net.JoinHostPort(host, strconv.Itoa(n+1))
}
