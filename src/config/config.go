package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice pipeline service.
type Config struct {
	// Server configuration
	Addr        string `envconfig:"ADDR" default:":8080"`
	SessionPath string `envconfig:"SESSION_PATH" default:"/session"`

	// Inbound audio codec: pcm or opus
	InputCodec string `envconfig:"INPUT_CODEC" default:"pcm"`

	// Pipeline sample rate in Hz
	SampleRate int `envconfig:"SAMPLE_RATE" default:"16000"`

	// AssemblyAI streaming STT
	AssemblyAIAPIKey string `envconfig:"ASSEMBLYAI_API_KEY" required:"true"`

	// Gemini agent
	GeminiAPIKey      string  `envconfig:"GEMINI_API_KEY" required:"true"`
	GeminiModel       string  `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	GeminiPrompt      string  `envconfig:"GEMINI_SYSTEM_PROMPT" default:""`
	GeminiTemperature float32 `envconfig:"GEMINI_TEMPERATURE" default:"0.7"`

	// ElevenLabs TTS
	ElevenLabsAPIKey string `envconfig:"ELEVENLABS_API_KEY" required:"true"`
	ElevenLabsVoice  string `envconfig:"ELEVENLABS_VOICE_ID" default:"21m00Tcm4TlvDq8ikWAM"`
	ElevenLabsModel  string `envconfig:"ELEVENLABS_MODEL" default:"eleven_turbo_v2_5"`
	ElevenLabsFormat string `envconfig:"ELEVENLABS_OUTPUT_FORMAT" default:"pcm_24000"`

	// Speech gating
	VADEnabled         bool    `envconfig:"VAD_ENABLED" default:"true"`
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"25"`      // Frames of silence to mark speech end

	// Turn segmentation idle threshold in milliseconds
	TurnIdleThresholdMs int `envconfig:"TURN_IDLE_THRESHOLD_MS" default:"1000"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`  // debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	EventsPath     string `envconfig:"EVENTS_PATH" default:"/events"` // live event stream endpoint
}

// Load reads configuration from environment variables. A .env file is
// merged in first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without consulting a .env file.
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.InputCodec != "pcm" && cfg.InputCodec != "opus" {
		return nil, fmt.Errorf("INPUT_CODEC must be pcm or opus, got %q", cfg.InputCodec)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("SAMPLE_RATE must be positive, got %d", cfg.SampleRate)
	}
	if cfg.TurnIdleThresholdMs <= 0 {
		return nil, fmt.Errorf("TURN_IDLE_THRESHOLD_MS must be positive, got %d", cfg.TurnIdleThresholdMs)
	}

	return &cfg, nil
}
