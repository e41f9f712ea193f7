// Package config loads realtime-voice client configuration from YAML with
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AltairaLabs/realtime-voice/audio"
	"github.com/AltairaLabs/realtime-voice/protocol"
	"github.com/AltairaLabs/realtime-voice/transport"
)

// Provider names.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
)

// Store types.
const (
	StoreNone   = "none"
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Environment variables read by ApplyEnv.
const (
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvAzureEndpoint    = "AZURE_OPENAI_ENDPOINT"
	EnvAzureDeployment  = "AZURE_OPENAI_DEPLOYMENT"
	EnvAzureAPIKey      = "AZURE_OPENAI_API_KEY"
	EnvAzureAPIVersion  = "AZURE_OPENAI_API_VERSION"
	EnvProvider         = "REALTIME_PROVIDER"
	EnvModel            = "REALTIME_MODEL"
	EnvVoice            = "REALTIME_VOICE"
	EnvRedisAddr        = "REALTIME_REDIS_ADDR"
	EnvMetricsAddr      = "REALTIME_METRICS_ADDR"
	EnvTracingEndpoint  = "REALTIME_OTLP_ENDPOINT"
	EnvLocalVADEnabled  = "REALTIME_LOCAL_VAD"
	EnvInterruptionMode = "REALTIME_INTERRUPTION"
)

const (
	defaultVoice        = "alloy"
	defaultStoreTTL     = 24 * time.Hour
	defaultStorePrefix  = "realtime"
	defaultServiceName  = "realtime-voice"
	defaultTranscriber  = "whisper-1"
	defaultTurnDetector = "server_vad"
)

// Config is the complete client configuration.
type Config struct {
	Provider string        `yaml:"provider"`
	OpenAI   OpenAIConfig  `yaml:"openai"`
	Azure    AzureConfig   `yaml:"azure"`
	Session  SessionConfig `yaml:"session"`
	Audio    AudioConfig   `yaml:"audio"`
	Tools    []Tool        `yaml:"tools,omitempty"`
	Store    StoreConfig   `yaml:"store"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Tracing  TracingConfig `yaml:"tracing"`
	LogLevel string        `yaml:"log_level,omitempty"`
}

// OpenAIConfig selects the OpenAI realtime endpoint.
type OpenAIConfig struct {
	URL    string `yaml:"url,omitempty"`
	Model  string `yaml:"model,omitempty"`
	APIKey string `yaml:"api_key,omitempty"`
}

// AzureConfig selects an Azure OpenAI realtime deployment. Without an API
// key the default Azure credential chain is used.
type AzureConfig struct {
	Endpoint   string `yaml:"endpoint,omitempty"`
	Deployment string `yaml:"deployment,omitempty"`
	APIVersion string `yaml:"api_version,omitempty"`
	APIKey     string `yaml:"api_key,omitempty"`
}

// SessionConfig is sent to the server as the initial session.update.
type SessionConfig struct {
	Voice         string   `yaml:"voice,omitempty"`
	Instructions  string   `yaml:"instructions,omitempty"`
	Modalities    []string `yaml:"modalities,omitempty"`
	Temperature   float64  `yaml:"temperature,omitempty"`
	Transcription string   `yaml:"transcription,omitempty"`
	TurnDetection string   `yaml:"turn_detection,omitempty"`
}

// AudioConfig configures the local audio devices.
type AudioConfig struct {
	SampleRate   int             `yaml:"sample_rate,omitempty"`
	ChunkFrames  int             `yaml:"chunk_frames,omitempty"`
	InputDevice  string          `yaml:"input_device,omitempty"`
	OutputDevice string          `yaml:"output_device,omitempty"`
	LocalVAD     *LocalVADConfig `yaml:"local_vad,omitempty"`
	Interruption string          `yaml:"interruption,omitempty"`
}

// LocalVADConfig enables client-side voice activity detection.
type LocalVADConfig struct {
	Confidence float64 `yaml:"confidence,omitempty"`
	StartSecs  float64 `yaml:"start_secs,omitempty"`
	StopSecs   float64 `yaml:"stop_secs,omitempty"`
	MinVolume  float64 `yaml:"min_volume,omitempty"`
}

// StoreConfig selects where conversation snapshots are kept.
type StoreConfig struct {
	Type     string        `yaml:"type,omitempty"`
	Addr     string        `yaml:"addr,omitempty"`
	Password string        `yaml:"password,omitempty"`
	DB       int           `yaml:"db,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"`
	Prefix   string        `yaml:"prefix,omitempty"`
}

// MetricsConfig enables the Prometheus exporter when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// TracingConfig enables OTLP trace export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint,omitempty"`
	ServiceName string `yaml:"service_name,omitempty"`
}

// Default returns a configuration for the public OpenAI endpoint.
func Default() *Config {
	return &Config{
		Provider: ProviderOpenAI,
		OpenAI: OpenAIConfig{
			URL:   transport.DefaultOpenAIURL,
			Model: transport.DefaultModel,
		},
		Azure: AzureConfig{APIVersion: transport.DefaultAzureAPIVersion},
		Session: SessionConfig{
			Voice:         defaultVoice,
			Modalities:    []string{"audio", "text"},
			Transcription: defaultTranscriber,
			TurnDetection: defaultTurnDetector,
		},
		Audio: AudioConfig{
			SampleRate:   protocol.DefaultSampleRate,
			ChunkFrames:  audio.DefaultChunkFrames,
			Interruption: audio.InterruptionImmediate.String(),
		},
		Store: StoreConfig{
			Type:   StoreNone,
			TTL:    defaultStoreTTL,
			Prefix: defaultStorePrefix,
		},
		Tracing: TracingConfig{ServiceName: defaultServiceName},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Provider, EnvProvider)
	set(&c.OpenAI.APIKey, EnvOpenAIAPIKey)
	set(&c.OpenAI.Model, EnvModel)
	set(&c.Azure.Endpoint, EnvAzureEndpoint)
	set(&c.Azure.Deployment, EnvAzureDeployment)
	set(&c.Azure.APIKey, EnvAzureAPIKey)
	set(&c.Azure.APIVersion, EnvAzureAPIVersion)
	set(&c.Session.Voice, EnvVoice)
	set(&c.Metrics.Addr, EnvMetricsAddr)
	set(&c.Tracing.Endpoint, EnvTracingEndpoint)
	set(&c.Audio.Interruption, EnvInterruptionMode)

	if v := getenv(EnvRedisAddr); v != "" {
		c.Store.Type = StoreRedis
		c.Store.Addr = v
	}
	if v, err := strconv.ParseBool(getenv(EnvLocalVADEnabled)); err == nil {
		switch {
		case v && c.Audio.LocalVAD == nil:
			c.Audio.LocalVAD = &LocalVADConfig{}
		case !v:
			c.Audio.LocalVAD = nil
		}
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			errs = append(errs, fmt.Errorf("openai.api_key is required (or set %s)", EnvOpenAIAPIKey))
		}
	case ProviderAzure:
		if _, err := transport.AzureURL(c.Azure.Endpoint, c.Azure.Deployment, c.Azure.APIVersion); err != nil {
			errs = append(errs, fmt.Errorf("azure: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}

	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.ChunkFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_frames must not be negative, got %d", c.Audio.ChunkFrames))
	}
	if _, err := audio.ParseInterruptionStrategy(c.Audio.Interruption); err != nil {
		errs = append(errs, fmt.Errorf("audio.interruption: %w", err))
	}
	if c.Audio.LocalVAD != nil {
		if err := c.Audio.LocalVAD.Params().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("audio.local_vad: %w", err))
		}
	}

	switch c.Session.TurnDetection {
	case "", "none", defaultTurnDetector:
	default:
		errs = append(errs, fmt.Errorf("session.turn_detection must be %q or \"none\", got %q",
			defaultTurnDetector, c.Session.TurnDetection))
	}

	switch c.Store.Type {
	case "", StoreNone, StoreMemory:
	case StoreRedis:
		if c.Store.Addr == "" {
			errs = append(errs, errors.New("store.addr is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store type %q", c.Store.Type))
	}

	if _, err := NewToolSet(c.Tools); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Params converts the YAML form to audio.VADParams, filling unset fields
// from audio.DefaultVADParams. A zero StartSecs keeps the default; use a
// tiny positive value for near-immediate detection.
func (v *LocalVADConfig) Params() audio.VADParams {
	p := audio.DefaultVADParams()
	if v.Confidence != 0 {
		p.Confidence = v.Confidence
	}
	if v.StartSecs != 0 {
		p.StartSecs = v.StartSecs
	}
	if v.StopSecs != 0 {
		p.StopSecs = v.StopSecs
	}
	if v.MinVolume != 0 {
		p.MinVolume = v.MinVolume
	}
	return p
}

// WireFormat is the pcm16 format exchanged with the server.
func (c *Config) WireFormat() audio.Format {
	return audio.PCM16(c.Audio.SampleRate, 1)
}

// InterruptionStrategy returns the parsed barge-in strategy.
func (c *Config) InterruptionStrategy() audio.InterruptionStrategy {
	s, err := audio.ParseInterruptionStrategy(c.Audio.Interruption)
	if err != nil {
		return audio.InterruptionImmediate
	}
	return s
}

// SessionUpdate builds the session sent after connecting.
func (c *Config) SessionUpdate(tools *ToolSet) protocol.Session {
	s := protocol.Session{
		Voice:             c.Session.Voice,
		Instructions:      c.Session.Instructions,
		Modalities:        c.Session.Modalities,
		Temperature:       c.Session.Temperature,
		InputAudioFormat:  protocol.AudioFormatPCM16,
		OutputAudioFormat: protocol.AudioFormatPCM16,
	}
	if c.Session.Transcription != "" {
		s.InputAudioTranscription = &protocol.TranscriptionConfig{Model: c.Session.Transcription}
	}
	if c.Session.TurnDetection != "none" {
		s.TurnDetection = &protocol.TurnDetection{Type: defaultTurnDetector}
	}
	if tools != nil {
		s.Tools = tools.Definitions()
		if len(s.Tools) > 0 {
			s.ToolChoice = "auto"
		}
	}
	return s
}
