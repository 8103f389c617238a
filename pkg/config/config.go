// Package config loads the voicebridge configuration: a YAML file layered
// over Default, then environment overrides, then Validate.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/voicebridge/pkg/audio/pcm"
	"github.com/haivivi/voicebridge/pkg/audio/transcode"
	"github.com/haivivi/voicebridge/pkg/realtime"
	"github.com/haivivi/voicebridge/pkg/toolrpc/jqtool"
)

// Config is the full service configuration.
type Config struct {
	Listen      string            `yaml:"listen" json:"listen"`
	Log         LogConfig         `yaml:"log" json:"log"`
	Engine      EngineConfig      `yaml:"engine" json:"engine"`
	CallLeg     CallLegConfig     `yaml:"call_leg" json:"call_leg"`
	Session     SessionConfig     `yaml:"session" json:"session"`
	Tools       ToolsConfig       `yaml:"tools" json:"tools"`
	Persistence PersistenceConfig `yaml:"persistence" json:"persistence"`
	Summary     SummaryConfig     `yaml:"summary" json:"summary"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // text or json
}

// EngineConfig configures the reasoning-engine connection.
type EngineConfig struct {
	URL          string `yaml:"url" json:"url"`
	APIKey       string `yaml:"api_key" json:"-"`
	Model        string `yaml:"model" json:"model"`
	Voice        string `yaml:"voice" json:"voice"`
	Instructions string `yaml:"instructions" json:"instructions,omitempty"`

	InputFormat  string `yaml:"input_format" json:"input_format"`
	OutputFormat string `yaml:"output_format" json:"output_format"`

	// Transcode is "linear" or "soxr".
	Transcode string `yaml:"transcode" json:"transcode"`

	TranscriptionModel string    `yaml:"transcription_model" json:"transcription_model"`
	VAD                VADConfig `yaml:"vad" json:"vad"`
	Temperature        float64   `yaml:"temperature" json:"temperature,omitempty"`

	HandshakeTimeout Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	SendQueue        int      `yaml:"send_queue" json:"send_queue"`

	// TeardownOnError ends the call on an engine error event.
	TeardownOnError bool `yaml:"teardown_on_error" json:"teardown_on_error"`
}

type VADConfig struct {
	Threshold       float64  `yaml:"threshold" json:"threshold"`
	PrefixPadding   Duration `yaml:"prefix_padding" json:"prefix_padding"`
	SilenceDuration Duration `yaml:"silence_duration" json:"silence_duration"`
}

type CallLegConfig struct {
	Format string `yaml:"format" json:"format"`
}

type SessionConfig struct {
	MaxAge        Duration `yaml:"max_age" json:"max_age"`
	SweepInterval Duration `yaml:"sweep_interval" json:"sweep_interval"`
	PendingLimit  int      `yaml:"pending_limit" json:"pending_limit"`
	DrainTimeout  Duration `yaml:"drain_timeout" json:"drain_timeout"`
}

type ToolsConfig struct {
	Timeout     Duration            `yaml:"timeout" json:"timeout"`
	MaxInFlight int                 `yaml:"max_in_flight" json:"max_in_flight"`
	Files       []string            `yaml:"files" json:"files,omitempty"`
	Definitions []jqtool.Definition `yaml:"definitions" json:"definitions,omitempty"`
}

// PersistenceConfig selects the sink backend and the optional archive.
type PersistenceConfig struct {
	Driver         string        `yaml:"driver" json:"driver"` // memory or badger
	Dir            string        `yaml:"dir" json:"dir,omitempty"`
	QueueSize      int           `yaml:"queue_size" json:"queue_size"`
	ResolveTimeout Duration      `yaml:"resolve_timeout" json:"resolve_timeout"`
	Archive        ArchiveConfig `yaml:"archive" json:"archive"`
}

type ArchiveConfig struct {
	Driver  string   `yaml:"driver" json:"driver"` // none, local or s3
	Dir     string   `yaml:"dir" json:"dir,omitempty"`
	Timeout Duration `yaml:"timeout" json:"timeout"` // per call, summary included

	Bucket          string `yaml:"bucket" json:"bucket,omitempty"`
	Prefix          string `yaml:"prefix" json:"prefix,omitempty"`
	Region          string `yaml:"region" json:"region,omitempty"`
	Endpoint        string `yaml:"endpoint" json:"endpoint,omitempty"`
	UsePathStyle    bool   `yaml:"use_path_style" json:"use_path_style,omitempty"`
	AccessKeyID     string `yaml:"access_key_id" json:"-"`
	SecretAccessKey string `yaml:"secret_access_key" json:"-"`
}

type SummaryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Model   string `yaml:"model" json:"model,omitempty"`
	BaseURL string `yaml:"base_url" json:"base_url,omitempty"`
	APIKey  string `yaml:"api_key" json:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Log:    LogConfig{Level: "info", Format: "text"},
		Engine: EngineConfig{
			URL:                "wss://api.openai.com/v1/realtime",
			Model:              "gpt-4o-realtime-preview",
			Voice:              "alloy",
			InputFormat:        "g711_ulaw",
			OutputFormat:       "g711_ulaw",
			Transcode:          string(transcode.Linear),
			TranscriptionModel: "whisper-1",
			VAD: VADConfig{
				Threshold:       0.5,
				PrefixPadding:   Duration(300 * time.Millisecond),
				SilenceDuration: Duration(500 * time.Millisecond),
			},
			HandshakeTimeout: Duration(10 * time.Second),
			SendQueue:        256,
		},
		CallLeg: CallLegConfig{Format: "g711_ulaw"},
		Session: SessionConfig{
			MaxAge:        Duration(30 * time.Minute),
			SweepInterval: Duration(30 * time.Second),
			PendingLimit:  500,
			DrainTimeout:  Duration(10 * time.Second),
		},
		Tools: ToolsConfig{
			Timeout:     Duration(10 * time.Second),
			MaxInFlight: 16,
		},
		Persistence: PersistenceConfig{
			Driver:         "memory",
			QueueSize:      1024,
			ResolveTimeout: Duration(2 * time.Second),
			Archive:        ArchiveConfig{Driver: "none", Timeout: Duration(60 * time.Second)},
		},
	}
}

// Load reads path over Default, applies environment overrides and
// validates the result. An empty path uses defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("OPENAI_API_KEY"); ok && v != "" {
		if c.Engine.APIKey == "" {
			c.Engine.APIKey = v
		}
		if c.Summary.APIKey == "" {
			c.Summary.APIKey = v
		}
	}
	if v, ok := lookup("VOICEBRIDGE_LISTEN"); ok && v != "" {
		c.Listen = v
	}
	if v, ok := lookup("VOICEBRIDGE_ENGINE_URL"); ok && v != "" {
		c.Engine.URL = v
	}
	if v, ok := lookup("VOICEBRIDGE_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
}

// Validate rejects configurations the bridge cannot run. Audio format
// combinations are checked by building the transcoding plans the bridge
// will use, so an unsupported conversion fails here instead of mid-call.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen is empty"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}
	if c.Engine.APIKey == "" {
		errs = append(errs, errors.New("engine.api_key is empty (set OPENAI_API_KEY)"))
	}
	if c.Engine.URL == "" {
		errs = append(errs, errors.New("engine.url is empty"))
	}
	if err := c.validateFormats(); err != nil {
		errs = append(errs, err)
	}
	if c.Engine.VAD.Threshold < 0 || c.Engine.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("engine.vad.threshold %v: want 0..1", c.Engine.VAD.Threshold))
	}
	if c.Session.MaxAge <= 0 {
		errs = append(errs, errors.New("session.max_age must be positive"))
	}
	if c.Session.SweepInterval <= 0 {
		errs = append(errs, errors.New("session.sweep_interval must be positive"))
	}
	switch c.Persistence.Driver {
	case "memory":
	case "badger":
		if c.Persistence.Dir == "" {
			errs = append(errs, errors.New("persistence.dir is required for badger"))
		}
	default:
		errs = append(errs, fmt.Errorf("persistence.driver %q: want memory or badger", c.Persistence.Driver))
	}
	if c.Persistence.Archive.Timeout < 0 {
		errs = append(errs, errors.New("persistence.archive.timeout must not be negative"))
	}
	switch a := c.Persistence.Archive; a.Driver {
	case "", "none":
	case "local":
		if a.Dir == "" {
			errs = append(errs, errors.New("persistence.archive.dir is required for local"))
		}
	case "s3":
		if a.Bucket == "" {
			errs = append(errs, errors.New("persistence.archive.bucket is required for s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("persistence.archive.driver %q: want none, local or s3", a.Driver))
	}
	if c.Summary.Enabled && c.Persistence.Archive.Driver == "none" {
		errs = append(errs, errors.New("summary.enabled requires persistence.archive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) validateFormats() error {
	leg, err := pcm.ParseFormat(c.CallLeg.Format)
	if err != nil {
		return fmt.Errorf("call_leg.format: %w", err)
	}
	in, err := c.engineFormat("input_format", c.Engine.InputFormat)
	if err != nil {
		return err
	}
	out, err := c.engineFormat("output_format", c.Engine.OutputFormat)
	if err != nil {
		return err
	}
	mode := transcode.Mode(c.Engine.Transcode)
	for _, pair := range [][2]pcm.Format{{leg, in}, {out, leg}} {
		p, err := transcode.NewPlan(pair[0], pair[1], mode)
		if err != nil {
			return err
		}
		p.Close()
	}
	return nil
}

func (c *Config) engineFormat(field, name string) (pcm.Format, error) {
	f, err := pcm.ParseFormat(name)
	if err != nil {
		return 0, fmt.Errorf("engine.%s: %w", field, err)
	}
	if f.WireName() == "" {
		return 0, fmt.Errorf("engine.%s: %s is not an engine audio format", field, name)
	}
	return f, nil
}

// Formats returns the parsed call-leg and engine formats. Call it only on
// a validated Config.
func (c *Config) Formats() (leg, engineIn, engineOut pcm.Format) {
	leg, _ = pcm.ParseFormat(c.CallLeg.Format)
	engineIn, _ = pcm.ParseFormat(c.Engine.InputFormat)
	engineOut, _ = pcm.ParseFormat(c.Engine.OutputFormat)
	return
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", c.Log.Level, err)
	}
	return l, nil
}

// EngineSession returns the session.update template for new calls. Audio
// formats and tools are filled in by the bridge.
func (c *Config) EngineSession() realtime.SessionConfig {
	sc := realtime.SessionConfig{
		Modalities:   []string{realtime.ModalityText, realtime.ModalityAudio},
		Instructions: c.Engine.Instructions,
		Voice:        c.Engine.Voice,
		TurnDetection: &realtime.TurnDetection{
			Type:              realtime.VADServerVAD,
			Threshold:         c.Engine.VAD.Threshold,
			PrefixPaddingMs:   int(c.Engine.VAD.PrefixPadding.D().Milliseconds()),
			SilenceDurationMs: int(c.Engine.VAD.SilenceDuration.D().Milliseconds()),
		},
	}
	if c.Engine.TranscriptionModel != "" {
		sc.InputAudioTranscription = &realtime.TranscriptionConfig{Model: c.Engine.TranscriptionModel}
	}
	if c.Engine.Temperature > 0 {
		t := c.Engine.Temperature
		sc.Temperature = &t
	}
	return sc
}
