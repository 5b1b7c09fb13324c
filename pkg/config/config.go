package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joelsemar/django-webservice-tools/internal/audio/codec"
	audioconfig "github.com/joelsemar/django-webservice-tools/internal/audio/config"
	"github.com/joelsemar/django-webservice-tools/internal/audio/convert"
)

// Config represents the complete service configuration
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	HTTP      HTTPConfig      `yaml:"http"`
	Transcode TranscodeConfig `yaml:"transcode"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Address        string   `yaml:"address"`
	Port           int      `yaml:"port"`
	MaxConcurrent  int      `yaml:"max_concurrent"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`
	ReadTimeout    int      `yaml:"read_timeout"`  // seconds
	WriteTimeout   int      `yaml:"write_timeout"` // seconds
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TranscodeConfig holds the defaults for a transcode; HTTP requests and CLI
// flags may override them per call.
type TranscodeConfig struct {
	From            string  `yaml:"from"`
	To              string  `yaml:"to"`
	Mode            int     `yaml:"mode"` // frame duration in ms
	InputFormat     string  `yaml:"input_format"`
	OutputFormat    string  `yaml:"output_format"`
	OpusSampleRate  int     `yaml:"opus_sample_rate"`
	OpusBitrate     int     `yaml:"opus_bitrate"`
	MP3Bitrate      string  `yaml:"mp3_bitrate"`
	FFmpegPath      string  `yaml:"ffmpeg_path"`
	DTX             bool    `yaml:"dtx"`
	FramesPerChunk  int     `yaml:"frames_per_chunk"`
	ExpansionFactor float64 `yaml:"expansion_factor"`
	MaxOutputBytes  int     `yaml:"max_output_bytes"`
}

// MaxExpansionFactor bounds expansion_factor. The factor only presizes the
// output buffer, which still grows past the estimate when needed.
const MaxExpansionFactor = 64

func Default() *Config {
	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Address:        "0.0.0.0",
			Port:           8080,
			MaxConcurrent:  16,
			MaxBodyBytes:   32 << 20,
			ReadTimeout:    60,
			WriteTimeout:   120,
			AllowedOrigins: []string{"*"},
		},
		Transcode: TranscodeConfig{
			From:            "pcmu",
			To:              "mp3",
			Mode:            int(audioconfig.Mode20ms),
			InputFormat:     "s16le",
			OutputFormat:    "s16le",
			OpusSampleRate:  audioconfig.SampleRatePCM,
			MP3Bitrate:      "32k",
			FFmpegPath:      "ffmpeg",
			FramesPerChunk:  1,
			ExpansionFactor: 2,
		},
	}
}

// Load reads the configuration file on top of Default, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("HTTP_ADDRESS"); v != "" {
		c.HTTP.Address = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTTP_PORT: %w", err)
		}
		c.HTTP.Port = port
	}
	if v := os.Getenv("TRANSCODE_FROM"); v != "" {
		c.Transcode.From = v
	}
	if v := os.Getenv("TRANSCODE_TO"); v != "" {
		c.Transcode.To = v
	}
	if v := os.Getenv("TRANSCODE_MODE"); v != "" {
		mode, err := audioconfig.ParseMode(v)
		if err != nil {
			return fmt.Errorf("TRANSCODE_MODE: %w", err)
		}
		c.Transcode.Mode = int(mode)
	}
	if v := os.Getenv("FFMPEG_PATH"); v != "" {
		c.Transcode.FFmpegPath = v
	}
	return nil
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if err := c.Transcode.Validate(); err != nil {
		return fmt.Errorf("transcode config: %w", err)
	}
	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}
	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if h.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", h.MaxConcurrent)
	}
	if h.MaxBodyBytes < 1 {
		return fmt.Errorf("max_body_bytes must be positive, got %d", h.MaxBodyBytes)
	}
	if h.ReadTimeout < 0 || h.WriteTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	return nil
}

// Validate validates transcode defaults
func (t *TranscodeConfig) Validate() error {
	if err := audioconfig.FrameSizeMode(t.Mode).Validate(); err != nil {
		return fmt.Errorf("mode: %w", err)
	}
	if _, err := audioconfig.Lookup(t.From); err != nil {
		return fmt.Errorf("from: %w", err)
	}
	if _, err := audioconfig.Lookup(t.To); err != nil {
		return fmt.Errorf("to: %w", err)
	}
	if _, err := convert.ParseSampleFormat(t.InputFormat); err != nil {
		return fmt.Errorf("input_format: %w", err)
	}
	if _, err := convert.ParseSampleFormat(t.OutputFormat); err != nil {
		return fmt.Errorf("output_format: %w", err)
	}
	switch t.OpusSampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("opus_sample_rate must be an opus rate, got %d", t.OpusSampleRate)
	}
	if t.FramesPerChunk < 1 {
		return fmt.Errorf("frames_per_chunk must be at least 1, got %d", t.FramesPerChunk)
	}
	if t.ExpansionFactor < 0 || t.ExpansionFactor > MaxExpansionFactor {
		return fmt.Errorf("expansion_factor must be between 0 and %d, got %f", MaxExpansionFactor, t.ExpansionFactor)
	}
	if t.MaxOutputBytes < 0 {
		return fmt.Errorf("max_output_bytes cannot be negative, got %d", t.MaxOutputBytes)
	}
	return nil
}

// FrameMode returns Mode as a frame size mode.
func (t TranscodeConfig) FrameMode() audioconfig.FrameSizeMode {
	return audioconfig.FrameSizeMode(t.Mode)
}

// CodecOptions builds factory options from the configured defaults.
func (t TranscodeConfig) CodecOptions() (codec.Options, error) {
	out, err := convert.ParseSampleFormat(t.OutputFormat)
	if err != nil {
		return codec.Options{}, err
	}
	return codec.Options{
		From:           t.From,
		To:             t.To,
		OutputFormat:   out,
		OpusSampleRate: t.OpusSampleRate,
		OpusBitrate:    t.OpusBitrate,
		MP3Bitrate:     t.MP3Bitrate,
		FFmpegPath:     t.FFmpegPath,
		DTX:            t.DTX,
		FramesPerChunk: t.FramesPerChunk,
	}, nil
}
