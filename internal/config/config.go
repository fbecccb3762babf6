package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type AudioConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend"` // "portaudio", "auto"
	Device        string `mapstructure:"device" yaml:"device"`   // empty = default input device
	SampleRate    int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels      int    `mapstructure:"channels" yaml:"channels"`
	BitsPerSample int    `mapstructure:"bits_per_sample" yaml:"bits_per_sample"`
	ChunkBytes    int    `mapstructure:"chunk_bytes" yaml:"chunk_bytes"` // bytes per device read
}

type RecordingConfig struct {
	DurationSeconds    int `mapstructure:"duration_seconds" yaml:"duration_seconds"`
	MaxDurationSeconds int `mapstructure:"max_duration_seconds" yaml:"max_duration_seconds"`
}

type OutputConfig struct {
	Directory       string `mapstructure:"directory" yaml:"directory"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	TimestampLayout string `mapstructure:"timestamp_layout" yaml:"timestamp_layout"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"` // empty = stderr only
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// maxSampleRate matches the highest rate common audio interfaces offer.
const maxSampleRate = 384000

var defaultConfig = Config{
	Audio: AudioConfig{
		Backend:       "auto",
		SampleRate:    44100,
		Channels:      1,
		BitsPerSample: 16,
		ChunkBytes:    1024,
	},
	Recording: RecordingConfig{
		DurationSeconds:    30,
		MaxDurationSeconds: 3600,
	},
	Output: OutputConfig{
		Directory:       "~/Audio/MyBackRec",
		Prefix:          "mybackrec_",
		TimestampLayout: "20060102_150405",
	},
	Server: ServerConfig{
		Port: "8080",
	},
	Log: LogConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	},
}

// Default returns a copy of the built-in configuration with paths expanded.
func Default() *Config {
	cfg := defaultConfig
	cfg.Output.Directory = expandPath(cfg.Output.Directory)
	return &cfg
}

// DefaultPath returns the config file location used when --config is not given.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/mybackrec.yaml")
}

// Load reads configFile on top of the defaults. A missing file is not an error;
// environment variables prefixed with MYBACKREC_ still apply.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MYBACKREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Output.Directory = expandPath(cfg.Output.Directory)
	cfg.Log.File = expandPath(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := defaultConfig
	v.SetDefault("audio.backend", d.Audio.Backend)
	v.SetDefault("audio.device", d.Audio.Device)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.bits_per_sample", d.Audio.BitsPerSample)
	v.SetDefault("audio.chunk_bytes", d.Audio.ChunkBytes)
	v.SetDefault("recording.duration_seconds", d.Recording.DurationSeconds)
	v.SetDefault("recording.max_duration_seconds", d.Recording.MaxDurationSeconds)
	v.SetDefault("output.directory", d.Output.Directory)
	v.SetDefault("output.prefix", d.Output.Prefix)
	v.SetDefault("output.timestamp_layout", d.Output.TimestampLayout)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
}

// WriteDefault writes the built-in configuration to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	out, err := yaml.Marshal(defaultConfig)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Validate checks the values the recorder depends on.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Audio.Backend) {
	case "portaudio", "auto", "":
	default:
		return fmt.Errorf("audio.backend must be 'portaudio' or 'auto', got: %s", c.Audio.Backend)
	}

	// Only mono 16-bit capture is supported.
	if c.Audio.Channels != 1 {
		return fmt.Errorf("audio.channels must be 1, got: %d", c.Audio.Channels)
	}
	if c.Audio.BitsPerSample != 16 {
		return fmt.Errorf("audio.bits_per_sample must be 16, got: %d", c.Audio.BitsPerSample)
	}
	if c.Audio.SampleRate <= 0 || c.Audio.SampleRate > maxSampleRate {
		return fmt.Errorf("audio.sample_rate must be between 1 and %d, got: %d", maxSampleRate, c.Audio.SampleRate)
	}

	frame := c.Audio.Channels * c.Audio.BitsPerSample / 8
	if c.Audio.ChunkBytes <= 0 || c.Audio.ChunkBytes%frame != 0 {
		return fmt.Errorf("audio.chunk_bytes must be a positive multiple of %d, got: %d", frame, c.Audio.ChunkBytes)
	}

	if c.Recording.DurationSeconds <= 0 {
		return fmt.Errorf("recording.duration_seconds must be positive, got: %d", c.Recording.DurationSeconds)
	}
	if c.Recording.MaxDurationSeconds < c.Recording.DurationSeconds {
		return fmt.Errorf("recording.max_duration_seconds (%d) must be at least recording.duration_seconds (%d)",
			c.Recording.MaxDurationSeconds, c.Recording.DurationSeconds)
	}

	if c.Output.Directory == "" {
		return fmt.Errorf("output.directory is required")
	}
	if !isValidFilePrefix(c.Output.Prefix) {
		return fmt.Errorf("output.prefix may only contain letters, numbers, '-', '_' and '.', got: %q", c.Output.Prefix)
	}
	if c.Output.TimestampLayout == "" {
		return fmt.Errorf("output.timestamp_layout is required")
	}

	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	return nil
}

// expandPath replaces a leading ~/ with the user's home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// isValidFilePrefix allows letters, numbers, hyphens, underscores and dots
func isValidFilePrefix(prefix string) bool {
	for _, r := range prefix {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			continue
		}
		return false
	}
	return !strings.Contains(prefix, "..")
}
