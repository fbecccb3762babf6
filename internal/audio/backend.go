package audio

import (
	"errors"
	"strings"

	"github.com/robertobartola/mybackrec/internal/config"
	"github.com/robertobartola/mybackrec/internal/wav"
)

var (
	// ErrDeviceUnavailable means the input device could not be opened
	// (missing, busy, or microphone permission denied).
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
	// ErrInvalidFormat means the device rejected the requested sample format.
	ErrInvalidFormat = errors.New("audio format rejected by device")
	// ErrDevice means a read from an open device failed.
	ErrDevice = errors.New("audio device error")
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePortAudio BackendType = "portaudio"
	BackendTypeAuto      BackendType = "auto"
)

// StreamOptions selects the device and read granularity for a capture stream.
type StreamOptions struct {
	Device     string // empty selects the system default input
	ChunkBytes int
}

// Stream is an open input device delivering raw little-endian PCM.
type Stream interface {
	// Read blocks until up to len(p) bytes of audio are available.
	Read(p []byte) (int, error)
	Close() error
}

// DeviceInfo describes an input device reported by a backend.
type DeviceInfo struct {
	Name              string  `json:"name"`
	HostAPI           string  `json:"host_api"`
	MaxInputChannels  int     `json:"max_input_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
	IsDefault         bool    `json:"is_default"`
}

// Backend opens capture streams on a platform audio API.
type Backend interface {
	// Open opens and starts an input stream in the given format.
	Open(format wav.Format, opts StreamOptions) (Stream, error)

	// ListDevices returns the devices that can be used for capture.
	ListDevices() ([]DeviceInfo, error)

	// GetType returns the backend type
	GetType() BackendType
}

// SelectBackend determines which backend to use based on configuration.
// Implementations live in subpackages so that this package builds without
// any native audio library.
func SelectBackend(cfg *config.Config) BackendType {
	if cfg != nil && cfg.Audio.Backend != "" {
		switch strings.ToLower(cfg.Audio.Backend) {
		case "portaudio", "auto":
			return BackendTypePortAudio
		}
	}

	// PortAudio is the only backend available
	return BackendTypePortAudio
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypePortAudio}
}
