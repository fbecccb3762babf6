// Package portaudio implements audio.Backend on top of the PortAudio C library.
package portaudio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	pa "github.com/gordonklaus/portaudio"

	"github.com/robertobartola/mybackrec/internal/audio"
	"github.com/robertobartola/mybackrec/internal/wav"
)

// Backend captures from the microphone through PortAudio's blocking read API.
type Backend struct{}

var _ audio.Backend = (*Backend)(nil)

// New returns a PortAudio backend. PortAudio itself is initialized per stream.
func New() *Backend {
	return &Backend{}
}

// GetType returns the backend type
func (p *Backend) GetType() audio.BackendType {
	return audio.BackendTypePortAudio
}

// Open initializes PortAudio and starts a mono 16-bit input stream.
func (p *Backend) Open(format wav.Format, opts audio.StreamOptions) (audio.Stream, error) {
	if format.Channels != 1 || format.BitsPerSample != 16 {
		return nil, fmt.Errorf("%w: only mono 16-bit capture is supported, got %s", audio.ErrInvalidFormat, format)
	}
	frameBytes := int(format.BlockAlign())
	if opts.ChunkBytes <= 0 || opts.ChunkBytes%frameBytes != 0 {
		return nil, fmt.Errorf("%w: chunk size %d is not a multiple of %d", audio.ErrInvalidFormat, opts.ChunkBytes, frameBytes)
	}

	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio init: %v", audio.ErrDeviceUnavailable, err)
	}

	device, err := findInputDevice(opts.Device)
	if err != nil {
		pa.Terminate() //nolint:errcheck
		return nil, err
	}

	samples := make([]int16, opts.ChunkBytes/frameBytes)
	params := pa.HighLatencyParameters(device, nil)
	params.Input.Channels = int(format.Channels)
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = len(samples)

	stream, err := pa.OpenStream(params, samples)
	if err != nil {
		pa.Terminate() //nolint:errcheck
		return nil, classifyOpenError(err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()        //nolint:errcheck
		pa.Terminate() //nolint:errcheck
		return nil, classifyOpenError(err)
	}

	slog.Debug("PortAudio input stream started",
		"device", device.Name,
		"host_api", hostAPIName(device),
		"sample_rate", format.SampleRate,
		"frames_per_buffer", len(samples))

	return &portAudioStream{stream: stream, samples: samples}, nil
}

// ListDevices returns all devices with at least one input channel.
func (p *Backend) ListDevices() ([]audio.DeviceInfo, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio init: %v", audio.ErrDeviceUnavailable, err)
	}
	defer pa.Terminate() //nolint:errcheck

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list PortAudio devices: %w", err)
	}

	var defaultName string
	if def, err := pa.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}

	var inputs []audio.DeviceInfo
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		inputs = append(inputs, audio.DeviceInfo{
			Name:              d.Name,
			HostAPI:           hostAPIName(d),
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			IsDefault:         d.Name == defaultName,
		})
	}
	return inputs, nil
}

// findInputDevice resolves a configured device name; empty means the default input.
func findInputDevice(name string) (*pa.DeviceInfo, error) {
	if name == "" {
		device, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: no default input device: %v", audio.ErrDeviceUnavailable, err)
		}
		return device, nil
	}

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}

	// Exact match first, then case-insensitive substring
	for _, d := range devices {
		if d.MaxInputChannels > 0 && d.Name == name {
			return d, nil
		}
	}
	lower := strings.ToLower(name)
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), lower) {
			return d, nil
		}
	}

	return nil, fmt.Errorf("%w: input device not found: %s", audio.ErrDeviceUnavailable, name)
}

// classifyOpenError maps PortAudio errors onto audio.ErrInvalidFormat or audio.ErrDeviceUnavailable.
func classifyOpenError(err error) error {
	switch {
	case errors.Is(err, pa.InvalidSampleRate),
		errors.Is(err, pa.InvalidChannelCount),
		errors.Is(err, pa.SampleFormatNotSupported):
		return fmt.Errorf("%w: %v", audio.ErrInvalidFormat, err)
	}

	// macOS reports a denied microphone permission as a generic open failure.
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "denied") || strings.Contains(errStr, "unauthorized") {
		return fmt.Errorf("%w: microphone access denied: %v", audio.ErrDeviceUnavailable, err)
	}
	return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
}

func hostAPIName(d *pa.DeviceInfo) string {
	if d == nil || d.HostApi == nil {
		return ""
	}
	return d.HostApi.Name
}

// portAudioStream adapts a blocking int16 PortAudio stream to byte reads.
type portAudioStream struct {
	stream  *pa.Stream
	samples []int16
}

func (s *portAudioStream) Read(p []byte) (int, error) {
	if err := s.stream.Read(); err != nil {
		// An overflow means samples were dropped before this read; the
		// buffer itself still holds a full chunk of valid audio.
		if !errors.Is(err, pa.InputOverflowed) {
			return 0, err
		}
		slog.Debug("PortAudio input overflowed")
	}

	n := 0
	for _, sample := range s.samples {
		if n+2 > len(p) {
			break
		}
		binary.LittleEndian.PutUint16(p[n:], uint16(sample))
		n += 2
	}
	return n, nil
}

func (s *portAudioStream) Close() error {
	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	pa.Terminate() //nolint:errcheck
	if stopErr != nil {
		return fmt.Errorf("portaudio stop stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("portaudio close stream: %w", closeErr)
	}
	return nil
}
