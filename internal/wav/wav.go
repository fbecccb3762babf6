package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the length of the canonical RIFF/WAVE header.
const HeaderSize = 44

// formatPCM is the WAVE format tag for uncompressed integer samples.
const formatPCM = 1

// MaxSampleRate is the highest sample rate accepted by Validate.
const MaxSampleRate = 384000

var (
	// ErrInvalidFormat is returned for formats that cannot describe linear PCM.
	ErrInvalidFormat = errors.New("invalid audio format")
	// ErrTooLarge is returned when the payload does not fit the 32-bit size fields.
	ErrTooLarge = errors.New("pcm payload too large for a wav file")
	// ErrNotWav is returned by DecodeHeader when the input is not a canonical PCM wav header.
	ErrNotWav = errors.New("not a canonical pcm wav header")
)

// Format describes a linear PCM stream.
type Format struct {
	Channels      uint16 `json:"channels" yaml:"channels"`
	SampleRate    uint32 `json:"sample_rate" yaml:"sample_rate"`
	BitsPerSample uint16 `json:"bits_per_sample" yaml:"bits_per_sample"`
}

// DefaultFormat is mono, 16-bit, 44.1kHz.
var DefaultFormat = Format{Channels: 1, SampleRate: 44100, BitsPerSample: 16}

// BlockAlign returns the number of bytes per sample frame.
func (f Format) BlockAlign() uint16 {
	return f.Channels * f.BitsPerSample / 8
}

// ByteRate returns the number of bytes per second of audio.
// It is only meaningful for formats that pass Validate.
func (f Format) ByteRate() uint32 {
	return uint32(f.byteRate())
}

func (f Format) byteRate() uint64 {
	return uint64(f.SampleRate) * uint64(f.Channels) * uint64(f.BitsPerSample) / 8
}

// BytesFor returns the size in bytes of the given number of seconds of audio.
func (f Format) BytesFor(seconds int) int {
	return seconds * int(f.byteRate())
}

// Validate checks that f can be written as a PCM wav stream.
func (f Format) Validate() error {
	if f.Channels == 0 {
		return fmt.Errorf("%w: channels must be positive", ErrInvalidFormat)
	}
	if f.SampleRate == 0 || f.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate must be between 1 and %d, got %d", ErrInvalidFormat, MaxSampleRate, f.SampleRate)
	}
	if f.BitsPerSample == 0 || f.BitsPerSample%8 != 0 {
		return fmt.Errorf("%w: bits per sample must be a positive multiple of 8, got %d", ErrInvalidFormat, f.BitsPerSample)
	}
	if f.byteRate() > math.MaxUint32 {
		return fmt.Errorf("%w: byte rate of %s does not fit in 32 bits", ErrInvalidFormat, f)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%d Hz, %d-bit, %d channel(s)", f.SampleRate, f.BitsPerSample, f.Channels)
}

// Header is the on-disk layout of the 44-byte canonical header, little-endian.
type Header struct {
	RiffID        [4]byte
	RiffSize      uint32
	WaveID        [4]byte
	FmtID         [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataID        [4]byte
	DataSize      uint32
}

// NewHeader builds the header for dataSize bytes of PCM in format f.
func NewHeader(f Format, dataSize uint32) Header {
	return Header{
		RiffID:        [4]byte{'R', 'I', 'F', 'F'},
		RiffSize:      36 + dataSize,
		WaveID:        [4]byte{'W', 'A', 'V', 'E'},
		FmtID:         [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   formatPCM,
		NumChannels:   f.Channels,
		SampleRate:    f.SampleRate,
		ByteRate:      f.ByteRate(),
		BlockAlign:    f.BlockAlign(),
		BitsPerSample: f.BitsPerSample,
		DataID:        [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
}

// MarshalBinary returns the 44 header bytes.
func (h Header) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	if err := binary.Write(&buf, binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Format returns the stream format described by the header.
func (h Header) Format() Format {
	return Format{Channels: h.NumChannels, SampleRate: h.SampleRate, BitsPerSample: h.BitsPerSample}
}

// Duration returns the length of the payload in seconds.
func (h Header) Duration() float64 {
	if h.ByteRate == 0 {
		return 0
	}
	return float64(h.DataSize) / float64(h.ByteRate)
}

// Encode returns a complete wav file: the canonical header followed by pcm verbatim.
// It performs no I/O and is deterministic in its inputs.
func Encode(pcm []byte, f Format) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if uint64(len(pcm)) > math.MaxUint32-36 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(pcm))
	}

	header, err := NewHeader(f, uint32(len(pcm))).MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal wav header: %w", err)
	}

	out := make([]byte, HeaderSize+len(pcm))
	copy(out, header)
	copy(out[HeaderSize:], pcm)
	return out, nil
}

// DecodeHeader reads and checks a canonical 44-byte PCM header from r.
func DecodeHeader(r io.Reader) (Header, error) {
	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, fmt.Errorf("%w: short header", ErrNotWav)
		}
		return Header{}, fmt.Errorf("failed to read wav header: %w", err)
	}

	switch {
	case string(h.RiffID[:]) != "RIFF":
		return Header{}, fmt.Errorf("%w: missing RIFF tag", ErrNotWav)
	case string(h.WaveID[:]) != "WAVE":
		return Header{}, fmt.Errorf("%w: missing WAVE tag", ErrNotWav)
	case string(h.FmtID[:]) != "fmt ":
		return Header{}, fmt.Errorf("%w: missing fmt chunk", ErrNotWav)
	case h.FmtSize != 16 || h.AudioFormat != formatPCM:
		return Header{}, fmt.Errorf("%w: unsupported fmt chunk (size %d, format %d)", ErrNotWav, h.FmtSize, h.AudioFormat)
	case string(h.DataID[:]) != "data":
		return Header{}, fmt.Errorf("%w: data chunk does not follow fmt", ErrNotWav)
	}

	return h, nil
}
