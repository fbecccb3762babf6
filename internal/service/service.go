package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robertobartola/mybackrec/internal/audio"
	"github.com/robertobartola/mybackrec/internal/config"
	"github.com/robertobartola/mybackrec/internal/ring"
	"github.com/robertobartola/mybackrec/internal/storage"
	"github.com/robertobartola/mybackrec/internal/wav"
)

var (
	// ErrInvalidDuration is returned for non-positive or oversized durations.
	ErrInvalidDuration = errors.New("invalid recording duration")
	// ErrAlreadyRecording is returned by Start while a session is capturing.
	ErrAlreadyRecording = errors.New("recording already in progress")
	// ErrNotRecording is returned by Freeze and Stop when there is nothing to act on.
	ErrNotRecording = errors.New("no recording in progress")
	// ErrFreezeInProgress is returned when a freeze is requested while another is running.
	ErrFreezeInProgress = errors.New("freeze already in progress")
	// ErrNoStore is returned by FreezeToFile on a session created without storage.
	ErrNoStore = errors.New("no output storage configured")
)

// Status represents the current state of the session
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusRecording Status = "RECORDING"
	StatusError     Status = "ERROR"
)

// SessionInfo contains information about the current recording session
type SessionInfo struct {
	DurationSeconds int       `json:"duration_seconds"`
	CapacityBytes   int       `json:"capacity_bytes"`
	BufferedBytes   int       `json:"buffered_bytes"`
	CapturedBytes   int64     `json:"captured_bytes"`
	StartTime       time.Time `json:"start_time"`
	Device          string    `json:"device"`
	Format          string    `json:"format"`
	Freezes         int       `json:"freezes"`
	LastFreezeFile  string    `json:"last_freeze_file,omitempty"`
}

// Option configures a Session
type Option func(*Session)

// WithStopHandler registers a callback invoked when capture ends without Stop
// being called, for example because the device was disconnected.
func WithStopHandler(fn func(err error)) Option {
	return func(s *Session) {
		s.onUnexpectedStop = fn
	}
}

// Session owns one rolling recording: the ring buffer, the capture loop feeding
// it, and the freeze operations reading it. Callers create one Session and
// share it; there is no package-level state.
type Session struct {
	cfg     *config.Config
	backend audio.Backend
	store   *storage.Store
	format  wav.Format

	mutex   sync.RWMutex
	status  Status
	buffer  *ring.Buffer
	capture *audio.Capture
	info    *SessionInfo

	freezing atomic.Bool

	lastError      string
	lastErrorMutex sync.RWMutex

	onUnexpectedStop func(err error)
}

// New creates an idle session. store may be nil if only in-memory freezes are needed.
func New(cfg *config.Config, backend audio.Backend, store *storage.Store, opts ...Option) *Session {
	s := &Session{
		cfg:     cfg,
		backend: backend,
		store:   store,
		format: wav.Format{
			Channels:      uint16(cfg.Audio.Channels),
			SampleRate:    uint32(cfg.Audio.SampleRate),
			BitsPerSample: uint16(cfg.Audio.BitsPerSample),
		},
		status: StatusIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Format returns the PCM format captured by this session.
func (s *Session) Format() wav.Format {
	return s.format
}

// Start allocates a buffer holding the last seconds of audio and begins capture.
// Starting from ERROR discards the failed session first.
func (s *Session) Start(seconds int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.status == StatusRecording {
		return ErrAlreadyRecording
	}

	if seconds <= 0 {
		return fmt.Errorf("%w: %d seconds", ErrInvalidDuration, seconds)
	}
	if max := s.cfg.Recording.MaxDurationSeconds; max > 0 && seconds > max {
		return fmt.Errorf("%w: %d seconds exceeds the maximum of %d", ErrInvalidDuration, seconds, max)
	}

	if err := s.format.Validate(); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}

	// Drop whatever a failed session left behind before allocating the new buffer.
	s.release()

	buffer, err := ring.New(s.format.BytesFor(seconds))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDuration, err)
	}

	opts := audio.StreamOptions{
		Device:     s.cfg.Audio.Device,
		ChunkBytes: s.cfg.Audio.ChunkBytes,
	}
	capture, err := audio.StartCapture(s.backend, s.format, opts, buffer)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return fmt.Errorf("failed to start capture: %w", err)
	}

	s.buffer = buffer
	s.capture = capture
	s.status = StatusRecording
	s.info = &SessionInfo{
		DurationSeconds: seconds,
		CapacityBytes:   buffer.Cap(),
		StartTime:       time.Now(),
		Device:          deviceLabel(s.cfg.Audio.Device),
		Format:          s.format.String(),
	}
	s.clearLastError()

	go s.watch(capture)

	slog.Info("Recording started", "seconds", seconds, "capacity_bytes", buffer.Cap(), "device", s.info.Device)
	return nil
}

// watch moves the session to ERROR if capture ends without Stop.
func (s *Session) watch(capture *audio.Capture) {
	<-capture.Done()

	err := capture.Err()
	if err == nil {
		return
	}

	s.mutex.Lock()
	if s.capture != capture {
		// Stopped or replaced in the meantime
		s.mutex.Unlock()
		return
	}
	s.status = StatusError
	s.capture = nil
	if s.info != nil {
		s.info.CapturedBytes = capture.Bytes()
	}
	s.mutex.Unlock()

	s.setLastError(fmt.Sprintf("Recording stopped unexpectedly: %v", err))
	slog.Error("Recording stopped unexpectedly", "error", err)

	if s.onUnexpectedStop != nil {
		s.onUnexpectedStop(err)
	}
}

// Freeze returns the buffered audio, oldest first, encoded as a wav file.
// Capture keeps running. Only one freeze runs at a time; a concurrent call
// fails with ErrFreezeInProgress. After a device failure the audio captured
// before the failure can still be frozen until Stop or Start.
func (s *Session) Freeze() ([]byte, error) {
	if !s.freezing.CompareAndSwap(false, true) {
		return nil, ErrFreezeInProgress
	}
	defer s.freezing.Store(false)

	return s.freeze()
}

func (s *Session) freeze() ([]byte, error) {
	s.mutex.RLock()
	buffer := s.buffer
	s.mutex.RUnlock()

	if buffer == nil {
		return nil, ErrNotRecording
	}

	pcm := ring.Freeze(buffer)
	data, err := wav.Encode(pcm, s.format)
	if err != nil {
		return nil, fmt.Errorf("failed to encode wav: %w", err)
	}

	s.mutex.Lock()
	if s.info != nil && s.buffer == buffer {
		s.info.Freezes++
	}
	s.mutex.Unlock()

	slog.Debug("Buffer frozen", "pcm_bytes", len(pcm), "seconds", float64(len(pcm))/float64(s.format.ByteRate()))
	return data, nil
}

// FreezeToFile freezes the buffer and writes it to a new file in the output
// directory. A failed write leaves the session recording.
func (s *Session) FreezeToFile() (string, error) {
	if s.store == nil {
		return "", ErrNoStore
	}
	if !s.freezing.CompareAndSwap(false, true) {
		return "", ErrFreezeInProgress
	}
	defer s.freezing.Store(false)

	data, err := s.freeze()
	if err != nil {
		return "", err
	}

	path, err := s.store.Save(data)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to save recording: %v", err))
		return "", fmt.Errorf("failed to save recording: %w", err)
	}

	s.mutex.Lock()
	if s.info != nil {
		s.info.LastFreezeFile = path
	}
	s.mutex.Unlock()

	slog.Info("Recording frozen", "path", path, "size", len(data))
	return path, nil
}

// Stop ends capture, waits for the capture loop to exit and releases the buffer.
func (s *Session) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.status == StatusIdle {
		return ErrNotRecording
	}

	s.release()
	s.status = StatusIdle
	s.clearLastError()

	slog.Info("Recording stopped")
	return nil
}

// release stops capture (joining the loop) and drops the buffer. Caller holds mutex.
func (s *Session) release() {
	if s.capture != nil {
		s.capture.Stop()
		s.capture = nil
	}
	s.buffer = nil
	s.info = nil
}

// Status returns the current status and a copy of the session info
func (s *Session) Status() (Status, *SessionInfo) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.info == nil {
		return s.status, nil
	}

	info := *s.info
	if s.buffer != nil {
		info.BufferedBytes = s.buffer.Len()
	}
	if s.capture != nil {
		info.CapturedBytes = s.capture.Bytes()
	}
	return s.status, &info
}

// LastError returns the last error message, if any
func (s *Session) LastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

func (s *Session) setLastError(msg string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = msg
}

func (s *Session) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

func deviceLabel(device string) string {
	if device == "" {
		return "default"
	}
	return device
}
