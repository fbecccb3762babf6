package audio

import (
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/robertobartola/mybackrec/internal/wav"
)

// Capture is a running capture loop feeding device reads into a sink.
//
// The loop owns the stream: it closes the device itself once it exits,
// whether that is because Stop was called or because a read failed.
type Capture struct {
	stream Stream
	sink   io.Writer
	chunk  int

	stopping atomic.Bool
	bytes    atomic.Int64
	done     chan struct{}
	err      error // written before done is closed
}

// StartCapture opens the device and starts copying chunks into sink until
// Stop is called or the device fails. sink must accept every write without
// blocking for long; a ring buffer is the intended sink.
func StartCapture(backend Backend, format wav.Format, opts StreamOptions, sink io.Writer) (*Capture, error) {
	if opts.ChunkBytes <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidFormat, opts.ChunkBytes)
	}

	stream, err := backend.Open(format, opts)
	if err != nil {
		return nil, err
	}

	c := &Capture{
		stream: stream,
		sink:   sink,
		chunk:  opts.ChunkBytes,
		done:   make(chan struct{}),
	}
	go c.run()

	slog.Debug("Capture loop started", "backend", backend.GetType(), "chunk_bytes", opts.ChunkBytes, "format", format.String())
	return c, nil
}

// run reads fixed-size chunks until asked to stop. The stop flag is checked
// after every read; an in-flight device read is never interrupted.
func (c *Capture) run() {
	defer close(c.done)
	defer func() {
		if err := c.stream.Close(); err != nil {
			slog.Warn("Failed to close capture device", "error", err)
		}
	}()

	buf := make([]byte, c.chunk)
	for !c.stopping.Load() {
		n, err := c.stream.Read(buf)
		if err != nil {
			// A failed read contributes nothing to the sink.
			c.err = fmt.Errorf("%w: %w", ErrDevice, err)
			slog.Error("Capture read failed, stopping capture", "error", err, "captured_bytes", c.bytes.Load())
			return
		}
		if n == 0 {
			continue
		}
		if _, err := c.sink.Write(buf[:n]); err != nil {
			c.err = fmt.Errorf("capture sink write failed: %w", err)
			slog.Error("Capture sink rejected audio, stopping capture", "error", err)
			return
		}
		c.bytes.Add(int64(n))
	}
}

// Stop asks the loop to exit after its current read and waits until it has
// exited and released the device. It is safe to call more than once and
// after the loop has already failed.
func (c *Capture) Stop() {
	c.stopping.Store(true)
	<-c.done
}

// Done is closed once the loop has exited and the device is released.
func (c *Capture) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that terminated the loop, or nil if it was stopped
// normally or is still running.
func (c *Capture) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Bytes returns the total number of bytes delivered to the sink.
func (c *Capture) Bytes() int64 {
	return c.bytes.Load()
}
