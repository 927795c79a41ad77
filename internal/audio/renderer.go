package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ashureev/smartstream/internal/codec"
)

// ErrRendererClosed is returned when posting to a closed renderer.
var ErrRendererClosed = errors.New("renderer closed")

// Renderer plays normalized samples. Posted chunks are queued and played
// back-to-back in post order; a chunk is never cut short by a later one.
type Renderer interface {
	Post(samples []float32) error
	Suspended() bool
	Resume(ctx context.Context) error
	Close() error
}

// RendererLoader creates a renderer running at sampleRate.
type RendererLoader interface {
	Load(ctx context.Context, sampleRate int) (Renderer, error)
}

// StreamRenderer writes queued chunks as 16-bit little-endian PCM to an
// io.Writer from a single worker goroutine. It starts suspended.
type StreamRenderer struct {
	w      io.Writer
	closer io.Closer
	logger *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	queue     [][]float32
	suspended bool
	closed    bool
	played    int64
	done      chan struct{}
}

// NewStreamRenderer starts a renderer writing to w.
func NewStreamRenderer(w io.Writer, logger *slog.Logger) *StreamRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	r := &StreamRenderer{
		w:         w,
		logger:    logger,
		suspended: true,
		done:      make(chan struct{}),
	}
	if c, ok := w.(io.Closer); ok && w != io.Writer(os.Stdout) {
		r.closer = c
	}
	r.cond = sync.NewCond(&r.mu)
	go r.run()
	return r
}

// Post queues a copy of samples for playback.
func (r *StreamRenderer) Post(samples []float32) error {
	chunk := make([]float32, len(samples))
	copy(chunk, samples)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRendererClosed
	}
	r.queue = append(r.queue, chunk)
	r.cond.Signal()
	return nil
}

// Suspended reports whether playback is paused.
func (r *StreamRenderer) Suspended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suspended
}

// Resume starts or continues playback.
func (r *StreamRenderer) Resume(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRendererClosed
	}
	r.suspended = false
	r.cond.Broadcast()
	return nil
}

// Pending returns the number of chunks waiting to be played.
func (r *StreamRenderer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Played returns the number of samples written so far.
func (r *StreamRenderer) Played() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.played
}

func (r *StreamRenderer) run() {
	defer close(r.done)
	for {
		r.mu.Lock()
		for !r.closed && (r.suspended || len(r.queue) == 0) {
			r.cond.Wait()
		}
		if r.closed {
			r.mu.Unlock()
			return
		}
		chunk := r.queue[0]
		r.queue[0] = nil
		r.queue = r.queue[1:]
		r.mu.Unlock()

		if err := r.write(chunk); err != nil {
			r.logger.Warn("Playback write failed", "error", err)
		}
	}
}

func (r *StreamRenderer) write(chunk []float32) error {
	pcm := make([]int16, len(chunk))
	for i, f := range chunk {
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		pcm[i] = codec.FloatToSample(f)
	}
	if _, err := r.w.Write(codec.SamplesToBytes(pcm)); err != nil {
		return err
	}
	r.mu.Lock()
	r.played += int64(len(pcm))
	r.mu.Unlock()
	return nil
}

// Close stops the worker and drops any chunks still queued.
func (r *StreamRenderer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.queue = nil
	r.cond.Broadcast()
	r.mu.Unlock()

	<-r.done
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// FileSpeaker loads StreamRenderers writing to a file or fifo. "-" writes
// stdout and an empty path discards all audio.
type FileSpeaker struct {
	Path   string
	Logger *slog.Logger
}

// Load opens the sink and starts a renderer over it.
func (s FileSpeaker) Load(_ context.Context, sampleRate int) (Renderer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	switch s.Path {
	case "":
		return NewStreamRenderer(io.Discard, s.Logger), nil
	case "-":
		return NewStreamRenderer(os.Stdout, s.Logger), nil
	}
	f, err := os.OpenFile(s.Path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open speaker sink: %w", err)
	}
	return NewStreamRenderer(f, s.Logger), nil
}
