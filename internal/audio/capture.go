package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/smartstream/internal/codec"
	"github.com/ashureev/smartstream/internal/metrics"
)

// Microphone capture defaults.
const (
	InputSampleRate      = 16000
	DefaultBlockSize     = 4096
	DefaultFlushInterval = 3 * time.Second
)

// CaptureState is the lifecycle state of a CaptureSession.
type CaptureState int

const (
	CaptureStopped CaptureState = iota
	CaptureStarting
	CaptureCapturing
	CaptureStopping
)

func (s CaptureState) String() string {
	switch s {
	case CaptureStopped:
		return "stopped"
	case CaptureStarting:
		return "starting"
	case CaptureCapturing:
		return "capturing"
	case CaptureStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ChunkSink receives one base64 PCM chunk per non-empty flush.
type ChunkSink func(audioB64 string)

// CaptureConfig configures a CaptureSession.
type CaptureConfig struct {
	SampleRate    int
	BlockSize     int
	FlushInterval time.Duration
}

func (c *CaptureConfig) defaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = InputSampleRate
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
}

// CaptureSession buffers microphone samples and hands them to a sink on a
// fixed flush interval. Silence windows with no samples produce no output.
type CaptureSession struct {
	mic     Microphone
	sink    ChunkSink
	cfg     CaptureConfig
	buf     SampleBuffer
	metrics *metrics.Metrics
	logger  *slog.Logger

	// accepting gates onBlock without taking mu, since the device goroutine
	// may be inside onBlock while Stop waits for it.
	accepting atomic.Bool

	mu       sync.Mutex
	state    CaptureState
	stream   InputStream
	cancel   context.CancelFunc
	loopDone chan struct{}
	lost     chan struct{}
}

// NewCaptureSession creates a stopped capture session.
// The sink must not call Stop.
func NewCaptureSession(mic Microphone, sink ChunkSink, cfg CaptureConfig, m *metrics.Metrics, logger *slog.Logger) *CaptureSession {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.defaults()
	return &CaptureSession{
		mic:     mic,
		sink:    sink,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// State returns the current lifecycle state.
func (s *CaptureSession) State() CaptureState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Buffered returns the number of samples waiting for the next flush.
func (s *CaptureSession) Buffered() int {
	return s.buf.Len()
}

// Start opens the microphone and starts the flush timer. Calling Start on a
// session that is not stopped does nothing.
func (s *CaptureSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != CaptureStopped {
		state := s.state
		s.mu.Unlock()
		s.logger.Debug("Audio capture already active", "state", state.String())
		return nil
	}
	s.state = CaptureStarting
	s.mu.Unlock()

	s.buf.Reset()
	s.accepting.Store(true)

	stream, err := s.mic.Open(ctx, InputConfig{
		SampleRate: s.cfg.SampleRate,
		Channels:   1,
		BlockSize:  s.cfg.BlockSize,
	}, s.onBlock)
	if err != nil {
		s.accepting.Store(false)
		s.setState(CaptureStopped)
		return classifyOpenError(err)
	}

	s.mu.Lock()
	if s.state == CaptureStopping {
		// Stop arrived while the device was opening.
		s.mu.Unlock()
		s.accepting.Store(false)
		if closeErr := stream.Close(); closeErr != nil {
			s.logger.Debug("Failed to close microphone stream", "error", closeErr)
		}
		s.buf.Reset()
		s.setState(CaptureStopped)
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lost := make(chan struct{})
	s.stream = stream
	s.cancel = cancel
	s.loopDone = done
	s.lost = lost
	s.state = CaptureCapturing
	s.mu.Unlock()

	go s.flushLoop(loopCtx, done)
	go s.watchStream(loopCtx, stream, lost)

	s.logger.Info("Audio capture started",
		"sample_rate", s.cfg.SampleRate,
		"block_size", s.cfg.BlockSize,
		"flush_interval", s.cfg.FlushInterval,
	)
	return nil
}

// Lost is closed when the microphone stream of the current capture ends
// without Stop being called. It is nil before the first Start.
func (s *CaptureSession) Lost() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

func (s *CaptureSession) watchStream(ctx context.Context, stream InputStream, lost chan struct{}) {
	select {
	case <-ctx.Done():
	case <-stream.Done():
		if !s.accepting.Load() {
			return
		}
		s.logger.Warn("Microphone stream ended unexpectedly")
		close(lost)
	}
}

func classifyOpenError(err error) error {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}

func (s *CaptureSession) setState(state CaptureState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *CaptureSession) onBlock(block []float32) {
	if !s.accepting.Load() {
		return
	}
	pcm := make([]int16, len(block))
	for i, f := range block {
		pcm[i] = codec.FloatToSample(f)
	}
	s.buf.Append(pcm)
	s.metrics.SamplesBuffered(len(pcm))
}

// Flush encodes the buffered samples and hands them to the sink, leaving the
// buffer empty. It reports whether anything was sent.
func (s *CaptureSession) Flush() bool {
	samples := s.buf.Drain()
	if len(samples) == 0 {
		s.metrics.FlushSkipped()
		return false
	}
	s.sink(codec.EncodeSamples(samples))
	return true
}

func (s *CaptureSession) flushLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeFlush()
		}
	}
}

func (s *CaptureSession) safeFlush() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Audio flush panicked", "panic", r)
		}
	}()
	s.Flush()
}

// Stop closes the microphone, cancels the flush timer and clears the buffer.
// Calling Stop on a stopped session does nothing.
func (s *CaptureSession) Stop() error {
	s.mu.Lock()
	switch s.state {
	case CaptureStopped, CaptureStopping:
		s.mu.Unlock()
		return nil
	case CaptureStarting:
		// Start observes this and releases the device itself.
		s.state = CaptureStopping
		s.mu.Unlock()
		return nil
	}
	s.state = CaptureStopping
	stream, cancel, done := s.stream, s.cancel, s.loopDone
	s.stream, s.cancel, s.loopDone = nil, nil, nil
	s.mu.Unlock()

	s.accepting.Store(false)

	var err error
	if stream != nil {
		if closeErr := stream.Close(); closeErr != nil {
			err = fmt.Errorf("close microphone: %w", closeErr)
		}
	}
	if cancel != nil {
		cancel()
		<-done
	}
	s.buf.Reset()
	s.setState(CaptureStopped)

	s.logger.Info("Audio capture stopped")
	return err
}
