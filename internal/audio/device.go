package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ashureev/smartstream/internal/codec"
)

var (
	// ErrPermissionDenied is returned when the microphone refuses access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable is returned when the input device cannot be opened or goes away.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
)

// InputConfig describes the stream requested from a microphone.
type InputConfig struct {
	SampleRate int
	Channels   int
	BlockSize  int
}

// InputStream is an open microphone stream. Done is closed once the stream
// stops delivering blocks, after Close or because the device went away.
type InputStream interface {
	Close() error
	Done() <-chan struct{}
}

// Microphone opens input streams. onBlock is called from the device's own
// goroutine with each block of normalized samples, in capture order.
type Microphone interface {
	Open(ctx context.Context, cfg InputConfig, onBlock func([]float32)) (InputStream, error)
}

// PipeMicrophone reads 16-bit little-endian mono PCM, already at the
// requested sample rate, from a byte stream such as the stdout of arecord.
// The stream ends when the source reaches EOF.
type PipeMicrophone struct {
	Source func() (io.ReadCloser, error)
	// Paced delivers at most one block per block duration. Set it for
	// sources that are not produced in real time, such as recorded files.
	Paced  bool
	Logger *slog.Logger
}

// FileMicrophone returns a PipeMicrophone over path. "-" reads stdin.
// Regular files are paced to real time; pipes and fifos are read as the
// writer produces them.
func FileMicrophone(path string, logger *slog.Logger) *PipeMicrophone {
	paced := false
	if path != "-" {
		if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
			paced = true
		}
	}
	return &PipeMicrophone{
		Source: func() (io.ReadCloser, error) {
			if path == "-" {
				return os.Stdin, nil
			}
			return os.Open(path)
		},
		Paced:  paced,
		Logger: logger,
	}
}

// Open starts reading blocks from the pipe.
func (m *PipeMicrophone) Open(_ context.Context, cfg InputConfig, onBlock func([]float32)) (InputStream, error) {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Channels > 1 {
		return nil, fmt.Errorf("%w: pipe input is mono only", ErrDeviceUnavailable)
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = InputSampleRate
	}

	rc, err := m.Source()
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	var period time.Duration
	if m.Paced {
		period = blockPeriod(cfg)
	}
	s := &pipeStream{rc: rc, stop: make(chan struct{}), done: make(chan struct{})}
	go s.read(cfg.BlockSize, period, onBlock, logger)
	return s, nil
}

// blockPeriod is the real-time duration of one block.
func blockPeriod(cfg InputConfig) time.Duration {
	return time.Duration(cfg.BlockSize) * time.Second / time.Duration(cfg.SampleRate)
}

const streamCloseTimeout = 2 * time.Second

type pipeStream struct {
	rc        io.ReadCloser
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (s *pipeStream) read(blockSize int, period time.Duration, onBlock func([]float32), logger *slog.Logger) {
	defer close(s.done)

	var pace <-chan time.Time
	if period > 0 {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		pace = ticker.C
	}

	raw := make([]byte, blockSize*2)
	for first := true; ; first = false {
		if pace != nil && !first {
			select {
			case <-pace:
			case <-s.stop:
				return
			}
		}
		n, err := io.ReadFull(s.rc, raw)
		// Deliver a trailing partial block, trimmed to whole samples.
		if n -= n % 2; n > 0 {
			block, decodeErr := codec.DecodeToFloat(raw[:n])
			if decodeErr == nil {
				onBlock(block)
			}
		}
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				logger.Info("Microphone stream ended")
			} else {
				logger.Warn("Microphone read error", "error", err)
			}
			return
		}
	}
}

func (s *pipeStream) Done() <-chan struct{} { return s.done }

func (s *pipeStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.closeErr = s.rc.Close()
	})
	select {
	case <-s.done:
	case <-time.After(streamCloseTimeout):
	}
	return s.closeErr
}

// SilenceMicrophone produces zero-valued blocks in real time. It stands in
// for a microphone when only the screen is shared, so units keep flowing.
type SilenceMicrophone struct{}

// Open starts emitting one silent block per block duration.
func (SilenceMicrophone) Open(_ context.Context, cfg InputConfig, onBlock func([]float32)) (InputStream, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = InputSampleRate
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	period := blockPeriod(cfg)

	s := &silenceStream{stop: make(chan struct{}), done: make(chan struct{})}
	go s.run(period, cfg.BlockSize, onBlock)
	return s, nil
}

type silenceStream struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (s *silenceStream) run(period time.Duration, blockSize int, onBlock func([]float32)) {
	defer close(s.done)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			onBlock(make([]float32, blockSize))
		}
	}
}

func (s *silenceStream) Done() <-chan struct{} { return s.done }

func (s *silenceStream) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}
