package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/smartstream/internal/codec"
	"github.com/ashureev/smartstream/internal/metrics"
)

// OutputSampleRate is the rate of synthesized speech from the backend.
const OutputSampleRate = 24000

var (
	// ErrNotInitialized is returned by Ingest before Initialize succeeds.
	ErrNotInitialized = errors.New("playback not initialized")
	// ErrWorkletLoadFailed is returned when the renderer cannot be loaded.
	ErrWorkletLoadFailed = errors.New("playback renderer failed to load")
)

// PlaybackSession decodes inbound speech chunks and feeds them to a renderer.
type PlaybackSession struct {
	loader  RendererLoader
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	renderer Renderer
}

// NewPlaybackSession creates an uninitialized playback session.
func NewPlaybackSession(loader RendererLoader, m *metrics.Metrics, logger *slog.Logger) *PlaybackSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaybackSession{loader: loader, metrics: m, logger: logger}
}

// Initialize loads the renderer at 24 kHz. Calling it again once loaded does nothing.
func (p *PlaybackSession) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.renderer != nil {
		return nil
	}
	r, err := p.loader.Load(ctx, OutputSampleRate)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWorkletLoadFailed, err)
	}
	p.renderer = r
	p.logger.Info("Playback initialized", "sample_rate", OutputSampleRate)
	return nil
}

// Initialized reports whether a renderer is loaded.
func (p *PlaybackSession) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.renderer != nil
}

// Ingest decodes a base64 PCM16 chunk and queues it for playback, resuming
// the renderer if it is suspended. Chunks play in the order Ingest is called.
func (p *PlaybackSession) Ingest(ctx context.Context, audioB64 string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.renderer == nil {
		return ErrNotInitialized
	}

	if p.renderer.Suspended() {
		if err := p.renderer.Resume(ctx); err != nil {
			p.metrics.PlaybackError()
			return fmt.Errorf("resume renderer: %w", err)
		}
	}

	raw, err := codec.Base64ToBytes(audioB64)
	if err != nil {
		p.metrics.PlaybackError()
		return err
	}
	samples, err := codec.DecodeToFloat(raw)
	if err != nil {
		p.metrics.PlaybackError()
		return err
	}
	if err := p.renderer.Post(samples); err != nil {
		p.metrics.PlaybackError()
		return fmt.Errorf("post samples: %w", err)
	}
	return nil
}

// Close releases the renderer. The session may be initialized again afterwards.
func (p *PlaybackSession) Close() error {
	p.mu.Lock()
	r := p.renderer
	p.renderer = nil
	p.mu.Unlock()

	if r == nil {
		return nil
	}
	return r.Close()
}
