// Package capture rasterizes screen frames into a single latest-value JPEG buffer.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/smartstream/internal/codec"
	"github.com/ashureev/smartstream/internal/metrics"
	"golang.org/x/image/draw"
)

// Capture defaults. The canvas is fixed at 640x480 whatever the source
// aspect ratio; frames from wider sources are stretched.
const (
	FrameWidth      = 640
	FrameHeight     = 480
	DefaultQuality  = 92
	DefaultInterval = 3 * time.Second
	MIMETypeJPEG    = "image/jpeg"
)

// Frame is one encoded screen capture.
type Frame struct {
	Data       []byte
	MIMEType   string
	CapturedAt time.Time
}

// Base64 returns the frame payload as wire text, without any data-URI prefix.
func (f Frame) Base64() string {
	return codec.BytesToBase64(f.Data)
}

// Source is a video source that can be sampled.
type Source interface {
	// Dimensions returns the natural size of the current frame. Zero values
	// mean the source is not streaming yet.
	Dimensions() (width, height int)
	// Snapshot returns the current frame.
	Snapshot() (image.Image, error)
}

// FrameCapture holds the most recent encoded frame. Each capture overwrites
// the previous one; frames are never queued.
type FrameCapture struct {
	mu     sync.RWMutex
	latest *Frame

	// drawMu guards canvas, the reusable drawing target.
	drawMu sync.Mutex
	canvas *image.RGBA

	quality int
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewFrameCapture creates a FrameCapture encoding at the given JPEG quality.
func NewFrameCapture(quality int, m *metrics.Metrics, logger *slog.Logger) *FrameCapture {
	if logger == nil {
		logger = slog.Default()
	}
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &FrameCapture{
		quality: quality,
		metrics: m,
		logger:  logger,
	}
}

// Capture rasterizes the current frame of src into the 640x480 canvas and
// stores it as the latest frame. It reports false without error when the
// source has no dimensions yet.
func (c *FrameCapture) Capture(src Source) (Frame, bool, error) {
	w, h := src.Dimensions()
	if w <= 0 || h <= 0 {
		c.logger.Debug("Screen source not streaming yet, skipping capture")
		c.metrics.FrameSkipped()
		return Frame{}, false, nil
	}

	img, err := src.Snapshot()
	if err != nil {
		return Frame{}, false, fmt.Errorf("snapshot source: %w", err)
	}

	data, err := c.rasterize(img)
	if err != nil {
		return Frame{}, false, err
	}

	frame := Frame{Data: data, MIMEType: MIMETypeJPEG, CapturedAt: time.Now()}
	c.mu.Lock()
	c.latest = &frame
	c.mu.Unlock()

	c.metrics.FrameCaptured()
	c.logger.Debug("Frame captured", "source_width", w, "source_height", h, "bytes", len(data))
	return frame, true, nil
}

func (c *FrameCapture) rasterize(img image.Image) ([]byte, error) {
	c.drawMu.Lock()
	defer c.drawMu.Unlock()

	if c.canvas == nil {
		c.canvas = image.NewRGBA(image.Rect(0, 0, FrameWidth, FrameHeight))
	}
	draw.BiLinear.Scale(c.canvas, c.canvas.Bounds(), img, img.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, c.canvas, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Latest returns the most recent frame, if any capture has succeeded.
func (c *FrameCapture) Latest() (Frame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil {
		return Frame{}, false
	}
	return *c.latest, true
}

// Run captures src every interval until ctx is cancelled.
func (c *FrameCapture) Run(ctx context.Context, src Source, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Debug("Frame capture loop started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Frame capture loop stopped", "reason", ctx.Err())
			return
		case <-ticker.C:
			c.tick(src)
		}
	}
}

func (c *FrameCapture) tick(src Source) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Frame capture panicked", "panic", r)
		}
	}()
	if _, _, err := c.Capture(src); err != nil {
		c.logger.Warn("Frame capture failed", "error", err)
	}
}
