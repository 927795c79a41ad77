package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	_ "image/gif" // Register GIF decoder
	_ "image/png" // Register PNG decoder

	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

var (
	// ErrPermissionDenied is returned when the screen source refuses access.
	ErrPermissionDenied = errors.New("screen capture permission denied")
	// ErrSourceUnavailable is returned when no screen source can be opened.
	ErrSourceUnavailable = errors.New("screen source unavailable")
)

// Display is a shared screen. Done is closed when the share ends, either
// because Stop was called or because the source went away.
type Display interface {
	Source
	Done() <-chan struct{}
	Stop()
}

// ScreenProvider opens a screen share.
type ScreenProvider interface {
	Open(ctx context.Context) (Display, error)
}

type ended struct {
	once sync.Once
	done chan struct{}
}

func (e *ended) Done() <-chan struct{} { return e.done }

func (e *ended) end() { e.once.Do(func() { close(e.done) }) }

// FileScreen shares a screenshot file that an external grabber keeps
// rewriting. The share ends when the file disappears.
type FileScreen struct {
	Path string
}

// Open verifies the file is readable and returns a Display over it.
func (p FileScreen) Open(_ context.Context) (Display, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, p.Path)
		}
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	_ = f.Close()
	d := &fileDisplay{path: p.Path}
	d.done = make(chan struct{})
	return d, nil
}

type fileDisplay struct {
	path string
	ended
}

func (d *fileDisplay) Dimensions() (int, int) {
	select {
	case <-d.done:
		return 0, 0
	default:
	}

	f, err := os.Open(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			d.end()
		}
		return 0, 0
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		// Partially written by the grabber; try again next tick.
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func (d *fileDisplay) Snapshot() (image.Image, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, fmt.Errorf("open screen file: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode screen file: %w", err)
	}
	return img, nil
}

func (d *fileDisplay) Stop() { d.end() }

// StaticScreen is an in-memory Display whose frame is set by the caller.
type StaticScreen struct {
	mu  sync.RWMutex
	img image.Image
	ended
}

// NewStaticScreen returns a StaticScreen showing img, which may be nil.
func NewStaticScreen(img image.Image) *StaticScreen {
	s := &StaticScreen{img: img}
	s.done = make(chan struct{})
	return s
}

// Open returns the screen itself; StaticScreen is its own provider.
func (s *StaticScreen) Open(_ context.Context) (Display, error) {
	return s, nil
}

// SetImage replaces the displayed frame.
func (s *StaticScreen) SetImage(img image.Image) {
	s.mu.Lock()
	s.img = img
	s.mu.Unlock()
}

func (s *StaticScreen) Dimensions() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.img == nil {
		return 0, 0
	}
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

func (s *StaticScreen) Snapshot() (image.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.img == nil {
		return nil, ErrSourceUnavailable
	}
	return s.img, nil
}

// End simulates the user stopping the share from outside the application.
func (s *StaticScreen) End() { s.end() }

func (s *StaticScreen) Stop() { s.end() }
