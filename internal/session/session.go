// Package session composes screen capture, microphone capture, playback and
// the backend transport into one streaming session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/smartstream/internal/audio"
	"github.com/ashureev/smartstream/internal/capture"
	"github.com/ashureev/smartstream/internal/domain"
	"github.com/ashureev/smartstream/internal/feed"
	"github.com/ashureev/smartstream/internal/metrics"
	"github.com/ashureev/smartstream/internal/transport"
)

var (
	// ErrDeviceRevoked ends a session whose screen source stopped streaming.
	ErrDeviceRevoked = errors.New("screen sharing ended")
	// ErrAlreadyActive is returned when a user starts a second session.
	ErrAlreadyActive = errors.New("session already active")
)

// Teardown reasons, used in logs and metrics.
const (
	ReasonStopped   = "stopped"
	ReasonRevoked   = "device_revoked"
	ReasonMicLost   = "microphone_lost"
	ReasonTransport = "transport_closed"
	ReasonStartFail = "start_failed"
)

// Notices shown to the user when a session ends on its own.
const (
	NoticeConnectionClosed = "Connection closed"
	NoticeSharingEnded     = "Screen sharing ended"
	NoticeMicrophoneLost   = "Microphone disconnected"
)

// Notifier receives reply text, notices and state changes for a user.
type Notifier interface {
	Publish(userID string, ev feed.Event)
}

// Devices are the capture and playback endpoints a session opens.
type Devices struct {
	Screen     capture.ScreenProvider
	Microphone audio.Microphone
	Speaker    audio.RendererLoader
}

// Config holds per-session tunables.
type Config struct {
	BackendURL    string
	DialTimeout   time.Duration
	FrameInterval time.Duration
	FlushInterval time.Duration
	JPEGQuality   int
	// NewSessionID overrides session id generation.
	NewSessionID func() string
}

// Session owns every resource of one streaming interaction. All of them are
// released by teardown, which runs exactly once whatever ends the session.
type Session struct {
	userID  string
	notify  Notifier
	metrics *metrics.Metrics
	logger  *slog.Logger

	frames    *capture.FrameCapture
	mic       *audio.CaptureSession
	playback  *audio.PlaybackSession
	transport *transport.Session
	display   capture.Display

	// ctx bounds in-flight sends and playback; cancelled first on teardown.
	ctx    context.Context
	cancel context.CancelFunc

	frameCancel context.CancelFunc
	frameDone   chan struct{}

	mu   sync.Mutex
	info domain.Session
	err  error

	// started is closed when start returns; teardowns triggered by the
	// connection or display wait for it so they never race start.
	started      chan struct{}
	teardownOnce sync.Once
	done         chan struct{}
	onEnd        func(*Session, error)
}

func newSession(userID string, cfg Config, dev Devices, notify Notifier, m *metrics.Metrics, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		userID:  userID,
		notify:  notify,
		metrics: m,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}

	s.frames = capture.NewFrameCapture(cfg.JPEGQuality, m, logger)
	s.playback = audio.NewPlaybackSession(dev.Speaker, m, logger)
	s.mic = audio.NewCaptureSession(dev.Microphone, s.sendChunk, audio.CaptureConfig{
		FlushInterval: cfg.FlushInterval,
	}, m, logger)
	s.transport = transport.New(transport.Config{
		URL:          cfg.BackendURL,
		DialTimeout:  cfg.DialTimeout,
		NewSessionID: cfg.NewSessionID,
		Metrics:      m,
		Logger:       logger,
	}, transport.Handlers{
		OnText:   s.handleText,
		OnAudio:  s.handleAudio,
		OnClosed: s.handleClosed,
	})
	return s
}

// start brings the session up in order: screen, playback, connection,
// frame loop, microphone. Any failure releases what was acquired.
func (s *Session) start(ctx context.Context, screen capture.ScreenProvider, user domain.User, frameInterval time.Duration) error {
	defer close(s.started)

	display, err := screen.Open(ctx)
	if err != nil {
		return s.abort(fmt.Errorf("open screen: %w", err))
	}
	s.display = display

	if err := s.playback.Initialize(ctx); err != nil {
		return s.abort(err)
	}

	info, err := s.transport.Open(ctx, user)
	if err != nil {
		return s.abort(err)
	}
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()

	// Take the first frame now so the first unit can carry an image.
	if _, _, err := s.frames.Capture(display); err != nil {
		s.logger.Warn("Initial frame capture failed", "error", err)
	}
	frameCtx, frameCancel := context.WithCancel(s.ctx)
	s.frameCancel = frameCancel
	s.frameDone = make(chan struct{})
	go func() {
		defer close(s.frameDone)
		s.frames.Run(frameCtx, display, frameInterval)
	}()

	if err := s.mic.Start(ctx); err != nil {
		return s.abort(fmt.Errorf("start microphone: %w", err))
	}

	go s.watchDevices(s.mic.Lost())

	s.notify.Publish(s.userID, feed.State(info.SessionID, "active"))
	return nil
}

func (s *Session) abort(err error) error {
	s.teardown(ReasonStartFail, err)
	return err
}

// watchDevices tears the session down when the screen share or the
// microphone ends on its own.
func (s *Session) watchDevices(micLost <-chan struct{}) {
	select {
	case <-s.display.Done():
		s.logger.Info("Screen source ended", "session_id", s.Info().SessionID)
		s.teardown(ReasonRevoked, ErrDeviceRevoked)
	case <-micLost:
		s.logger.Info("Microphone ended", "session_id", s.Info().SessionID)
		s.teardown(ReasonMicLost, fmt.Errorf("microphone ended: %w", audio.ErrDeviceUnavailable))
	case <-s.done:
	}
}

// sendChunk packages a flushed audio chunk with the latest frame.
func (s *Session) sendChunk(audioB64 string) {
	image := ""
	if frame, ok := s.frames.Latest(); ok {
		image = frame.Base64()
	}
	if err := s.transport.SendMedia(s.ctx, audioB64, image); err != nil {
		s.logger.Debug("Outbound unit not sent", "error", err, "session_id", s.Info().SessionID)
	}
}

func (s *Session) handleText(text string) {
	s.notify.Publish(s.userID, feed.Text(s.Info().SessionID, text))
}

func (s *Session) handleAudio(audioB64 string) {
	if err := s.playback.Ingest(s.ctx, audioB64); err != nil {
		s.logger.Warn("Dropping inbound audio", "error", err, "session_id", s.Info().SessionID)
	}
}

func (s *Session) handleClosed(err error) {
	go func() {
		<-s.started
		s.teardown(ReasonTransport, err)
	}()
}

// teardown is the only path that releases session resources.
func (s *Session) teardown(reason string, cause error) {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		s.err = cause
		sessionID := s.info.SessionID
		s.mu.Unlock()

		s.cancel()
		if s.frameCancel != nil {
			s.frameCancel()
			<-s.frameDone
		}
		if err := s.mic.Stop(); err != nil {
			s.logger.Debug("Failed to stop microphone", "error", err)
		}
		if err := s.transport.Close(); err != nil {
			s.logger.Debug("Failed to close transport", "error", err)
		}
		if err := s.playback.Close(); err != nil {
			s.logger.Debug("Failed to close playback", "error", err)
		}
		if s.display != nil {
			s.display.Stop()
		}

		s.metrics.Teardown(reason)
		switch reason {
		case ReasonTransport:
			s.notify.Publish(s.userID, feed.Notice(sessionID, NoticeConnectionClosed))
		case ReasonRevoked:
			s.notify.Publish(s.userID, feed.Notice(sessionID, NoticeSharingEnded))
		case ReasonMicLost:
			s.notify.Publish(s.userID, feed.Notice(sessionID, NoticeMicrophoneLost))
		}
		if sessionID != "" {
			s.notify.Publish(s.userID, feed.State(sessionID, "stopped"))
		}

		if cause != nil {
			s.logger.Info("Streaming session ended", "session_id", sessionID, "reason", reason, "error", cause)
		} else {
			s.logger.Info("Streaming session ended", "session_id", sessionID, "reason", reason)
		}

		close(s.done)
		if s.onEnd != nil {
			s.onEnd(s, cause)
		}
	})
}

// Stop ends the session, waiting for a start in progress to finish first.
// Calling it on an ended session does nothing.
func (s *Session) Stop() {
	<-s.started
	s.teardown(ReasonStopped, nil)
}

// Info returns the session identity; zero until the handshake completed.
func (s *Session) Info() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Err returns why the session ended, or nil for a user stop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once teardown has finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ConnectionState returns the transport state.
func (s *Session) ConnectionState() transport.State {
	return s.transport.State()
}

// LatestFrame returns the most recent screen frame.
func (s *Session) LatestFrame() (capture.Frame, bool) {
	return s.frames.Latest()
}
