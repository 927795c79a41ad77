// Package transport owns the persistent WebSocket connection to the
// streaming backend: handshake, outbound framing and inbound dispatch.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/smartstream/internal/domain"
	"github.com/ashureev/smartstream/internal/metrics"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Connection defaults.
const (
	DefaultDialTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	// DefaultReadLimit bounds a single inbound message; synthesized speech
	// chunks are far larger than coder/websocket's 32KB default.
	DefaultReadLimit = 16 * 1024 * 1024
)

var (
	// ErrNotOpen is returned when sending on a connection that is not open.
	ErrNotOpen = errors.New("connection not open")
	// ErrInvalidState is returned for operations not allowed in the current state.
	ErrInvalidState = errors.New("invalid connection state")
	// ErrTransportFailure wraps dial, handshake, write and unexpected read failures.
	ErrTransportFailure = errors.New("transport failure")
	// ErrClosedByPeer is reported when the backend closes the connection normally.
	ErrClosedByPeer = errors.New("connection closed by backend")
)

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateFailed
)

// States lists every state, in declaration order.
var States = []State{StateIdle, StateConnecting, StateOpen, StateClosing, StateClosed, StateFailed}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func stateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = s.String()
	}
	return names
}

// Config configures a Session.
type Config struct {
	URL          string
	Header       http.Header
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	// NewSessionID generates the correlation id sent with every unit.
	NewSessionID func() string
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = DefaultReadLimit
	}
	if c.NewSessionID == nil {
		c.NewSessionID = uuid.NewString
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Handlers receive inbound traffic and lifecycle events. All are optional and
// are called from the read goroutine, one message at a time.
type Handlers struct {
	OnText  func(text string)
	OnAudio func(audioB64 string)
	// OnClosed fires at most once, when the connection ends without Close
	// having been called.
	OnClosed func(err error)
}

// Session is a single connection attempt. It is not reusable: once Closed,
// create a new Session.
type Session struct {
	cfg      Config
	handlers Handlers
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	info     domain.Session
	readDone chan struct{}
}

// New creates an idle session.
func New(cfg Config, handlers Handlers) *Session {
	cfg.defaults()
	return &Session{
		cfg:      cfg,
		handlers: handlers,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns the session identity. It is zero until Open succeeds.
func (s *Session) Info() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *Session) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.logger.Debug("Connection state changed", "from", s.state.String(), "to", state.String(), "session_id", s.info.SessionID)
	s.state = state
	s.metrics.ConnectionState(state.String(), stateNames())
}

// Open dials the backend and sends the setup handshake. It returns once the
// handshake has been written and the session is Open.
func (s *Session) Open(ctx context.Context, user domain.User) (domain.Session, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return domain.Session{}, fmt.Errorf("%w: open from %s", ErrInvalidState, state)
	}
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	s.logger.Info("Connecting to streaming backend", "url", s.cfg.URL)

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, s.cfg.URL, &websocket.DialOptions{
		HTTPHeader: s.cfg.Header,
	})
	if err != nil {
		s.markFailed()
		return domain.Session{}, fmt.Errorf("%w: dial %s: %v", ErrTransportFailure, s.cfg.URL, err)
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	userID := user.UserID
	if userID == "" {
		userID = uuid.NewString()
	}
	sessionID := s.cfg.NewSessionID()
	setup := newSetupMessage(UserInfo{
		UserID:    userID,
		UserName:  user.DisplayName(),
		SessionID: sessionID,
	})

	if err := s.write(ctx, conn, setup); err != nil {
		_ = conn.CloseNow()
		s.markFailed()
		return domain.Session{}, fmt.Errorf("%w: send setup: %v", ErrTransportFailure, err)
	}

	info := domain.Session{
		SessionID: sessionID,
		UserID:    userID,
		UserName:  user.DisplayName(),
		StartedAt: time.Now(),
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// Close was called while the handshake was in flight.
		s.mu.Unlock()
		_ = conn.CloseNow()
		return domain.Session{}, fmt.Errorf("%w: closed during open", ErrTransportFailure)
	}
	s.conn = conn
	s.info = info
	s.readDone = make(chan struct{})
	s.setStateLocked(StateOpen)
	done := s.readDone
	s.mu.Unlock()

	go s.readLoop(conn, done)

	s.metrics.SessionStarted()
	s.logger.Info("Streaming session open", "session_id", sessionID)
	return info, nil
}

func (s *Session) markFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnecting {
		s.setStateLocked(StateFailed)
	}
}

func (s *Session) write(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// Send writes an outbound unit. Units sent while the session is not Open are
// dropped and logged; there is no queueing or redelivery.
func (s *Session) Send(ctx context.Context, unit OutboundUnit) error {
	s.mu.Lock()
	state, conn := s.state, s.conn
	s.mu.Unlock()

	if state != StateOpen || conn == nil {
		s.metrics.UnitDropped()
		s.logger.Debug("Dropping outbound unit, connection not open", "state", state.String())
		return ErrNotOpen
	}

	if err := s.write(ctx, conn, unit); err != nil {
		s.metrics.UnitDropped()
		s.logger.Warn("Outbound unit write failed", "error", err, "session_id", unit.SessionID)
		return fmt.Errorf("%w: write: %v", ErrTransportFailure, err)
	}
	s.metrics.UnitSent()
	return nil
}

// SendMedia sends one audio chunk and an optional image chunk tagged with
// this session's id.
func (s *Session) SendMedia(ctx context.Context, audioB64, imageB64 string) error {
	return s.Send(ctx, NewOutboundUnit(s.Info().SessionID, audioB64, imageB64))
}

func (s *Session) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			s.handleReadError(conn, err)
			return
		}
		s.handleMessage(data)
	}
}

func (s *Session) handleReadError(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	sessionID := s.info.SessionID

	var reported error
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		s.setStateLocked(StateClosed)
		reported = ErrClosedByPeer
		s.logger.Info("Streaming backend closed the connection", "session_id", sessionID)
	default:
		s.setStateLocked(StateFailed)
		reported = fmt.Errorf("%w: read: %v", ErrTransportFailure, err)
		s.logger.Warn("Streaming connection failed", "error", err, "session_id", sessionID)
	}
	s.mu.Unlock()

	_ = conn.CloseNow()

	if s.handlers.OnClosed != nil {
		s.safeCall("closed", func() { s.handlers.OnClosed(reported) })
	}
}

// handleMessage parses one inbound message and dispatches it. Malformed
// messages are dropped; nothing here may end the read loop.
func (s *Session) handleMessage(raw []byte) {
	unit, err := ParseInbound(raw)
	if err != nil {
		s.metrics.InboundParseError()
		s.logger.Warn("Dropping malformed inbound message", "error", err, "bytes", len(raw))
		return
	}
	s.metrics.InboundUnit(unit.Kind.String())
	s.dispatch(unit)
}

func (s *Session) dispatch(unit InboundUnit) {
	switch unit.Kind {
	case InboundText:
		s.emitText(unit.Text)
	case InboundAudio:
		s.emitAudio(unit.Audio)
	case InboundBoth:
		s.emitText(unit.Text)
		s.emitAudio(unit.Audio)
	case InboundEmpty:
		s.logger.Debug("Ignoring empty inbound unit")
	}
}

func (s *Session) emitText(text string) {
	if s.handlers.OnText != nil {
		s.safeCall("text", func() { s.handlers.OnText(text) })
	}
}

func (s *Session) emitAudio(audioB64 string) {
	if s.handlers.OnAudio != nil {
		s.safeCall("audio", func() { s.handlers.OnAudio(audioB64) })
	}
}

func (s *Session) safeCall(handler string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Inbound handler panicked", "handler", handler, "panic", r)
		}
	}()
	fn()
}

// Close ends the session from any non-terminal state. The socket is only
// closed with a close frame if it was open.
func (s *Session) Close() error {
	s.mu.Lock()
	prev := s.state
	if prev == StateClosing || prev == StateClosed {
		s.mu.Unlock()
		return nil
	}
	conn := s.conn
	s.setStateLocked(StateClosing)
	s.mu.Unlock()

	switch {
	case prev == StateOpen && conn != nil:
		if closeErr := conn.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			s.logger.Debug("Failed to close websocket cleanly", "error", closeErr)
			_ = conn.CloseNow()
		}
	case conn != nil:
		_ = conn.CloseNow()
	}

	s.mu.Lock()
	s.setStateLocked(StateClosed)
	s.mu.Unlock()

	s.logger.Info("Streaming session closed", "session_id", s.Info().SessionID, "from", prev.String())
	return nil
}

// Done is closed when the read loop has exited. It is nil before Open succeeds.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readDone
}
