package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultQueueSize bounds the events buffered for one slow subscriber.
const DefaultQueueSize = 100

const (
	slowSendThreshold = 100 * time.Millisecond
	closeTimeout      = 5 * time.Second
)

// SendFunc writes one event to the subscriber's connection.
type SendFunc func(ctx context.Context, ev Event) error

// AsyncWriter queues events and sends them from a background goroutine, so
// Publish never waits on a slow connection. When the queue is full the
// oldest event is dropped.
type AsyncWriter struct {
	send   SendFunc
	queue  chan Event
	userID string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	logger *slog.Logger

	mu      sync.Mutex
	dropped int
}

// NewAsyncWriter starts a writer delivering through send.
func NewAsyncWriter(send SendFunc, userID string, queueSize int, logger *slog.Logger) *AsyncWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &AsyncWriter{
		send:   send,
		queue:  make(chan Event, queueSize),
		userID: userID,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	w.wg.Add(1)
	go w.process()

	return w
}

// Deliver queues ev without blocking.
func (w *AsyncWriter) Deliver(ev Event) {
	if w.ctx.Err() != nil {
		return
	}

	select {
	case w.queue <- ev:
		return
	default:
	}

	// Full: drop the oldest event and retry once.
	select {
	case <-w.queue:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		w.logger.Warn("Reply queue full, dropped oldest event", "user_id", w.userID)
	default:
	}

	select {
	case w.queue <- ev:
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		w.logger.Warn("Failed to queue reply event", "user_id", w.userID, "type", ev.Type)
	}
}

// Dropped returns how many events were discarded for back pressure.
func (w *AsyncWriter) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *AsyncWriter) process() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev := <-w.queue:
			start := time.Now()
			if err := w.send(w.ctx, ev); err != nil {
				w.logger.Debug("Reply send failed", "error", err, "user_id", w.userID)
				continue
			}
			if d := time.Since(start); d > slowSendThreshold {
				w.logger.Warn("Slow reply subscriber", "user_id", w.userID, "duration_ms", d.Milliseconds())
			}
		}
	}
}

// Close stops the writer, discarding anything still queued.
func (w *AsyncWriter) Close() error {
	w.once.Do(func() {
		w.cancel()

		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(closeTimeout):
			w.logger.Warn("Reply writer shutdown timeout", "user_id", w.userID)
		}

		if n := len(w.queue); n > 0 {
			w.logger.Debug("Discarded queued reply events", "user_id", w.userID, "count", n)
		}
	})
	return nil
}
