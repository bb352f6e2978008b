package journal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
)

const (
	defaultBufferSize = 512
	writeTimeout      = 5 * time.Second
)

// Logger interface for optional logging support.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// EventSource is the part of the MQTT client the recorder listens to.
type EventSource interface {
	Events() *mqtt.Events
	ClientID() string
}

// Recorder writes client events to a Repository.
type Recorder struct {
	repo   Repository
	source EventSource
	logger Logger

	writes  chan func(ctx context.Context) error
	ids     []mqtt.ListenerID
	dropped atomic.Uint64
	stopped atomic.Bool

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewRecorder creates a recorder. bufferSize <= 0 uses a default of 512.
func NewRecorder(repo Repository, source EventSource, logger Logger, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Recorder{
		repo:   repo,
		source: source,
		logger: logger,
		writes: make(chan func(ctx context.Context) error, bufferSize),
		done:   make(chan struct{}),
	}
}

// Start registers the event listeners and starts the writer goroutine.
func (r *Recorder) Start() {
	r.startOnce.Do(func() {
		ev := r.source.Events()
		r.ids = append(r.ids,
			ev.OnMessageReceived(r.onReceived),
			ev.OnMessageSent(r.onSent),
			ev.OnStateChange(r.onStateChange),
			ev.OnDisconnected(r.onDisconnected),
		)

		r.wg.Add(1)
		go r.run()
	})
}

// Stop unregisters the listeners and waits for buffered writes to finish.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		ev := r.source.Events()
		for _, id := range r.ids {
			ev.Remove(id)
		}
		close(r.done)
		r.wg.Wait()
	})
}

// Dropped returns how many entries were discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) onReceived(m mqtt.ReceivedMessage) {
	e := &Entry{
		Direction:  DirectionIn,
		Topic:      m.Topic,
		Payload:    m.Text,
		ClientID:   r.source.ClientID(),
		RecordedAt: m.ReceivedAt,
	}
	r.enqueue(func(ctx context.Context) error { return r.repo.RecordMessage(ctx, e) })
}

func (r *Recorder) onSent(m mqtt.SentMessage) {
	e := &Entry{
		Direction:  DirectionOut,
		Topic:      m.Topic,
		Payload:    m.Text,
		QoS:        int(m.QoS),
		ClientID:   r.source.ClientID(),
		RecordedAt: m.SentAt,
	}
	r.enqueue(func(ctx context.Context) error { return r.repo.RecordMessage(ctx, e) })
}

// onStateChange records every transition except an unsolicited loss,
// which only happens as Connected -> Disconnected and is recorded with its
// reason by onDisconnected.
func (r *Recorder) onStateChange(from, to mqtt.ConnectionState) {
	if from == mqtt.StateConnected && to == mqtt.StateDisconnected {
		return
	}
	ev := &ConnectionEvent{
		From:     from.String(),
		To:       to.String(),
		ClientID: r.source.ClientID(),
	}
	r.enqueue(func(ctx context.Context) error { return r.repo.RecordConnectionEvent(ctx, ev) })
}

// onDisconnected records an unsolicited loss. Requested disconnects carry
// no error and are recorded through Connected -> Disconnecting -> Disconnected.
func (r *Recorder) onDisconnected(err error) {
	if err == nil {
		return
	}
	ev := &ConnectionEvent{
		From:     mqtt.StateConnected.String(),
		To:       mqtt.StateDisconnected.String(),
		ClientID: r.source.ClientID(),
		Error:    err.Error(),
	}
	r.enqueue(func(ctx context.Context) error { return r.repo.RecordConnectionEvent(ctx, ev) })
}

func (r *Recorder) enqueue(write func(ctx context.Context) error) {
	if r.stopped.Load() {
		return
	}
	select {
	case r.writes <- write:
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("journal buffer full, dropping entries")
		}
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case write := <-r.writes:
			r.apply(write)
		case <-r.done:
			for {
				select {
				case write := <-r.writes:
					r.apply(write)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) apply(write func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := write(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("journal write failed", "error", err)
	}
}
