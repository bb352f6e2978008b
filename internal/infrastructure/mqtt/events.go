package mqtt

import (
	"sync"
	"sync/atomic"
	"time"
)

// ListenerID identifies a registered listener so it can be removed.
type ListenerID uint64

// ReceivedMessage is a decoded inbound message.
type ReceivedMessage struct {
	Topic      string    `json:"topic"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// SentMessage describes a completed publish. QoS is the effective level
// after normalisation, not the level the caller asked for.
type SentMessage struct {
	Topic  string    `json:"topic"`
	Text   string    `json:"text"`
	QoS    QoS       `json:"qos"`
	SentAt time.Time `json:"sent_at"`
}

// registry is a set of listeners of one signature.
type registry[F any] struct {
	mu        sync.RWMutex
	listeners map[ListenerID]F
	order     []ListenerID
}

func (r *registry[F]) add(id ListenerID, fn F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listeners == nil {
		r.listeners = make(map[ListenerID]F)
	}
	r.listeners[id] = fn
	r.order = append(r.order, id)
}

func (r *registry[F]) remove(id ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[id]; !ok {
		return false
	}
	delete(r.listeners, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// snapshot returns the listeners in registration order.
func (r *registry[F]) snapshot() []F {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]F, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.listeners[id])
	}
	return out
}

// Events is the fan-out point for client notifications.
//
// Registration and removal may happen at any time, including from inside a
// listener. Listeners are always called without any Events lock held, and a
// panicking listener is logged and skipped.
//
// Lifecycle signals (connected, disconnected, state changes) are delivered
// in order on a dedicated goroutine, so a listener may call back into the
// Client, including Close. Message-received listeners run on the router
// goroutine and message-sent listeners run on the publishing goroutine.
//
// While the router queue is full the transport's receive path is blocked,
// and with it the acknowledgements for QoS 1 and 2 publishes. A
// message-received listener that publishes at QoS 1 or 2 synchronously can
// therefore stall until the publish timeout under heavy inbound load; hand
// such publishes to another goroutine or use QoS 0.
type Events struct {
	nextID atomic.Uint64
	logger Logger

	received     registry[func(ReceivedMessage)]
	sent         registry[func(SentMessage)]
	connected    registry[func()]
	disconnected registry[func(error)]
	stateChange  registry[func(from, to ConnectionState)]

	// Pending lifecycle notifications, delivered by run.
	qmu   sync.Mutex
	queue []func()
	wake  chan struct{}

	// dispatching is set while run is calling lifecycle listeners.
	dispatching atomic.Bool
}

func newEvents(logger Logger) *Events {
	return &Events{
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

func (e *Events) id() ListenerID {
	return ListenerID(e.nextID.Add(1))
}

// OnMessageReceived registers fn for every decoded inbound message.
func (e *Events) OnMessageReceived(fn func(ReceivedMessage)) ListenerID {
	id := e.id()
	e.received.add(id, fn)
	return id
}

// OnMessageSent registers fn for every successful publish.
func (e *Events) OnMessageSent(fn func(SentMessage)) ListenerID {
	id := e.id()
	e.sent.add(id, fn)
	return id
}

// OnConnected registers fn for every established connection.
// It fires after the post-connect subscription attempt has completed.
func (e *Events) OnConnected(fn func()) ListenerID {
	id := e.id()
	e.connected.add(id, fn)
	return id
}

// OnDisconnected registers fn for every transition into Disconnected from
// Connected. err is nil for a requested disconnect and never nil for an
// unsolicited loss: the transport's reason, or ErrConnectionLost.
func (e *Events) OnDisconnected(fn func(err error)) ListenerID {
	id := e.id()
	e.disconnected.add(id, fn)
	return id
}

// OnStateChange registers fn for every state transition.
func (e *Events) OnStateChange(fn func(from, to ConnectionState)) ListenerID {
	id := e.id()
	e.stateChange.add(id, fn)
	return id
}

// Remove unregisters a listener. It reports whether id was registered.
func (e *Events) Remove(id ListenerID) bool {
	return e.received.remove(id) ||
		e.sent.remove(id) ||
		e.connected.remove(id) ||
		e.disconnected.remove(id) ||
		e.stateChange.remove(id)
}

// emitReceived calls message-received listeners on the caller's goroutine.
func (e *Events) emitReceived(msg ReceivedMessage) {
	for _, fn := range e.received.snapshot() {
		e.safeCall("message_received", func() { fn(msg) })
	}
}

// emitSent calls message-sent listeners on the caller's goroutine.
func (e *Events) emitSent(msg SentMessage) {
	for _, fn := range e.sent.snapshot() {
		e.safeCall("message_sent", func() { fn(msg) })
	}
}

func (e *Events) queueConnected() {
	e.enqueue(func() {
		for _, fn := range e.connected.snapshot() {
			e.safeCall("connected", fn)
		}
	})
}

func (e *Events) queueDisconnected(err error) {
	e.enqueue(func() {
		for _, fn := range e.disconnected.snapshot() {
			e.safeCall("disconnected", func() { fn(err) })
		}
	})
}

func (e *Events) queueStateChange(from, to ConnectionState) {
	e.enqueue(func() {
		for _, fn := range e.stateChange.snapshot() {
			e.safeCall("state_change", func() { fn(from, to) })
		}
	})
}

func (e *Events) enqueue(fn func()) {
	e.qmu.Lock()
	e.queue = append(e.queue, fn)
	e.qmu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// run delivers queued lifecycle notifications until done is closed,
// then drains whatever is still pending.
func (e *Events) run(done <-chan struct{}) {
	for {
		select {
		case <-e.wake:
			e.dispatch()
		case <-done:
			e.dispatch()
			return
		}
	}
}

func (e *Events) dispatch() {
	e.dispatching.Store(true)
	defer e.dispatching.Store(false)
	e.drain()
}

func (e *Events) drain() {
	for {
		e.qmu.Lock()
		pending := e.queue
		e.queue = nil
		e.qmu.Unlock()

		if len(pending) == 0 {
			return
		}
		for _, fn := range pending {
			fn()
		}
	}
}

// safeCall runs fn, logging and swallowing any panic.
func (e *Events) safeCall(signal string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event listener panic recovered",
				"signal", signal,
				"panic", r,
			)
		}
	}()
	fn()
}
