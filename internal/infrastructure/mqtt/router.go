package mqtt

import (
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// inboundMessage is a raw message as handed over by the transport.
type inboundMessage struct {
	topic      string
	payload    []byte
	receivedAt time.Time
}

// router decouples transport callbacks from listener delivery.
//
// The transport enqueues onto a bounded channel; a single goroutine drains
// it, decodes each payload and fans out to message-received listeners in
// arrival order. A full queue blocks the transport, which in turn applies
// back-pressure to the broker.
type router struct {
	queue  chan inboundMessage
	done   <-chan struct{}
	events *Events
	logger Logger

	received atomic.Uint64
	dropped  atomic.Uint64

	// dispatching is set while run is calling message-received listeners.
	dispatching atomic.Bool
}

func newRouter(size int, done <-chan struct{}, events *Events, logger Logger) *router {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &router{
		queue:  make(chan inboundMessage, size),
		done:   done,
		events: events,
		logger: logger,
	}
}

// enqueue hands msg to the router. It blocks while the queue is full and
// gives up once the router has stopped.
func (r *router) enqueue(topic string, payload []byte) bool {
	msg := inboundMessage{topic: topic, payload: payload, receivedAt: time.Now()}
	select {
	case r.queue <- msg:
		return true
	case <-r.done:
		return false
	}
}

func (r *router) run() {
	for {
		select {
		case msg := <-r.queue:
			r.dispatching.Store(true)
			r.dispatch(msg)
			r.dispatching.Store(false)
		case <-r.done:
			return
		}
	}
}

func (r *router) dispatch(msg inboundMessage) {
	decoded, err := decodeMessage(msg)
	if err != nil {
		r.dropped.Add(1)
		r.logger.Warn("dropping inbound message",
			"topic", msg.topic,
			"bytes", len(msg.payload),
			"error", err,
		)
		return
	}

	r.received.Add(1)
	r.events.emitReceived(decoded)
}

// decodeMessage interprets the payload as UTF-8 text.
func decodeMessage(msg inboundMessage) (ReceivedMessage, error) {
	if !utf8.Valid(msg.payload) {
		return ReceivedMessage{}, fmt.Errorf("%w: payload on %q is not valid UTF-8", ErrDecode, msg.topic)
	}
	return ReceivedMessage{
		Topic:      msg.topic,
		Text:       string(msg.payload),
		ReceivedAt: msg.receivedAt,
	}, nil
}
