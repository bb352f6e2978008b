package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
)

// Client supervises a single MQTT broker connection.
//
// It owns the connection state machine, subscribes to the configured
// catch-all filter after every connect, routes inbound messages to
// listeners and coordinates outbound publishes.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Connect, Disconnect and connection-loss handling are serialised.
//   - Disconnect waits for in-flight publishes before tearing the session down.
//   - There is no automatic reconnection; a lost connection stays
//     Disconnected until Connect is called again.
type Client struct {
	transport Transport
	logger    Logger
	events    *Events
	router    *router

	cfgMu sync.RWMutex
	cfg   config.MQTTConfig

	state    atomic.Int32
	clientID atomic.Value // string
	closed   atomic.Bool

	// lifeMu serialises connect, disconnect and loss handling.
	lifeMu sync.Mutex

	// sessionMu guards swaps of live. Publishes hold the read side for the
	// duration of the transport call.
	sessionMu sync.RWMutex
	live      atomic.Pointer[sessionRef]

	lost      chan sessionLoss
	published atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once

	// Closed when the matching background goroutine has returned.
	routerStopped chan struct{}
	eventsStopped chan struct{}
	watchStopped  chan struct{}
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// sessionRef pairs a live session with the configuration it was opened with.
type sessionRef struct {
	Session
	cfg config.MQTTConfig
}

type sessionLoss struct {
	ref *sessionRef
	err error
}

// Option configures a Client at construction.
type Option func(*Client)

// WithTransport replaces the default paho transport.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithLogger sets the logger used for lifecycle, routing and listener errors.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Stats are running counters since the Client was created.
type Stats struct {
	Received  uint64 `json:"received"`
	Dropped   uint64 `json:"dropped"`
	Published uint64 `json:"published"`
}

// New creates a Disconnected client. No network activity happens until Connect.
//
// The returned client runs background goroutines for message routing and
// event delivery; call Close to stop them.
func New(cfg config.MQTTConfig, opts ...Option) *Client {
	c := &Client{
		transport: PahoTransport(),
		logger:    nopLogger{},
		cfg:       cfg,
		lost:      make(chan sessionLoss, 4),
		done:      make(chan struct{}),

		routerStopped: make(chan struct{}),
		eventsStopped: make(chan struct{}),
		watchStopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.clientID.Store("")
	c.events = newEvents(c.logger)
	c.router = newRouter(cfg.QueueSize, c.done, c.events, c.logger)

	go func() {
		defer close(c.routerStopped)
		c.router.run()
	}()
	go func() {
		defer close(c.eventsStopped)
		c.events.run(c.done)
	}()
	go func() {
		defer close(c.watchStopped)
		c.watchSessions()
	}()

	return c
}

// Events returns the notifier used to register listeners.
func (c *Client) Events() *Events {
	return c.events
}

// Config returns the configuration the next Connect will use.
func (c *Client) Config() config.MQTTConfig {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

// SetConfig replaces the configuration. A live session keeps the settings
// it was opened with; the change takes effect on the next Connect.
func (c *Client) SetConfig(cfg config.MQTTConfig) {
	c.cfgMu.Lock()
	c.cfg = cfg
	c.cfgMu.Unlock()
}

// State returns the current connection state without blocking.
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// IsConnected reports whether the client is Connected and the transport
// still considers its connection open.
func (c *Client) IsConnected() bool {
	if c.State() != StateConnected {
		return false
	}
	ref := c.live.Load()
	return ref != nil && ref.IsConnected()
}

// ClientID returns the client id used by the most recent connect attempt.
// It is empty before the first Connect.
func (c *Client) ClientID() string {
	id, _ := c.clientID.Load().(string)
	return id
}

// Stats returns message counters.
func (c *Client) Stats() Stats {
	return Stats{
		Received:  c.router.received.Load(),
		Dropped:   c.router.dropped.Load(),
		Published: c.published.Load(),
	}
}

// Connect opens a session with the broker and subscribes to the configured
// filter.
//
// Connect only starts from Disconnected: it returns ErrAlreadyConnected when
// a session is live and ErrConnectInProgress while another lifecycle
// operation is running. On failure the client passes through Failed back to
// Disconnected and the error wraps ErrConnectionFailed. A failed subscribe
// is logged and does not fail the connect.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.transition(StateDisconnected, StateConnecting) {
		if c.State() == StateConnected {
			return ErrAlreadyConnected
		}
		return ErrConnectInProgress
	}

	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.closed.Load() {
		c.setState(StateDisconnected)
		return ErrClosed
	}

	cfg := c.Config()
	opts := sessionOptions(cfg)
	c.clientID.Store(opts.ClientID)

	ref := &sessionRef{cfg: cfg}
	ref.Session = c.transport.NewSession(opts, SessionHandlers{
		OnMessage: func(topic string, payload []byte) {
			c.router.enqueue(topic, payload)
		},
		OnConnectionLost: func(err error) {
			c.sessionLost(ref, err)
		},
	})

	c.logger.Info("connecting to MQTT broker",
		"broker", opts.BrokerURL,
		"client_id", opts.ClientID,
	)

	connectCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	err := ref.Connect(connectCtx)
	cancel()
	if err != nil {
		if derr := ref.Disconnect(0); derr != nil {
			c.logger.Debug("releasing failed session", "error", derr)
		}
		c.setState(StateFailed)
		c.setState(StateDisconnected)
		c.logger.Error("MQTT connection failed",
			"broker", opts.BrokerURL,
			"client_id", opts.ClientID,
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.sessionMu.Lock()
	c.live.Store(ref)
	c.sessionMu.Unlock()
	c.setState(StateConnected)

	c.logger.Info("connected to MQTT broker",
		"broker", opts.BrokerURL,
		"client_id", opts.ClientID,
	)

	c.subscribe(ctx, ref)
	c.events.queueConnected()
	return nil
}

// Disconnect gracefully closes the live session.
//
// It is a no-op unless the client is Connected. In-flight publishes are
// allowed to complete first. A transport error is logged and returned
// wrapped in ErrDisconnectFailed; the session is released either way.
func (c *Client) Disconnect() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if !c.transition(StateConnected, StateDisconnecting) {
		return nil
	}

	c.logger.Info("disconnecting from MQTT broker", "client_id", c.ClientID())

	c.sessionMu.Lock()
	ref := c.live.Swap(nil)
	c.sessionMu.Unlock()

	var err error
	if ref != nil {
		if derr := ref.Disconnect(ref.cfg.DisconnectQuiesce()); derr != nil {
			err = fmt.Errorf("%w: %w", ErrDisconnectFailed, derr)
			c.logger.Error("MQTT disconnect failed", "error", derr)
		}
	}

	c.setState(StateDisconnected)
	c.events.queueDisconnected(nil)
	return err
}

// Close disconnects if needed and stops the background goroutines.
// Messages still queued for routing are discarded. Pending lifecycle
// events are delivered before Close returns. Close is idempotent.
//
// Close may be called from a listener. It then skips waiting for the
// goroutine running that listener, which stops once the listener returns.
func (c *Client) Close() error {
	inEvents := c.events.dispatching.Load()
	inRouter := c.router.dispatching.Load()

	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if err := c.Disconnect(); err != nil {
			c.logger.Warn("disconnect during close failed", "error", err)
		}
		close(c.done)
	})

	<-c.watchStopped
	if !inRouter {
		<-c.routerStopped
	}
	if !inEvents {
		<-c.eventsStopped
	}
	return nil
}

// HealthCheck verifies the MQTT connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// sessionLost is the transport's connection-lost callback. It only hands
// the event to watchSessions.
func (c *Client) sessionLost(ref *sessionRef, err error) {
	select {
	case c.lost <- sessionLoss{ref: ref, err: err}:
	case <-c.done:
	}
}

func (c *Client) watchSessions() {
	for {
		select {
		case ev := <-c.lost:
			c.handleSessionLost(ev.ref, ev.err)
		case <-c.done:
			return
		}
	}
}

// handleSessionLost retires ref if it is still the live session.
// Losses reported by sessions that were already replaced or torn down are ignored.
func (c *Client) handleSessionLost(ref *sessionRef, err error) {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.sessionMu.Lock()
	current := c.live.CompareAndSwap(ref, nil)
	c.sessionMu.Unlock()

	if !current {
		c.logger.Debug("ignoring connection loss from stale session", "error", err)
		return
	}

	if err == nil {
		err = ErrConnectionLost
	}
	c.logger.Warn("MQTT connection lost", "client_id", c.ClientID(), "error", err)
	c.setState(StateDisconnected)
	c.events.queueDisconnected(err)
}

// transition moves from -> to atomically and reports whether it happened.
func (c *Client) transition(from, to ConnectionState) bool {
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	c.events.queueStateChange(from, to)
	return true
}

// setState moves unconditionally to the given state.
func (c *Client) setState(to ConnectionState) {
	from := ConnectionState(c.state.Swap(int32(to)))
	if from != to {
		c.events.queueStateChange(from, to)
	}
}
