package mqtt

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
)

// fakeTransport is an in-memory broker. Published messages are looped back
// to the publishing session when they match its subscription.
type fakeTransport struct {
	mu       sync.Mutex
	sessions []*fakeSession

	// Optional hooks; nil means succeed immediately.
	connectHook   func(ctx context.Context) error
	subscribeErr  error
	publishHook   func(ctx context.Context, topic string, qos QoS) error
	disconnectErr error
}

func (t *fakeTransport) NewSession(opts SessionOptions, handlers SessionHandlers) Session {
	s := &fakeSession{transport: t, opts: opts, handlers: handlers}
	t.mu.Lock()
	t.sessions = append(t.sessions, s)
	t.mu.Unlock()
	return s
}

func (t *fakeTransport) sessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *fakeTransport) session(i int) *fakeSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[i]
}

func (t *fakeTransport) last() *fakeSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sessions) == 0 {
		return nil
	}
	return t.sessions[len(t.sessions)-1]
}

type fakePublish struct {
	topic   string
	payload string
	qos     QoS
}

type fakeSession struct {
	transport *fakeTransport
	opts      SessionOptions
	handlers  SessionHandlers

	mu          sync.Mutex
	connected   bool
	calls       []string
	filters     []string
	published   []fakePublish
	disconnects int
}

func (s *fakeSession) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *fakeSession) Connect(ctx context.Context) error {
	s.record("connect")
	if hook := s.transport.connectHook; hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Subscribe(_ context.Context, filter string, _ QoS) error {
	s.record("subscribe")
	if s.transport.subscribeErr != nil {
		return s.transport.subscribeErr
	}
	s.mu.Lock()
	s.filters = append(s.filters, filter)
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Publish(ctx context.Context, topic string, payload []byte, qos QoS) error {
	s.record("publish")
	if hook := s.transport.publishHook; hook != nil {
		if err := hook(ctx, topic, qos); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.published = append(s.published, fakePublish{topic: topic, payload: string(payload), qos: qos})
	var loop bool
	for _, f := range s.filters {
		if MatchTopic(f, topic) {
			loop = true
			break
		}
	}
	s.mu.Unlock()

	if loop {
		s.deliver(topic, payload)
	}
	return nil
}

func (s *fakeSession) Disconnect(time.Duration) error {
	s.record("disconnect")
	s.mu.Lock()
	s.connected = false
	s.disconnects++
	s.mu.Unlock()
	return s.transport.disconnectErr
}

func (s *fakeSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// deliver simulates an inbound message from the broker.
func (s *fakeSession) deliver(topic string, payload []byte) {
	s.handlers.OnMessage(topic, payload)
}

// drop simulates an unsolicited connection loss.
func (s *fakeSession) drop(err error) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.handlers.OnConnectionLost(err)
}

func (s *fakeSession) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSession) publishes() []fakePublish {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fakePublish(nil), s.published...)
}

func (s *fakeSession) disconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects
}

// blockUntilDone mimics a transport waiting for an acknowledgement that never comes.
func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
}

// testConfig returns a valid MQTT configuration for unit tests.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:           "127.0.0.1",
			Port:           1883,
			ClientIDPrefix: "mqttlink-test",
		},
		Session: config.MQTTSessionConfig{
			KeepAlive:    60,
			CleanSession: true,
		},
		Subscription: config.MQTTSubscriptionConfig{
			Filter: "#",
			QoS:    0,
		},
		Timeouts: config.MQTTTimeoutConfig{
			Connect:           5,
			Publish:           5,
			DisconnectQuiesce: 10,
		},
		QueueSize: 16,
	}
}

func newTestClient(t *testing.T, tr *fakeTransport, opts ...Option) *Client {
	t.Helper()
	c := New(testConfig(), append([]Option{WithTransport(tr)}, opts...)...)
	t.Cleanup(func() { c.Close() }) //nolint:errcheck // Test cleanup
	return c
}

func connectTestClient(t *testing.T, tr *fakeTransport, opts ...Option) *Client {
	t.Helper()
	c := newTestClient(t, tr, opts...)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return c
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// eventLog records everything the notifier emits.
type eventLog struct {
	mu           sync.Mutex
	received     []ReceivedMessage
	sent         []SentMessage
	connected    int
	disconnected []error
	transitions  [][2]ConnectionState
}

func recordEvents(c *Client) *eventLog {
	l := &eventLog{}
	ev := c.Events()
	ev.OnMessageReceived(func(m ReceivedMessage) {
		l.mu.Lock()
		l.received = append(l.received, m)
		l.mu.Unlock()
	})
	ev.OnMessageSent(func(m SentMessage) {
		l.mu.Lock()
		l.sent = append(l.sent, m)
		l.mu.Unlock()
	})
	ev.OnConnected(func() {
		l.mu.Lock()
		l.connected++
		l.mu.Unlock()
	})
	ev.OnDisconnected(func(err error) {
		l.mu.Lock()
		l.disconnected = append(l.disconnected, err)
		l.mu.Unlock()
	})
	ev.OnStateChange(func(from, to ConnectionState) {
		l.mu.Lock()
		l.transitions = append(l.transitions, [2]ConnectionState{from, to})
		l.mu.Unlock()
	})
	return l
}

func (l *eventLog) connectedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *eventLog) disconnects() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.disconnected...)
}

func (l *eventLog) receivedMessages() []ReceivedMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ReceivedMessage(nil), l.received...)
}

func (l *eventLog) sentMessages() []SentMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]SentMessage(nil), l.sent...)
}

func (l *eventLog) stateTransitions() [][2]ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][2]ConnectionState(nil), l.transitions...)
}

// recordingLogger captures log calls by level.
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) log(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, level+": "+msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.log("DEBUG", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.log("INFO", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.log("WARN", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.log("ERROR", msg) }

func (l *recordingLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == entry {
			return true
		}
	}
	return false
}
