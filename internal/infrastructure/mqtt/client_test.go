package mqtt

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Connection Tests
// =============================================================================

func TestNew_InitialState(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)

	if got := c.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want %v", got, StateDisconnected)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true before Connect, want false")
	}
	if c.ClientID() != "" {
		t.Errorf("ClientID() = %q before Connect, want empty", c.ClientID())
	}
	if tr.sessionCount() != 0 {
		t.Errorf("New() opened %d sessions, want 0", tr.sessionCount())
	}
}

func TestConnect(t *testing.T) {
	tr := &fakeTransport{}
	c := connectTestClient(t, tr)

	if got := c.State(); got != StateConnected {
		t.Errorf("State() = %v, want %v", got, StateConnected)
	}
	if !c.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

func TestConnect_StateTransitions(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)
	log := recordEvents(c)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	want := [][2]ConnectionState{
		{StateDisconnected, StateConnecting},
		{StateConnecting, StateConnected},
	}
	waitFor(t, "state transitions", func() bool { return len(log.stateTransitions()) == len(want) })
	if got := log.stateTransitions(); !slices.Equal(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestConnect_SubscribesOnceBeforeConnectedEvent(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)

	var (
		mu        sync.Mutex
		seenCalls []string
	)
	c.Events().OnConnected(func() {
		mu.Lock()
		seenCalls = tr.last().callLog()
		mu.Unlock()
	})
	log := recordEvents(c)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "connected event", func() bool { return log.connectedCount() == 1 })

	mu.Lock()
	defer mu.Unlock()
	want := []string{"connect", "subscribe"}
	if !slices.Equal(seenCalls, want) {
		t.Errorf("calls when connected fired = %v, want %v", seenCalls, want)
	}

	s := tr.last()
	s.mu.Lock()
	filters := append([]string(nil), s.filters...)
	s.mu.Unlock()
	if !slices.Equal(filters, []string{"#"}) {
		t.Errorf("subscriptions = %v, want [#]", filters)
	}
}

func TestConnect_Failure(t *testing.T) {
	tr := &fakeTransport{
		connectHook: func(context.Context) error { return errors.New("connection refused") },
	}
	logger := &recordingLogger{}
	c := newTestClient(t, tr, WithLogger(logger))
	log := recordEvents(c)

	err := c.Connect(context.Background())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want %v", got, StateDisconnected)
	}

	want := [][2]ConnectionState{
		{StateDisconnected, StateConnecting},
		{StateConnecting, StateFailed},
		{StateFailed, StateDisconnected},
	}
	waitFor(t, "state transitions", func() bool { return len(log.stateTransitions()) == len(want) })
	if got := log.stateTransitions(); !slices.Equal(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
	if log.connectedCount() != 0 {
		t.Error("connected event fired for failed connect")
	}
	if !logger.has("ERROR: MQTT connection failed") {
		t.Error("failed connect was not logged")
	}

	// A failed connect leaves the client ready for another attempt.
	tr.connectHook = nil
	if err := c.Connect(context.Background()); err != nil {
		t.Errorf("Connect() after failure error = %v", err)
	}
}

func TestConnect_ContextDeadline(t *testing.T) {
	tr := &fakeTransport{connectHook: blockUntilDone}
	c := newTestClient(t, tr)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Connect(ctx)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Connect() error = %v, want ErrTimeout in chain", err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", c.State())
	}
}

func TestConnect_AlreadyConnected(t *testing.T) {
	tr := &fakeTransport{}
	c := connectTestClient(t, tr)

	if err := c.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}
	if tr.sessionCount() != 1 {
		t.Errorf("sessions = %d, want 1", tr.sessionCount())
	}
}

func TestConnect_InProgress(t *testing.T) {
	entered := make(chan struct{})
	gate := make(chan struct{})
	tr := &fakeTransport{
		connectHook: func(context.Context) error {
			close(entered)
			<-gate
			return nil
		},
	}
	c := newTestClient(t, tr)

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()
	<-entered

	if got := c.State(); got != StateConnecting {
		t.Errorf("State() during connect = %v, want %v", got, StateConnecting)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrConnectInProgress) {
		t.Errorf("concurrent Connect() error = %v, want ErrConnectInProgress", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first Connect() error = %v", err)
	}
	if tr.sessionCount() != 1 {
		t.Errorf("sessions = %d, want 1", tr.sessionCount())
	}
}

func TestConnect_GeneratesClientID(t *testing.T) {
	tr := &fakeTransport{}
	c := connectTestClient(t, tr)

	pattern := regexp.MustCompile(`^mqttlink-test-[0-9a-f]{12}$`)
	first := c.ClientID()
	if !pattern.MatchString(first) {
		t.Errorf("ClientID() = %q, want match for %s", first, pattern)
	}
	if got := tr.last().opts.ClientID; got != first {
		t.Errorf("session client id = %q, want %q", got, first)
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if c.ClientID() == first {
		t.Errorf("reconnect reused generated client id %q", first)
	}
}

func TestConnect_ConfiguredClientID(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)

	cfg := c.Config()
	cfg.Broker.ClientID = "fixed-id"
	c.SetConfig(cfg)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if c.ClientID() != "fixed-id" {
		t.Errorf("ClientID() = %q, want %q", c.ClientID(), "fixed-id")
	}
	if got := tr.last().opts.BrokerURL; got != "tcp://127.0.0.1:1883" {
		t.Errorf("BrokerURL = %q, want tcp://127.0.0.1:1883", got)
	}
}

func TestConnect_SubscribeFailureKeepsConnection(t *testing.T) {
	tr := &fakeTransport{subscribeErr: errors.New("not authorised")}
	logger := &recordingLogger{}
	c := newTestClient(t, tr, WithLogger(logger))
	log := recordEvents(c)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v, want nil despite subscribe failure", err)
	}
	if c.State() != StateConnected {
		t.Errorf("State() = %v, want connected", c.State())
	}
	waitFor(t, "connected event", func() bool { return log.connectedCount() == 1 })
	if !logger.has("ERROR: MQTT subscribe failed") {
		t.Error("subscribe failure was not logged")
	}

	if err := c.Publish(context.Background(), "still works", "a/b", 1); err != nil {
		t.Errorf("Publish() after subscribe failure error = %v", err)
	}
}

func TestConnect_InvalidFilterSkipsSubscribe(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)

	cfg := c.Config()
	cfg.Subscription.Filter = "a/#/b"
	c.SetConfig(cfg)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if calls := tr.last().callLog(); slices.Contains(calls, "subscribe") {
		t.Errorf("calls = %v, want no subscribe for invalid filter", calls)
	}
}

// =============================================================================
// Disconnect Tests
// =============================================================================

func TestDisconnect_Idempotent(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)
	log := recordEvents(c)

	if err := c.Disconnect(); err != nil {
		t.Errorf("Disconnect() before Connect error = %v", err)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	for i := range 3 {
		if err := c.Disconnect(); err != nil {
			t.Errorf("Disconnect() #%d error = %v", i+1, err)
		}
	}

	if got := tr.last().disconnectCount(); got != 1 {
		t.Errorf("transport disconnects = %d, want 1", got)
	}
	if c.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", c.State())
	}

	waitFor(t, "disconnected event", func() bool { return len(log.disconnects()) == 1 })
	time.Sleep(20 * time.Millisecond)
	got := log.disconnects()
	if len(got) != 1 || got[0] != nil {
		t.Errorf("disconnected events = %v, want exactly one with nil error", got)
	}
}

func TestDisconnect_TransportError(t *testing.T) {
	tr := &fakeTransport{disconnectErr: errors.New("socket already closed")}
	c := connectTestClient(t, tr)

	err := c.Disconnect()
	if !errors.Is(err, ErrDisconnectFailed) {
		t.Errorf("Disconnect() error = %v, want ErrDisconnectFailed", err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", c.State())
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after failed disconnect, want false")
	}

	// The session is released regardless, so a fresh connect works.
	tr.disconnectErr = nil
	if err := c.Connect(context.Background()); err != nil {
		t.Errorf("Connect() after failed disconnect error = %v", err)
	}
}

func TestDisconnect_WaitsForInFlightPublish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	tr := &fakeTransport{
		publishHook: func(context.Context, string, QoS) error {
			once.Do(func() { close(started) })
			<-release
			return nil
		},
	}
	c := connectTestClient(t, tr)

	pubErr := make(chan error, 1)
	go func() { pubErr <- c.Publish(context.Background(), "in flight", "a/b", 1) }()
	<-started

	discErr := make(chan error, 1)
	go func() { discErr <- c.Disconnect() }()

	waitFor(t, "disconnecting state", func() bool { return c.State() == StateDisconnecting })

	// New publishes are refused while teardown is pending.
	if err := c.Publish(context.Background(), "late", "a/b", 0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() during disconnect error = %v, want ErrNotConnected", err)
	}

	select {
	case <-discErr:
		t.Fatal("Disconnect() returned before in-flight publish completed")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-pubErr; err != nil {
		t.Errorf("in-flight Publish() error = %v", err)
	}
	if err := <-discErr; err != nil {
		t.Errorf("Disconnect() error = %v", err)
	}

	calls := tr.last().callLog()
	if calls[len(calls)-1] != "disconnect" {
		t.Errorf("calls = %v, want disconnect last", calls)
	}
}

// =============================================================================
// Connection Loss Tests
// =============================================================================

func TestConnectionLost(t *testing.T) {
	tr := &fakeTransport{}
	logger := &recordingLogger{}
	c := newTestClient(t, tr, WithLogger(logger))
	log := recordEvents(c)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	lossErr := errors.New("EOF")
	s := tr.last()
	s.drop(lossErr)

	waitFor(t, "disconnected state", func() bool { return c.State() == StateDisconnected })
	waitFor(t, "disconnected event", func() bool { return len(log.disconnects()) == 1 })
	if got := log.disconnects()[0]; !errors.Is(got, lossErr) {
		t.Errorf("disconnected error = %v, want %v", got, lossErr)
	}

	// A second report from the same session is ignored.
	s.drop(lossErr)
	waitFor(t, "stale loss log", func() bool {
		return logger.has("DEBUG: ignoring connection loss from stale session")
	})
	if n := len(log.disconnects()); n != 1 {
		t.Errorf("disconnected events = %d, want 1", n)
	}

	if err := c.Publish(context.Background(), "x", "a/b", 0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() after loss error = %v, want ErrNotConnected", err)
	}

	// No automatic reconnection; an explicit Connect opens a new session.
	if tr.sessionCount() != 1 {
		t.Errorf("sessions = %d, want 1 (no auto-reconnect)", tr.sessionCount())
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	if tr.sessionCount() != 2 {
		t.Errorf("sessions = %d, want 2", tr.sessionCount())
	}
}

func TestConnectionLost_StaleSessionIgnored(t *testing.T) {
	tr := &fakeTransport{}
	logger := &recordingLogger{}
	c := connectTestClient(t, tr, WithLogger(logger))

	first := tr.session(0)
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	first.drop(errors.New("late loss"))
	waitFor(t, "stale loss log", func() bool {
		return logger.has("DEBUG: ignoring connection loss from stale session")
	})

	if c.State() != StateConnected {
		t.Errorf("State() = %v, want connected", c.State())
	}
}

func TestConnectionLost_ListenerMayReconnect(t *testing.T) {
	tr := &fakeTransport{}
	c := connectTestClient(t, tr)

	var reconnected atomic.Bool
	c.Events().OnDisconnected(func(err error) {
		if err != nil && reconnected.CompareAndSwap(false, true) {
			if cerr := c.Connect(context.Background()); cerr != nil {
				t.Errorf("Connect() from listener error = %v", cerr)
			}
		}
	})

	tr.last().drop(errors.New("broker restarted"))

	waitFor(t, "reconnect from listener", func() bool {
		return tr.sessionCount() == 2 && c.State() == StateConnected
	})
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublish_NotConnected(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)

	// The state check happens before topic validation.
	for _, topic := range []string{"a/b", ""} {
		if err := c.Publish(context.Background(), "x", topic, 1); !errors.Is(err, ErrNotConnected) {
			t.Errorf("Publish(%q) error = %v, want ErrNotConnected", topic, err)
		}
	}
	if tr.sessionCount() != 0 {
		t.Errorf("Publish() while disconnected touched the transport")
	}
}

func TestPublish_AfterDisconnect(t *testing.T) {
	tr := &fakeTransport{}
	c := connectTestClient(t, tr)
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	if err := c.Publish(context.Background(), "x", "a/b", 0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if n := len(tr.last().publishes()); n != 0 {
		t.Errorf("transport publishes = %d, want 0", n)
	}
}

func TestPublish_QoSNormalization(t *testing.T) {
	tests := []struct {
		requested int
		want      QoS
	}{
		{-1, AtMostOnce},
		{0, AtMostOnce},
		{1, AtLeastOnce},
		{2, ExactlyOnce},
		{3, AtMostOnce},
		{99, AtMostOnce},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("qos_%d", tt.requested), func(t *testing.T) {
			tr := &fakeTransport{}
			c := connectTestClient(t, tr)
			log := recordEvents(c)

			if err := c.Publish(context.Background(), "payload", "a/b", tt.requested); err != nil {
				t.Fatalf("Publish() error = %v", err)
			}

			pubs := tr.last().publishes()
			if len(pubs) != 1 || pubs[0].qos != tt.want {
				t.Errorf("transport publishes = %+v, want one at qos %d", pubs, tt.want)
			}
			sent := log.sentMessages()
			if len(sent) != 1 || sent[0].QoS != tt.want {
				t.Errorf("sent events = %+v, want one at qos %d", sent, tt.want)
			}
		})
	}
}

func TestPublish_InvalidTopic(t *testing.T) {
	tr := &fakeTransport{}
	c := connectTestClient(t, tr)

	for _, topic := range []string{"", "a/+/b", "a/#", "#"} {
		if err := c.Publish(context.Background(), "x", topic, 0); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("Publish(%q) error = %v, want ErrInvalidTopic", topic, err)
		}
	}
	if n := len(tr.last().publishes()); n != 0 {
		t.Errorf("transport publishes = %d, want 0", n)
	}
}

func TestPublish_PayloadTooLarge(t *testing.T) {
	tr := &fakeTransport{}
	c := connectTestClient(t, tr)

	large := strings.Repeat("x", maxPayloadSize+1)
	if err := c.Publish(context.Background(), large, "a/b", 0); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}

	exact := strings.Repeat("x", maxPayloadSize)
	if err := c.Publish(context.Background(), exact, "a/b", 0); err != nil {
		t.Errorf("Publish() at size limit error = %v", err)
	}
}

func TestPublish_AcknowledgementTimeout(t *testing.T) {
	tr := &fakeTransport{
		publishHook: func(ctx context.Context, _ string, qos QoS) error {
			if qos == AtMostOnce {
				return nil
			}
			return blockUntilDone(ctx)
		},
	}
	c := connectTestClient(t, tr)
	log := recordEvents(c)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Publish(ctx, "x", "a/b", 1)
	if !errors.Is(err, ErrPublishFailed) || !errors.Is(err, ErrTimeout) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed and ErrTimeout", err)
	}
	if n := len(log.sentMessages()); n != 0 {
		t.Errorf("sent events = %d after failed publish, want 0", n)
	}

	// QoS 0 does not wait for an acknowledgement.
	if err := c.Publish(context.Background(), "x", "a/b", 0); err != nil {
		t.Errorf("Publish() qos 0 error = %v", err)
	}
}

func TestPublish_Concurrent(t *testing.T) {
	tr := &fakeTransport{}
	c := connectTestClient(t, tr)
	log := recordEvents(c)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- c.Publish(context.Background(), fmt.Sprintf("msg-%d", i), "load/test", 1)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Publish() error = %v", err)
		}
	}

	seen := make(map[string]bool)
	for _, p := range tr.last().publishes() {
		seen[p.payload] = true
	}
	if len(seen) != n {
		t.Errorf("distinct transport publishes = %d, want %d", len(seen), n)
	}
	if got := len(log.sentMessages()); got != n {
		t.Errorf("sent events = %d, want %d", got, n)
	}
	if got := c.Stats().Published; got != n {
		t.Errorf("Stats().Published = %d, want %d", got, n)
	}
}

func TestPublishDefault(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)
	cfg := c.Config()
	cfg.QoS = 2
	c.SetConfig(cfg)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.PublishDefault(context.Background(), "x", "a/b"); err != nil {
		t.Fatalf("PublishDefault() error = %v", err)
	}
	if pubs := tr.last().publishes(); len(pubs) != 1 || pubs[0].qos != ExactlyOnce {
		t.Errorf("publishes = %+v, want one at qos 2", pubs)
	}
}

// =============================================================================
// Routing Tests
// =============================================================================

func TestReceive_RoundTrip(t *testing.T) {
	tr := &fakeTransport{}
	c := connectTestClient(t, tr)
	log := recordEvents(c)

	if err := c.Publish(context.Background(), "héllo", "greetings/en", 1); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	waitFor(t, "received message", func() bool { return len(log.receivedMessages()) == 1 })
	got := log.receivedMessages()[0]
	if got.Topic != "greetings/en" || got.Text != "héllo" {
		t.Errorf("received = %+v, want topic greetings/en text héllo", got)
	}
	if got.ReceivedAt.IsZero() {
		t.Error("ReceivedAt is zero")
	}
}

func TestReceive_PreservesArrivalOrder(t *testing.T) {
	tr := &fakeTransport{}
	c := connectTestClient(t, tr)
	log := recordEvents(c)

	const n = 100
	s := tr.last()
	for i := range n {
		s.deliver("seq", []byte(fmt.Sprint(i)))
	}

	waitFor(t, "all messages", func() bool { return len(log.receivedMessages()) == n })
	for i, m := range log.receivedMessages() {
		if m.Text != fmt.Sprint(i) {
			t.Fatalf("message %d text = %q, want %q", i, m.Text, fmt.Sprint(i))
		}
	}
}

func TestReceive_InvalidUTF8Dropped(t *testing.T) {
	tr := &fakeTransport{}
	logger := &recordingLogger{}
	c := connectTestClient(t, tr, WithLogger(logger))
	log := recordEvents(c)

	s := tr.last()
	s.deliver("bin", []byte{0xff, 0xfe, 0xfd})
	s.deliver("text", []byte("ok"))

	waitFor(t, "valid message", func() bool { return len(log.receivedMessages()) == 1 })
	if got := log.receivedMessages()[0].Topic; got != "text" {
		t.Errorf("received topic = %q, want text", got)
	}
	if got := c.Stats().Dropped; got != 1 {
		t.Errorf("Stats().Dropped = %d, want 1", got)
	}
	if !logger.has("WARN: dropping inbound message") {
		t.Error("decode failure was not logged")
	}
	if c.State() != StateConnected {
		t.Errorf("State() = %v after decode error, want connected", c.State())
	}
}

func TestDecodeMessage(t *testing.T) {
	msg := inboundMessage{topic: "t", payload: []byte{0xc3, 0x28}, receivedAt: time.Now()}
	if _, err := decodeMessage(msg); !errors.Is(err, ErrDecode) {
		t.Errorf("decodeMessage() error = %v, want ErrDecode", err)
	}

	msg.payload = []byte{}
	got, err := decodeMessage(msg)
	if err != nil {
		t.Fatalf("decodeMessage(empty) error = %v", err)
	}
	if got.Text != "" {
		t.Errorf("Text = %q, want empty", got.Text)
	}
}

// =============================================================================
// Event Tests
// =============================================================================

func TestEvents_ListenerPanicRecovered(t *testing.T) {
	tr := &fakeTransport{}
	logger := &recordingLogger{}
	c := connectTestClient(t, tr, WithLogger(logger))

	c.Events().OnMessageReceived(func(ReceivedMessage) { panic("boom") })
	log := recordEvents(c)

	tr.last().deliver("a", []byte("first"))
	tr.last().deliver("a", []byte("second"))

	waitFor(t, "both messages", func() bool { return len(log.receivedMessages()) == 2 })
	if !logger.has("ERROR: event listener panic recovered") {
		t.Error("listener panic was not logged")
	}
}

func TestEvents_Remove(t *testing.T) {
	tr := &fakeTransport{}
	c := connectTestClient(t, tr)

	var calls atomic.Int32
	id := c.Events().OnMessageSent(func(SentMessage) { calls.Add(1) })

	if !c.Events().Remove(id) {
		t.Fatal("Remove() = false for registered listener")
	}
	if c.Events().Remove(id) {
		t.Error("Remove() = true for already removed listener")
	}

	if err := c.Publish(context.Background(), "x", "a/b", 0); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("removed listener called %d times", calls.Load())
	}
}

func TestEvents_RegisterFromListener(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)

	var inner atomic.Int32
	c.Events().OnConnected(func() {
		c.Events().OnMessageSent(func(SentMessage) { inner.Add(1) })
	})
	log := recordEvents(c)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "connected event", func() bool { return log.connectedCount() == 1 })

	if err := c.Publish(context.Background(), "x", "a/b", 0); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if inner.Load() != 1 {
		t.Errorf("listener registered from listener called %d times, want 1", inner.Load())
	}
}

// =============================================================================
// Close / HealthCheck Tests
// =============================================================================

func TestEvents_ReceivedListenerPublishes(t *testing.T) {
	tr := &fakeTransport{}
	c := connectTestClient(t, tr)

	errc := make(chan error, 1)
	c.Events().OnMessageReceived(func(m ReceivedMessage) {
		if m.Topic != "cmd/ping" {
			return
		}
		errc <- c.Publish(context.Background(), "pong", "cmd/pong", 1)
	})

	tr.last().deliver("cmd/ping", []byte("ping"))

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Publish() from listener error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("QoS 1 publish from a message-received listener stalled")
	}

	pubs := tr.last().publishes()
	if len(pubs) != 1 || pubs[0].topic != "cmd/pong" || pubs[0].qos != AtLeastOnce {
		t.Errorf("publishes = %+v, want one QoS 1 on cmd/pong", pubs)
	}
}

func TestClose(t *testing.T) {
	tr := &fakeTransport{}
	c := connectTestClient(t, tr)

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
	if got := tr.last().disconnectCount(); got != 1 {
		t.Errorf("transport disconnects = %d, want 1", got)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() after Close error = %v, want ErrClosed", err)
	}
}

func TestClose_FromDisconnectedListener(t *testing.T) {
	tr := &fakeTransport{}
	c := connectTestClient(t, tr)

	returned := make(chan struct{})
	c.Events().OnDisconnected(func(error) {
		c.Close() //nolint:errcheck // Close never fails
		close(returned)
	})

	tr.last().drop(errors.New("broker closed"))

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() inside a disconnected listener did not return")
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() after Close error = %v, want ErrClosed", err)
	}

	// A later Close from outside still returns once the listener is done.
	closed := make(chan struct{})
	go func() {
		c.Close() //nolint:errcheck // Close never fails
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("second Close() did not return")
	}
}

func TestClose_FromReceivedListener(t *testing.T) {
	tr := &fakeTransport{}
	c := connectTestClient(t, tr)

	returned := make(chan struct{})
	c.Events().OnMessageReceived(func(ReceivedMessage) {
		c.Close() //nolint:errcheck // Close never fails
		close(returned)
	})

	tr.last().deliver("a/b", []byte("bye"))

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() inside a message-received listener did not return")
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want %v", got, StateDisconnected)
	}
	if got := tr.last().disconnectCount(); got != 1 {
		t.Errorf("transport disconnects = %d, want 1", got)
	}
}

func TestConnectionLost_NilReason(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)
	log := recordEvents(c)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	tr.last().drop(nil)

	waitFor(t, "disconnected event", func() bool { return len(log.disconnects()) == 1 })
	if got := log.disconnects()[0]; !errors.Is(got, ErrConnectionLost) {
		t.Errorf("disconnected error = %v, want ErrConnectionLost", got)
	}
}

func TestHealthCheck(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() disconnected error = %v, want ErrNotConnected", err)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() with cancelled context should return error")
	}
}
