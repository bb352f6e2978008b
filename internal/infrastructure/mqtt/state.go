package mqtt

// ConnectionState is the lifecycle state of a Client.
type ConnectionState int32

// Connection states.
const (
	// StateDisconnected is the initial state and the state after any teardown.
	StateDisconnected ConnectionState = iota

	// StateConnecting is held for the duration of a connect attempt.
	StateConnecting

	// StateConnected means a live session exists and publishes are accepted.
	StateConnected

	// StateDisconnecting is held while in-flight work settles during teardown.
	StateDisconnecting

	// StateFailed is entered briefly when a connect attempt fails,
	// immediately followed by StateDisconnected.
	StateFailed
)

// String returns the lower-case state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so states render by name in JSON.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// QoS is an MQTT delivery guarantee level.
type QoS byte

// QoS levels.
const (
	// AtMostOnce is fire-and-forget; no confirmation is awaited.
	AtMostOnce QoS = 0

	// AtLeastOnce waits for the broker's PUBACK.
	AtLeastOnce QoS = 1

	// ExactlyOnce waits for the full PUBREC/PUBREL/PUBCOMP handshake.
	ExactlyOnce QoS = 2
)

// NormalizeQoS maps a caller-supplied level onto a valid QoS.
// Anything outside 0..2 is treated as AtMostOnce.
func NormalizeQoS(qos int) QoS {
	switch qos {
	case 1:
		return AtLeastOnce
	case 2:
		return ExactlyOnce
	default:
		return AtMostOnce
	}
}

// String returns a short description of the QoS level.
func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "at-most-once"
	case AtLeastOnce:
		return "at-least-once"
	case ExactlyOnce:
		return "exactly-once"
	default:
		return "unknown"
	}
}
