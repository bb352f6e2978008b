package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when publishing on a client that is not Connected.
	// No transport I/O is attempted when this error is returned.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when a connect attempt fails
	// (network, authentication, timeout). The client is left Disconnected.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrSubscribeFailed describes a failed post-connect subscription.
	// It is logged only; the connection stays up.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrDecode describes an inbound payload that could not be decoded as text.
	// The message is dropped and routing continues.
	ErrDecode = errors.New("mqtt: malformed payload")

	// ErrDisconnectFailed is returned when the transport reports an error
	// during a graceful disconnect. The session is released regardless.
	ErrDisconnectFailed = errors.New("mqtt: disconnect failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrInvalidTopic is returned when an empty or malformed topic is provided.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrAlreadyConnected is returned by Connect when a session is already live.
	ErrAlreadyConnected = errors.New("mqtt: already connected")

	// ErrConnectInProgress is returned by Connect while another connect or
	// disconnect is still running.
	ErrConnectInProgress = errors.New("mqtt: connect or disconnect in progress")

	// ErrConnectionLost is the disconnected-event reason for a loss the
	// transport reported without an error of its own.
	ErrConnectionLost = errors.New("mqtt: connection lost")

	// ErrClosed is returned by Connect after Close has been called.
	ErrClosed = errors.New("mqtt: client closed")
)
