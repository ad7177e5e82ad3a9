package mqtt

import "errors"

// Sentinel errors. Match with errors.Is.
var (
	// ErrNotConnected is returned when the client has no broker connection.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the initial connection fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish is rejected or times out.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe is rejected or times out.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned for QoS levels other than 0, 1 or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for empty topics and for topic segments
	// containing '/', '+' or '#'.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrUnknownCommand is returned for messages on a command topic the
	// bridge does not understand.
	ErrUnknownCommand = errors.New("mqtt: unknown command topic")
)
