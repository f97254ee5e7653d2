package mqtt

import "errors"

// Errors returned by the client and the batch helpers. Compare with errors.Is.
var (
	// ErrNotConnected is returned while the broker connection is down.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when Connect cannot reach the broker.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when the broker does not accept a publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscription is refused or has no handler.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when the broker does not confirm an unsubscribe.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrTimeout is wrapped with the operation's error when the broker does
	// not answer in time.
	ErrTimeout = errors.New("mqtt: timed out")

	// ErrInvalidQoS is returned for a QoS above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for an empty topic or a message that did not
	// arrive on a changes topic.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrPayloadTooLarge is returned when a message would exceed MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrSiteMismatch is returned when a batch names a different site than
	// the topic it arrived on.
	ErrSiteMismatch = errors.New("mqtt: batch site does not match topic")
)
