package mqtt

import (
	"fmt"

	"github.com/nerrad567/crsql-harness/internal/changeset"
)

// MaxPayloadSize bounds one message (1MB), in line with typical broker limits.
const MaxPayloadSize = 1 << 20

// Publish sends payload on topic.
//
// Parameters:
//   - topic: The topic to publish to
//   - payload: The message payload, at most MaxPayloadSize bytes
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker keeps the message for late subscribers.
//     Presence is retained; change batches are not.
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes on %s, limit %d", ErrPayloadTooLarge, len(payload), topic, MaxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrPublishFailed, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// ChangesMessage returns the topic and payload that carry b for dbID.
// The topic is the batch site's changes topic.
//
// Returns:
//   - error: ErrInvalidTopic without a db id, ErrPayloadTooLarge if the
//     encoded batch exceeds MaxPayloadSize
func ChangesMessage(dbID string, b changeset.Batch) (topic string, payload []byte, err error) {
	if dbID == "" {
		return "", nil, fmt.Errorf("%w: db id is required", ErrInvalidTopic)
	}
	payload, err = b.Encode()
	if err != nil {
		return "", nil, err
	}
	if len(payload) > MaxPayloadSize {
		return "", nil, fmt.Errorf("%w: batch %s with %d changes is %d bytes, limit %d",
			ErrPayloadTooLarge, b.ID, len(b.Changes), len(payload), MaxPayloadSize)
	}
	return Topics{}.Changes(dbID, b.SiteID.String()), payload, nil
}

// PublishBatch publishes b on crsql/{db_id}/changes/{site_id}, not retained.
//
// An oversized batch fails with ErrPayloadTooLarge before anything is sent,
// so callers can split it and retry.
//
// Example:
//
//	batch := changeset.NewBatch(siteID, cursor, changes)
//	if err := client.PublishBatch("todo-app", batch, 1); err != nil {
//	    return err
//	}
func (c *Client) PublishBatch(dbID string, b changeset.Batch, qos byte) error {
	topic, payload, err := ChangesMessage(dbID, b)
	if err != nil {
		return err
	}
	return c.Publish(topic, payload, qos, false)
}
