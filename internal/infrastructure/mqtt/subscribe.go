package mqtt

import (
	"fmt"

	"github.com/nerrad567/crsql-harness/internal/changeset"
)

// BatchHandler receives a change batch that arrived on a changes topic.
// The batch has been validated and its site matches the topic.
type BatchHandler func(b changeset.Batch) error

// Subscribe registers a handler for messages on topic.
//
// Topics may use MQTT wildcards; Topics.AllChanges is the usual pattern.
// Subscriptions are tracked and restored after a reconnect.
//
// Parameters:
//   - topic: The topic pattern to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Called for each message on the paho router goroutine
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.forget(topic)
		return fmt.Errorf("%w: %w after %v", ErrSubscribeFailed, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.forget(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// forget drops topic from the subscriptions restored on reconnect.
func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// Unsubscribe removes the subscription on topic, which must be the exact
// pattern passed to Subscribe. Messages already in flight may still arrive.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.forget(topic)

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrUnsubscribeFailed, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

// ParseChangesMessage decodes a message received on a changes topic of dbID.
//
// Returns:
//   - changeset.Batch: The decoded batch
//   - error: ErrInvalidTopic for any other topic, changeset.ErrInvalidBatch
//     for a malformed payload, ErrSiteMismatch if the batch names a
//     different site than its topic
func ParseChangesMessage(dbID, topic string, payload []byte) (changeset.Batch, error) {
	topicDB, topicSite, ok := Topics{}.ParseChanges(topic)
	if !ok || topicDB != dbID {
		return changeset.Batch{}, fmt.Errorf("%w: %q is not a changes topic of %s", ErrInvalidTopic, topic, dbID)
	}

	b, err := changeset.DecodeBatch(payload)
	if err != nil {
		return changeset.Batch{}, err
	}
	if b.SiteID.String() != topicSite {
		return changeset.Batch{}, fmt.Errorf("%w: batch %s from %s on %s", ErrSiteMismatch, b.ID, b.SiteID, topic)
	}
	return b, nil
}

// SubscribeBatches delivers every site's change batches for dbID to handler.
// Messages that fail ParseChangesMessage are logged and dropped.
//
// Example:
//
//	err := client.SubscribeBatches("todo-app", 1, func(b changeset.Batch) error {
//	    return changeset.Merge(ctx, db, b.SiteID, b.Changes, b.Until)
//	})
func (c *Client) SubscribeBatches(dbID string, qos byte, handler BatchHandler) error {
	if dbID == "" {
		return fmt.Errorf("%w: db id is required", ErrInvalidTopic)
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	return c.Subscribe(Topics{}.AllChanges(dbID), qos, func(topic string, payload []byte) error {
		b, err := ParseChangesMessage(dbID, topic, payload)
		if err != nil {
			return err
		}
		return handler(b)
	})
}

// UnsubscribeBatches removes the subscription made by SubscribeBatches.
func (c *Client) UnsubscribeBatches(dbID string) error {
	return c.Unsubscribe(Topics{}.AllChanges(dbID))
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether topic, compared exactly, is subscribed.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
