package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every harness topic.
//
// Layout: crsql/{db_id}/{category}/{id}
const TopicPrefix = "crsql"

// Topic categories.
const (
	categoryChanges  = "changes"
	categoryPresence = "presence"
)

// topicLevels is the number of levels in a full harness topic.
const topicLevels = 4

// Topics provides builders for harness MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topic := topics.Changes("todo-app", siteID.String())
//	// Returns: "crsql/todo-app/changes/6ba7b810-9dad-11d1-80b4-00c04fd430c8"
type Topics struct{}

// Changes returns the topic a site publishes its change batches on.
//
// Example: crsql/todo-app/changes/6ba7b810-9dad-11d1-80b4-00c04fd430c8
func (Topics) Changes(dbID, siteID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefix, dbID, categoryChanges, siteID)
}

// Presence returns the retained online/offline topic for a client.
//
// Example: crsql/todo-app/presence/crsql-harness
func (Topics) Presence(dbID, clientID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefix, dbID, categoryPresence, clientID)
}

// AllChanges returns a pattern matching change batches from every site.
//
// Pattern: crsql/todo-app/changes/+
func (Topics) AllChanges(dbID string) string {
	return fmt.Sprintf("%s/%s/%s/+", TopicPrefix, dbID, categoryChanges)
}

// AllPresence returns a pattern matching every client's presence.
//
// Pattern: crsql/todo-app/presence/+
func (Topics) AllPresence(dbID string) string {
	return fmt.Sprintf("%s/%s/%s/+", TopicPrefix, dbID, categoryPresence)
}

// AllTopics returns a pattern matching all harness topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: crsql/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// ParseChanges extracts the database and site from a changes topic.
// It reports false for any other topic.
func (Topics) ParseChanges(topic string) (dbID, siteID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != topicLevels || parts[0] != TopicPrefix || parts[2] != categoryChanges {
		return "", "", false
	}
	if parts[1] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[1], parts[3], true
}
