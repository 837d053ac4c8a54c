package mqtt

import (
	"fmt"
	"strings"
)

// Topic layout: equinox/{component}/{name}/{action}
const (
	// TopicPrefix is the root of every topic
	TopicPrefix = "equinox"

	ComponentRetriever = "retriever"
	ComponentContext   = "context"

	ActionResult = "result"
	ActionHealth = "health"
	ActionActive = "active"
)

// ResultTopic is where envelopes fetched by a retriever are published.
func ResultTopic(retriever string) string {
	return join(TopicPrefix, ComponentRetriever, retriever, ActionResult)
}

// HealthTopic is where a process publishes its aggregated health.
func HealthTopic(source string) string {
	return join(TopicPrefix, source, ActionHealth)
}

// ActiveContextTopic announces active context changes.
func ActiveContextTopic() string {
	return join(TopicPrefix, ComponentContext, ActionActive)
}

// ParseTopic returns the segments after the prefix.
func ParseTopic(topic string) ([]string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[0] != TopicPrefix {
		return nil, fmt.Errorf("invalid topic format: must start with %s", TopicPrefix)
	}
	return parts[1:], nil
}

func join(parts ...string) string {
	return strings.Join(parts, "/")
}
