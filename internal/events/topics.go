package events

// Topic constants for domain events emitted by the platform.
const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status_changed"
)

// DefaultTopics returns the topics streamed to realtime subscribers.
func DefaultTopics() []string {
	return []string{TopicOrderCreated, TopicOrderStatusChanged}
}
