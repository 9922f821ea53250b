package pubsub

import "fmt"

// Channel naming conventions for chat delivery.
const (
	// Any process -> process holding the user's connection
	ChannelUserToClient = "chat:user:%s:to_client"

	// Matches every per-user delivery channel; names the shared Kafka topic
	PatternUserToClient = "chat:user:*:to_client"
)

// Event types carried on chat channels.
const (
	EventChatPayload = "chat_payload"
	// A process registered the user; any other holder must let go.
	EventSessionClaimed = "session_claimed"
)

// UserChannel returns the delivery channel for userID.
func UserChannel(userID string) string {
	return fmt.Sprintf(ChannelUserToClient, userID)
}
