package mqtt

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType classifies a published message.
type MessageType string

const (
	// MessageTypeResult carries a retrieval envelope
	MessageTypeResult MessageType = "result"
	// MessageTypeHealth carries a health report
	MessageTypeHealth MessageType = "health"
	// MessageTypeContext announces an active context change
	MessageTypeContext MessageType = "context"
)

// Message is the envelope for everything published on the bus.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewMessage wraps payload in a message envelope.
func NewMessage(msgType MessageType, source string, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:        NewMessageID(),
		Type:      msgType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   payloadBytes,
	}, nil
}

// UnmarshalPayload deserializes the payload into v.
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// NewMessageID returns a random message id.
func NewMessageID() string {
	return uuid.NewString()
}
