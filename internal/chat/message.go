// Package chat implements the connection-broadcast engine shared by every
// transport: the message type, the history ring, the connection registry,
// and the Hub that fans messages out to registered handles.
package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind distinguishes chat lines typed by users from notices generated by the
// server (joins, departures, shutdown).
type Kind string

const (
	// UserMessage is a line of text sent by a connected user.
	UserMessage Kind = "UserMessage"
	// SystemNotification is a notice generated by the server itself.
	SystemNotification Kind = "SystemNotification"
)

// SystemName is the sender used for notices that do not belong to a user.
const SystemName = "System"

// Message is a timestamped, attributed line of text. It is a value type and
// is never modified after construction; every consumer receives its own copy.
type Message struct {
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Type      Kind      `json:"message_type"`
}

// NewUserMessage builds a message typed by the named user, stamped now.
func NewUserMessage(username, content string) Message {
	return Message{
		Username:  username,
		Content:   content,
		Timestamp: time.Now(),
		Type:      UserMessage,
	}
}

// NewSystemMessage builds a server notice about username, stamped now.
func NewSystemMessage(username, content string) Message {
	return Message{
		Username:  username,
		Content:   content,
		Timestamp: time.Now(),
		Type:      SystemNotification,
	}
}

// IsSystem reports whether m is a server notice.
func (m Message) IsSystem() bool {
	return m.Type == SystemNotification
}

// Encode returns the wire form of m: a single JSON object without the
// trailing newline.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message from %q: %w", m.Username, err)
	}
	return data, nil
}

// DecodeMessage parses one wire line produced by Encode.
func DecodeMessage(line []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.Type == "" {
		m.Type = UserMessage
	}
	return m, nil
}
