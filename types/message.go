package types

import (
	"fmt"
	"strings"
	"time"
)

// MessageType 智能体消息类型（封闭枚举）
type MessageType string

const (
	MessageTypeQuestion MessageType = "question"
	MessageTypeResponse MessageType = "response"
	MessageTypeTask     MessageType = "task"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeQuestion, MessageTypeResponse, MessageTypeTask:
		return true
	default:
		return false
	}
}

// ParseMessageType parses a case-insensitive message type name.
func ParseMessageType(s string) (MessageType, error) {
	t := MessageType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", Errorf(ErrInvalidMessage, "unknown message type %q", s)
	}
	return t, nil
}

// Broadcast addresses understood by the broker.
const (
	AddressAll       = "*"
	AddressBroadcast = "broadcast"
)

// IsBroadcastAddress reports whether to addresses every registered agent.
func IsBroadcastAddress(to string) bool {
	return to == AddressAll || to == AddressBroadcast
}

// AgentMessage 智能体之间传递的消息。发布后不可变，多接收方投递时每个接收方拿到一份 To 重绑定后的副本。
type AgentMessage struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Type      MessageType    `json:"type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Validate checks the fields a publisher must provide.
func (m AgentMessage) Validate() error {
	if m.From == "" {
		return NewError(ErrInvalidMessage, "message sender is required")
	}
	if m.To == "" {
		return NewError(ErrInvalidMessage, "message target is required")
	}
	if !m.Type.Valid() {
		return Errorf(ErrInvalidMessage, "unknown message type %q", m.Type)
	}
	return nil
}

// Rebind returns a copy addressed to recipient. Metadata is copied so recipients
// cannot observe each other's mutations.
func (m AgentMessage) Rebind(recipient string) AgentMessage {
	out := m
	out.To = recipient
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// MetadataString returns a string metadata value, or "" when absent.
func (m AgentMessage) MetadataString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	switch v := m.Metadata[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}
