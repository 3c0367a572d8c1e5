package message

import (
	"time"
)

// Channel identifies the delivery channel for a conversation
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelChat  Channel = "chat"
)

// Valid checks if the channel is known
func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelChat:
		return true
	}
	return false
}

// Inbound is the only required intake shape. Channel determines which
// length cap the compliance gate applies on the way out.
type Inbound struct {
	ContactID  string    `json:"contact_id"`
	Channel    Channel   `json:"channel"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// DeliveryReceipt confirms an outbound send
type DeliveryReceipt struct {
	MessageID string    `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
}

// DeferredSend is queued when the quota limiter defers an approved message.
// The message is never dropped; it is redelivered after RetryAt.
type DeferredSend struct {
	ContactID string    `json:"contact_id"`
	Channel   Channel   `json:"channel"`
	Text      string    `json:"text"`
	SessionID string    `json:"session_id"`
	RetryAt   time.Time `json:"retry_at"`
	Attempts  int       `json:"attempts"`
}
