package contact

import (
	"context"

	"concierge/internal/domain/message"
)

// Temperature is the lead classification written back to the CRM
type Temperature string

const (
	TemperatureHot  Temperature = "Hot"
	TemperatureWarm Temperature = "Warm"
	TemperatureCold Temperature = "Cold"
)

// Well-known CRM tags
const (
	TagDoNotContact = "dnc"
	TagNeedsReview  = "needs-human-review"
)

// Record is the orchestrator's view of a CRM contact
type Record struct {
	ID           string            `json:"id"`
	Phone        string            `json:"phone"`
	Email        string            `json:"email"`
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	Tags         []string          `json:"tags"`
	CustomFields map[string]string `json:"custom_fields"`
}

// OptedOut reports whether the contact carries the do-not-contact tag
func (r *Record) OptedOut() bool {
	for _, t := range r.Tags {
		if t == TagDoNotContact {
			return true
		}
	}
	return false
}

// Store is the CRM collaborator interface. The orchestrator never depends
// on CRM-side business logic, only on these primitives succeeding or
// returning a retryable ErrCrmUnavailable.
type Store interface {
	ReadContact(ctx context.Context, contactID string) (*Record, error)
	WriteTags(ctx context.Context, contactID string, tags []string) error
	WriteCustomFields(ctx context.Context, contactID string, fields map[string]string) error
}

// Sender delivers outbound messages. Invoked only after the compliance
// gate and quota limiter approve.
type Sender interface {
	Send(ctx context.Context, contactID string, channel message.Channel, text string) (*message.DeliveryReceipt, error)
}
