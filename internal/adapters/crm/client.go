// Package crm implements the contact store and message sender against a
// GoHighLevel-style REST API.
package crm

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"concierge/internal/adapters/config"
	"concierge/internal/domain/contact"
	"concierge/internal/domain/message"
	"concierge/internal/metrics"
	"concierge/pkg/errors"
	"concierge/pkg/logger"
)

// Client talks to the CRM over HTTP. It implements contact.Store and
// contact.Sender; transient failures surface as ErrCrmUnavailable so
// callers can degrade instead of failing the turn.
type Client struct {
	http       *resty.Client
	locationID string
	log        *logger.Logger
}

func NewClient(cfg config.CRMConfig) *Client {
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= http.StatusInternalServerError ||
				r.StatusCode() == http.StatusTooManyRequests
		})

	return &Client{
		http:       rc,
		locationID: cfg.LocationID,
		log:        logger.Get().With("component", "crm_client"),
	}
}

type contactPayload struct {
	ID           string            `json:"id"`
	Phone        string            `json:"phone"`
	Email        string            `json:"email"`
	FirstName    string            `json:"firstName"`
	LastName     string            `json:"lastName"`
	Tags         []string          `json:"tags"`
	CustomFields map[string]string `json:"customFields"`
}

type contactResponse struct {
	Contact contactPayload `json:"contact"`
}

// ReadContact fetches a contact record by CRM id.
func (c *Client) ReadContact(ctx context.Context, contactID string) (*contact.Record, error) {
	var out contactResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/contacts/" + contactID)
	if err := c.check("read_contact", resp, err); err != nil {
		return nil, err
	}

	p := out.Contact
	return &contact.Record{
		ID:           p.ID,
		Phone:        p.Phone,
		Email:        p.Email,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Tags:         p.Tags,
		CustomFields: p.CustomFields,
	}, nil
}

// WriteTags adds tags to a contact. Existing tags are preserved server
// side; the endpoint is additive.
func (c *Client) WriteTags(ctx context.Context, contactID string, tags []string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"tags": tags}).
		Post("/contacts/" + contactID + "/tags")
	return c.check("write_tags", resp, err)
}

// WriteCustomFields upserts custom field values on a contact.
func (c *Client) WriteCustomFields(ctx context.Context, contactID string, fields map[string]string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"customFields": fields}).
		Put("/contacts/" + contactID)
	return c.check("write_custom_fields", resp, err)
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

// Send delivers an outbound message through the CRM's conversation API.
func (c *Client) Send(ctx context.Context, contactID string, channel message.Channel, text string) (*message.DeliveryReceipt, error) {
	var out sendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"contactId":  contactID,
			"locationId": c.locationID,
			"type":       channelType(channel),
			"message":    text,
		}).
		SetResult(&out).
		Post("/conversations/messages")
	if err := c.check("send", resp, err); err != nil {
		return nil, err
	}

	return &message.DeliveryReceipt{MessageID: out.MessageID, SentAt: time.Now()}, nil
}

func channelType(ch message.Channel) string {
	switch ch {
	case message.ChannelSMS:
		return "SMS"
	case message.ChannelEmail:
		return "Email"
	default:
		return "Live_Chat"
	}
}

// check maps transport and HTTP failures onto the domain error set and
// records the call metric exactly once per operation.
func (c *Client) check(operation string, resp *resty.Response, err error) error {
	if err != nil {
		metrics.CrmCalls.WithLabelValues(operation, "error").Inc()
		return errors.Wrapf(errors.ErrCrmUnavailable, "%s: %v", operation, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		metrics.CrmCalls.WithLabelValues(operation, "not_found").Inc()
		return errors.Wrapf(errors.ErrNotFound, "%s: contact not found", operation)
	}
	if resp.IsError() {
		metrics.CrmCalls.WithLabelValues(operation, "error").Inc()
		c.log.Warnw("crm call failed", "operation", operation, "status", resp.StatusCode())
		return errors.Wrapf(errors.ErrCrmUnavailable, "%s: status %d", operation, resp.StatusCode())
	}
	metrics.CrmCalls.WithLabelValues(operation, "ok").Inc()
	return nil
}
