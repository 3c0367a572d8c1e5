package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/internal/adapters/config"
	"concierge/internal/domain/message"
	"concierge/pkg/errors"
)

func testClient(url string) *Client {
	return NewClient(config.CRMConfig{
		BaseURL:    url,
		APIKey:     "test-key",
		LocationID: "loc-1",
		Timeout:    2 * time.Second,
		MaxRetries: 0,
	})
}

func TestReadContact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contacts/c-1", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"contact": map[string]interface{}{
				"id":        "c-1",
				"phone":     "+15551234567",
				"firstName": "Dana",
				"tags":      []string{"warm-lead"},
			},
		})
	}))
	defer srv.Close()

	rec, err := testClient(srv.URL).ReadContact(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", rec.ID)
	assert.Equal(t, "Dana", rec.FirstName)
	assert.Equal(t, []string{"warm-lead"}, rec.Tags)
}

func TestReadContact_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).ReadContact(context.Background(), "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func TestSend(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"messageId": "msg-9"})
	}))
	defer srv.Close()

	receipt, err := testClient(srv.URL).Send(context.Background(), "c-1", message.ChannelSMS, "Hello!")
	require.NoError(t, err)
	assert.Equal(t, "msg-9", receipt.MessageID)
	assert.Equal(t, "SMS", body["type"])
	assert.Equal(t, "c-1", body["contactId"])
	assert.Equal(t, "loc-1", body["locationId"])
}

func TestWriteCustomFields(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/contacts/c-1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := testClient(srv.URL).WriteCustomFields(context.Background(), "c-1", map[string]string{"lead_temperature": "Hot"})
	require.NoError(t, err)

	fields, ok := body["customFields"].(map[string]interface{})
	require.True(t, ok, "customFields missing from body: %v", body)
	assert.Equal(t, "Hot", fields["lead_temperature"])
}

func TestServerErrorMapsToUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := testClient(srv.URL)

	err := client.WriteTags(context.Background(), "c-1", []string{"hot-lead"})
	assert.True(t, errors.Is(err, errors.ErrCrmUnavailable), "WriteTags: got %v", err)

	_, err = client.Send(context.Background(), "c-1", message.ChannelSMS, "hi")
	assert.True(t, errors.Is(err, errors.ErrCrmUnavailable), "Send: got %v", err)
}
