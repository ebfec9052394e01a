package domain

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validWebhook() *Webhook {
	return &Webhook{
		Name:         "CRM sync",
		URL:          "https://hooks.example.com/leads",
		Status:       WebhookStatusActive,
		Events:       []string{"lead.created"},
		Headers:      map[string]string{"X-Team": "sales"},
		RetryEnabled: true,
		MaxRetries:   3,
		RetryDelay:   60,
		Timeout:      30000,
		CreatedBy:    "user-1",
	}
}

func TestWebhook_Validate(t *testing.T) {
	script := "{id: payload.id}"
	badScript := "input.id"

	tests := []struct {
		name    string
		mutate  func(w *Webhook)
		wantErr string
	}{
		{"valid", func(w *Webhook) {}, ""},
		{"missing name", func(w *Webhook) { w.Name = " " }, "name is required"},
		{"missing url", func(w *Webhook) { w.URL = "" }, "url is required"},
		{"relative url", func(w *Webhook) { w.URL = "/hooks" }, "url"},
		{"ftp url", func(w *Webhook) { w.URL = "ftp://example.com/x" }, "url"},
		{"bad status", func(w *Webhook) { w.Status = "paused" }, "invalid status"},
		{"no events", func(w *Webhook) { w.Events = nil }, "at least one event"},
		{"unknown event", func(w *Webhook) { w.Events = []string{"lead.exploded"} }, "unknown event type"},
		{"bad header", func(w *Webhook) { w.Headers = map[string]string{"Bad Header": "x"} }, "invalid header name"},
		{"timeout too small", func(w *Webhook) { w.Timeout = 500 }, "timeout"},
		{"timeout too large", func(w *Webhook) { w.Timeout = 60001 }, "timeout"},
		{"negative retries", func(w *Webhook) { w.MaxRetries = -1 }, "max_retries"},
		{"too many retries", func(w *Webhook) { w.MaxRetries = 11 }, "max_retries"},
		{"zero delay", func(w *Webhook) { w.RetryDelay = 0 }, "retry_delay"},
		{"transform without script", func(w *Webhook) { w.TransformEnabled = true }, "transform_script is required"},
		{"transform with script", func(w *Webhook) { w.TransformEnabled = true; w.TransformScript = &script }, ""},
		{"transform with bad script", func(w *Webhook) { w.TransformEnabled = true; w.TransformScript = &badScript }, "invalid transform_script"},
		{"disabled transform is not checked", func(w *Webhook) { w.TransformScript = &badScript }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := validWebhook()
			tt.mutate(w)
			err := w.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.IsType(t, ValidationError{}, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCreateWebhookRequest_Validate(t *testing.T) {
	req := &CreateWebhookRequest{
		Name:   " Sync ",
		URL:    "https://hooks.example.com/leads",
		Events: []string{"lead.created", "lead.created", " lead.updated "},
	}
	w, err := req.Validate("user-1")
	require.NoError(t, err)
	assert.Equal(t, "Sync", w.Name)
	assert.Equal(t, WebhookStatusActive, w.Status)
	assert.Equal(t, []string{"lead.created", "lead.updated"}, w.Events)
	assert.True(t, w.RetryEnabled)
	assert.Equal(t, DefaultMaxRetries, w.MaxRetries)
	assert.Equal(t, DefaultRetryDelay, w.RetryDelay)
	assert.Equal(t, DefaultWebhookTimeoutMs, w.Timeout)
	assert.Equal(t, "user-1", w.CreatedBy)
	assert.NotNil(t, w.Headers)
	assert.Empty(t, w.SecretKey)

	off := false
	retries := 0
	req.RetryEnabled = &off
	req.MaxRetries = &retries
	w, err = req.Validate("user-1")
	require.NoError(t, err)
	assert.False(t, w.RetryEnabled)
	assert.Equal(t, 0, w.MaxRetries)
}

func TestCreateWebhookRequest_IgnoresSecret(t *testing.T) {
	var req CreateWebhookRequest
	body := `{"name":"x","url":"https://a.example.com","events":["lead.created"],"secret_key":"attacker"}`
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	w, err := req.Validate("user-1")
	require.NoError(t, err)
	assert.Empty(t, w.SecretKey)
}

func TestWebhook_Subscribes(t *testing.T) {
	w := validWebhook()
	assert.True(t, w.Subscribes("lead.created"))
	assert.False(t, w.Subscribes("lead.updated"))

	w.Status = WebhookStatusInactive
	assert.False(t, w.Subscribes("lead.created"))
}

func TestWebhook_CanRetry(t *testing.T) {
	w := validWebhook()
	assert.True(t, w.CanRetry(0))
	assert.True(t, w.CanRetry(2))
	assert.False(t, w.CanRetry(3))

	w.RetryEnabled = false
	assert.False(t, w.CanRetry(0))
}

func TestWebhook_TimeoutDuration(t *testing.T) {
	w := validWebhook()
	w.Timeout = 1500
	assert.Equal(t, 1500*time.Millisecond, w.TimeoutDuration())

	w.Timeout = 0
	assert.Equal(t, 30*time.Second, w.TimeoutDuration())
}

func TestNextRetryDelay(t *testing.T) {
	tests := []struct {
		base, count int
		want        int64
	}{
		{60, 0, 60},
		{60, 1, 120},
		{60, 2, 240},
		{60, 3, 480},
		{1, 1, 2},
		{1, 10, 1024},
		{0, 5, 0},
		{5, -1, 5},
		{3600, 100, math.MaxInt64},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NextRetryDelay(tt.base, tt.count), "base=%d count=%d", tt.base, tt.count)
	}
}

func TestWebhookDelivery_Body(t *testing.T) {
	d := &WebhookDelivery{Payload: json.RawMessage(`{"id":1}`)}
	assert.JSONEq(t, `{"id":1}`, string(d.Body()))

	d.TransformedPayload = json.RawMessage(`{"lead":1}`)
	assert.JSONEq(t, `{"lead":1}`, string(d.Body()))
}

func TestTruncateResponseBody(t *testing.T) {
	assert.Equal(t, "ok", TruncateResponseBody("ok"))

	long := strings.Repeat("a", MaxResponseBodyChars+50)
	assert.Len(t, TruncateResponseBody(long), MaxResponseBodyChars)

	// multi-byte characters are counted as characters, not bytes
	wide := strings.Repeat("é", MaxResponseBodyChars)
	assert.Equal(t, wide, TruncateResponseBody(wide))
	assert.Equal(t, MaxResponseBodyChars, len([]rune(TruncateResponseBody(wide+"é"))))
}

func TestTriggerRequest_Validate(t *testing.T) {
	req := &TriggerRequest{EventType: "lead.created"}
	require.NoError(t, req.Validate())
	assert.JSONEq(t, `{}`, string(req.Payload))

	assert.Error(t, (&TriggerRequest{}).Validate())
	assert.Error(t, (&TriggerRequest{EventType: "nope"}).Validate())
	assert.Error(t, (&TriggerRequest{EventType: "lead.created", Payload: json.RawMessage(`{`)}).Validate())
}

func TestIsValidEventType(t *testing.T) {
	for _, e := range WebhookEventTypes {
		assert.True(t, IsValidEventType(e))
	}
	assert.False(t, IsValidEventType("contact.created"))
}
