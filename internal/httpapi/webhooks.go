package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"dialdesk/internal/billing"
	"dialdesk/internal/calls"
	"dialdesk/internal/metrics"
	"dialdesk/internal/voice"
	"dialdesk/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// Webhooks terminates the provider callback channels. Once a payload parses,
// the response is always 200: providers retry on non-2xx, and a processing
// failure on our side is not something a retry of the same payload fixes
// at this layer.
type Webhooks struct {
	Calls   *calls.Service
	Billing *billing.Service
}

// billingEventPayload is the provider's JSON envelope for billing events on
// the combined channel.
type billingEventPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		CustomerEmail string `json:"customer_email"`
		Plan          string `json:"plan"`
	} `json:"data"`
}

// Combined handles POST /webhook: one JSON channel carrying both call-status
// and billing events, routed by the type field.
func (w Webhooks) Combined(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	ev, err := voice.ParseStatusEvent(raw)
	switch {
	case err == nil:
		w.handleCallEvent(c, ev)
	case errors.Is(err, voice.ErrNotCallEvent):
		w.handleBillingEvent(c, raw)
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
		return
	}
}

func (w Webhooks) handleCallEvent(c *gin.Context, ev voice.StatusEvent) {
	metrics.WebhookEvents.WithLabelValues("call").Inc()

	_, err := w.Calls.HandleVoiceEvent(c.Request.Context(), calls.VoiceEvent{
		CallID:          ev.CallID,
		Status:          ev.Status,
		Direction:       ev.Direction,
		From:            ev.From,
		To:              ev.To,
		ControlHandle:   ev.ControlURL,
		DurationSeconds: ev.DurationSecs,
		OccurredAt:      ev.OccurredAt(time.Now().UTC()),
	})
	if err != nil {
		logger.FromGin(c).Error("call event processing", "call_id", ev.CallID, "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (w Webhooks) handleBillingEvent(c *gin.Context, raw []byte) {
	var payload billingEventPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ID == "" || payload.Type == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
		return
	}
	metrics.WebhookEvents.WithLabelValues("billing").Inc()

	err := w.Billing.ProcessEvent(c.Request.Context(), billing.Event{
		EventID: payload.ID,
		Type:    payload.Type,
		Email:   payload.Data.CustomerEmail,
		Plan:    payload.Data.Plan,
	})
	if err != nil {
		logger.FromGin(c).Error("billing event processing", "event_id", payload.ID, "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// Inbound handles POST /webhook/inbound: the form-encoded channel the
// provider hits when a call arrives on one of our numbers.
func (w Webhooks) Inbound(c *gin.Context) {
	form, err := voice.ParseInboundForm(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed inbound webhook"})
		return
	}
	metrics.WebhookEvents.WithLabelValues("inbound").Inc()

	_, err = w.Calls.HandleVoiceEvent(c.Request.Context(), calls.VoiceEvent{
		CallID:        form.CallID,
		Status:        form.CallStatus,
		Direction:     form.Direction,
		From:          form.From,
		To:            form.To,
		ControlHandle: form.ControlURL,
	})
	if err != nil {
		logger.FromGin(c).Error("inbound event processing", "call_id", form.CallID, "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
