package xero

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/virtualcc/backoffice/internal/backoffice/bometrics"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// WebhookEvent is one entry of a Xero webhook delivery.
type WebhookEvent struct {
	ResourceURL   string `json:"resourceUrl"`
	ResourceID    string `json:"resourceId"`
	EventDateUTC  string `json:"eventDateUtc"`
	EventType     string `json:"eventType"`
	EventCategory string `json:"eventCategory"`
	TenantID      string `json:"tenantId"`
	TenantType    string `json:"tenantType"`
}

// WebhookPayload is the body of a Xero webhook delivery. An intent-to-receive
// probe carries no events.
type WebhookPayload struct {
	Events             []WebhookEvent `json:"events"`
	FirstEventSequence int            `json:"firstEventSequence"`
	LastEventSequence  int            `json:"lastEventSequence"`
	Entropy            string         `json:"entropy"`
}

// WebhookHandler verifies and records Xero webhook deliveries.
type WebhookHandler struct {
	key string
}

// NewWebhookHandler creates a handler verifying deliveries with the webhook key.
func NewWebhookHandler(key string) *WebhookHandler {
	return &WebhookHandler{key: key}
}

// VerifySignature reports whether signature is the base64 HMAC-SHA256 of
// payload under key.
func VerifySignature(payload []byte, signature, key string) bool {
	if key == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

// ServeHTTP answers 401 to any delivery whose signature does not verify and
// 200 otherwise; Xero's intent-to-receive check depends on exactly that.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		bometrics.WebhookRequestsTotal.WithLabelValues(provider, eventType, strconv.Itoa(status)).Inc()
		bometrics.WebhookDuration.WithLabelValues(provider, eventType).Observe(time.Since(start).Seconds())
	}()

	if strings.TrimSpace(h.key) == "" {
		status = http.StatusServiceUnavailable
		http.Error(w, "webhook key not configured", status)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		w.WriteHeader(status)
		return
	}

	if !VerifySignature(payload, r.Header.Get("x-xero-signature"), h.key) {
		status = http.StatusUnauthorized
		log.Warn().Str("remote", r.RemoteAddr).Msg("Xero webhook signature verification failed")
		w.WriteHeader(status)
		return
	}

	var body WebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		status = http.StatusBadRequest
		log.Warn().Err(err).Msg("Xero webhook payload is not valid JSON")
		w.WriteHeader(status)
		return
	}

	if len(body.Events) == 0 {
		eventType = "intent_to_receive"
	} else {
		eventType = strings.ToLower(body.Events[0].EventCategory + "." + body.Events[0].EventType)
	}
	for _, ev := range body.Events {
		log.Info().
			Str("category", ev.EventCategory).
			Str("type", ev.EventType).
			Str("resource_id", ev.ResourceID).
			Str("tenant_id", ev.TenantID).
			Str("event_date", ev.EventDateUTC).
			Msg("Xero webhook event received")
	}

	w.WriteHeader(status)
}
