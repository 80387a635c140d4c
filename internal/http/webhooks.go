package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/ops-messaging/internal/approval"
	"github.com/jmehdipour/ops-messaging/internal/dispatcher"
	"github.com/jmehdipour/ops-messaging/internal/metrics"
	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// ErrIngestBusy means the event was not accepted and should be redelivered.
var ErrIngestBusy = errors.New("ingest queue full")

// Ingestor accepts a raw webhook body for asynchronous processing.
type Ingestor interface {
	Ingest(ctx context.Context, provider string, body []byte) error
}

// InboxIngestor queues events in the in-process inbox.
type InboxIngestor struct {
	Inbox *approval.Inbox
}

func (i InboxIngestor) Ingest(_ context.Context, provider string, body []byte) error {
	if !i.Inbox.Offer(approval.InboundEvent{Provider: provider, Body: body}) {
		return ErrIngestBusy
	}
	return nil
}

// TopicWriter is implemented by kafka.Producer.
type TopicWriter interface {
	Write(ctx context.Context, topic, key string, value []byte) error
}

// KafkaIngestor publishes events as envelopes for the responder worker.
type KafkaIngestor struct {
	Writer TopicWriter
	Topic  string
	Now    func() time.Time
}

func (k KafkaIngestor) Ingest(ctx context.Context, provider string, body []byte) error {
	now := time.Now
	if k.Now != nil {
		now = k.Now
	}
	b, err := json.Marshal(model.Envelope{Provider: provider, Payload: json.RawMessage(body), ReceivedAt: now()})
	if err != nil {
		return err
	}
	return k.Writer.Write(ctx, k.Topic, provider, b)
}

type webhookHandler struct {
	registry    *dispatcher.Registry
	ingest      Ingestor
	verifyToken string
	appSecret   string
	log         *zap.Logger
}

// verify answers the subscription challenge sent when the webhook is
// registered with the provider.
func (h *webhookHandler) verify(c echo.Context) error {
	if _, ok := h.registry.Get(c.Param("provider")); !ok {
		return errorJSON(c, http.StatusNotFound, "unknown provider")
	}
	if c.QueryParam("hub.mode") != "subscribe" || h.verifyToken == "" ||
		!hmac.Equal([]byte(c.QueryParam("hub.verify_token")), []byte(h.verifyToken)) {
		return errorJSON(c, http.StatusForbidden, "verification failed")
	}
	return c.String(http.StatusOK, c.QueryParam("hub.challenge"))
}

// receive acknowledges only once the body is queued, so a provider that
// gets a non-2xx redelivers.
func (h *webhookHandler) receive(c echo.Context) error {
	name := c.Param("provider")
	if _, ok := h.registry.Get(name); !ok {
		return errorJSON(c, http.StatusNotFound, "unknown provider")
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "unreadable body")
	}
	if len(body) > maxWebhookBody {
		return errorJSON(c, http.StatusRequestEntityTooLarge, "body too large")
	}

	if h.appSecret != "" && !validSignature(h.appSecret, c.Request().Header.Get("X-Hub-Signature-256"), body) {
		metrics.WebhookEventsTotal.WithLabelValues("rejected").Inc()
		h.log.Warn("webhook signature mismatch", zap.String("provider", name))
		return errorJSON(c, http.StatusUnauthorized, "invalid signature")
	}

	if err := h.ingest.Ingest(c.Request().Context(), name, body); err != nil {
		if errors.Is(err, ErrIngestBusy) {
			h.log.Warn("webhook inbox full", zap.String("provider", name))
			return errorJSON(c, http.StatusServiceUnavailable, "busy")
		}
		h.log.Error("webhook ingest failed", zap.String("provider", name), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "ingest failed")
	}
	return c.NoContent(http.StatusOK)
}

// validSignature checks "sha256=<hex hmac of body>".
func validSignature(secret, header string, body []byte) bool {
	sig, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
