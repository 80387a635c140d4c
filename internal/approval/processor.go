package approval

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmehdipour/ops-messaging/internal/dispatcher"
	"github.com/jmehdipour/ops-messaging/internal/metrics"
	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/jmehdipour/ops-messaging/internal/provider"
	"go.uber.org/zap"
)

// replyToken finds "<ulid>:<button>" inside free text.
var replyToken = regexp.MustCompile(`(?i)\b([0-9A-HJKMNP-TV-Z]{26}):([a-z]+)\b`)

// Transitioner is the engine surface the processor drives.
type Transitioner interface {
	Transition(ctx context.Context, id string, action model.Action, actorID, notes string) (Result, error)
}

// Notifier sends plain text replies to responders.
type Notifier interface {
	Send(ctx context.Context, to, body string, opts dispatcher.SendOptions) (model.Message, error)
}

// ParserLookup finds the webhook parser of a provider by name.
type ParserLookup interface {
	Get(name string) (provider.Provider, bool)
}

// ResponseProcessor turns webhook bodies into transitions. Deliveries are
// at-least-once, so the same body may arrive any number of times. It never
// panics. Malformed, unknown and duplicate replies are dropped; only store
// failures come back as errors, and redelivering the body is then safe.
type ResponseProcessor struct {
	engine    Transitioner
	providers ParserLookup
	notifier  Notifier
	log       *zap.Logger
}

func NewResponseProcessor(engine Transitioner, providers ParserLookup, notifier Notifier, log *zap.Logger) *ResponseProcessor {
	if log == nil {
		log = zap.NewNop()
	}
	return &ResponseProcessor{engine: engine, providers: providers, notifier: notifier, log: log}
}

// Handle processes one raw webhook body from the named provider. A non-nil
// error means at least one reply could not be applied and should be retried.
func (p *ResponseProcessor) Handle(ctx context.Context, providerName string, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.WebhookEventsTotal.WithLabelValues("error").Inc()
			p.log.Error("webhook handling panicked", zap.String("provider", providerName), zap.Any("panic", r))
		}
	}()

	prov, ok := p.providers.Get(providerName)
	if !ok {
		p.drop("unknown provider", zap.String("provider", providerName))
		return nil
	}
	parser, ok := prov.(provider.InboundParser)
	if !ok {
		p.drop("provider has no webhook parser", zap.String("provider", providerName))
		return nil
	}

	replies, err := parser.ParseInbound(body)
	if err != nil {
		p.drop("malformed webhook", zap.String("provider", providerName), zap.Error(err))
		return nil
	}
	var errs []error
	for _, r := range replies {
		if err := p.handleReply(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *ResponseProcessor) handleReply(ctx context.Context, r model.InboundReply) error {
	workflowID, button, ok := extractReply(r)
	if !ok {
		p.drop("reply without workflow reference",
			zap.String("provider", r.Provider),
			zap.String("event_id", r.EventID))
		return nil
	}
	action, ok := model.ParseAction(button)
	if !ok {
		p.drop("unknown button",
			zap.String("workflow_id", workflowID),
			zap.String("button", button))
		return nil
	}
	actor := strings.TrimSpace(r.From)
	if actor == "" {
		p.drop("reply without actor", zap.String("workflow_id", workflowID))
		return nil
	}

	res, err := p.engine.Transition(ctx, workflowID, action, actor, "")
	switch {
	case errors.Is(err, ErrSideEffectFailed):
		// decision stored; engine already logged and queued the follow-up
		metrics.WebhookEventsTotal.WithLabelValues("resolved").Inc()
		return nil
	case errors.Is(err, ErrWorkflowNotFound):
		p.drop("workflow not found", zap.String("workflow_id", workflowID))
		return nil
	case errors.Is(err, ErrInvalidAction):
		p.drop("invalid action", zap.String("workflow_id", workflowID))
		return nil
	case err != nil:
		metrics.WebhookEventsTotal.WithLabelValues("error").Inc()
		p.log.Error("transition failed",
			zap.String("workflow_id", workflowID),
			zap.String("event_id", r.EventID),
			zap.Error(err))
		return fmt.Errorf("workflow %s: %w", workflowID, err)
	}

	switch res.Outcome {
	case OutcomeResolved:
		metrics.WebhookEventsTotal.WithLabelValues("resolved").Inc()
	case OutcomeAlreadyResolved:
		metrics.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
		p.log.Debug("duplicate or late reply ignored",
			zap.String("workflow_id", workflowID),
			zap.String("event_id", r.EventID),
			zap.String("status", res.Workflow.Status.String()))
	case OutcomeExpired:
		metrics.WebhookEventsTotal.WithLabelValues("expired").Inc()
		p.notifyExpired(ctx, actor, res.Workflow)
	}
	return nil
}

func (p *ResponseProcessor) notifyExpired(ctx context.Context, to string, wf model.Workflow) {
	if p.notifier == nil {
		return
	}
	opts := dispatcher.SendOptions{Priority: model.PriorityMedium, WorkflowID: wf.ID}
	if _, err := p.notifier.Send(ctx, to, expiredText(wf), opts); err != nil {
		p.log.Warn("expired notice send failed",
			zap.String("workflow_id", wf.ID),
			zap.String("to", to),
			zap.Error(err))
	}
}

func (p *ResponseProcessor) drop(reason string, fields ...zap.Field) {
	metrics.WebhookEventsTotal.WithLabelValues("dropped").Inc()
	p.log.Warn("webhook reply dropped: "+reason, fields...)
}

// extractReply reads the workflow reference from a button reply id, or from
// the text of a typed answer to a degraded request. Ids are ULIDs, so they
// are upper-cased whatever the responder typed.
func extractReply(r model.InboundReply) (workflowID, button string, ok bool) {
	if r.ReplyID != "" {
		id, btn, ok := model.SplitReplyID(r.ReplyID)
		return strings.ToUpper(id), strings.ToLower(btn), ok
	}
	text := strings.Trim(strings.TrimSpace(r.Text), "[]")
	if id, btn, ok := model.SplitReplyID(text); ok && !strings.ContainsAny(text, " \n\t") {
		return strings.ToUpper(id), strings.ToLower(btn), true
	}
	if m := replyToken.FindStringSubmatch(r.Text); m != nil {
		return strings.ToUpper(m[1]), strings.ToLower(m[2]), true
	}
	return "", "", false
}
