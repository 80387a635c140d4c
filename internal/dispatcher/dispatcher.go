package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/ops-messaging/internal/metrics"
	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/jmehdipour/ops-messaging/internal/provider"
	"github.com/jmehdipour/ops-messaging/internal/util"
	"go.uber.org/zap"
)

var (
	ErrSendFailed      = errors.New("send failed")
	ErrDailyCapReached = errors.New("provider daily cap reached")
)

// SendError is returned when the routed provider failed and no fallback
// could deliver. Provider is the last one tried.
type SendError struct {
	Provider string
	Cause    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed via %s: %v", e.Provider, e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }

func (e *SendError) Is(target error) bool { return target == ErrSendFailed }

// MessageStore records every send attempt.
type MessageStore interface {
	InsertMessage(ctx context.Context, m model.Message) error
}

// DailyCap counts sends per provider per day.
type DailyCap interface {
	// Take consumes one unit and reports whether the send is still within limit.
	Take(ctx context.Context, provider string, limit int64) (bool, error)
}

type SendOptions struct {
	Priority          model.Priority
	PreferredProvider string
	DisableFallback   bool
	WorkflowID        string
}

type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option { return func(d *Dispatcher) { d.log = l } }

func WithDailyCap(c DailyCap) Option { return func(d *Dispatcher) { d.caps = c } }

func WithSendTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.sendTimeout = t
		}
	}
}

func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// Dispatcher routes sends through the policy and retries once via the
// fallback provider.
type Dispatcher struct {
	registry    *Registry
	policy      atomic.Pointer[Policy]
	store       MessageStore
	caps        DailyCap
	sendTimeout time.Duration
	log         *zap.Logger
	now         func() time.Time
}

func New(reg *Registry, cfg RoutingConfig, store MessageStore, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:    reg,
		store:       store,
		sendTimeout: 5 * time.Second,
		log:         zap.NewNop(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	d.policy.Store(NewPolicy(reg, cfg))
	return d
}

func (d *Dispatcher) Registry() *Registry { return d.registry }

// Routing returns a copy of the active routing config.
func (d *Dispatcher) Routing() RoutingConfig { return d.policy.Load().Config() }

// Reconfigure swaps in a new routing config. In-flight sends keep the policy
// they started with.
func (d *Dispatcher) Reconfigure(cfg RoutingConfig) {
	d.policy.Store(NewPolicy(d.registry, cfg))
	d.log.Info("routing reconfigured",
		zap.String("default", cfg.Default),
		zap.String("fallback", cfg.Fallback),
		zap.String("critical", cfg.Critical),
		zap.String("bulk", cfg.Bulk))
}

// rendered is what one provider is asked to deliver.
type rendered struct {
	kind    model.MessageKind
	content string
	send    func(ctx context.Context) (provider.Receipt, error)
}

type renderFunc func(p provider.Provider) rendered

// Send delivers a plain text message.
func (d *Dispatcher) Send(ctx context.Context, to, body string, opts SendOptions) (model.Message, error) {
	return d.dispatch(ctx, to, opts, func(p provider.Provider) rendered {
		return rendered{
			kind:    model.KindText,
			content: body,
			send:    func(ctx context.Context) (provider.Receipt, error) { return p.SendText(ctx, to, body) },
		}
	})
}

// SendTemplate delivers a named template with positional params.
func (d *Dispatcher) SendTemplate(ctx context.Context, to, name string, params []string, opts SendOptions) (model.Message, error) {
	content, _ := json.Marshal(map[string]any{"name": name, "params": params})
	return d.dispatch(ctx, to, opts, func(p provider.Provider) rendered {
		return rendered{
			kind:    model.KindTemplate,
			content: string(content),
			send: func(ctx context.Context) (provider.Receipt, error) {
				return p.SendTemplate(ctx, to, name, params)
			},
		}
	})
}

// SendInteractive delivers reply buttons where the provider supports them and
// a numbered text equivalent everywhere else.
func (d *Dispatcher) SendInteractive(ctx context.Context, to string, in model.Interactive, opts SendOptions) (model.Message, error) {
	return d.dispatch(ctx, to, opts, func(p provider.Provider) rendered {
		if !p.Capabilities().Interactive {
			text := RenderInteractiveText(in)
			return rendered{
				kind:    model.KindText,
				content: text,
				send:    func(ctx context.Context) (provider.Receipt, error) { return p.SendText(ctx, to, text) },
			}
		}
		content, _ := json.Marshal(in)
		return rendered{
			kind:    model.KindInteractive,
			content: string(content),
			send:    func(ctx context.Context) (provider.Receipt, error) { return p.SendInteractive(ctx, to, in) },
		}
	})
}

// CanRoute returns ErrNoProviderConfigured when no registered provider would
// be selected for priority.
func (d *Dispatcher) CanRoute(priority model.Priority) error {
	_, err := d.policy.Load().Select(priority, "")
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, to string, opts SendOptions, render renderFunc) (model.Message, error) {
	pol := d.policy.Load()

	primary, err := pol.Select(opts.Priority, opts.PreferredProvider)
	if err != nil {
		return model.Message{}, err
	}

	msg, err := d.attempt(ctx, pol, primary, to, opts, render)
	if err == nil {
		return msg, nil
	}
	primaryErr := err

	fb, ok := pol.Fallback()
	if opts.DisableFallback || !ok || fb.Name() == primary.Name() {
		d.log.Error("send failed",
			zap.String("provider", primary.Name()),
			zap.String("to", to),
			zap.Error(err))
		return msg, &SendError{Provider: primary.Name(), Cause: err}
	}

	d.log.Warn("send failed, trying fallback",
		zap.String("provider", primary.Name()),
		zap.String("fallback", fb.Name()),
		zap.Error(err))
	metrics.FallbacksTotal.WithLabelValues(primary.Name(), fb.Name()).Inc()

	msg, err = d.attempt(ctx, pol, fb, to, opts, render)
	if err != nil {
		d.log.Error("fallback send failed",
			zap.String("provider", fb.Name()),
			zap.String("to", to),
			zap.Error(err))
		return msg, &SendError{Provider: fb.Name(), Cause: errors.Join(
			fmt.Errorf("primary %s: %w", primary.Name(), primaryErr),
			fmt.Errorf("fallback %s: %w", fb.Name(), err),
		)}
	}
	return msg, nil
}

// attempt performs one bounded send and records it.
func (d *Dispatcher) attempt(ctx context.Context, pol *Policy, p provider.Provider, to string, opts SendOptions, render renderFunc) (model.Message, error) {
	r := render(p)

	msg := model.Message{
		ID:        util.New(),
		Provider:  p.Name(),
		Recipient: to,
		Kind:      r.kind,
		Content:   r.content,
		Status:    model.StatusPending,
		CreatedAt: d.now(),
	}
	if opts.WorkflowID != "" {
		wid := opts.WorkflowID
		msg.WorkflowID = &wid
	}

	err := d.withinCap(ctx, pol, p.Name())
	if err == nil {
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		var rec provider.Receipt
		rec, err = r.send(sendCtx)
		cancel()
		if err == nil && rec.MessageID != "" {
			msg.ProviderMessageID = &rec.MessageID
		}
	}

	if err != nil {
		msg.Status = model.StatusFailed
		e := err.Error()
		msg.Error = &e
	} else {
		msg.Status = model.StatusSent
		at := d.now()
		msg.SentAt = &at
	}
	metrics.MessagesTotal.WithLabelValues(msg.Provider, msg.Kind.String(), msg.Status.String()).Inc()

	if d.store != nil {
		if serr := d.store.InsertMessage(ctx, msg); serr != nil {
			d.log.Error("record message failed",
				zap.String("message_id", msg.ID),
				zap.String("provider", msg.Provider),
				zap.Error(serr))
		}
	}
	return msg, err
}

func (d *Dispatcher) withinCap(ctx context.Context, pol *Policy, name string) error {
	limit := pol.DailyCap(name)
	if d.caps == nil || limit <= 0 {
		return nil
	}
	ok, err := d.caps.Take(ctx, name, limit)
	if err != nil {
		// cap store down: send anyway
		d.log.Warn("daily cap check failed", zap.String("provider", name), zap.Error(err))
		return nil
	}
	if !ok {
		return fmt.Errorf("provider=%s limit=%d: %w", name, limit, ErrDailyCapReached)
	}
	return nil
}
