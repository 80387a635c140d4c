package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/ops-messaging/internal/dispatcher"
	"github.com/jmehdipour/ops-messaging/internal/metrics"
	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/jmehdipour/ops-messaging/internal/util"
	"go.uber.org/zap"
)

const (
	DefaultTTL            = 24 * time.Hour
	DefaultSweepBatchSize = 500
)

// Store is the durable workflow store. ResolveIfPending and ExpirePending
// must be conditional on status = pending at the storage layer; they are the
// only coordination between processes.
type Store interface {
	CreateWorkflow(ctx context.Context, wf model.Workflow) error
	// GetWorkflow returns nil, nil when the workflow does not exist.
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	// ResolveIfPending applies r iff the workflow is still pending and
	// reports whether it did.
	ResolveIfPending(ctx context.Context, id string, r model.Resolution) (bool, error)
	// ExpirePending expires up to limit pending workflows with expires_at < now.
	ExpirePending(ctx context.Context, now time.Time, limit int) (int, error)
}

// Sender is the subset of the dispatcher the engine needs.
type Sender interface {
	Send(ctx context.Context, to, body string, opts dispatcher.SendOptions) (model.Message, error)
	SendInteractive(ctx context.Context, to string, in model.Interactive, opts dispatcher.SendOptions) (model.Message, error)
}

// Router is implemented by senders that can tell up front whether any
// provider serves a priority.
type Router interface {
	CanRoute(priority model.Priority) error
}

type Config struct {
	TTL            time.Duration
	SweepBatchSize int
}

type EngineOption func(*Engine)

func WithEngineLogger(l *zap.Logger) EngineOption { return func(e *Engine) { e.log = l } }

func WithEngineClock(now func() time.Time) EngineOption { return func(e *Engine) { e.now = now } }

func WithGroups(g GroupResolver) EngineOption { return func(e *Engine) { e.groups = g } }

func WithSideEffects(s *SideEffects) EngineOption { return func(e *Engine) { e.effects = s } }

// WithPublisher enables resolution and follow-up events.
func WithPublisher(p Publisher) EngineOption { return func(e *Engine) { e.pub = p } }

// Engine owns the workflow lifecycle: pending -> approved | rejected | expired.
type Engine struct {
	store   Store
	sender  Sender
	groups  GroupResolver
	effects *SideEffects
	pub     Publisher
	log     *zap.Logger
	now     func() time.Time
	ttl     time.Duration
	batch   int
}

func NewEngine(store Store, sender Sender, cfg Config, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   store,
		sender:  sender,
		groups:  StaticGroups{},
		effects: NewSideEffects(),
		log:     zap.NewNop(),
		now:     time.Now,
		ttl:     cfg.TTL,
		batch:   cfg.SweepBatchSize,
	}
	if e.ttl <= 0 {
		e.ttl = DefaultTTL
	}
	if e.batch <= 0 {
		e.batch = DefaultSweepBatchSize
	}
	for _, o := range opts {
		o(e)
	}
	if missing := e.effects.Missing(); len(missing) > 0 {
		e.log.Debug("no side effect registered", zap.Strings("pairs", missing))
	}
	return e
}

type CreateRequest struct {
	Type           model.WorkflowType
	SubjectRef     string
	RequestedBy    string
	Payload        model.Payload
	ApproverGroups []string
	Recipients     []string
	TTL            time.Duration
	Priority       model.Priority
}

// Create persists a pending workflow and sends the approval request to every
// approver. Creation is not idempotent: each call makes a new workflow.
//
// The workflow is returned even when delivery fails; it stays pending until
// it is answered through another channel or expires.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (model.Workflow, error) {
	if !req.Type.Valid() {
		return model.Workflow{}, fmt.Errorf("%w: unknown type %q", ErrInvalidWorkflow, req.Type)
	}
	if strings.TrimSpace(req.SubjectRef) == "" {
		return model.Workflow{}, fmt.Errorf("%w: subject_ref is required", ErrInvalidWorkflow)
	}

	recipients, err := e.resolveRecipients(ctx, req)
	if err != nil {
		return model.Workflow{}, err
	}

	priority := req.Priority
	if !priority.Valid() {
		priority = model.PriorityHigh
	}
	if r, ok := e.sender.(Router); ok {
		if err := r.CanRoute(priority); err != nil {
			return model.Workflow{}, err
		}
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = e.ttl
	}
	now := e.now()
	wf := model.Workflow{
		ID:          util.NewAt(now),
		Type:        req.Type,
		SubjectRef:  req.SubjectRef,
		RequestedBy: req.RequestedBy,
		Payload:     req.Payload,
		Recipients:  recipients,
		Status:      model.WorkflowPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := e.store.CreateWorkflow(ctx, wf); err != nil {
		return model.Workflow{}, fmt.Errorf("create workflow: %w", err)
	}

	e.log.Info("workflow created",
		zap.String("workflow_id", wf.ID),
		zap.String("type", wf.Type.String()),
		zap.String("subject_ref", wf.SubjectRef),
		zap.Int("recipients", len(recipients)))

	opts := dispatcher.SendOptions{Priority: priority, WorkflowID: wf.ID}
	request := approvalRequest(wf)

	var errs []error
	for _, to := range recipients {
		if _, err := e.sender.SendInteractive(ctx, to, request, opts); err != nil {
			e.log.Error("approval request send failed",
				zap.String("workflow_id", wf.ID),
				zap.String("to", to),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) == len(recipients) {
		return wf, fmt.Errorf("%w: %w", ErrRequestNotDelivered, errors.Join(errs...))
	}
	return wf, nil
}

func (e *Engine) resolveRecipients(ctx context.Context, req CreateRequest) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(list []string) {
		for _, r := range list {
			r = strings.TrimSpace(r)
			if r != "" && !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}

	add(req.Recipients)
	for _, g := range req.ApproverGroups {
		rs, err := e.groups.Recipients(ctx, g)
		if err != nil {
			return nil, err
		}
		add(rs)
	}
	if len(out) == 0 {
		return nil, ErrNoRecipients
	}
	return out, nil
}

// Get reads a workflow.
func (e *Engine) Get(ctx context.Context, id string) (model.Workflow, error) {
	wf, err := e.store.GetWorkflow(ctx, id)
	if err != nil {
		return model.Workflow{}, err
	}
	if wf == nil {
		return model.Workflow{}, ErrWorkflowNotFound
	}
	return *wf, nil
}

// Transition applies a human decision. Exactly one transition per workflow
// ever succeeds; every other call observes OutcomeAlreadyResolved.
//
// A non-nil error with OutcomeResolved is always a *SideEffectError: the
// decision is stored and is not rolled back.
func (e *Engine) Transition(ctx context.Context, id string, action model.Action, actorID, notes string) (Result, error) {
	target, ok := action.Status()
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	wf, err := e.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if wf.Status != model.WorkflowPending {
		return e.alreadyResolved(wf, actorID), nil
	}

	now := e.now()
	if now.After(wf.ExpiresAt) {
		return e.expire(ctx, wf, now, actorID)
	}

	res := model.Resolution{Status: target, ResolvedBy: &actorID, ResolvedAt: now}
	if n := strings.TrimSpace(notes); n != "" {
		res.Notes = &n
	}
	won, err := e.store.ResolveIfPending(ctx, wf.ID, res)
	if err != nil {
		return Result{}, fmt.Errorf("resolve workflow %s: %w", wf.ID, err)
	}
	if !won {
		return e.reread(ctx, wf, actorID)
	}

	wf = res.Apply(wf)
	metrics.WorkflowTransitionsTotal.WithLabelValues(wf.Type.String(), OutcomeResolved.String()).Inc()
	e.log.Info("workflow resolved",
		zap.String("workflow_id", wf.ID),
		zap.String("type", wf.Type.String()),
		zap.String("status", wf.Status.String()),
		zap.String("actor", actorID))

	sideErr := e.runSideEffect(ctx, wf, action)
	e.publish(ctx, TopicResolved, wf.ID, wf)
	e.confirm(ctx, wf, sideErr)

	return Result{Outcome: OutcomeResolved, Workflow: wf}, sideErr
}

func (e *Engine) expire(ctx context.Context, wf model.Workflow, now time.Time, actorID string) (Result, error) {
	res := model.Resolution{Status: model.WorkflowExpired, ResolvedAt: now}
	won, err := e.store.ResolveIfPending(ctx, wf.ID, res)
	if err != nil {
		return Result{}, fmt.Errorf("expire workflow %s: %w", wf.ID, err)
	}
	if !won {
		return e.reread(ctx, wf, actorID)
	}

	metrics.WorkflowTransitionsTotal.WithLabelValues(wf.Type.String(), OutcomeExpired.String()).Inc()
	e.log.Info("workflow expired on response",
		zap.String("workflow_id", wf.ID),
		zap.String("actor", actorID),
		zap.Time("expires_at", wf.ExpiresAt))
	return Result{Outcome: OutcomeExpired, Workflow: res.Apply(wf)}, nil
}

// reread is called after losing the CAS to report the winner's state.
func (e *Engine) reread(ctx context.Context, wf model.Workflow, actorID string) (Result, error) {
	cur, err := e.store.GetWorkflow(ctx, wf.ID)
	if err != nil {
		return Result{}, fmt.Errorf("reread workflow %s: %w", wf.ID, err)
	}
	if cur != nil {
		wf = *cur
	}
	return e.alreadyResolved(wf, actorID), nil
}

func (e *Engine) alreadyResolved(wf model.Workflow, actorID string) Result {
	metrics.WorkflowTransitionsTotal.WithLabelValues(wf.Type.String(), OutcomeAlreadyResolved.String()).Inc()
	e.log.Debug("workflow already resolved",
		zap.String("workflow_id", wf.ID),
		zap.String("status", wf.Status.String()),
		zap.String("actor", actorID))
	return Result{Outcome: OutcomeAlreadyResolved, Workflow: wf}
}

func (e *Engine) runSideEffect(ctx context.Context, wf model.Workflow, action model.Action) error {
	ran, err := e.effects.Run(ctx, wf, action)
	if !ran || err == nil {
		return nil
	}

	sideErr := &SideEffectError{WorkflowID: wf.ID, Type: wf.Type, Action: action, Cause: err}
	metrics.SideEffectFailuresTotal.WithLabelValues(wf.Type.String(), action.String()).Inc()
	e.log.Error("side effect failed; decision kept",
		zap.String("workflow_id", wf.ID),
		zap.String("type", wf.Type.String()),
		zap.String("action", action.String()),
		zap.Error(err))

	e.publish(ctx, TopicFollowUps, wf.ID, map[string]any{
		"workflow_id": wf.ID,
		"type":        wf.Type,
		"action":      action,
		"subject_ref": wf.SubjectRef,
		"error":       err.Error(),
	})
	return sideErr
}

func (e *Engine) publish(ctx context.Context, topic, key string, payload any) {
	if e.pub == nil {
		return
	}
	if err := e.pub.Publish(ctx, topic, key, payload); err != nil {
		e.log.Error("publish event failed",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
	}
}

func (e *Engine) confirm(ctx context.Context, wf model.Workflow, sideErr error) {
	body := confirmationText(wf, sideErr)
	opts := dispatcher.SendOptions{Priority: model.PriorityMedium, WorkflowID: wf.ID}
	for _, to := range wf.Recipients {
		if _, err := e.sender.Send(ctx, to, body, opts); err != nil {
			e.log.Warn("confirmation send failed",
				zap.String("workflow_id", wf.ID),
				zap.String("to", to),
				zap.Error(err))
		}
	}
}

// Sweep expires every pending workflow whose TTL elapsed before now, in
// batches. Running it again over the same rows changes nothing.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		n, err := e.store.ExpirePending(ctx, now, e.batch)
		total += n
		if err != nil {
			return total, fmt.Errorf("expire pending: %w", err)
		}
		if n < e.batch {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
	if total > 0 {
		metrics.WorkflowsExpiredTotal.Add(float64(total))
		e.log.Info("expired pending workflows", zap.Int("count", total))
	}
	return total, nil
}
