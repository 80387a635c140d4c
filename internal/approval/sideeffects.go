package approval

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmehdipour/ops-messaging/internal/model"
)

// Executor performs the business action behind a resolved workflow.
type Executor func(ctx context.Context, wf model.Workflow, action model.Action) error

type effectKey struct {
	typ    model.WorkflowType
	action model.Action
}

// SideEffects is the (type, action) -> Executor dispatch table.
type SideEffects struct {
	mu    sync.RWMutex
	table map[effectKey]Executor
}

func NewSideEffects() *SideEffects {
	return &SideEffects{table: make(map[effectKey]Executor)}
}

// Register binds fn to a type/action pair. It panics on an unknown type or
// action, since that is a wiring bug.
func (s *SideEffects) Register(t model.WorkflowType, a model.Action, fn Executor) *SideEffects {
	if !t.Valid() {
		panic(fmt.Sprintf("side effects: unknown workflow type %q", t))
	}
	if _, ok := a.Status(); !ok {
		panic(fmt.Sprintf("side effects: unknown action %q", a))
	}
	s.mu.Lock()
	s.table[effectKey{t, a}] = fn
	s.mu.Unlock()
	return s
}

// RegisterAll binds fn to every known type and action.
func (s *SideEffects) RegisterAll(fn Executor) *SideEffects {
	for _, t := range model.WorkflowTypes {
		s.Register(t, model.ActionApprove, fn)
		s.Register(t, model.ActionReject, fn)
	}
	return s
}

// Missing lists type/action pairs with no executor.
func (s *SideEffects) Missing() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, t := range model.WorkflowTypes {
		for _, a := range []model.Action{model.ActionApprove, model.ActionReject} {
			if _, ok := s.table[effectKey{t, a}]; !ok {
				out = append(out, t.String()+"/"+a.String())
			}
		}
	}
	return out
}

// Run executes the bound executor, if any. A panicking executor is reported
// as an error.
func (s *SideEffects) Run(ctx context.Context, wf model.Workflow, action model.Action) (ran bool, err error) {
	if s == nil {
		return false, nil
	}
	s.mu.RLock()
	fn, ok := s.table[effectKey{wf.Type, action}]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}

	ran = true
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	err = fn(ctx, wf, action)
	return ran, err
}

// Publisher writes an event for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

const (
	TopicResolved     = "approval.resolved"
	TopicFollowUps    = "approval.followups"
	TopicActionPrefix = "approval.actions."
)

// ActionCommand is the payload PublishingExecutor emits.
type ActionCommand struct {
	WorkflowID  string             `json:"workflow_id"`
	Type        model.WorkflowType `json:"type"`
	Action      model.Action       `json:"action"`
	SubjectRef  string             `json:"subject_ref"`
	RequestedBy string             `json:"requested_by"`
	ResolvedBy  string             `json:"resolved_by"`
	Payload     model.Payload      `json:"payload"`
}

// PublishingExecutor hands the decision to the owning service as a command on
// approval.actions.<type>.
func PublishingExecutor(pub Publisher) Executor {
	return func(ctx context.Context, wf model.Workflow, action model.Action) error {
		cmd := ActionCommand{
			WorkflowID:  wf.ID,
			Type:        wf.Type,
			Action:      action,
			SubjectRef:  wf.SubjectRef,
			RequestedBy: wf.RequestedBy,
			Payload:     wf.Payload,
		}
		if wf.ResolvedBy != nil {
			cmd.ResolvedBy = *wf.ResolvedBy
		}
		return pub.Publish(ctx, TopicActionPrefix+wf.Type.String(), wf.ID, cmd)
	}
}
