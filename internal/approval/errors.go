package approval

import (
	"errors"
	"fmt"

	"github.com/jmehdipour/ops-messaging/internal/model"
)

var (
	ErrWorkflowNotFound    = errors.New("workflow not found")
	ErrInvalidWorkflow     = errors.New("invalid workflow request")
	ErrInvalidAction       = errors.New("invalid action")
	ErrNoRecipients        = errors.New("no approver recipients")
	ErrUnknownGroup        = errors.New("unknown approver group")
	ErrSideEffectFailed    = errors.New("side effect failed")
	ErrRequestNotDelivered = errors.New("approval request not delivered")
)

// SideEffectError reports a failed side effect. The workflow it belongs to is
// already resolved and stays resolved.
type SideEffectError struct {
	WorkflowID string
	Type       model.WorkflowType
	Action     model.Action
	Cause      error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("side effect %s/%s for workflow %s: %v", e.Type, e.Action, e.WorkflowID, e.Cause)
}

func (e *SideEffectError) Unwrap() error { return e.Cause }

func (e *SideEffectError) Is(target error) bool { return target == ErrSideEffectFailed }

// Outcome is how a transition request ended. None of these are errors.
type Outcome string

const (
	OutcomeResolved        Outcome = "resolved"
	OutcomeAlreadyResolved Outcome = "already_resolved"
	OutcomeExpired         Outcome = "expired"
)

func (o Outcome) String() string { return string(o) }

// Result carries the workflow as stored after the transition request.
type Result struct {
	Outcome  Outcome
	Workflow model.Workflow
}
