package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WorkflowType names the business decision a workflow asks for.
type WorkflowType string

const (
	WorkflowDuplicateResolution   WorkflowType = "duplicate_resolution"
	WorkflowRejectionApproval     WorkflowType = "rejection_approval"
	WorkflowMappingApproval       WorkflowType = "mapping_approval"
	WorkflowTransferAuthorization WorkflowType = "transfer_authorization"
)

// WorkflowTypes lists every known type. New types must be added here and in Valid.
var WorkflowTypes = []WorkflowType{
	WorkflowDuplicateResolution,
	WorkflowRejectionApproval,
	WorkflowMappingApproval,
	WorkflowTransferAuthorization,
}

func (t WorkflowType) String() string { return string(t) }

func (t WorkflowType) Valid() bool {
	switch t {
	case WorkflowDuplicateResolution, WorkflowRejectionApproval, WorkflowMappingApproval, WorkflowTransferAuthorization:
		return true
	}
	return false
}

// Label is the human readable name used in outbound messages.
func (t WorkflowType) Label() string {
	switch t {
	case WorkflowDuplicateResolution:
		return "Duplicate resolution"
	case WorkflowRejectionApproval:
		return "Rejection approval"
	case WorkflowMappingApproval:
		return "Mapping approval"
	case WorkflowTransferAuthorization:
		return "Transfer authorization"
	}
	return string(t)
}

func ParseWorkflowType(s string) (WorkflowType, bool) {
	t := WorkflowType(strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", "_"))))
	return t, t.Valid()
}

type WorkflowStatus string

const (
	WorkflowPending  WorkflowStatus = "pending"
	WorkflowApproved WorkflowStatus = "approved"
	WorkflowRejected WorkflowStatus = "rejected"
	WorkflowExpired  WorkflowStatus = "expired"
)

func (s WorkflowStatus) String() string { return string(s) }

// IsTerminal reports whether no further transition is allowed.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowApproved || s == WorkflowRejected || s == WorkflowExpired
}

// Action is a human decision on a pending workflow.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

func (a Action) String() string { return string(a) }

// Status returns the terminal status the action resolves a workflow to.
func (a Action) Status() (WorkflowStatus, bool) {
	switch a {
	case ActionApprove:
		return WorkflowApproved, true
	case ActionReject:
		return WorkflowRejected, true
	}
	return "", false
}

// ParseAction maps a button id or typed answer onto an action.
func ParseAction(s string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved", "yes", "y":
		return ActionApprove, true
	case "reject", "rejected", "no", "n":
		return ActionReject, true
	}
	return "", false
}

// Workflow is a durable pending human decision. Rows are never deleted.
type Workflow struct {
	ID          string         `db:"id"           json:"id"`
	Type        WorkflowType   `db:"type"         json:"type"`
	SubjectRef  string         `db:"subject_ref"  json:"subject_ref"`
	RequestedBy string         `db:"requested_by" json:"requested_by"`
	Payload     Payload        `db:"payload"      json:"payload"`
	Recipients  StringList     `db:"recipients"   json:"recipients"`
	Status      WorkflowStatus `db:"status"       json:"status"`
	CreatedAt   time.Time      `db:"created_at"   json:"created_at"`
	ExpiresAt   time.Time      `db:"expires_at"   json:"expires_at"`
	ResolvedBy  *string        `db:"resolved_by"  json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time     `db:"resolved_at"  json:"resolved_at,omitempty"`
	Notes       *string        `db:"notes"        json:"notes,omitempty"`
}

// ReplyID encodes the reply identifier carried by each approval button.
func ReplyID(workflowID, buttonID string) string {
	return workflowID + ":" + buttonID
}

// SplitReplyID is the inverse of ReplyID.
func SplitReplyID(s string) (workflowID, buttonID string, ok bool) {
	s = strings.TrimSpace(s)
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

// StringList is stored as a JSON array column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]string)(l))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(l))
	default:
		return fmt.Errorf("string list: unsupported scan type %T", src)
	}
}

// Resolution is the terminal write applied to a pending workflow.
type Resolution struct {
	Status     WorkflowStatus
	ResolvedBy *string
	ResolvedAt time.Time
	Notes      *string
}

// Apply returns wf as it looks after r.
func (r Resolution) Apply(wf Workflow) Workflow {
	at := r.ResolvedAt
	wf.Status = r.Status
	wf.ResolvedBy = r.ResolvedBy
	wf.ResolvedAt = &at
	wf.Notes = r.Notes
	return wf
}
