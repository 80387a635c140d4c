package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/ops-messaging/internal/approval"
	"github.com/jmehdipour/ops-messaging/internal/dispatcher"
	"github.com/jmehdipour/ops-messaging/internal/http/middleware"
	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/jmehdipour/ops-messaging/internal/util"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type createWorkflowReq struct {
	Type           string        `json:"type"`
	SubjectRef     string        `json:"subject_ref"`
	RequestedBy    string        `json:"requested_by"`
	Payload        model.Payload `json:"payload"`
	ApproverGroups []string      `json:"approver_groups"`
	Recipients     []string      `json:"recipients"`
	TTL            string        `json:"ttl"` // Go duration, e.g. "4h"
	Priority       string        `json:"priority"`
}

type decisionReq struct {
	Action string `json:"action"`
	Notes  string `json:"notes"`
}

type workflowsHandler struct {
	workflows   Workflows
	countryCode string
	log         *zap.Logger
}

func (h *workflowsHandler) create(c echo.Context) error {
	var req createWorkflowReq
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "bad request")
	}

	typ, ok := model.ParseWorkflowType(req.Type)
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid workflow type")
	}
	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			return errorJSON(c, http.StatusBadRequest, "invalid ttl")
		}
		ttl = d
	}
	priority := model.PriorityHigh
	if req.Priority != "" {
		p, ok := model.ParsePriority(req.Priority)
		if !ok {
			return errorJSON(c, http.StatusBadRequest, "invalid priority")
		}
		priority = p
	}

	recipients := make([]string, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		if n := util.NormalizePhone(r, h.countryCode); n != "" {
			recipients = append(recipients, n)
		}
	}
	requestedBy := strings.TrimSpace(req.RequestedBy)
	if requestedBy == "" {
		if op, ok := middleware.OperatorFromCtx(c); ok {
			requestedBy = op.Name
		}
	}

	wf, err := h.workflows.Create(c.Request().Context(), approval.CreateRequest{
		Type:           typ,
		SubjectRef:     strings.TrimSpace(req.SubjectRef),
		RequestedBy:    requestedBy,
		Payload:        req.Payload,
		ApproverGroups: req.ApproverGroups,
		Recipients:     recipients,
		TTL:            ttl,
		Priority:       priority,
	})
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, map[string]any{"workflow": wf, "delivered": true})
	case errors.Is(err, approval.ErrRequestNotDelivered):
		return c.JSON(http.StatusCreated, map[string]any{
			"workflow":  wf,
			"delivered": false,
			"warning":   "approval request could not be delivered to any recipient",
		})
	case errors.Is(err, dispatcher.ErrNoProviderConfigured):
		return errorJSON(c, http.StatusServiceUnavailable, "no provider configured")
	case errors.Is(err, approval.ErrInvalidWorkflow),
		errors.Is(err, approval.ErrNoRecipients),
		errors.Is(err, approval.ErrUnknownGroup):
		return errorJSON(c, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("create workflow failed", zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "internal error")
	}
}

func (h *workflowsHandler) get(c echo.Context) error {
	if !util.ValidID(c.Param("id")) {
		return errorJSON(c, http.StatusNotFound, "workflow not found")
	}
	wf, err := h.workflows.Get(c.Request().Context(), c.Param("id"))
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]any{"workflow": wf})
	case errors.Is(err, approval.ErrWorkflowNotFound):
		return errorJSON(c, http.StatusNotFound, "workflow not found")
	default:
		h.log.Error("get workflow failed", zap.String("workflow_id", c.Param("id")), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "internal error")
	}
}

// decide applies an operator decision through the same path as a chat reply.
// Resolved is 200; already resolved and expired are 409 with the stored
// workflow.
func (h *workflowsHandler) decide(c echo.Context) error {
	var req decisionReq
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "bad request")
	}
	action, ok := model.ParseAction(req.Action)
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid action")
	}
	op, ok := middleware.OperatorFromCtx(c)
	if !ok {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	if !util.ValidID(c.Param("id")) {
		return errorJSON(c, http.StatusNotFound, "workflow not found")
	}

	res, err := h.workflows.Transition(c.Request().Context(), c.Param("id"), action, "operator:"+op.Name, req.Notes)
	var sideErr *approval.SideEffectError
	switch {
	case errors.As(err, &sideErr):
		return c.JSON(http.StatusOK, map[string]any{
			"outcome":           res.Outcome,
			"workflow":          res.Workflow,
			"side_effect_error": sideErr.Error(),
		})
	case errors.Is(err, approval.ErrWorkflowNotFound):
		return errorJSON(c, http.StatusNotFound, "workflow not found")
	case errors.Is(err, approval.ErrInvalidAction):
		return errorJSON(c, http.StatusBadRequest, "invalid action")
	case err != nil:
		h.log.Error("transition failed", zap.String("workflow_id", c.Param("id")), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "internal error")
	}

	code := http.StatusOK
	if res.Outcome != approval.OutcomeResolved {
		code = http.StatusConflict
	}
	return c.JSON(code, map[string]any{"outcome": res.Outcome, "workflow": res.Workflow})
}
