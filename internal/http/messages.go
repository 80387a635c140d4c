package http

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/jmehdipour/ops-messaging/internal/dispatcher"
	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/jmehdipour/ops-messaging/internal/provider"
	"github.com/jmehdipour/ops-messaging/internal/util"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const maxTextRunes = 4096

type routeReq struct {
	To              string `json:"to"`
	Priority        string `json:"priority"`
	Provider        string `json:"provider"`
	DisableFallback bool   `json:"disable_fallback"`
}

type sendTextReq struct {
	routeReq
	Text string `json:"text"`
}

type sendTemplateReq struct {
	routeReq
	Template string   `json:"template"`
	Params   []string `json:"params"`
}

type sendInteractiveReq struct {
	routeReq
	model.Interactive
}

type messagesHandler struct {
	messenger   Messenger
	countryCode string
	log         *zap.Logger
}

// options normalizes the recipient and builds send options, or returns the
// message of a 400.
func (h *messagesHandler) options(r *routeReq) (dispatcher.SendOptions, string) {
	r.To = util.NormalizePhone(r.To, h.countryCode)
	if r.To == "" {
		return dispatcher.SendOptions{}, "recipient is required"
	}
	p, ok := model.ParsePriority(r.Priority)
	if !ok {
		return dispatcher.SendOptions{}, "invalid priority"
	}
	return dispatcher.SendOptions{
		Priority:          p,
		PreferredProvider: strings.TrimSpace(r.Provider),
		DisableFallback:   r.DisableFallback,
	}, ""
}

func (h *messagesHandler) sendText(c echo.Context) error {
	var req sendTextReq
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "bad request")
	}
	opts, bad := h.options(&req.routeReq)
	req.Text = strings.TrimSpace(req.Text)
	switch {
	case bad != "":
		return errorJSON(c, http.StatusBadRequest, bad)
	case req.Text == "":
		return errorJSON(c, http.StatusBadRequest, "text is required")
	case utf8.RuneCountInString(req.Text) > maxTextRunes:
		return errorJSON(c, http.StatusBadRequest, "text too long")
	}

	msg, err := h.messenger.Send(c.Request().Context(), req.To, req.Text, opts)
	return h.reply(c, msg, err)
}

func (h *messagesHandler) sendTemplate(c echo.Context) error {
	var req sendTemplateReq
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "bad request")
	}
	opts, bad := h.options(&req.routeReq)
	req.Template = strings.TrimSpace(req.Template)
	switch {
	case bad != "":
		return errorJSON(c, http.StatusBadRequest, bad)
	case req.Template == "":
		return errorJSON(c, http.StatusBadRequest, "template is required")
	}

	msg, err := h.messenger.SendTemplate(c.Request().Context(), req.To, req.Template, req.Params, opts)
	return h.reply(c, msg, err)
}

func (h *messagesHandler) sendInteractive(c echo.Context) error {
	var req sendInteractiveReq
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "bad request")
	}
	opts, bad := h.options(&req.routeReq)
	switch {
	case bad != "":
		return errorJSON(c, http.StatusBadRequest, bad)
	case strings.TrimSpace(req.Body) == "":
		return errorJSON(c, http.StatusBadRequest, "body is required")
	case len(req.Buttons) == 0:
		return errorJSON(c, http.StatusBadRequest, "at least one button is required")
	}
	for _, b := range req.Buttons {
		if strings.TrimSpace(b.ID) == "" || strings.TrimSpace(b.Title) == "" {
			return errorJSON(c, http.StatusBadRequest, "buttons need id and title")
		}
	}

	msg, err := h.messenger.SendInteractive(c.Request().Context(), req.To, req.Interactive, opts)
	return h.reply(c, msg, err)
}

func (h *messagesHandler) reply(c echo.Context, msg model.Message, err error) error {
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]any{"message": msg})
	case errors.Is(err, dispatcher.ErrNoProviderConfigured):
		return errorJSON(c, http.StatusServiceUnavailable, "no provider configured")
	case errors.Is(err, provider.ErrInteractiveUnsupported), errors.Is(err, provider.ErrTemplateUnsupported):
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "message": msg})
	case errors.Is(err, dispatcher.ErrSendFailed):
		h.log.Error("send failed", zap.String("to", msg.Recipient), zap.Error(err))
		return c.JSON(http.StatusBadGateway, map[string]any{"error": "send failed", "message": msg})
	default:
		h.log.Error("send error", zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "internal error")
	}
}
