package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/jmehdipour/ops-messaging/internal/repository"
	"github.com/jmehdipour/ops-messaging/internal/util"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func listMessagesHandler(chRepo repository.CHMessagesRepository, countryCode string, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		f := repository.MessageFilter{Limit: 50}
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				f.Limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				f.Offset = n
			}
		}
		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			st := model.MessageStatus(raw)
			if !st.Valid() {
				return errorJSON(c, http.StatusBadRequest, "invalid status")
			}
			f.Status = st
		}
		if raw := strings.TrimSpace(c.QueryParam("recipient")); raw != "" {
			f.Recipient = util.NormalizePhone(raw, countryCode)
		}
		f.Provider = strings.TrimSpace(c.QueryParam("provider"))
		f.WorkflowID = strings.TrimSpace(c.QueryParam("workflow_id"))

		msgs, err := chRepo.List(c.Request().Context(), f)
		if err != nil {
			log.Error("clickhouse list failed", zap.Error(err))
			return errorJSON(c, http.StatusInternalServerError, "query failed")
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   f.Limit,
			"offset":  f.Offset,
			"count":   len(msgs),
			"results": msgs,
		})
	}
}
