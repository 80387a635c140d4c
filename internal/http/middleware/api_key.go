package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/jmehdipour/ops-messaging/internal/model"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	ctxOperator    = "operator"
	ctxOperatorRPS = "operator_rps"
)

// OperatorLookup resolves an API key; nil, nil means unknown.
type OperatorLookup interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Operator, error)
}

// OperatorFromCtx returns the operator set by APIKeyMiddleware.
func OperatorFromCtx(c echo.Context) (*model.Operator, bool) {
	op, ok := c.Get(ctxOperator).(*model.Operator)
	return op, ok && op != nil
}

// APIKeyMiddleware authenticates requests using the X-API-Key header and
// rejects suspended operators.
func APIKeyMiddleware(operators OperatorLookup, log *zap.Logger) echo.MiddlewareFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			op, err := operators.GetByAPIKey(c.Request().Context(), key)
			if err != nil {
				log.Error("api key lookup failed", zap.Error(err))
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}
			if op == nil || op.Status != "active" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			c.Set(ctxOperator, op)
			if op.RateLimitRPS != nil {
				c.Set(ctxOperatorRPS, *op.RateLimitRPS)
			}
			return next(c)
		}
	}
}

// AdminOnly admits operators whose name is in admins. It must run after
// APIKeyMiddleware; with an empty list every request is refused.
func AdminOnly(admins []string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(admins))
	for _, name := range admins {
		if name = strings.TrimSpace(name); name != "" {
			allowed[name] = true
		}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			op, ok := OperatorFromCtx(c)
			if !ok || !allowed[op.Name] {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "admin only"})
			}
			return next(c)
		}
	}
}
