package http

import (
	"errors"
	"net/http"

	"github.com/jmehdipour/ops-messaging/internal/dispatcher"
	"github.com/labstack/echo/v4"
)

type routingHandler struct {
	messenger Messenger
}

func (h *routingHandler) get(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"routing":   h.messenger.Routing(),
		"providers": h.messenger.Registry().Names(),
	})
}

// put replaces the whole routing config; there is no partial update.
func (h *routingHandler) put(c echo.Context) error {
	var cfg dispatcher.RoutingConfig
	if err := c.Bind(&cfg); err != nil {
		return errorJSON(c, http.StatusBadRequest, "bad request")
	}
	if err := cfg.Validate(h.messenger.Registry()); err != nil {
		if errors.Is(err, dispatcher.ErrInvalidRouting) {
			return errorJSON(c, http.StatusBadRequest, err.Error())
		}
		return err
	}
	h.messenger.Reconfigure(cfg)
	return c.JSON(http.StatusOK, map[string]any{"routing": h.messenger.Routing()})
}
