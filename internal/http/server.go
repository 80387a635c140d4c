package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/ops-messaging/internal/approval"
	"github.com/jmehdipour/ops-messaging/internal/config"
	"github.com/jmehdipour/ops-messaging/internal/dispatcher"
	"github.com/jmehdipour/ops-messaging/internal/http/middleware"
	"github.com/jmehdipour/ops-messaging/internal/metrics"
	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/jmehdipour/ops-messaging/internal/repository"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Messenger is the dispatcher surface the API exposes.
type Messenger interface {
	Send(ctx context.Context, to, body string, opts dispatcher.SendOptions) (model.Message, error)
	SendTemplate(ctx context.Context, to, name string, params []string, opts dispatcher.SendOptions) (model.Message, error)
	SendInteractive(ctx context.Context, to string, in model.Interactive, opts dispatcher.SendOptions) (model.Message, error)
	Registry() *dispatcher.Registry
	Routing() dispatcher.RoutingConfig
	Reconfigure(cfg dispatcher.RoutingConfig)
}

// Workflows is the engine surface the API exposes.
type Workflows interface {
	Create(ctx context.Context, req approval.CreateRequest) (model.Workflow, error)
	Get(ctx context.Context, id string) (model.Workflow, error)
	Transition(ctx context.Context, id string, action model.Action, actorID, notes string) (approval.Result, error)
}

// Deps wires the server. Reports and Redis may be nil.
type Deps struct {
	Config     config.Config
	Operators  middleware.OperatorLookup
	Redis      redis.Cmdable
	Messenger  Messenger
	Workflows  Workflows
	Reports    repository.CHMessagesRepository
	Ingest     Ingestor
	Registerer prometheus.Registerer
	Log        *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.ERROR)
	e.Use(echoMid.Recover(), requestLogger(d.Log))

	if d.Registerer != nil {
		metrics.MustRegister(d.Registerer)
		h := promhttp.Handler()
		if g, ok := d.Registerer.(prometheus.Gatherer); ok {
			h = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
		}
		e.GET("/metrics", echo.WrapHandler(h))
	}
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	cc := d.Config.Approval.DefaultCountryCode

	// provider webhooks authenticate by signature, not API key
	wh := &webhookHandler{
		registry:    d.Messenger.Registry(),
		ingest:      d.Ingest,
		verifyToken: d.Config.Webhook.VerifyToken,
		appSecret:   d.Config.Webhook.AppSecret,
		log:         d.Log,
	}
	e.GET("/webhooks/:provider", wh.verify)
	e.POST("/webhooks/:provider", wh.receive)

	authMW := middleware.APIKeyMiddleware(d.Operators, d.Log)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		DefaultRPS:     d.Config.RateLimit.RPS,
		KeyPrefix:      "rl:op:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	v1 := e.Group("/v1", authMW, rlMW)

	msgs := &messagesHandler{messenger: d.Messenger, countryCode: cc, log: d.Log}
	v1.POST("/messages/text", msgs.sendText)
	v1.POST("/messages/template", msgs.sendTemplate)
	v1.POST("/messages/interactive", msgs.sendInteractive)

	wf := &workflowsHandler{workflows: d.Workflows, countryCode: cc, log: d.Log}
	v1.POST("/workflows", wf.create)
	v1.GET("/workflows/:id", wf.get)
	v1.POST("/workflows/:id/decision", wf.decide)

	if d.Reports != nil {
		v1.GET("/reports/messages", listMessagesHandler(d.Reports, cc, d.Log))
	}

	rt := &routingHandler{messenger: d.Messenger}
	admin := v1.Group("/admin", middleware.AdminOnly(d.Config.HTTP.AdminOperators))
	admin.GET("/routing", rt.get)
	admin.PUT("/routing", rt.put)

	return &Server{e: e, log: d.Log}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("http listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func requestLogger(l *zap.Logger) echo.MiddlewareFunc {
	return echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echoMid.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			l.Debug("http request", fields...)
			return nil
		},
	})
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}
