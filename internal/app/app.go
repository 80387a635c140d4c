// Package app wires configuration into running components. Commands call it
// so serve and the workers build the same graph.
package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmehdipour/ops-messaging/internal/approval"
	"github.com/jmehdipour/ops-messaging/internal/config"
	"github.com/jmehdipour/ops-messaging/internal/db"
	"github.com/jmehdipour/ops-messaging/internal/dispatcher"
	"github.com/jmehdipour/ops-messaging/internal/logger"
	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/jmehdipour/ops-messaging/internal/provider"
	"github.com/jmehdipour/ops-messaging/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"
)

// Bootstrap loads config and installs the process logger.
func Bootstrap(cfgPath string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.Init(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

func OpenMySQL(cfg config.Config) (*sqlx.DB, error) {
	return db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
}

func OpenClickHouse(cfg config.Config) (*sqlx.DB, error) {
	return db.NewClickHouseConnection(db.ClickHouseOpts{
		DSN:             cfg.ClickHouse.DSN,
		MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
		MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
		ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
		PingTimeout:     cfg.ClickHouse.PingTimeout,
	})
}

func OpenRedis(cfg config.Config) (*redis.Client, error) {
	return db.NewRedisClient(db.RedisOpts{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
}

// Providers builds and validates every enabled provider.
func Providers(cfg config.Config) (*dispatcher.Registry, error) {
	var provs []provider.Provider
	for _, pc := range cfg.EnabledProviders() {
		p, err := provider.New(pc)
		if err != nil {
			return nil, err
		}
		provs = append(provs, p)
	}
	if len(provs) == 0 {
		return nil, errors.New("no providers enabled in config")
	}
	reg, err := dispatcher.NewRegistry(provs...)
	if err != nil {
		return nil, err
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

// Stores groups the persistence the core needs.
type Stores struct {
	Workflows repository.WorkflowsRepository
	Messages  repository.MessagesRepository
	Outbox    repository.OutboxRepository
	Operators repository.OperatorsRepository
}

// Core is the shared component graph.
type Core struct {
	Config     config.Config
	Log        *zap.Logger
	MySQL      *sqlx.DB      // nil with memory storage
	Redis      *redis.Client // nil when redis.addr is empty
	Stores     Stores
	Registry   *dispatcher.Registry
	Dispatcher *dispatcher.Dispatcher
	Engine     *approval.Engine
	Processor  *approval.ResponseProcessor

	closers []func() error
}

// Build connects storage and assembles dispatcher, engine and processor.
func Build(cfg config.Config, log *zap.Logger) (*Core, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Core{Config: cfg, Log: log}

	reg, err := Providers(cfg)
	if err != nil {
		return nil, err
	}
	c.Registry = reg

	switch strings.ToLower(cfg.Storage) {
	case "", StorageMySQL:
		dbx, err := OpenMySQL(cfg)
		if err != nil {
			return nil, fmt.Errorf("mysql connect: %w", err)
		}
		c.MySQL = dbx
		c.closers = append(c.closers, dbx.Close)
		c.Stores = Stores{
			Workflows: repository.NewWorkflowsRepository(dbx),
			Messages:  repository.NewMessagesRepository(dbx),
			Outbox:    repository.NewOutboxRepository(dbx),
			Operators: repository.NewOperatorsRepository(dbx),
		}
	case StorageMemory:
		log.Warn("using in-memory storage with demo operators; state is lost on restart")
		c.Stores = Stores{
			Workflows: repository.NewMemoryWorkflows(),
			Messages:  repository.NewMemoryMessages(),
			Outbox:    repository.NewMemoryOutbox(),
			Operators: repository.NewMemoryOperators(DemoOperators()...),
		}
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}

	if cfg.Redis.Addr != "" {
		rdb, err := OpenRedis(cfg)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("redis connect: %w", err)
		}
		c.Redis = rdb
		c.closers = append(c.closers, rdb.Close)
	}

	routing := cfg.DispatcherRouting()
	if err := routing.Validate(reg); err != nil {
		c.Close()
		return nil, err
	}
	dopts := []dispatcher.Option{
		dispatcher.WithLogger(log.Named("dispatcher")),
		dispatcher.WithSendTimeout(cfg.Dispatcher.SendTimeout),
	}
	if c.Redis != nil {
		dopts = append(dopts, dispatcher.WithDailyCap(dispatcher.NewRedisDailyCap(c.Redis, cfg.Dispatcher.DailyCapPrefix)))
	}
	c.Dispatcher = dispatcher.New(reg, routing, c.Stores.Messages, dopts...)

	pub := repository.NewOutboxPublisher(c.Stores.Outbox)
	effects := approval.NewSideEffects().RegisterAll(approval.PublishingExecutor(pub))
	if missing := effects.Missing(); len(missing) > 0 {
		log.Warn("workflow types without side effect", zap.Strings("pairs", missing))
	}
	c.Engine = approval.NewEngine(c.Stores.Workflows, c.Dispatcher,
		approval.Config{TTL: cfg.Approval.TTL, SweepBatchSize: cfg.Approval.SweepBatchSize},
		approval.WithEngineLogger(log.Named("approval")),
		approval.WithGroups(approval.StaticGroups(cfg.Approval.ApproverGroups)),
		approval.WithSideEffects(effects),
		approval.WithPublisher(pub),
	)
	c.Processor = approval.NewResponseProcessor(c.Engine, reg, c.Dispatcher, log.Named("responder"))
	return c, nil
}

// DemoOperators are loaded by `seed` and by memory storage.
func DemoOperators() []model.Operator {
	return []model.Operator{
		{Name: "finance-dashboard", APIKey: "11111111111111111111111111111111", Status: "active", RateLimitRPS: intptr(20)},
		{Name: "billing-service", APIKey: "22222222222222222222222222222222", Status: "active", RateLimitRPS: intptr(50)},
		{Name: "oncall-bot", APIKey: "33333333333333333333333333333333", Status: "active", RateLimitRPS: intptr(5)},
		{Name: "retired-tool", APIKey: "44444444444444444444444444444444", Status: "suspended"},
	}
}

func intptr(i int) *int { return &i }

// Close releases connections in reverse order.
func (c *Core) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.Log.Warn("close failed", zap.Error(err))
		}
	}
	c.closers = nil
}
