package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmehdipour/ops-messaging/internal/dispatcher"
	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/jmehdipour/ops-messaging/internal/provider"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// EnvPrefix prefixes every environment override, e.g. OPSMSG_MYSQL_DSN.
const EnvPrefix = "OPSMSG"

// ---- Root ----

type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	Storage    string           `mapstructure:"storage"` // mysql | memory
	HTTP       HTTPConfig       `mapstructure:"http"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse DatabaseConfig   `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Routing    RoutingConfig    `mapstructure:"routing"`
	Providers  []ProviderConfig `mapstructure:"providers"`
	Approval   ApprovalConfig   `mapstructure:"approval"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AdminOperators  []string      `mapstructure:"admin_operators"` // operator names allowed on /v1/admin
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	ResponsesTopic string   `mapstructure:"responses_topic"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type DispatcherConfig struct {
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
	DailyCapPrefix string        `mapstructure:"daily_cap_prefix"`
}

type RoutingConfig struct {
	Default        string           `mapstructure:"default"`
	Fallback       string           `mapstructure:"fallback"`
	Critical       string           `mapstructure:"critical"`
	Bulk           string           `mapstructure:"bulk"`
	UseCriticalFor []string         `mapstructure:"use_critical_for"`
	UseBulkFor     []string         `mapstructure:"use_bulk_for"`
	DailyCaps      map[string]int64 `mapstructure:"daily_caps"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type ProviderConfig struct {
	Name          string            `mapstructure:"name"`
	Kind          string            `mapstructure:"kind"`
	Enabled       bool              `mapstructure:"enabled"`
	BaseURL       string            `mapstructure:"base_url"`
	Token         string            `mapstructure:"token"`
	PhoneNumberID string            `mapstructure:"phone_number_id"`
	Language      string            `mapstructure:"language"`
	Sender        string            `mapstructure:"sender"`
	TextPath      string            `mapstructure:"text_path"`
	Templates     map[string]string `mapstructure:"templates"`
	TimeoutMs     int               `mapstructure:"timeout_ms"`
	Breaker       BreakerConfig     `mapstructure:"breaker"`
}

type ApprovalConfig struct {
	TTL                time.Duration       `mapstructure:"ttl"`
	SweepInterval      time.Duration       `mapstructure:"sweep_interval"`
	SweepBatchSize     int                 `mapstructure:"sweep_batch_size"`
	RunSweeper         bool                `mapstructure:"run_sweeper"`
	DefaultCountryCode string              `mapstructure:"default_country_code"`
	ApproverGroups     map[string][]string `mapstructure:"approver_groups"`
}

type WebhookConfig struct {
	QueueSize      int    `mapstructure:"queue_size"`
	Workers        int    `mapstructure:"workers"`
	PublishToKafka bool   `mapstructure:"publish_to_kafka"`
	VerifyToken    string `mapstructure:"verify_token"`
	AppSecret      string `mapstructure:"app_secret"`
}

// RateLimitConfig is the fixed-window default for operators without their
// own rate_limit_rps.
type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies
// env overrides (OPSMSG_*).
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	// a missing file means defaults + env only
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return Config{}, fmt.Errorf("merge %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EnabledProviders returns adapter configs for every enabled provider.
func (c Config) EnabledProviders() []provider.Config {
	var out []provider.Config
	for _, pc := range c.Providers {
		if !pc.Enabled {
			continue
		}
		out = append(out, provider.Config{
			Name:          pc.Name,
			Kind:          pc.Kind,
			BaseURL:       pc.BaseURL,
			Token:         pc.Token,
			PhoneNumberID: pc.PhoneNumberID,
			Language:      pc.Language,
			Sender:        pc.Sender,
			TextPath:      pc.TextPath,
			Templates:     pc.Templates,
			Timeout:       time.Duration(pc.TimeoutMs) * time.Millisecond,
			FailThreshold: pc.Breaker.FailThreshold,
			OpenFor:       time.Duration(pc.Breaker.OpenForMs) * time.Millisecond,
		})
	}
	return out
}

// DispatcherRouting converts the routing section. Unknown priority names are
// kept so RoutingConfig.Validate can report them.
func (c Config) DispatcherRouting() dispatcher.RoutingConfig {
	toPriorities := func(in []string) []model.Priority {
		var out []model.Priority
		for _, s := range in {
			if p, ok := model.ParsePriority(s); ok {
				out = append(out, p)
			} else {
				out = append(out, model.Priority(s))
			}
		}
		return out
	}
	return dispatcher.RoutingConfig{
		Default:        c.Routing.Default,
		Fallback:       c.Routing.Fallback,
		Critical:       c.Routing.Critical,
		Bulk:           c.Routing.Bulk,
		UseCriticalFor: toPriorities(c.Routing.UseCriticalFor),
		UseBulkFor:     toPriorities(c.Routing.UseBulkFor),
		DailyCaps:      c.Routing.DailyCaps,
	}
}
