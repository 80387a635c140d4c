package provider

import (
	"fmt"
	"strings"
	"time"
)

const (
	KindCloudAPI = "cloudapi"
	KindGateway  = "gateway"
)

// Config describes one backend. Kind selects the adapter.
type Config struct {
	Name          string
	Kind          string
	BaseURL       string
	Token         string
	PhoneNumberID string            // cloudapi
	Language      string            // cloudapi template language, default en
	Sender        string            // gateway sender id / short code
	TextPath      string            // gateway
	Templates     map[string]string // gateway: name -> body with {{1}}.. placeholders
	Timeout       time.Duration
	FailThreshold int
	OpenFor       time.Duration
}

// New builds the adapter named by cfg.Kind.
func New(cfg Config) (Provider, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	switch strings.ToLower(cfg.Kind) {
	case KindCloudAPI:
		return NewCloudAPI(cfg), nil
	case KindGateway:
		return NewGateway(cfg), nil
	default:
		return nil, fmt.Errorf("provider %q: unknown kind %q", cfg.Name, cfg.Kind)
	}
}

func invalid(name, reason string) error {
	return fmt.Errorf("%w: provider=%s: %s", ErrConfigValidationFailed, name, reason)
}
