package provider

import (
	"context"
	"errors"

	"github.com/jmehdipour/ops-messaging/internal/model"
)

var (
	ErrConfigValidationFailed = errors.New("provider config validation failed")
	ErrInteractiveUnsupported = errors.New("provider does not support interactive messages")
	ErrTemplateUnsupported    = errors.New("provider does not support templates")
	ErrUnavailable            = errors.New("provider circuit open")
)

// Capabilities advertises what a backend can deliver natively.
type Capabilities struct {
	Interactive bool
	Template    bool
}

// Receipt is what a backend returns for an accepted message.
type Receipt struct {
	MessageID string
}

// Provider is one outbound messaging backend.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	SendText(ctx context.Context, to, body string) (Receipt, error)
	SendTemplate(ctx context.Context, to, name string, params []string) (Receipt, error)
	SendInteractive(ctx context.Context, to string, msg model.Interactive) (Receipt, error)
	// ValidateConfig returns an error wrapping ErrConfigValidationFailed.
	ValidateConfig() error
}

// InboundParser is implemented by providers that deliver replies by webhook.
type InboundParser interface {
	ParseInbound(body []byte) ([]model.InboundReply, error)
}
