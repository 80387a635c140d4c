package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmehdipour/ops-messaging/internal/model"
)

// Gateway is a plain SMS-style HTTP gateway. It only delivers text; templates
// are rendered locally from configured bodies and interactive messages are
// left for the dispatcher to degrade.
type Gateway struct {
	transport
	baseURL   string
	token     string
	sender    string
	textPath  string
	templates map[string]string
}

var (
	_ Provider      = (*Gateway)(nil)
	_ InboundParser = (*Gateway)(nil)
)

func NewGateway(cfg Config) *Gateway {
	path := cfg.TextPath
	if path == "" {
		path = "/send"
	}
	return &Gateway{
		transport: newTransport(cfg),
		baseURL:   cfg.BaseURL,
		token:     cfg.Token,
		sender:    cfg.Sender,
		textPath:  path,
		templates: cfg.Templates,
	}
}

func (p *Gateway) Name() string { return p.name }

func (p *Gateway) Capabilities() Capabilities { return Capabilities{} }

func (p *Gateway) ValidateConfig() error {
	switch {
	case p.name == "":
		return invalid(p.name, "name is required")
	case p.baseURL == "":
		return invalid(p.name, "base_url is required")
	case p.sender == "":
		return invalid(p.name, "sender is required")
	case !strings.HasPrefix(p.textPath, "/"):
		return invalid(p.name, "text_path must start with /")
	}
	return nil
}

type gatewayRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type gatewayResponse struct {
	ID string `json:"id"`
}

func (p *Gateway) SendText(ctx context.Context, to, body string) (Receipt, error) {
	headers := map[string]string{}
	if p.token != "" {
		headers["X-API-Key"] = p.token
	}

	var res gatewayResponse
	err := p.post(ctx, p.baseURL+p.textPath, headers, gatewayRequest{From: p.sender, To: to, Text: body}, &res)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{MessageID: res.ID}, nil
}

// SendTemplate renders a configured template body, replacing {{1}}, {{2}}, ...
// with params, and sends it as text.
func (p *Gateway) SendTemplate(ctx context.Context, to, name string, params []string) (Receipt, error) {
	body, ok := p.templates[name]
	if !ok {
		return Receipt{}, fmt.Errorf("provider=%s template=%s: %w", p.name, name, ErrTemplateUnsupported)
	}
	for i, v := range params {
		body = strings.ReplaceAll(body, "{{"+strconv.Itoa(i+1)+"}}", v)
	}
	return p.SendText(ctx, to, body)
}

func (p *Gateway) SendInteractive(context.Context, string, model.Interactive) (Receipt, error) {
	return Receipt{}, fmt.Errorf("provider=%s: %w", p.name, ErrInteractiveUnsupported)
}

type gatewayInbound struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	Name      string `json:"name"`
	Text      string `json:"text"`
}

// ParseInbound accepts either a single MO message object or an array of them.
func (p *Gateway) ParseInbound(body []byte) ([]model.InboundReply, error) {
	var items []gatewayInbound
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("provider=%s parse webhook: %w", p.name, err)
		}
	} else {
		var one gatewayInbound
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("provider=%s parse webhook: %w", p.name, err)
		}
		items = append(items, one)
	}

	out := make([]model.InboundReply, 0, len(items))
	for _, it := range items {
		out = append(out, model.InboundReply{
			EventID:   it.MessageID,
			Provider:  p.name,
			From:      normalizeFrom(it.From),
			ActorName: it.Name,
			Text:      it.Text,
		})
	}
	return out, nil
}
