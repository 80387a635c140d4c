package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jmehdipour/ops-messaging/internal/model"
)

const (
	cloudMaxButtons     = 3
	cloudMaxButtonTitle = 20
	cloudMaxHeader      = 60
)

// CloudAPI talks to a WhatsApp Cloud style Graph endpoint. It supports
// templates and reply buttons natively.
type CloudAPI struct {
	transport
	baseURL       string
	token         string
	phoneNumberID string
	language      string
}

var (
	_ Provider      = (*CloudAPI)(nil)
	_ InboundParser = (*CloudAPI)(nil)
)

func NewCloudAPI(cfg Config) *CloudAPI {
	lang := cfg.Language
	if lang == "" {
		lang = "en"
	}
	return &CloudAPI{
		transport:     newTransport(cfg),
		baseURL:       cfg.BaseURL,
		token:         cfg.Token,
		phoneNumberID: cfg.PhoneNumberID,
		language:      lang,
	}
}

func (p *CloudAPI) Name() string { return p.name }

func (p *CloudAPI) Capabilities() Capabilities {
	return Capabilities{Interactive: true, Template: true}
}

func (p *CloudAPI) ValidateConfig() error {
	switch {
	case p.name == "":
		return invalid(p.name, "name is required")
	case p.baseURL == "":
		return invalid(p.name, "base_url is required")
	case p.token == "":
		return invalid(p.name, "token is required")
	case p.phoneNumberID == "":
		return invalid(p.name, "phone_number_id is required")
	}
	return nil
}

type cloudText struct {
	Body string `json:"body"`
}

type cloudTemplateParam struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type cloudTemplateComponent struct {
	Type       string               `json:"type"`
	Parameters []cloudTemplateParam `json:"parameters"`
}

type cloudTemplate struct {
	Name       string                   `json:"name"`
	Language   map[string]string        `json:"language"`
	Components []cloudTemplateComponent `json:"components,omitempty"`
}

type cloudReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type cloudButton struct {
	Type  string     `json:"type"`
	Reply cloudReply `json:"reply"`
}

type cloudHeader struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type cloudInteractive struct {
	Type   string       `json:"type"`
	Header *cloudHeader `json:"header,omitempty"`
	Body   cloudText    `json:"body"`
	Action struct {
		Buttons []cloudButton `json:"buttons"`
	} `json:"action"`
}

type cloudRequest struct {
	MessagingProduct string            `json:"messaging_product"`
	RecipientType    string            `json:"recipient_type"`
	To               string            `json:"to"`
	Type             string            `json:"type"`
	Text             *cloudText        `json:"text,omitempty"`
	Template         *cloudTemplate    `json:"template,omitempty"`
	Interactive      *cloudInteractive `json:"interactive,omitempty"`
}

type cloudResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (p *CloudAPI) SendText(ctx context.Context, to, body string) (Receipt, error) {
	return p.send(ctx, cloudRequest{To: to, Type: "text", Text: &cloudText{Body: body}})
}

func (p *CloudAPI) SendTemplate(ctx context.Context, to, name string, params []string) (Receipt, error) {
	tpl := &cloudTemplate{Name: name, Language: map[string]string{"code": p.language}}
	if len(params) > 0 {
		comp := cloudTemplateComponent{Type: "body"}
		for _, v := range params {
			comp.Parameters = append(comp.Parameters, cloudTemplateParam{Type: "text", Text: v})
		}
		tpl.Components = []cloudTemplateComponent{comp}
	}
	return p.send(ctx, cloudRequest{To: to, Type: "template", Template: tpl})
}

func (p *CloudAPI) SendInteractive(ctx context.Context, to string, msg model.Interactive) (Receipt, error) {
	if len(msg.Buttons) == 0 || len(msg.Buttons) > cloudMaxButtons {
		return Receipt{}, fmt.Errorf("provider=%s: %d buttons, want 1..%d", p.name, len(msg.Buttons), cloudMaxButtons)
	}

	in := &cloudInteractive{Type: "button", Body: cloudText{Body: msg.Body}}
	if msg.Title != "" {
		in.Header = &cloudHeader{Type: "text", Text: truncate(msg.Title, cloudMaxHeader)}
	}
	for _, b := range msg.Buttons {
		in.Action.Buttons = append(in.Action.Buttons, cloudButton{
			Type:  "reply",
			Reply: cloudReply{ID: b.ID, Title: truncate(b.Title, cloudMaxButtonTitle)},
		})
	}
	return p.send(ctx, cloudRequest{To: to, Type: "interactive", Interactive: in})
}

func (p *CloudAPI) send(ctx context.Context, req cloudRequest) (Receipt, error) {
	req.MessagingProduct = "whatsapp"
	req.RecipientType = "individual"
	req.To = strings.TrimPrefix(req.To, "+")

	url := fmt.Sprintf("%s/%s/messages", p.baseURL, p.phoneNumberID)
	headers := map[string]string{"Authorization": "Bearer " + p.token}

	var res cloudResponse
	if err := p.post(ctx, url, headers, req, &res); err != nil {
		return Receipt{}, err
	}
	if len(res.Messages) == 0 {
		return Receipt{}, nil
	}
	return Receipt{MessageID: res.Messages[0].ID}, nil
}

// cloudWebhook mirrors the parts of the Cloud API notification we read.
type cloudWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					ID   string `json:"id"`
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Interactive struct {
						Type        string     `json:"type"`
						ButtonReply cloudReply `json:"button_reply"`
					} `json:"interactive"`
					Button struct {
						Payload string `json:"payload"`
						Text    string `json:"text"`
					} `json:"button"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseInbound extracts replies from a notification. Status callbacks
// (delivered/read) carry no messages and yield an empty slice.
func (p *CloudAPI) ParseInbound(body []byte) ([]model.InboundReply, error) {
	var wh cloudWebhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return nil, fmt.Errorf("provider=%s parse webhook: %w", p.name, err)
	}

	var out []model.InboundReply
	for _, e := range wh.Entry {
		for _, ch := range e.Changes {
			names := make(map[string]string, len(ch.Value.Contacts))
			for _, c := range ch.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range ch.Value.Messages {
				r := model.InboundReply{
					EventID:   m.ID,
					Provider:  p.name,
					From:      normalizeFrom(m.From),
					ActorName: names[m.From],
				}
				switch m.Type {
				case "interactive":
					r.ReplyID = m.Interactive.ButtonReply.ID
					r.Text = m.Interactive.ButtonReply.Title
				case "button":
					r.ReplyID = m.Button.Payload
					r.Text = m.Button.Text
				default:
					r.Text = m.Text.Body
				}
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func normalizeFrom(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") {
		return s
	}
	return "+" + s
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
