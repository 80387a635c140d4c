package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCloudServer(t *testing.T, status int) (*httptest.Server, <-chan map[string]any) {
	t.Helper()
	bodies := make(chan map[string]any, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/12345/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			bodies <- body
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	return srv, bodies
}

func cloudCfg(url string) Config {
	return Config{Name: "cloud", Kind: KindCloudAPI, BaseURL: url, Token: "secret", PhoneNumberID: "12345"}
}

func TestCloudAPI_SendInteractive(t *testing.T) {
	srv, bodies := newCloudServer(t, http.StatusOK)
	defer srv.Close()

	p := NewCloudAPI(cloudCfg(srv.URL))
	rec, err := p.SendInteractive(context.Background(), "+15550001", model.Interactive{
		Title: "QC rejection",
		Body:  "Approve rejecting SO-1?",
		Buttons: []model.Button{
			{ID: "wf1:approve", Title: "Approve"},
			{ID: "wf1:reject", Title: "Reject"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", rec.MessageID)

	body := <-bodies
	assert.Equal(t, "15550001", body["to"])
	assert.Equal(t, "interactive", body["type"])
	in := body["interactive"].(map[string]any)
	buttons := in["action"].(map[string]any)["buttons"].([]any)
	require.Len(t, buttons, 2)
	first := buttons[0].(map[string]any)["reply"].(map[string]any)
	assert.Equal(t, "wf1:approve", first["id"])
	assert.Equal(t, "Approve", first["title"])
}

func TestCloudAPI_SendInteractive_TooManyButtons(t *testing.T) {
	p := NewCloudAPI(cloudCfg("http://unused"))
	_, err := p.SendInteractive(context.Background(), "+1", model.Interactive{
		Body:    "x",
		Buttons: []model.Button{{ID: "1"}, {ID: "2"}, {ID: "3"}, {ID: "4"}},
	})
	assert.Error(t, err)
}

func TestCloudAPI_SendTemplate(t *testing.T) {
	srv, bodies := newCloudServer(t, http.StatusOK)
	defer srv.Close()

	p := NewCloudAPI(cloudCfg(srv.URL))
	_, err := p.SendTemplate(context.Background(), "+1555", "order_update", []string{"SO-1", "shipped"})
	require.NoError(t, err)

	body := <-bodies
	tpl := body["template"].(map[string]any)
	assert.Equal(t, "order_update", tpl["name"])
	assert.Equal(t, "en", tpl["language"].(map[string]any)["code"])
	params := tpl["components"].([]any)[0].(map[string]any)["parameters"].([]any)
	assert.Len(t, params, 2)
}

func TestCloudAPI_Non2xxOpensBreaker(t *testing.T) {
	srv, _ := newCloudServer(t, http.StatusBadGateway)
	defer srv.Close()

	cfg := cloudCfg(srv.URL)
	cfg.FailThreshold = 2
	p := NewCloudAPI(cfg)

	for i := 0; i < 2; i++ {
		_, err := p.SendText(context.Background(), "+1", "hi")
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrUnavailable))
	}

	_, err := p.SendText(context.Background(), "+1", "hi")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCloudAPI_ValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"complete", func(*Config) {}, true},
		{"missing token", func(c *Config) { c.Token = "" }, false},
		{"missing phone number id", func(c *Config) { c.PhoneNumberID = "" }, false},
		{"missing base url", func(c *Config) { c.BaseURL = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := cloudCfg("https://graph.example.com/v19.0")
			tt.mutate(&cfg)
			err := NewCloudAPI(cfg).ValidateConfig()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrConfigValidationFailed)
		})
	}
}

func TestCloudAPI_ParseInbound(t *testing.T) {
	raw := `{
	  "object": "whatsapp_business_account",
	  "entry": [{"changes": [{"value": {
	    "contacts": [{"wa_id": "15550001", "profile": {"name": "Dana"}}],
	    "messages": [
	      {"id": "wamid.A", "from": "15550001", "type": "interactive",
	       "interactive": {"type": "button_reply", "button_reply": {"id": "wf1:approve", "title": "Approve"}}},
	      {"id": "wamid.B", "from": "15550001", "type": "text", "text": {"body": "wf2:reject"}}
	    ]
	  }}]}]
	}`

	p := NewCloudAPI(cloudCfg("http://unused"))
	replies, err := p.ParseInbound([]byte(raw))
	require.NoError(t, err)
	require.Len(t, replies, 2)

	assert.Equal(t, model.InboundReply{
		EventID: "wamid.A", Provider: "cloud", From: "+15550001", ActorName: "Dana",
		ReplyID: "wf1:approve", Text: "Approve",
	}, replies[0])
	assert.Equal(t, "", replies[1].ReplyID)
	assert.Equal(t, "wf2:reject", replies[1].Text)

	_, err = p.ParseInbound([]byte(`not json`))
	assert.Error(t, err)
}
