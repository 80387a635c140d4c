package dispatcher

import (
	"testing"

	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Select(t *testing.T) {
	def := &fakeProvider{name: "default"}
	crit := &fakeProvider{name: "critical"}
	bulk := &fakeProvider{name: "bulk"}
	reg := mustRegistry(def, crit, bulk)

	flagged := RoutingConfig{
		Default:        "default",
		Critical:       "critical",
		Bulk:           "bulk",
		UseCriticalFor: []model.Priority{model.PriorityHigh, model.PriorityUrgent},
		UseBulkFor:     []model.Priority{model.PriorityLow, model.PriorityMedium},
	}
	noFlags := RoutingConfig{Default: "default", Critical: "critical", Bulk: "bulk"}

	tests := []struct {
		name      string
		cfg       RoutingConfig
		priority  model.Priority
		preferred string
		want      string
	}{
		{"urgent goes critical", flagged, model.PriorityUrgent, "", "critical"},
		{"high goes critical", flagged, model.PriorityHigh, "", "critical"},
		{"low goes bulk", flagged, model.PriorityLow, "", "bulk"},
		{"medium goes bulk", flagged, model.PriorityMedium, "", "bulk"},
		{"preferred wins", flagged, model.PriorityUrgent, "bulk", "bulk"},
		{"unregistered preferred ignored", flagged, model.PriorityUrgent, "ghost", "critical"},
		{"no flags urgent", noFlags, model.PriorityUrgent, "", "default"},
		{"no flags low", noFlags, model.PriorityLow, "", "default"},
		{"critical missing falls to default", RoutingConfig{
			Default: "default", Critical: "ghost",
			UseCriticalFor: []model.Priority{model.PriorityUrgent},
		}, model.PriorityUrgent, "", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pol := NewPolicy(reg, tt.cfg)
			for i := 0; i < 3; i++ {
				p, err := pol.Select(tt.priority, tt.preferred)
				require.NoError(t, err)
				assert.Equal(t, tt.want, p.Name())
			}
		})
	}
}

func TestPolicy_NoProviderConfigured(t *testing.T) {
	pol := NewPolicy(mustRegistry(&fakeProvider{name: "a"}), RoutingConfig{Default: "missing"})
	_, err := pol.Select(model.PriorityHigh, "")
	assert.ErrorIs(t, err, ErrNoProviderConfigured)

	pol = NewPolicy(mustRegistry(), RoutingConfig{})
	_, err = pol.Select(model.PriorityLow, "anything")
	assert.ErrorIs(t, err, ErrNoProviderConfigured)
}

func TestPolicy_ConfigIsCopied(t *testing.T) {
	cfg := RoutingConfig{Default: "a", UseCriticalFor: []model.Priority{model.PriorityHigh}}
	pol := NewPolicy(mustRegistry(&fakeProvider{name: "a"}), cfg)

	cfg.UseCriticalFor[0] = model.PriorityLow
	assert.Equal(t, []model.Priority{model.PriorityHigh}, pol.Config().UseCriticalFor)
}

func TestRegistry(t *testing.T) {
	_, err := NewRegistry(&fakeProvider{name: "a"}, &fakeProvider{name: "a"})
	assert.Error(t, err)

	_, err = NewRegistry(&fakeProvider{})
	assert.Error(t, err)

	r := mustRegistry(&fakeProvider{name: "b"}, &fakeProvider{name: "a"})
	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.NoError(t, r.Validate())
}

func TestRoutingConfig_Validate(t *testing.T) {
	reg := mustRegistry(&fakeProvider{name: "cloud"}, &fakeProvider{name: "sms"})

	tests := []struct {
		name    string
		cfg     RoutingConfig
		wantErr string
	}{
		{"valid", RoutingConfig{Default: "cloud", Fallback: "sms", UseBulkFor: []model.Priority{model.PriorityLow}}, ""},
		{"critical only", RoutingConfig{Critical: "cloud", UseCriticalFor: []model.Priority{model.PriorityUrgent}}, ""},
		{"unknown fallback", RoutingConfig{Default: "cloud", Fallback: "ghost"}, `fallback provider "ghost" is not registered`},
		{"unknown priority", RoutingConfig{Default: "cloud", UseCriticalFor: []model.Priority{"asap"}}, `unknown priority "asap"`},
		{"negative cap", RoutingConfig{Default: "cloud", DailyCaps: map[string]int64{"sms": -1}}, `daily cap for "sms" is negative`},
		{"empty", RoutingConfig{}, "no default provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate(reg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidRouting)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
