package dispatcher

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/jmehdipour/ops-messaging/internal/provider"
)

var (
	ErrNoProviderConfigured = errors.New("no provider configured")
	ErrInvalidRouting       = errors.New("invalid routing config")
)

// RoutingConfig is replaced as a whole, never edited in place.
type RoutingConfig struct {
	Default        string           `json:"default"`
	Fallback       string           `json:"fallback,omitempty"`
	Critical       string           `json:"critical,omitempty"`
	Bulk           string           `json:"bulk,omitempty"`
	UseCriticalFor []model.Priority `json:"use_critical_for,omitempty"`
	UseBulkFor     []model.Priority `json:"use_bulk_for,omitempty"`
	DailyCaps      map[string]int64 `json:"daily_caps,omitempty"`
}

func (c RoutingConfig) clone() RoutingConfig {
	out := c
	out.UseCriticalFor = slices.Clone(c.UseCriticalFor)
	out.UseBulkFor = slices.Clone(c.UseBulkFor)
	if c.DailyCaps != nil {
		out.DailyCaps = make(map[string]int64, len(c.DailyCaps))
		for k, v := range c.DailyCaps {
			out.DailyCaps[k] = v
		}
	}
	return out
}

// Validate checks that every named provider is registered and every
// priority is known. An empty default is allowed only with a critical or
// bulk provider covering some priority.
func (c RoutingConfig) Validate(reg *Registry) error {
	var errs []error
	for role, name := range map[string]string{"default": c.Default, "fallback": c.Fallback, "critical": c.Critical, "bulk": c.Bulk} {
		if name == "" {
			continue
		}
		if _, ok := reg.Get(name); !ok {
			errs = append(errs, fmt.Errorf("%s provider %q is not registered", role, name))
		}
	}
	for _, p := range append(slices.Clone(c.UseCriticalFor), c.UseBulkFor...) {
		if !p.Valid() {
			errs = append(errs, fmt.Errorf("unknown priority %q", p))
		}
	}
	for name, limit := range c.DailyCaps {
		if limit < 0 {
			errs = append(errs, fmt.Errorf("daily cap for %q is negative", name))
		}
	}
	if c.Default == "" && c.Critical == "" && c.Bulk == "" {
		errs = append(errs, errors.New("no default provider"))
	}
	if len(errs) == 0 {
		return nil
	}
	slices.SortFunc(errs, func(a, b error) int { return strings.Compare(a.Error(), b.Error()) })
	return fmt.Errorf("%w: %w", ErrInvalidRouting, errors.Join(errs...))
}

// Policy selects providers. It does no I/O.
type Policy struct {
	registry *Registry
	cfg      RoutingConfig
}

func NewPolicy(reg *Registry, cfg RoutingConfig) *Policy {
	return &Policy{registry: reg, cfg: cfg.clone()}
}

func (p *Policy) Config() RoutingConfig { return p.cfg.clone() }

// Select resolves, in order: the registered preferred provider, the critical
// provider for critical priorities, the bulk provider for bulk priorities,
// then the default provider.
func (p *Policy) Select(priority model.Priority, preferred string) (provider.Provider, error) {
	if prov, ok := p.registry.Get(preferred); ok {
		return prov, nil
	}
	if slices.Contains(p.cfg.UseCriticalFor, priority) {
		if prov, ok := p.registry.Get(p.cfg.Critical); ok {
			return prov, nil
		}
	}
	if slices.Contains(p.cfg.UseBulkFor, priority) {
		if prov, ok := p.registry.Get(p.cfg.Bulk); ok {
			return prov, nil
		}
	}
	if prov, ok := p.registry.Get(p.cfg.Default); ok {
		return prov, nil
	}
	return nil, ErrNoProviderConfigured
}

// Fallback returns the configured fallback provider, if registered.
func (p *Policy) Fallback() (provider.Provider, bool) {
	return p.registry.Get(p.cfg.Fallback)
}

// DailyCap returns the per-day send limit for a provider; 0 means unlimited.
func (p *Policy) DailyCap(name string) int64 {
	return p.cfg.DailyCaps[name]
}
