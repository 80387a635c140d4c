package dispatcher

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jmehdipour/ops-messaging/internal/provider"
)

// Registry is the fixed set of providers a process was started with.
// It is built once and passed explicitly to the components that route.
type Registry struct {
	byName map[string]provider.Provider
	names  []string
}

func NewRegistry(provs ...provider.Provider) (*Registry, error) {
	r := &Registry{byName: make(map[string]provider.Provider, len(provs))}
	for _, p := range provs {
		name := p.Name()
		if name == "" {
			return nil, errors.New("registry: provider with empty name")
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("registry: duplicate provider %q", name)
		}
		r.byName[name] = p
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

func (r *Registry) Get(name string) (provider.Provider, bool) {
	if r == nil || name == "" {
		return nil, false
	}
	p, ok := r.byName[name]
	return p, ok
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Validate runs every provider's config validation and joins the failures.
func (r *Registry) Validate() error {
	var errs []error
	for _, name := range r.names {
		if err := r.byName[name].ValidateConfig(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
