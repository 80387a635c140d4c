package approval

import (
	"context"
	"fmt"
)

// GroupResolver expands an approver group into recipient addresses.
type GroupResolver interface {
	Recipients(ctx context.Context, group string) ([]string, error)
}

// StaticGroups resolves groups from configuration.
type StaticGroups map[string][]string

func (g StaticGroups) Recipients(_ context.Context, group string) ([]string, error) {
	r, ok := g[group]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}
	return r, nil
}
