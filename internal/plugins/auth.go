package plugins

import (
	"context"
	"fmt"

	"github.com/dshills/vtlock/internal/auth"
	"github.com/dshills/vtlock/internal/plugin"
)

type authPlugin struct {
	auth Authenticator
}

func newAuth(deps Deps) (plugin.Plugin, error) {
	if deps.Authenticator == nil {
		return nil, fmt.Errorf("%w: authenticator", ErrMissingDependency)
	}
	return &authPlugin{auth: deps.Authenticator}, nil
}

func (p *authPlugin) Declaration() plugin.Declaration {
	return plugin.Declaration{Name: NameAuth}
}

func (p *authPlugin) Authenticate(ctx context.Context, req auth.Request) error {
	return p.auth.Authenticate(ctx, req)
}
