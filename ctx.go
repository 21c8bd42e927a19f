package gatekeeper

import (
	"context"

	"github.com/goliatone/go-router"
)

var controllerCtxKey = &contextKey{"controller"}

type contextKey struct {
	name string
}

// LocalsControllerKey is the router locals key holding the client controller
const LocalsControllerKey = "gatekeeper.controller"

// WithContext sets the Controller in the given context
func WithContext(r context.Context, c *Controller) context.Context {
	return context.WithValue(r, controllerCtxKey, c)
}

// FromContext finds the controller from the context.
func FromContext(ctx context.Context) (*Controller, bool) {
	raw, ok := ctx.Value(controllerCtxKey).(*Controller)
	return raw, ok && raw != nil
}

// StateFromContext returns the snapshot of the controller bound to ctx. A
// context without controller reads as signed out.
func StateFromContext(ctx context.Context) State {
	c, ok := FromContext(ctx)
	if !ok {
		return State{}
	}
	return c.State()
}

// GetRouterController extracts the controller bound by ClientBinder
func GetRouterController(ctx router.Context) (*Controller, bool) {
	raw := ctx.Locals(LocalsControllerKey)
	if raw == nil {
		return FromContext(ctx.Context())
	}
	c, ok := raw.(*Controller)
	return c, ok && c != nil
}
