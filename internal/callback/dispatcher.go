package callback

import (
	"context"

	"locbot/internal/events"
)

// Dispatcher routes events from any Source to the router and command handler.
type Dispatcher struct {
	router   *Router
	commands *Commands
}

var _ events.Handler = (*Dispatcher)(nil)

func NewDispatcher(router *Router, commands *Commands) *Dispatcher {
	return &Dispatcher{router: router, commands: commands}
}

func (d *Dispatcher) HandleCallback(ctx context.Context, cb events.Callback) {
	d.router.Route(ctx, cb)
}

func (d *Dispatcher) HandleCommand(ctx context.Context, cmd events.Command) {
	if d.commands != nil {
		d.commands.Handle(ctx, cmd)
	}
}
