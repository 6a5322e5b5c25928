package pipeline

import (
	"context"

	"github.com/ppiankov/verity/internal/model"
)

// Emitter receives the ordered event stream of one session. Emit errors are
// logged by the pipeline and never fail the run.
type Emitter interface {
	Emit(ctx context.Context, e model.Event) error
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(ctx context.Context, e model.Event) error

func (f EmitterFunc) Emit(ctx context.Context, e model.Event) error {
	return f(ctx, e)
}

// Discard drops every event
var Discard Emitter = EmitterFunc(func(context.Context, model.Event) error { return nil })

// ChannelEmitter forwards events to a channel, blocking until the receiver
// takes each one or ctx is done
type ChannelEmitter struct {
	ch chan<- model.Event
}

// NewChannelEmitter creates an emitter writing to ch
func NewChannelEmitter(ch chan<- model.Event) *ChannelEmitter {
	return &ChannelEmitter{ch: ch}
}

func (c *ChannelEmitter) Emit(ctx context.Context, e model.Event) error {
	select {
	case c.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
