// Package lifecycle exposes beacon change events as a lifecycle.Source.
package lifecycle

import (
	"context"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/beacon/pkg/core"
)

type changeSource struct {
	events <-chan core.ChangeEvent
	out    chan lifecycle.Event
}

// NewSource creates a lifecycle.Source that emits config change events, such
// as the ones published by notify.Manager.Events.
func NewSource(events <-chan core.ChangeEvent) lifecycle.Source {
	return &changeSource{
		events: events,
		out:    make(chan lifecycle.Event),
	}
}

func (s *changeSource) Events() <-chan lifecycle.Event {
	return s.out
}

// Start forwards events until ctx is done or the input channel closes, then
// closes the output channel.
func (s *changeSource) Start(ctx context.Context) error {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-s.events:
				if !ok {
					return nil
				}
				select {
				case s.out <- e:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}
