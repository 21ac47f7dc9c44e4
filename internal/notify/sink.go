package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Sink consumes notifications until the channel closes or ctx is done.
type Sink interface {
	Name() string
	Run(ctx context.Context, in <-chan Notification) error
}

// RunSinks subscribes every sink to the bus and runs each in its own
// goroutine. The returned function waits for all sinks to return; sinks
// stop when the bus closes.
func RunSinks(ctx context.Context, bus *Bus, buffer int, log zerolog.Logger, sinks ...Sink) (wait func(), err error) {
	var wg sync.WaitGroup
	for _, s := range sinks {
		ch, err := bus.Subscribe(s.Name(), buffer)
		if err != nil {
			return wg.Wait, err
		}
		wg.Add(1)
		go func(s Sink, ch <-chan Notification) {
			defer wg.Done()
			if err := s.Run(ctx, ch); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("sink", s.Name()).Msg("sink stopped")
				return
			}
			log.Debug().Str("sink", s.Name()).Msg("sink finished")
		}(s, ch)
	}
	return wg.Wait, nil
}
