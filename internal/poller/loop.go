package poller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sociallyhq/socially/internal/remote"
)

// Net reports and records connectivity for poll outcomes.
type Net interface {
	Online() bool
	Report(online bool)
}

// Loop runs fetch immediately and then on every tick until ctx is done.
// Ticks are skipped while the tracker already knows the service is
// unreachable; fetch outcomes feed the tracker back.
func Loop(ctx context.Context, period time.Duration, net Net, log *zap.Logger, fetch func(ctx context.Context) error) {
	tick := func() {
		if !net.Online() {
			return
		}
		if err := fetch(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if !remote.IsRejected(err) {
				net.Report(false)
			}
			log.Debug("poll failed", zap.Error(err))
			return
		}
		net.Report(true)
	}
	tick()

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// PushLatest delivers v on a capacity-one channel, replacing any snapshot
// the subscriber has not consumed yet.
func PushLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
