package health

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// pingAll pings targets concurrently, at most MaxConcurrentPings at a time,
// and records each result. Only cancellation of ctx is returned.
func (m *Manager) pingAll(ctx context.Context, targets []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.MaxConcurrentPings)

	for _, peerID := range targets {
		peerID := peerID
		g.Go(func() error {
			rtt, err := m.ping(gctx, peerID)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				m.recordFailure(peerID, err)
				return nil
			}
			m.recordSuccess(peerID, rtt)
			return nil
		})
	}
	return g.Wait()
}
