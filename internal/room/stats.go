package room

import (
	"context"
	"time"

	"github.com/BioHazard786/roomlink/internal/rtc"
	"github.com/sourcegraph/conc/pool"
)

// Stats returns a transport snapshot for peerID. An empty peerID returns
// the sum over every transport of the local session.
func (c *Controller) Stats(ctx context.Context, peerID string) (rtc.Stats, error) {
	c.mu.Lock()
	if err := c.checkPeerLocked(peerID); err != nil {
		c.mu.Unlock()
		return rtc.Stats{}, err
	}
	conns := c.connsLocked(peerID)
	c.mu.Unlock()

	stats, err := collectStats(ctx, conns)
	if err != nil {
		return rtc.Stats{}, err
	}
	if peerID != "" {
		if len(stats) == 0 {
			return rtc.Stats{PeerID: peerID, State: rtc.StateNew, Timestamp: time.Now()}, nil
		}
		return stats[0], nil
	}

	total := rtc.Stats{State: rtc.StateOpen, Timestamp: time.Now()}
	for _, s := range stats {
		total = total.Add(s)
	}
	return total, nil
}

// connsLocked lists the transports for peerID, or for every peer in
// registry order.
func (c *Controller) connsLocked(peerID string) []rtc.Conn {
	var conns []rtc.Conn
	for _, p := range c.registry.All() {
		if peerID != "" && p.ID != peerID {
			continue
		}
		if s, ok := c.sessions[p.ID]; ok && s.conn != nil {
			conns = append(conns, s.conn)
		}
	}
	return conns
}

// collectStats queries conns concurrently and returns the snapshots in the
// same order.
func collectStats(ctx context.Context, conns []rtc.Conn) ([]rtc.Stats, error) {
	out := make([]rtc.Stats, len(conns))
	p := pool.New().WithContext(ctx).WithMaxGoroutines(8)
	for i, conn := range conns {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = conn.Stats()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// startStatsLocked runs the periodic stats poll when enabled.
func (c *Controller) startStatsLocked() {
	if !c.session.AutoStats || c.session.StatsInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.stopStats = cancel
	interval := c.session.StatsInterval
	c.statsLoop.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.pollStats(ctx)
			}
		}
	})
}

func (c *Controller) pollStats(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	conns := c.connsLocked("")
	c.mu.Unlock()

	stats, err := collectStats(ctx, conns)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return
	}
	for _, st := range stats {
		s, ok := c.sessions[st.PeerID]
		if !ok || s.state != SessionActive {
			continue
		}
		s.stats = st
		c.emitStats(func(h StatsHandler) { h.OnStats(st.PeerID, st) })
	}
}
