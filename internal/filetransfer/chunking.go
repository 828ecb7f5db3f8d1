package filetransfer

import (
	"errors"
	"sync"
	"time"

	"github.com/BioHazard786/roomlink/internal/protocol"
)

// --- Buffer management ---
const (
	minChunkSize     = 4 * 1024
	maxChunkSize     = protocol.MaxChunkSize
	defaultChunkSize = 16 * 1024
	highWaterMark    = 2 * 1024 * 1024 // backpressure threshold
	lowWaterMark     = 512 * 1024      // resume threshold

	sendTimeout = 60 * time.Second
)

// Speed thresholds for chunk size adjustment (in bytes per second)
const (
	speedVerySlow = 50 * 1024
	speedSlow     = 200 * 1024
	speedMedium   = 500 * 1024
	speedFast     = 1 * 1024 * 1024
)

var errStopped = errors.New("transfer stopped")

// chunkSizer picks the next chunk size from the observed send rate.
type chunkSizer struct {
	mu          sync.Mutex
	current     int
	bytes       int64
	lastUpdate  time.Time
	smoothSpeed float64
}

func newChunkSizer() *chunkSizer {
	return &chunkSizer{current: defaultChunkSize, lastUpdate: time.Now()}
}

func (c *chunkSizer) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *chunkSizer) record(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bytes += int64(n)
	// Update every 500ms or after ten chunks' worth of data
	elapsed := time.Since(c.lastUpdate)
	if elapsed >= 500*time.Millisecond || c.bytes >= int64(c.current*10) {
		c.update(elapsed)
	}
}

func (c *chunkSizer) update(elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}

	speed := float64(c.bytes) / elapsed.Seconds()
	if c.smoothSpeed > 0 {
		c.smoothSpeed = c.smoothSpeed*0.7 + speed*0.3
	} else {
		c.smoothSpeed = speed
	}

	// Move 25% toward the target to avoid oscillation
	target := targetChunkSize(c.smoothSpeed, c.current)
	next := c.current + int(float64(target-c.current)*0.25)
	c.current = max(minChunkSize, min(maxChunkSize, next))

	c.bytes = 0
	c.lastUpdate = time.Now()
}

func targetChunkSize(speed float64, current int) int {
	switch {
	case speed <= 0:
		return current
	case speed < speedVerySlow:
		return minChunkSize
	case speed < speedSlow:
		return 8 * 1024
	case speed < speedMedium:
		return 16 * 1024
	case speed < speedFast:
		return 32 * 1024
	default:
		return maxChunkSize
	}
}

// window blocks a pump while the channel's send buffer is above the high
// water mark.
type window struct {
	ch  Channel
	low chan struct{}
}

func newWindow(ch Channel) *window {
	w := &window{ch: ch, low: make(chan struct{}, 1)}
	ch.OnBufferedAmountLow(lowWaterMark, func() {
		select {
		case w.low <- struct{}{}:
		default:
		}
	})
	return w
}

func (w *window) wait(stop <-chan struct{}) error {
	buffered := w.ch.BufferedAmount()
	if buffered < highWaterMark {
		return nil
	}

	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()
	select {
	case <-w.low:
		return nil
	case <-stop:
		return errStopped
	case <-timer.C:
		if w.ch.BufferedAmount() < buffered {
			return nil
		}
		return ErrBufferTimeout
	}
}
