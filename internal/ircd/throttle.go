package ircd

import (
	"net"
	"sync"
	"time"
)

// messageThrottler enforces messages_per_second_limit for one connection's
// writer loop: a simple last-send-timestamp gate, ported from the
// original's per-connection message throttler.
type messageThrottler struct {
	threshold     time.Duration
	lastTimestamp time.Time
}

func newMessageThrottler(maxMessagesPerSecond int) *messageThrottler {
	return &messageThrottler{
		threshold:     time.Second / time.Duration(maxMessagesPerSecond),
		lastTimestamp: time.Now(),
	}
}

// maybeSlowDown sleeps long enough that calls are spaced at least
// threshold apart, then records the new send time.
func (t *messageThrottler) maybeSlowDown() {
	now := time.Now()
	elapsed := now.Sub(t.lastTimestamp)
	if elapsed < t.threshold {
		time.Sleep(t.threshold - elapsed)
	}
	t.lastTimestamp = time.Now()
}

// connStats is one source IP's leaky-bucket admission state, ported from
// the original connection validator.
type connStats struct {
	fuel       float64
	fillRate   float64
	lastRefill time.Time
}

const (
	tankSize          = 1000.0
	costPerConnection = 1000.0
	minFillRate       = 1000.0
	fillRateBase      = 100.0
	costMultiplier    = 1.2
)

func newConnStats(now time.Time) *connStats {
	return &connStats{fuel: tankSize, fillRate: fillRateBase, lastRefill: now}
}

func (c *connStats) refill(now time.Time) {
	elapsed := now.Sub(c.lastRefill).Seconds()
	c.fuel += elapsed * c.fillRate
	if c.fuel > tankSize {
		c.fuel = tankSize
	}
	c.lastRefill = now
}

// consumeOne attempts to spend one connection's admission cost. On
// rejection it multiplies fillRate by costMultiplier; on acceptance it
// divides fillRate by costMultiplier, capped at minFillRate. refill adds
// fillRate fuel per elapsed second.
func (c *connStats) consumeOne() bool {
	if c.fuel < costPerConnection {
		c.fillRate *= costMultiplier
		return false
	}
	c.fuel -= costPerConnection
	c.fillRate /= costMultiplier
	if c.fillRate > minFillRate {
		c.fillRate = minFillRate
	}
	return true
}

// connValidator is a process-wide per-IP admission gate: a leaky bucket
// with exponential cost inflation under pressure, so a single abusive IP
// can be rejected without affecting other source addresses.
type connValidator struct {
	mu    sync.Mutex
	stats map[string]*connStats
}

func newConnValidator() *connValidator {
	return &connValidator{stats: make(map[string]*connStats)}
}

// Validate reports whether a new connection from addr should be admitted.
func (v *connValidator) Validate(addr net.Addr) bool {
	host := hostOf(addr)

	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now()
	s, ok := v.stats[host]
	if !ok {
		s = newConnStats(now)
		v.stats[host] = s
	}
	s.refill(now)
	return s.consumeOne()
}

func hostOf(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
