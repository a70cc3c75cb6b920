package ircd

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageThrottlerSpacesCallsByThreshold(t *testing.T) {
	th := newMessageThrottler(10) // threshold = 100ms
	start := time.Now()
	th.maybeSlowDown()
	th.maybeSlowDown()
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestMessageThrottlerDoesNotSleepWhenAlreadySpaced(t *testing.T) {
	th := newMessageThrottler(10)
	th.lastTimestamp = time.Now().Add(-time.Second)
	start := time.Now()
	th.maybeSlowDown()
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestConnStatsFirstConnectionConsumesFullTank(t *testing.T) {
	now := time.Now()
	s := newConnStats(now)
	assert.True(t, s.consumeOne())
	assert.Less(t, s.fuel, costPerConnection)
}

func TestConnStatsRejectsImmediateSecondConnection(t *testing.T) {
	now := time.Now()
	s := newConnStats(now)
	require.True(t, s.consumeOne())
	assert.False(t, s.consumeOne(), "tank is nearly empty, a second immediate connection must be rejected")
}

func TestConnStatsRejectionInflatesFillRate(t *testing.T) {
	now := time.Now()
	s := newConnStats(now)
	require.True(t, s.consumeOne())
	before := s.fillRate
	s.consumeOne()
	assert.Greater(t, s.fillRate, before)
}

func TestConnStatsRefillReplenishesOverTime(t *testing.T) {
	now := time.Now()
	s := newConnStats(now)
	require.True(t, s.consumeOne())

	later := now.Add(30 * time.Second)
	s.refill(later)
	assert.Equal(t, tankSize, s.fuel)
}

func TestConnStatsFillRateNeverExceedsMin(t *testing.T) {
	now := time.Now()
	s := newConnStats(now)
	s.fillRate = minFillRate
	require.True(t, s.consumeOne())
	assert.LessOrEqual(t, s.fillRate, minFillRate)
}

func TestConnValidatorAdmitsThenRejectsSameHost(t *testing.T) {
	v := newConnValidator()
	addr := &net.TCPAddr{IP: net.ParseIP("203.0.113.5"), Port: 5555}
	assert.True(t, v.Validate(addr))
	assert.False(t, v.Validate(addr))
}

func TestConnValidatorTracksHostsIndependently(t *testing.T) {
	v := newConnValidator()
	a := &net.TCPAddr{IP: net.ParseIP("203.0.113.5"), Port: 1}
	b := &net.TCPAddr{IP: net.ParseIP("203.0.113.6"), Port: 1}
	require.True(t, v.Validate(a))
	assert.False(t, v.Validate(a))
	assert.True(t, v.Validate(b), "a distinct source IP must have its own bucket")
}

func TestHostOfExtractsIPFromTCPAddr(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("198.51.100.7"), Port: 4242}
	assert.Equal(t, "198.51.100.7", hostOf(addr))
}
