package certifier

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBroadcastThread mirrors StartBroadcastThread's construction but
// with a short tick period, so a white-box test doesn't have to wait
// out the full 60-second production period to observe a broadcast.
func newTestBroadcastThread(period time.Duration) *broadcastThread {
	return &broadcastThread{
		stopCh: make(chan struct{}),
		period: period,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "test-broadcast",
			Timeout: 50 * time.Millisecond,
		}),
	}
}

func TestBroadcastThreadFiresEveryPeriodTicks(t *testing.T) {
	bt := newTestBroadcastThread(2 * time.Millisecond)
	var calls int32
	go bt.run(func() error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	defer close(bt.stopCh)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 2
	}, time.Second, time.Millisecond)
}

func TestBroadcastThreadTripsCircuitOnRepeatedFailures(t *testing.T) {
	bt := newTestBroadcastThread(1 * time.Millisecond)
	var mu sync.Mutex
	var attempts int

	go bt.run(func() error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return assert.AnError
	})
	defer close(bt.stopCh)

	// gobreaker's default ReadyToTrip opens once consecutive failures
	// exceed 5 (i.e. on the 6th); wait long enough for several broadcastGTIDExecutedPeriod
	// cycles, then confirm the breaker actually opened rather than
	// retrying forever.
	require.Eventually(t, func() bool {
		return bt.cb.State() == gobreaker.StateOpen
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	seen := attempts
	mu.Unlock()
	assert.GreaterOrEqual(t, seen, 5)
}
