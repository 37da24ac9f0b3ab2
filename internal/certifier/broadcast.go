package certifier

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/zhukovaskychina/keycache/logger"
)

// broadcastGTIDExecutedPeriod is certifier.h's
// Certifier_broadcast_thread::BROADCAST_GTID_EXECUTED_PERIOD: the
// thread ticks once per second and broadcasts every 60th tick.
const broadcastGTIDExecutedPeriod = 60

type broadcastThread struct {
	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
	ticks   int
	period  time.Duration
	cb      *gobreaker.CircuitBreaker
}

// StartBroadcastThread launches the background worker that ticks once
// per second and, every broadcastGTIDExecutedPeriod ticks, invokes send
// with the current local executed set. Send failures are routed through
// a circuit breaker (grounded on internal/middleware/circuit_breaker.go's
// idiom) so a down group-communication transport trips the breaker and
// the thread stops hammering it every tick, retrying only after the
// breaker's cooldown. Ticker+mutex+stop channel idiom grounded on a
// background deadlock-detection goroutine pattern.
func (c *Certifier) StartBroadcastThread(send func(set interface{ String() string }) error) {
	c.mu.Lock()
	if c.bt != nil {
		c.mu.Unlock()
		return
	}
	bt := &broadcastThread{
		stopCh: make(chan struct{}),
		period: time.Second,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "certifier-broadcast",
			MaxRequests: 1,
			Interval:    0,
			Timeout:     30 * time.Second,
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warnf("certifier: broadcast circuit %s changed %s -> %s", name, from, to)
			},
		}),
	}
	c.bt = bt
	c.mu.Unlock()

	go bt.run(func() error {
		set := c.ExecutedSet()
		return send(set)
	})
	logger.Infof("certifier: broadcast thread started")
}

func (bt *broadcastThread) run(broadcast func() error) {
	ticker := time.NewTicker(bt.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bt.mu.Lock()
			bt.ticks++
			due := bt.ticks%broadcastGTIDExecutedPeriod == 0
			bt.mu.Unlock()
			if due {
				if _, err := bt.cb.Execute(func() (interface{}, error) {
					return nil, broadcast()
				}); err != nil {
					logger.Warnf("certifier: broadcast failed: %v", err)
				}
			}
		case <-bt.stopCh:
			return
		}
	}
}

// StopBroadcastThread terminates the background worker; the implicit
// teardown counterpart to StartBroadcastThread.
func (c *Certifier) StopBroadcastThread() {
	c.mu.Lock()
	bt := c.bt
	c.bt = nil
	c.mu.Unlock()

	if bt == nil {
		return
	}
	bt.mu.Lock()
	if !bt.stopped {
		bt.stopped = true
		close(bt.stopCh)
	}
	bt.mu.Unlock()
	logger.Infof("certifier: broadcast thread stopped")
}
