package certifier_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhukovaskychina/keycache/internal/certifier"
)

func TestBroadcastThreadIsIdempotentToStart(t *testing.T) {
	c := newCertifier(t)
	var calls int32

	c.StartBroadcastThread(func(set interface{ String() string }) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	c.StartBroadcastThread(func(set interface{ String() string }) error {
		t.Fatal("second StartBroadcastThread call must be a no-op")
		return nil
	})
	c.StopBroadcastThread()
}

func TestStopBroadcastThreadIsSafeWithoutStart(t *testing.T) {
	c := newCertifier(t)
	assert.NotPanics(t, func() { c.StopBroadcastThread() })
}

func TestStopBroadcastThreadIsSafeCalledTwice(t *testing.T) {
	c := newCertifier(t)
	c.StartBroadcastThread(func(set interface{ String() string }) error { return nil })
	c.StopBroadcastThread()
	assert.NotPanics(t, func() { c.StopBroadcastThread() })
}
