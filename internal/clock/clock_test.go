package clock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	var fired atomic.Int32
	c.AfterFunc(5*time.Second, func() { fired.Add(1) })
	require.Equal(t, 1, c.PendingCount())

	c.Advance(4 * time.Second)
	assert.Equal(t, int32(0), fired.Load())

	c.Advance(time.Second)
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, 0, c.PendingCount())

	c.Advance(time.Minute)
	assert.Equal(t, int32(1), fired.Load(), "one-shot callback must not fire twice")
	assert.Equal(t, epoch.Add(time.Minute+5*time.Second), c.Now())
}

func TestFakeStopPreventsCallback(t *testing.T) {
	c := Fake(epoch)
	var fired atomic.Bool
	timer := c.AfterFunc(time.Second, func() { fired.Store(true) })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(2 * time.Second)
	assert.False(t, fired.Load())
	assert.Equal(t, 0, c.PendingCount())
}

func TestFakeStopAfterFireReportsFalse(t *testing.T) {
	c := Fake(epoch)
	timer := c.AfterFunc(time.Second, func() {})
	c.Advance(time.Second)
	assert.False(t, timer.Stop())
}

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	c.Advance(5 * time.Second)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestFakeWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		c.AfterFunc(time.Second, func() { close(done) })
	}()
	c.WaitForTimers(1)
	c.Advance(time.Second)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback did not run")
	}
}

func TestNilTimerStop(t *testing.T) {
	var timer *Timer
	assert.False(t, timer.Stop())
}
