package main

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeControl struct {
	mu      sync.Mutex
	paused  bool
	stopped int
	toggles int
}

func (c *fakeControl) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped++
}

func (c *fakeControl) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	c.toggles++
}

func (c *fakeControl) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	c.toggles++
}

func (c *fakeControl) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func TestWatchSignalsReleasesStopAfterFirstInterrupt(t *testing.T) {
	noColor = true
	ctl := &fakeControl{}
	stop := make(chan os.Signal, 2)
	pause := make(chan os.Signal, 2)

	var released int
	done := make(chan struct{})
	go func() {
		defer close(done)
		watchSignals(ctl, stop, pause, func() { released++ })
	}()

	pause <- os.Interrupt
	assert.Eventually(t, ctl.Paused, time.Second, 10*time.Millisecond)
	pause <- os.Interrupt
	assert.Eventually(t, func() bool { return !ctl.Paused() }, time.Second, 10*time.Millisecond)

	stop <- os.Interrupt
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not return after interrupt")
	}

	// A later interrupt is left for the default handler.
	stop <- os.Interrupt
	assert.Len(t, stop, 1)
	assert.Equal(t, 1, released)
	assert.Equal(t, 1, ctl.stopped)
	assert.Equal(t, 2, ctl.toggles)
}

func TestCountdownLabel(t *testing.T) {
	assert.Equal(t, "Waiting 2.5s before page 4", countdownLabel(2480*time.Millisecond, 4))
	assert.Equal(t, "Waiting 0s before page 1", countdownLabel(-time.Second, 1))
}
