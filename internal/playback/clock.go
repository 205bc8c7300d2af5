package playback

import (
	"sync"
	"time"
)

// Clock is a virtual player position that advances in real time while playing.
type Clock struct {
	mu sync.Mutex

	now      func() time.Time
	position float64
	playing  bool
	since    time.Time
	seeking  bool
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

func (c *Clock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.positionLocked()
}

func (c *Clock) positionLocked() float64 {
	if !c.playing {
		return c.position
	}
	return c.position + c.now().Sub(c.since).Seconds()
}

func (c *Clock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.playing
}

func (c *Clock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.playing {
		return
	}
	c.playing = true
	c.since = c.now()
}

func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.playing {
		return
	}
	c.position = c.positionLocked()
	c.playing = false
}

func (c *Clock) Seek(position float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if position < 0 {
		position = 0
	}
	c.position = position
	c.since = c.now()
}

func (c *Clock) SetSeeking(seeking bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seeking = seeking
}

func (c *Clock) Seeking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.seeking
}
