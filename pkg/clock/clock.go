// Package clock abstracts wall time and the speed factor used to compress
// time during backtest replay.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time and the acceleration factor. Speed is 1
// in live operation and greater than 1 while replaying.
type Clock interface {
	Now() time.Time
	Speed() float64
}

// Scale shrinks d by the clock speed.
func Scale(c Clock, d time.Duration) time.Duration {
	speed := c.Speed()
	if speed <= 0 || speed == 1 {
		return d
	}
	return time.Duration(float64(d) / speed)
}

// Seconds converts a live-time timeout in seconds to a scaled duration.
func Seconds(c Clock, seconds int) time.Duration {
	return Scale(c, time.Duration(seconds)*time.Second)
}

// Since is the time elapsed from t according to c.
func Since(c Clock, t time.Time) time.Duration {
	return c.Now().Sub(t)
}

type Real struct {
	speed float64
}

func NewReal(speed float64) *Real {
	if speed <= 0 {
		speed = 1
	}
	return &Real{speed: speed}
}

func (r *Real) Now() time.Time { return time.Now() }
func (r *Real) Speed() float64 { return r.speed }

// Manual is a clock that only moves when told to.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	speed float64
}

func NewManual(now time.Time, speed float64) *Manual {
	if speed <= 0 {
		speed = 1
	}
	return &Manual{now: now, speed: speed}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Speed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speed
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func (m *Manual) Set(now time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Manual) SetSpeed(speed float64) {
	m.mu.Lock()
	m.speed = speed
	m.mu.Unlock()
}
