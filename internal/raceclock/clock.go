// Package raceclock keeps the authority's race clock: when the race started,
// whether it is running, and a manual offset officials use to correct it.
package raceclock

import (
	"errors"
	"sync"
	"time"
)

// Status values.
const (
	StatusStopped = "stopped"
	StatusRunning = "running"
)

// ErrNotRunning is returned when a wall-clock finish is reported while the
// clock is stopped.
var ErrNotRunning = errors.New("race clock is not running")

// State is the clock as broadcast to viewers. RaceStartTime is unix seconds.
type State struct {
	RaceStartTime *float64 `json:"raceStartTime"`
	Status        string   `json:"status"`
	OffsetMs      int64    `json:"offset"`
}

// Clock is safe for concurrent use.
type Clock struct {
	mu    sync.Mutex
	state State
	now   func() time.Time
}

// New returns a stopped clock. now may be nil to use time.Now.
func New(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{state: State{Status: StatusStopped}, now: now}
}

// Restore replaces the clock state, e.g. from persistence at startup.
func (c *Clock) Restore(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Status == "" {
		s.Status = StatusStopped
	}
	c.state = s
}

// State returns a copy of the current state.
func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyState()
}

// Start runs the clock from its current reading. Starting a running clock
// changes nothing.
func (c *Clock) Start() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status == StatusRunning {
		return c.copyState()
	}
	start := unixSeconds(c.now())
	c.state.RaceStartTime = &start
	c.state.Status = StatusRunning
	return c.copyState()
}

// Stop halts the clock, keeping the start time. The reading at the moment of
// stopping moves into the offset, so a stopped clock stays frozen and a
// later Start resumes from it.
func (c *Clock) Stop() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status == StatusRunning {
		c.state.OffsetMs = c.state.ElapsedAt(c.now())
	}
	c.state.Status = StatusStopped
	return c.copyState()
}

// Reset clears the clock back to its initial state.
func (c *Clock) Reset() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = State{Status: StatusStopped}
	return c.copyState()
}

// Edit sets the offset so that the elapsed race time reads ms right now.
// While the clock is not running the offset is simply ms.
func (c *Clock) Edit(ms int64) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != StatusRunning || c.state.RaceStartTime == nil {
		c.state.OffsetMs = ms
	} else {
		c.state.OffsetMs = ms - c.rawElapsedMs()
	}
	return c.copyState()
}

// Elapsed returns the corrected race time in milliseconds.
func (c *Clock) Elapsed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.ElapsedAt(c.now())
}

// ElapsedAt returns the corrected race time in milliseconds at now. A clock
// that is not running reads its offset.
func (s State) ElapsedAt(now time.Time) int64 {
	if s.Status != StatusRunning || s.RaceStartTime == nil {
		return s.OffsetMs
	}
	return int64((unixSeconds(now)-*s.RaceStartTime)*1000) + s.OffsetMs
}

// FinishTime converts a wall-clock detection (unix seconds) into an official
// finish time. The clock must be running.
func (c *Clock) FinishTime(wall float64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != StatusRunning || c.state.RaceStartTime == nil {
		return 0, ErrNotRunning
	}
	ms := int64((wall-*c.state.RaceStartTime)*1000) + c.state.OffsetMs
	if ms < 0 {
		ms = 0
	}
	return ms, nil
}

func (c *Clock) rawElapsedMs() int64 {
	return int64((unixSeconds(c.now()) - *c.state.RaceStartTime) * 1000)
}

func (c *Clock) copyState() State {
	s := c.state
	if s.RaceStartTime != nil {
		start := *s.RaceStartTime
		s.RaceStartTime = &start
	}
	return s
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
