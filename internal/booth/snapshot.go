package booth

import (
	"time"

	"cheesebooth/internal/camera"
)

// CycleSummary は直近の撮影サイクルの結果
type CycleSummary struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Success    bool      `json:"success"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Snapshot はコントローラーの状態のスナップショット
type Snapshot struct {
	State           string        `json:"state"`
	StreamLive      bool          `json:"stream_live"`
	CaptureInFlight bool          `json:"capture_in_flight"`
	Breaker         string        `json:"breaker"`
	Cycles          int           `json:"cycles"`
	Photos          int           `json:"photos"`
	Failures        int           `json:"failures"`
	SkippedCues     int           `json:"skipped_cues"`
	LastCycle       *CycleSummary `json:"last_cycle,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
}

type stats struct {
	cycles      int
	photos      int
	failures    int
	skippedCues int
	current     *CycleSummary
	last        *CycleSummary
	startedAt   time.Time
}

// Snapshot は現在の状態を返す
func (c *Controller) Snapshot() Snapshot {
	breaker := c.breaker.State().String()

	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		State:           c.state.String(),
		StreamLive:      c.handle != nil,
		CaptureInFlight: c.captureInFlight,
		Breaker:         breaker,
		Cycles:          c.stats.cycles,
		Photos:          c.stats.photos,
		Failures:        c.stats.failures,
		SkippedCues:     c.stats.skippedCues,
		StartedAt:       c.stats.startedAt,
	}
	if c.stats.last != nil {
		last := *c.stats.last
		snap.LastCycle = &last
	}
	return snap
}

func (c *Controller) beginCycle(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.cycles++
	c.stats.current = &CycleSummary{ID: id, StartedAt: c.now()}
}

func (c *Controller) finishCycle(id string, result camera.CaptureResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	summary := c.stats.current
	if summary == nil || summary.ID != id {
		summary = &CycleSummary{ID: id}
	}
	summary.Path = result.Path
	summary.Success = result.Success
	summary.Attempts = result.Attempts
	summary.FinishedAt = c.now()
	if result.Err != nil {
		summary.Error = result.Err.Error()
	}

	if result.Success {
		c.stats.photos++
	} else {
		c.stats.failures++
	}
	c.stats.current = nil
	c.stats.last = summary
}

func (c *Controller) countSkippedCue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.skippedCues++
}
