// Package refresh decides, per frame, whether the panel gets a full or a
// partial update. Partial updates are fast but leave ghosting, so every
// threshold-th update is promoted to a full refresh.
package refresh

import (
	"errors"
	"image"
	"sync"

	"boxdisplay/internal/epd"
	appLog "boxdisplay/internal/log"
)

// DefaultThreshold is the number of updates between full refreshes.
const DefaultThreshold = 10

// Mode is the refresh mode actually used for a frame.
type Mode int

const (
	ModeFull Mode = iota
	ModePartial
)

func (m Mode) String() string {
	if m == ModePartial {
		return "partial"
	}
	return "full"
}

// Result describes one Present call.
type Result struct {
	Mode Mode
	// FellBack is set when a partial refresh was attempted, the driver
	// reported epd.ErrPartialUnsupported, and a full refresh ran instead.
	FellBack bool
	// Err is the driver error, already logged.
	Err error
}

// Scheduler tracks updates since the last full refresh.
//
// mu guards the counters only; presentMu serializes hardware writes so that
// ForceFullRefresh and Count never wait on the panel.
type Scheduler struct {
	driver    epd.Driver
	threshold int

	presentMu sync.Mutex

	mu    sync.Mutex
	count int
	force bool
}

// New returns a scheduler driving d. threshold <= 0 selects DefaultThreshold.
func New(d epd.Driver, threshold int) *Scheduler {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Scheduler{driver: d, threshold: threshold}
}

// Threshold returns the configured full-refresh interval.
func (s *Scheduler) Threshold() int { return s.threshold }

// Count returns the number of updates since the last full refresh.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// ForceFullRefresh makes the next Present a full refresh. The flag is
// consumed by that Present.
func (s *Scheduler) ForceFullRefresh() {
	s.mu.Lock()
	s.force = true
	s.mu.Unlock()
}

// decide advances the counter and picks the mode for this frame.
func (s *Scheduler) decide(forceFull bool) Mode {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	if forceFull || s.force || s.count >= s.threshold {
		s.force = false
		s.count = 0
		return ModeFull
	}
	return ModePartial
}

func (s *Scheduler) resetCount() {
	s.mu.Lock()
	s.count = 0
	s.mu.Unlock()
}

// Present writes img to the panel. Driver errors are logged and returned in
// Result.Err; the counter moves as if the attempt had succeeded.
func (s *Scheduler) Present(img *image.Gray, forceFull bool) Result {
	s.presentMu.Lock()
	defer s.presentMu.Unlock()

	mode := s.decide(forceFull)
	if mode == ModeFull {
		err := s.driver.FullRefresh(img)
		if err != nil {
			appLog.Error("refresh: full refresh failed", err, "driver", s.driver.Name())
		} else {
			appLog.Debug("refresh: full", "driver", s.driver.Name())
		}
		return Result{Mode: ModeFull, Err: err}
	}

	err := s.driver.PartialRefresh(img, img.Bounds())
	if errors.Is(err, epd.ErrPartialUnsupported) {
		s.resetCount()
		appLog.Debug("refresh: partial unsupported, falling back to full", "driver", s.driver.Name())
		err = s.driver.FullRefresh(img)
		if err != nil {
			appLog.Error("refresh: fallback full refresh failed", err, "driver", s.driver.Name())
		}
		return Result{Mode: ModeFull, FellBack: true, Err: err}
	}
	if err != nil {
		appLog.Error("refresh: partial refresh failed", err, "driver", s.driver.Name(), "count", s.Count())
	} else {
		appLog.Debug("refresh: partial", "count", s.Count(), "threshold", s.threshold)
	}
	return Result{Mode: ModePartial, Err: err}
}
