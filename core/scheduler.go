package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trapline/traphound/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RACE SCHEDULER
// ═══════════════════════════════════════════════════════════════════════════════
//
// Arms a one-shot timer per race at startTime - leadTime. A market holds a
// reservation from the moment it is considered until its processing finishes
// (or it is deferred), so overlapping scans never double-schedule. The
// reservation is always released, even when processing panics upstream of the
// callback returning an error, so a failed race can be retried by a later
// scan.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Decision says what Consider did with a race.
type Decision int

const (
	DecisionDuplicate Decision = iota // already reserved, ignored
	DecisionImmediate                 // lead time already reached, processed inline
	DecisionScheduled                 // timer armed
	DecisionDeferred                  // too far out, left for a later scan
)

func (d Decision) String() string {
	switch d {
	case DecisionDuplicate:
		return "duplicate"
	case DecisionImmediate:
		return "immediate"
	case DecisionScheduled:
		return "scheduled"
	case DecisionDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// ProcessFunc handles a race when its timer fires.
type ProcessFunc func(info types.RaceInfo)

// Scheduler owns the reservation set and the active timers.
type Scheduler struct {
	leadTime   time.Duration
	scanWindow time.Duration
	process    ProcessFunc
	nowFn      func() time.Time

	mu       sync.Mutex
	reserved map[string]bool
	timers   map[string]*time.Timer
	stopped  bool
}

// NewScheduler builds a scheduler. Races starting more than scanWindow past
// their trigger point are deferred to a later scan rather than held on a
// long-lived timer.
func NewScheduler(leadTime, scanWindow time.Duration, process ProcessFunc) *Scheduler {
	return &Scheduler{
		leadTime:   leadTime,
		scanWindow: scanWindow,
		process:    process,
		nowFn:      time.Now,
		reserved:   make(map[string]bool),
		timers:     make(map[string]*time.Timer),
	}
}

// Consider reserves the race and either processes it now, arms a timer, or
// defers it. Duplicate considerations are rejected while the reservation
// holds.
func (s *Scheduler) Consider(info types.RaceInfo) Decision {
	s.mu.Lock()
	if s.stopped || s.reserved[info.MarketID] {
		s.mu.Unlock()
		return DecisionDuplicate
	}
	s.reserved[info.MarketID] = true
	delay := info.StartTime.Add(-s.leadTime).Sub(s.nowFn())
	s.mu.Unlock()

	switch {
	case delay <= 0:
		// Trigger point already passed: process synchronously.
		s.run(info)
		return DecisionImmediate

	case delay > s.scanWindow:
		// Next scan will still see this race. Release so it can be
		// reconsidered with fresher data.
		s.release(info.MarketID)
		return DecisionDeferred

	default:
		s.mu.Lock()
		if s.stopped {
			delete(s.reserved, info.MarketID)
			s.mu.Unlock()
			return DecisionDuplicate
		}
		s.timers[info.MarketID] = time.AfterFunc(delay, func() {
			s.run(info)
		})
		s.mu.Unlock()
		log.Info().
			Str("market_id", info.MarketID).
			Str("venue", info.Venue).
			Time("race_time", info.StartTime).
			Dur("fires_in", delay.Round(time.Second)).
			Msg("⏰ Race scheduled")
		return DecisionScheduled
	}
}

// run invokes the process callback, releasing the reservation on every path.
func (s *Scheduler) run(info types.RaceInfo) {
	defer s.release(info.MarketID)
	s.process(info)
}

func (s *Scheduler) release(marketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reserved, marketID)
	delete(s.timers, marketID)
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// CancelAll stops every armed timer and rejects further considerations.
// Already-firing callbacks are not interrupted.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.reserved, id)
		delete(s.timers, id)
	}
}
