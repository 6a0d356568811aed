package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trapline/traphound/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RESULT TRACKER
// ═══════════════════════════════════════════════════════════════════════════════
//
// Holds every processed race until startTime + resultDelay, then sweeps the
// exchange for winners. Each race gets exactly one outcome attempt: due
// entries leave the pending set before the query, so a failed lookup drops
// the race rather than retrying forever against a market that may never
// settle.
//
// ═══════════════════════════════════════════════════════════════════════════════

type pendingResult struct {
	race       *types.Race
	checkAfter time.Time
}

// Tracker reconciles race outcomes against recorded predictions and bets.
type Tracker struct {
	source        EventSource
	session       *SessionLog
	sink          Sink
	notifier      Notifier
	sweepInterval time.Duration
	resultDelay   time.Duration
	nowFn         func() time.Time

	mu      sync.Mutex
	pending map[string]pendingResult
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewTracker builds a result tracker. sink and notifier may be nil.
func NewTracker(source EventSource, session *SessionLog, sink Sink, notifier Notifier, sweepInterval, resultDelay time.Duration) *Tracker {
	return &Tracker{
		source:        source,
		session:       session,
		sink:          sink,
		notifier:      notifier,
		sweepInterval: sweepInterval,
		resultDelay:   resultDelay,
		nowFn:         time.Now,
		pending:       make(map[string]pendingResult),
	}
}

// Enroll queues a processed race for outcome checking. Re-enrolling the same
// market refreshes the snapshot but not the deadline semantics.
func (t *Tracker) Enroll(race *types.Race) {
	checkAfter := race.StartTime.Add(t.resultDelay)
	t.mu.Lock()
	t.pending[race.MarketID] = pendingResult{race: race, checkAfter: checkAfter}
	t.mu.Unlock()

	log.Debug().
		Str("market_id", race.MarketID).
		Time("check_after", checkAfter).
		Msg("Race enrolled for result check")
}

// Pending returns the number of races awaiting results.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Start launches the sweep loop.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stopCh = make(chan struct{})
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Sweep(ctx)
			case <-t.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info().Dur("interval", t.sweepInterval).Msg("Result tracker started")
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopCh)
	t.mu.Unlock()
	t.wg.Wait()
}

// Sweep checks every due race once. Due entries are removed from the pending
// set before their outcome query so no race is ever checked twice.
func (t *Tracker) Sweep(ctx context.Context) {
	now := t.nowFn()

	t.mu.Lock()
	var due []pendingResult
	for id, p := range t.pending {
		if !now.Before(p.checkAfter) {
			due = append(due, p)
			delete(t.pending, id)
		}
	}
	remaining := len(t.pending)
	t.mu.Unlock()

	if len(due) == 0 {
		return
	}
	log.Info().Int("due", len(due)).Int("remaining", remaining).Msg("Checking race results")

	for _, p := range due {
		t.reconcile(ctx, p.race)
	}
}

// reconcile performs the single outcome attempt for one race.
func (t *Tracker) reconcile(ctx context.Context, race *types.Race) {
	winnerID, err := t.source.Outcome(ctx, race.MarketID)
	if err != nil {
		log.Warn().Err(err).
			Str("market_id", race.MarketID).
			Str("venue", race.Venue).
			Msg("Result unavailable, race dropped from tracking")
		return
	}

	checkedAt := t.nowFn().UTC()
	settlement := t.session.ApplyOutcome(race.MarketID, winnerID, checkedAt)

	log.Info().
		Str("market_id", race.MarketID).
		Str("venue", race.Venue).
		Str("winner", settlement.WinnerName).
		Int("bets_settled", settlement.BetsSettled).
		Msg("🏁 Race settled")

	if t.sink != nil {
		if err := t.sink.UpdateOutcome(race.MarketID, winnerID, settlement.WinnerName, checkedAt); err != nil {
			log.Error().Err(err).Str("market_id", race.MarketID).Msg("Failed to persist outcome")
		}
	}

	if t.notifier != nil {
		for _, bet := range t.session.SettledBets(race.MarketID) {
			t.notifier.NotifySettlement(bet)
		}
	}
}
