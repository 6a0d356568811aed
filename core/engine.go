package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trapline/traphound/internal/config"
	"github.com/trapline/traphound/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - Orchestrates scanning, scheduling, processing and reconciliation
// ═══════════════════════════════════════════════════════════════════════════════

// Engine runs the poll loop: scan upcoming races every ScanInterval, hand
// each to the scheduler, flush session logs after every scan.
type Engine struct {
	cfg       *config.Config
	source    EventSource
	processor *Processor
	scheduler *Scheduler
	tracker   *Tracker
	session   *SessionLog
	sink      Sink

	mu             sync.Mutex
	running        bool
	stopCh         chan struct{}
	wg             sync.WaitGroup
	scans          int
	racesProcessed int
	betsPlaced     int
}

// NewEngine wires the components and builds the scheduler around the
// processor callback.
func NewEngine(cfg *config.Config, source EventSource, processor *Processor, tracker *Tracker, session *SessionLog, sink Sink) *Engine {
	e := &Engine{
		cfg:       cfg,
		source:    source,
		processor: processor,
		tracker:   tracker,
		session:   session,
		sink:      sink,
	}
	e.scheduler = NewScheduler(cfg.LeadTime, cfg.ScanInterval, e.processRace)
	return e
}

// Start begins scanning. The first scan runs immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	if e.sink != nil {
		if err := e.sink.LogSessionStart(e.session.SessionID(), e.session.StartedAt(), e.cfg.DryRun); err != nil {
			log.Error().Err(err).Msg("Failed to record session start")
		}
	}

	e.tracker.Start(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.scan(ctx)
		ticker := time.NewTicker(e.cfg.ScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.scan(ctx)
			case <-e.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info().
		Str("session_id", e.session.SessionID()).
		Dur("scan_interval", e.cfg.ScanInterval).
		Dur("lead_time", e.cfg.LeadTime).
		Bool("dry_run", e.cfg.DryRun).
		Msg("🚀 Engine started")
	return nil
}

// Stop shuts everything down in order: no new scans, no pending timers, no
// sweeps, then a final flush and session close.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()
	e.scheduler.CancelAll()
	e.tracker.Stop()
	e.session.Flush()

	stats := e.session.Stats()
	if e.sink != nil {
		if err := e.sink.CloseSession(e.session.SessionID(), time.Now().UTC(), stats.Races, stats.Bets); err != nil {
			log.Error().Err(err).Msg("Failed to close session record")
		}
	}

	log.Info().
		Int("races", stats.Races).
		Int("bets", stats.Bets).
		Int("settlements", stats.Settlements).
		Str("profit", stats.Profit.String()).
		Msg("Engine stopped")
}

// scan lists upcoming races and feeds them to the scheduler.
func (e *Engine) scan(ctx context.Context) {
	e.mu.Lock()
	e.scans++
	scanNum := e.scans
	e.mu.Unlock()

	lookahead := e.cfg.ScanInterval + e.cfg.LeadTime
	races, err := e.source.ListUpcoming(ctx, lookahead)
	if err != nil {
		log.Error().Err(err).Int("scan", scanNum).Msg("Scan failed")
		return
	}

	var tally [4]int
	for _, race := range races {
		tally[e.scheduler.Consider(race)]++
	}

	stats := e.session.Stats()
	log.Info().
		Int("scan", scanNum).
		Int("found", len(races)).
		Int("scheduled", tally[DecisionScheduled]).
		Int("immediate", tally[DecisionImmediate]).
		Int("duplicate", tally[DecisionDuplicate]).
		Int("deferred", tally[DecisionDeferred]).
		Int("awaiting_results", e.tracker.Pending()).
		Int("bets", stats.Bets).
		Str("profit", stats.Profit.String()).
		Msg("🔍 Scan complete")

	e.session.Flush()
}

// processRace is the scheduler callback: runs the pipeline for one race.
func (e *Engine) processRace(info types.RaceInfo) {
	result, err := e.processor.Process(context.Background(), info)
	if err != nil {
		log.Error().Err(err).Str("market_id", info.MarketID).Msg("Race processing failed")
		return
	}

	e.mu.Lock()
	e.racesProcessed++
	e.betsPlaced += len(result.Bets)
	e.mu.Unlock()
}

// Status is a point-in-time snapshot for the control surface.
type Status struct {
	SessionID       string
	StartedAt       time.Time
	DryRun          bool
	Scans           int
	ScheduledTimers int
	RacesProcessed  int
	BetsPlaced      int
	AwaitingResults int
	Stats           Stats
}

// Status reports current engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	scans, processed, placed := e.scans, e.racesProcessed, e.betsPlaced
	e.mu.Unlock()

	return Status{
		SessionID:       e.session.SessionID(),
		StartedAt:       e.session.StartedAt(),
		DryRun:          e.cfg.DryRun,
		Scans:           scans,
		ScheduledTimers: e.scheduler.Pending(),
		RacesProcessed:  processed,
		BetsPlaced:      placed,
		AwaitingResults: e.tracker.Pending(),
		Stats:           e.session.Stats(),
	}
}
