package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/trapline/traphound/internal/config"
	"github.com/trapline/traphound/types"
)

func testConfig(dir string) *config.Config {
	return &config.Config{
		ScanInterval:     time.Hour,
		LeadTime:         50 * time.Millisecond,
		ResultCheckDelay: 45 * time.Minute,
		SweepInterval:    time.Hour,
		DryRun:           true,
		LogDir:           dir,
	}
}

func newTestEngine(t *testing.T, source *fakeSource, sink Sink) (*Engine, *SessionLog, *Tracker) {
	t.Helper()
	cfg := testConfig(t.TempDir())
	session := NewSessionLog(cfg.LogDir)
	tracker := NewTracker(source, session, sink, nil, cfg.SweepInterval, cfg.ResultCheckDelay)
	proc := NewProcessor(source, &fakeEvaluator{evaluation: testEvaluation("1.234")}, &fakePlacer{}, nil, session, sink, nil, tracker, 30*time.Second)
	return NewEngine(cfg, source, proc, tracker, session, sink), session, tracker
}

func TestScanProcessesImminentRaceOnce(t *testing.T) {
	// A race inside the lead window is processed synchronously on the first
	// scan and rejected as a duplicate on the next one mid-processing; after
	// processing the executor's own idempotence holds (exercised in exec).
	source := &fakeSource{
		listFn: func(ctx context.Context, lookahead time.Duration) ([]types.RaceInfo, error) {
			return []types.RaceInfo{testRaceInfo("1.234", time.Now().Add(30*time.Millisecond))}, nil
		},
	}
	engine, session, tracker := newTestEngine(t, source, nil)

	engine.scan(context.Background())

	if len(source.hydrateLog) != 1 {
		t.Fatalf("hydrated %d times, want 1", len(source.hydrateLog))
	}
	stats := session.Stats()
	if stats.Races != 1 || stats.Bets != 1 {
		t.Errorf("session stats = %+v", stats)
	}
	if tracker.Pending() != 1 {
		t.Errorf("tracker pending = %d, want 1", tracker.Pending())
	}
}

func TestScanDefersDistantRaceUntilWindow(t *testing.T) {
	start := time.Now().Add(2 * time.Hour)
	source := &fakeSource{
		listFn: func(ctx context.Context, lookahead time.Duration) ([]types.RaceInfo, error) {
			return []types.RaceInfo{testRaceInfo("1.234", start)}, nil
		},
	}
	engine, _, _ := newTestEngine(t, source, nil)

	engine.scan(context.Background())
	if engine.scheduler.Pending() != 0 {
		t.Error("distant race should be deferred, not armed")
	}

	// Later scan, race now inside the window: a timer is armed.
	engine.scheduler.nowFn = func() time.Time { return start.Add(-30 * time.Minute) }
	engine.scan(context.Background())
	if engine.scheduler.Pending() != 1 {
		t.Error("race inside the window should be armed")
	}
	engine.scheduler.CancelAll()
}

func TestScanFlushesSessionLogs(t *testing.T) {
	source := &fakeSource{
		listFn: func(ctx context.Context, lookahead time.Duration) ([]types.RaceInfo, error) {
			return []types.RaceInfo{testRaceInfo("1.234", time.Now())}, nil
		},
	}
	engine, session, _ := newTestEngine(t, source, nil)
	engine.scan(context.Background())

	entries, err := os.ReadDir(engine.cfg.LogDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("scan did not flush session logs")
	}
	for _, e := range entries {
		if !strings.Contains(e.Name(), session.SessionID()) {
			t.Errorf("unexpected log file %q", e.Name())
		}
	}
}

func TestScanSurvivesListFailure(t *testing.T) {
	source := &fakeSource{
		listFn: func(ctx context.Context, lookahead time.Duration) ([]types.RaceInfo, error) {
			return nil, context.DeadlineExceeded
		},
	}
	engine, _, _ := newTestEngine(t, source, nil)
	engine.scan(context.Background()) // must not panic
	if engine.Status().Scans != 1 {
		t.Errorf("scan counter = %d, want 1", engine.Status().Scans)
	}
}

func TestEngineLifecycle(t *testing.T) {
	fired := make(chan struct{}, 8)
	source := &fakeSource{
		listFn: func(ctx context.Context, lookahead time.Duration) ([]types.RaceInfo, error) {
			fired <- struct{}{}
			return nil, nil
		},
	}
	sink := &fakeSink{}
	engine, _, _ := newTestEngine(t, source, sink)

	ctx := context.Background()
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("first scan never ran")
	}

	engine.Stop()
	engine.Stop() // idempotent

	if sink.sessionStarts != 1 || sink.sessionCloses != 1 {
		t.Errorf("session starts=%d closes=%d, want 1/1", sink.sessionStarts, sink.sessionCloses)
	}
}

func TestStopCancelsArmedTimers(t *testing.T) {
	start := time.Now().Add(10 * time.Second)
	source := &fakeSource{
		listFn: func(ctx context.Context, lookahead time.Duration) ([]types.RaceInfo, error) {
			return []types.RaceInfo{testRaceInfo("1.234", start)}, nil
		},
	}
	engine, _, _ := newTestEngine(t, source, nil)

	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// ScanInterval is an hour, so the 10s-out race is armed, not deferred.
	deadline := time.After(2 * time.Second)
	for engine.scheduler.Pending() != 1 {
		select {
		case <-deadline:
			t.Fatalf("pending timers = %d, want 1", engine.scheduler.Pending())
		case <-time.After(5 * time.Millisecond):
		}
	}

	engine.Stop()

	if engine.scheduler.Pending() != 0 {
		t.Errorf("timers survived shutdown: %d", engine.scheduler.Pending())
	}
	if len(source.hydrateLog) != 0 {
		t.Error("cancelled race was processed")
	}
}

func TestStatusSnapshot(t *testing.T) {
	source := &fakeSource{
		listFn: func(ctx context.Context, lookahead time.Duration) ([]types.RaceInfo, error) {
			return []types.RaceInfo{testRaceInfo("1.234", time.Now())}, nil
		},
	}
	engine, _, _ := newTestEngine(t, source, nil)
	engine.scan(context.Background())

	status := engine.Status()
	if status.Scans != 1 || status.RacesProcessed != 1 || status.BetsPlaced != 1 {
		t.Errorf("status = %+v", status)
	}
	if status.AwaitingResults != 1 {
		t.Errorf("awaiting results = %d, want 1", status.AwaitingResults)
	}
	if !status.DryRun {
		t.Error("dry run flag lost")
	}
}

func TestFinalFlushOnStop(t *testing.T) {
	source := &fakeSource{
		listFn: func(ctx context.Context, lookahead time.Duration) ([]types.RaceInfo, error) {
			return nil, nil
		},
	}
	engine, session, _ := newTestEngine(t, source, nil)
	session.AppendBet(&types.BetRecord{BetID: "DRY_9", MarketID: "1.234"})

	if err := engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	engine.Stop()

	if _, err := os.Stat(filepath.Join(engine.cfg.LogDir, "bets_"+session.SessionID()+".json")); err != nil {
		t.Errorf("final flush missing: %v", err)
	}
}
