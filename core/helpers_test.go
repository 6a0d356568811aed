package core

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trapline/traphound/types"
)

// fakeSource is a scriptable EventSource.
type fakeSource struct {
	mu         sync.Mutex
	listFn     func(ctx context.Context, lookahead time.Duration) ([]types.RaceInfo, error)
	hydrateFn  func(ctx context.Context, marketID string) (*types.Race, error)
	outcomeFn  func(ctx context.Context, marketID string) (int64, error)
	outcomeLog []string
	hydrateLog []string
}

func (f *fakeSource) ListUpcoming(ctx context.Context, lookahead time.Duration) ([]types.RaceInfo, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, lookahead)
}

func (f *fakeSource) Hydrate(ctx context.Context, marketID string) (*types.Race, error) {
	f.mu.Lock()
	f.hydrateLog = append(f.hydrateLog, marketID)
	f.mu.Unlock()
	if f.hydrateFn == nil {
		return testRace(marketID, time.Now().Add(time.Minute)), nil
	}
	return f.hydrateFn(ctx, marketID)
}

func (f *fakeSource) Outcome(ctx context.Context, marketID string) (int64, error) {
	f.mu.Lock()
	f.outcomeLog = append(f.outcomeLog, marketID)
	f.mu.Unlock()
	if f.outcomeFn == nil {
		return 101, nil
	}
	return f.outcomeFn(ctx, marketID)
}

func (f *fakeSource) outcomeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.outcomeLog...)
}

// fakeEvaluator returns a canned evaluation.
type fakeEvaluator struct {
	evaluation *types.Evaluation
	err        error
}

func (f *fakeEvaluator) Evaluate(race *types.Race) (*types.Evaluation, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.evaluation != nil {
		return f.evaluation, nil
	}
	return &types.Evaluation{}, nil
}

// fakePlacer records placements.
type fakePlacer struct {
	mu   sync.Mutex
	bets []*types.BetRecord
	err  error
}

func (f *fakePlacer) Place(ctx context.Context, opp *types.Opportunity) (*types.BetRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	bet := &types.BetRecord{
		BetID:       "DRY_1",
		MarketID:    opp.MarketID,
		SelectionID: opp.SelectionID,
		RunnerName:  opp.RunnerName,
		Odds:        opp.Odds,
		Stake:       opp.Stake,
		Status:      types.BetStatusSimulated,
		DryRun:      true,
		PlacedAt:    time.Now().UTC(),
	}
	f.mu.Lock()
	f.bets = append(f.bets, bet)
	f.mu.Unlock()
	return bet, nil
}

// fakeSink counts persistence calls.
type fakeSink struct {
	mu            sync.Mutex
	races         int
	predictions   int
	bets          int
	outcomes      int
	sessionStarts int
	sessionCloses int
	err           error
}

func (f *fakeSink) LogSessionStart(string, time.Time, bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionStarts++
	return f.err
}

func (f *fakeSink) CloseSession(string, time.Time, int, int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionCloses++
	return f.err
}

func (f *fakeSink) UpsertRace(string, *types.Race) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.races++
	return f.err
}

func (f *fakeSink) UpsertPredictions(p []types.Prediction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.predictions += len(p)
	return f.err
}

func (f *fakeSink) UpsertBet(*types.BetRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bets++
	return f.err
}

func (f *fakeSink) UpdateOutcome(string, int64, string, time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes++
	return f.err
}

// fakeNotifier records notifications.
type fakeNotifier struct {
	mu          sync.Mutex
	bets        []*types.BetRecord
	settlements []*types.BetRecord
}

func (f *fakeNotifier) NotifyBet(bet *types.BetRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bets = append(f.bets, bet)
}

func (f *fakeNotifier) NotifySettlement(bet *types.BetRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settlements = append(f.settlements, bet)
}

func testRace(marketID string, start time.Time) *types.Race {
	return &types.Race{
		MarketID:   marketID,
		MarketName: "A5 480m",
		Venue:      "Romford",
		Grade:      "A5",
		Distance:   480,
		StartTime:  start,
		FetchedAt:  time.Now().UTC(),
		Runners: []types.Runner{
			{SelectionID: 101, Name: "Swift Hostage", Trap: 1, Odds: decimal.NewFromFloat(6.0), MarketID: marketID},
			{SelectionID: 102, Name: "Droopys Clue", Trap: 2, Odds: decimal.NewFromFloat(3.0), MarketID: marketID},
		},
	}
}

func testRaceInfo(marketID string, start time.Time) types.RaceInfo {
	return types.RaceInfo{
		MarketID:    marketID,
		MarketName:  "A5 480m",
		Venue:       "Romford",
		CountryCode: "GB",
		StartTime:   start,
		RunnerCount: 2,
	}
}

func testEvaluation(marketID string) *types.Evaluation {
	return &types.Evaluation{
		Predictions: []types.Prediction{
			{MarketID: marketID, SelectionID: 101, RunnerName: "Swift Hostage", Odds: decimal.NewFromFloat(6.0), WinProbability: 0.40},
			{MarketID: marketID, SelectionID: 102, RunnerName: "Droopys Clue", Odds: decimal.NewFromFloat(3.0), WinProbability: 0.30},
		},
		Opportunity: &types.Opportunity{
			MarketID:       marketID,
			SelectionID:    101,
			RunnerName:     "Swift Hostage",
			Odds:           decimal.NewFromFloat(6.0),
			WinProbability: 0.40,
			ExpectedValue:  1.4,
			Strategy:       "MIDRANGE",
			Subtype:        "MIDRANGE_PREFERRED",
			Stake:          decimal.NewFromFloat(10.0),
		},
	}
}
