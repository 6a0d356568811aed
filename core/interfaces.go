package core

import (
	"context"
	"time"

	"github.com/trapline/traphound/types"
)

// EventSource is the slice of the exchange client the engine consumes.
// Defined here to avoid an import cycle with the exchange package.
type EventSource interface {
	ListUpcoming(ctx context.Context, lookahead time.Duration) ([]types.RaceInfo, error)
	Hydrate(ctx context.Context, marketID string) (*types.Race, error)
	Outcome(ctx context.Context, marketID string) (int64, error)
}

// Evaluator scores a hydrated race.
type Evaluator interface {
	Evaluate(race *types.Race) (*types.Evaluation, error)
}

// BetPlacer executes an opportunity. A nil bet with a nil error means the
// placement was skipped as a duplicate.
type BetPlacer interface {
	Place(ctx context.Context, opp *types.Opportunity) (*types.BetRecord, error)
}

// Sink is optional durable persistence. Failures are logged, never fatal.
type Sink interface {
	LogSessionStart(sessionID string, startedAt time.Time, dryRun bool) error
	CloseSession(sessionID string, endedAt time.Time, racesProcessed, betsPlaced int) error
	UpsertRace(sessionID string, race *types.Race) error
	UpsertPredictions(predictions []types.Prediction) error
	UpsertBet(bet *types.BetRecord) error
	UpdateOutcome(marketID string, winnerID int64, winnerName string, checkedAt time.Time) error
}

// RiskValidator gates opportunities before execution. An error rejects the
// bet for this race only.
type RiskValidator interface {
	Approve(opp *types.Opportunity) error
}

// Notifier pushes human-facing alerts. Implementations must not block.
type Notifier interface {
	NotifyBet(bet *types.BetRecord)
	NotifySettlement(bet *types.BetRecord)
}
