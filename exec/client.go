package exec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trapline/traphound/exchange"
	"github.com/trapline/traphound/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BET EXECUTION
// ═══════════════════════════════════════════════════════════════════════════════

// OrderPlacer is the slice of the exchange client the executor needs.
type OrderPlacer interface {
	PlaceBackOrder(ctx context.Context, marketID string, selectionID int64, odds, stake float64) (*exchange.PlacementReport, error)
}

// Client turns opportunities into placed bets. In dry-run mode no order
// reaches the exchange; a simulated bet record is produced instead. Placement
// is idempotent per market and selection for the life of the process.
type Client struct {
	placer OrderPlacer
	dryRun bool

	mu     sync.Mutex
	placed map[string]bool // marketID:selectionID
}

// NewClient builds an executor. placer may be nil in dry-run mode.
func NewClient(placer OrderPlacer, dryRun bool) *Client {
	return &Client{
		placer: placer,
		dryRun: dryRun,
		placed: make(map[string]bool),
	}
}

func placementKey(marketID string, selectionID int64) string {
	return fmt.Sprintf("%s:%d", marketID, selectionID)
}

// Place executes one opportunity and returns the resulting bet record.
// A second call for the same market and selection returns nil without
// touching the exchange.
func (c *Client) Place(ctx context.Context, opp *types.Opportunity) (*types.BetRecord, error) {
	key := placementKey(opp.MarketID, opp.SelectionID)

	c.mu.Lock()
	if c.placed[key] {
		c.mu.Unlock()
		log.Warn().Str("market_id", opp.MarketID).Int64("selection_id", opp.SelectionID).Msg("Bet already placed, skipping")
		return nil, nil
	}
	c.placed[key] = true
	c.mu.Unlock()

	bet := &types.BetRecord{
		MarketID:       opp.MarketID,
		SelectionID:    opp.SelectionID,
		RunnerName:     opp.RunnerName,
		Odds:           opp.Odds,
		Stake:          opp.Stake,
		Strategy:       opp.Strategy,
		Subtype:        opp.Subtype,
		WinProbability: opp.WinProbability,
		ExpectedValue:  opp.ExpectedValue,
		DryRun:         c.dryRun,
		Venue:          opp.Venue,
		StartTime:      opp.StartTime,
		PlacedAt:       time.Now().UTC(),
	}

	if c.dryRun {
		bet.BetID = fmt.Sprintf("DRY_%d", time.Now().UnixNano())
		bet.Status = types.BetStatusSimulated
		log.Info().
			Str("market_id", opp.MarketID).
			Str("runner", opp.RunnerName).
			Str("stake", opp.Stake.String()).
			Str("odds", opp.Odds.String()).
			Msg("🧪 DRY RUN - simulated bet")
		return bet, nil
	}

	odds, _ := opp.Odds.Float64()
	stake, _ := opp.Stake.Float64()
	report, err := c.placer.PlaceBackOrder(ctx, opp.MarketID, opp.SelectionID, odds, stake)
	if err != nil {
		// Failed bets carry a synthetic id: bet_id is the storage key, and
		// the exchange never issued one.
		bet.BetID = fmt.Sprintf("FAIL_%d", time.Now().UnixNano())
		bet.Status = types.BetStatusFailure
		log.Error().Err(err).Str("market_id", opp.MarketID).Msg("Bet placement failed")
		return bet, fmt.Errorf("exec: place order: %w", err)
	}

	bet.BetID = report.BetID
	if bet.BetID == "" {
		bet.BetID = fmt.Sprintf("FAIL_%d", time.Now().UnixNano())
	}
	if report.Status == "SUCCESS" {
		bet.Status = types.BetStatusSuccess
		log.Info().
			Str("bet_id", bet.BetID).
			Str("market_id", opp.MarketID).
			Str("runner", opp.RunnerName).
			Str("stake", opp.Stake.String()).
			Msg("✅ Bet placed")
	} else {
		bet.Status = types.BetStatusFailure
		log.Warn().Str("market_id", opp.MarketID).Str("status", report.Status).Msg("Order rejected by exchange")
	}
	return bet, nil
}
