package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// RaceInfo is the lightweight record returned by a market scan.
type RaceInfo struct {
	MarketID    string
	MarketName  string
	EventName   string
	Venue       string
	CountryCode string
	StartTime   time.Time
	RunnerCount int
}

// Race is a fully-hydrated race: catalogue metadata plus current prices.
type Race struct {
	MarketID    string    `json:"market_id"`
	MarketName  string    `json:"market_name"`
	EventName   string    `json:"event_name"`
	Venue       string    `json:"venue"`
	CountryCode string    `json:"country_code"`
	StartTime   time.Time `json:"race_time"`
	Status      string    `json:"status"`
	Distance    int       `json:"distance"`
	Grade       string    `json:"race_grade"`
	FetchedAt   time.Time `json:"fetch_time"`
	Runners     []Runner  `json:"runners"`

	// Outcome fields, set by reconciliation
	WinnerSelectionID int64           `json:"winner_selection_id,omitempty"`
	WinnerName        string          `json:"winner_name,omitempty"`
	WinnerOdds        decimal.Decimal `json:"winner_odds,omitempty"`
	ResultCheckedAt   time.Time       `json:"result_checked_time,omitempty"`
}

// Runner is a single dog in a race with its current best back price.
type Runner struct {
	SelectionID int64           `json:"selection_id"`
	Name        string          `json:"runner_name"`
	Trap        int             `json:"trap"`
	Odds        decimal.Decimal `json:"odds"`
	Status      string          `json:"status"`
	MarketID    string          `json:"market_id"`
}

// Prediction is one model probability for one runner.
type Prediction struct {
	MarketID       string          `json:"market_id"`
	SelectionID    int64           `json:"selection_id"`
	RunnerName     string          `json:"runner_name"`
	Trap           int             `json:"trap"`
	Odds           decimal.Decimal `json:"odds"`
	WinProbability float64         `json:"win_probability"`
	ImpliedProb    float64         `json:"implied_probability"`
	Venue          string          `json:"venue"`
	StartTime      time.Time       `json:"race_time"`
	Grade          string          `json:"race_grade"`
	Distance       int             `json:"distance"`
	RunnerCount    int             `json:"num_runners"`
	PredictedAt    time.Time       `json:"prediction_time"`

	// Set by reconciliation
	Settled           bool  `json:"settled"`
	Won               bool  `json:"won"`
	WinnerSelectionID int64 `json:"winner_selection_id,omitempty"`
}

// Opportunity is a candidate back bet produced by the evaluator. Ephemeral:
// consumed by the executor, then archived into the session logs.
type Opportunity struct {
	MarketID       string          `json:"market_id"`
	SelectionID    int64           `json:"selection_id"`
	RunnerName     string          `json:"runner_name"`
	Trap           int             `json:"trap"`
	Odds           decimal.Decimal `json:"runner_odds"`
	WinProbability float64         `json:"win_probability"`
	ExpectedValue  float64         `json:"expected_value"`
	Strategy       string          `json:"strategy"`
	Subtype        string          `json:"strategy_subtype"`
	Stake          decimal.Decimal `json:"stake"`
	Venue          string          `json:"venue"`
	StartTime      time.Time       `json:"race_time"`
	Grade          string          `json:"race_grade"`
	IdentifiedAt   time.Time       `json:"identified_time"`
}

// Bet placement status values.
const (
	BetStatusSimulated = "SIMULATED"
	BetStatusSuccess   = "SUCCESS"
	BetStatusFailure   = "FAILURE"
)

// BetRecord is a placed (or simulated) bet. Outcome fields stay unset until
// the result tracker settles the race; a failed outcome check leaves the bet
// permanently unsettled for the session.
type BetRecord struct {
	BetID          string          `json:"bet_id"`
	MarketID       string          `json:"market_id"`
	SelectionID    int64           `json:"selection_id"`
	RunnerName     string          `json:"runner_name"`
	Odds           decimal.Decimal `json:"runner_odds"`
	Stake          decimal.Decimal `json:"stake"`
	Status         string          `json:"status"`
	Strategy       string          `json:"strategy"`
	Subtype        string          `json:"strategy_subtype"`
	WinProbability float64         `json:"win_probability"`
	ExpectedValue  float64         `json:"expected_value"`
	DryRun         bool            `json:"dry_run"`
	Venue          string          `json:"venue"`
	StartTime      time.Time       `json:"race_time"`
	PlacedAt       time.Time       `json:"placed_time"`

	// Set by reconciliation
	Settled           bool            `json:"settled"`
	Won               bool            `json:"won"`
	WinnerSelectionID int64           `json:"winner_selection_id,omitempty"`
	Returns           decimal.Decimal `json:"returns"`
	Profit            decimal.Decimal `json:"profit"`
	SettledAt         time.Time       `json:"result_checked_time,omitempty"`
}

// Settle applies a known winner to the bet. Returns are stake x odds on a win,
// zero otherwise; profit is returns minus stake.
func (b *BetRecord) Settle(winnerID int64, at time.Time) {
	b.Settled = true
	b.Won = b.SelectionID == winnerID
	b.WinnerSelectionID = winnerID
	if b.Won {
		b.Returns = b.Stake.Mul(b.Odds)
	} else {
		b.Returns = decimal.Zero
	}
	b.Profit = b.Returns.Sub(b.Stake)
	b.SettledAt = at
}

// Evaluation is the evaluator's output for one race: probabilities for every
// runner and at most one betting opportunity.
type Evaluation struct {
	Predictions []Prediction
	Opportunity *Opportunity
}

// ProcessResult summarises one processed race.
type ProcessResult struct {
	MarketID      string
	Venue         string
	StartTime     time.Time
	Opportunities int
	Bets          []*BetRecord
}
