package strategy

import (
	"sort"
	"time"

	"github.com/trapline/traphound/types"
)

// Model produces win probabilities for every priced runner in a race,
// strongest first.
type Model interface {
	Predict(race *types.Race) []types.Prediction
}

// ImpliedModel derives win probabilities from the market's own prices with
// the overround stripped: each runner's raw implied probability (1/odds) is
// normalised so the book sums to one.
type ImpliedModel struct{}

// NewImpliedModel returns the market-implied probability model.
func NewImpliedModel() *ImpliedModel {
	return &ImpliedModel{}
}

// Predict implements Model. Runners without a back price are skipped.
func (m *ImpliedModel) Predict(race *types.Race) []types.Prediction {
	var overround float64
	priced := make([]types.Runner, 0, len(race.Runners))
	for _, r := range race.Runners {
		odds, _ := r.Odds.Float64()
		if odds <= 1.0 {
			continue
		}
		overround += 1.0 / odds
		priced = append(priced, r)
	}
	if len(priced) == 0 || overround <= 0 {
		return nil
	}

	now := time.Now().UTC()
	predictions := make([]types.Prediction, 0, len(priced))
	for _, r := range priced {
		odds, _ := r.Odds.Float64()
		implied := 1.0 / odds
		predictions = append(predictions, types.Prediction{
			MarketID:       race.MarketID,
			SelectionID:    r.SelectionID,
			RunnerName:     r.Name,
			Trap:           r.Trap,
			Odds:           r.Odds,
			WinProbability: implied / overround,
			ImpliedProb:    implied,
			Venue:          race.Venue,
			StartTime:      race.StartTime,
			Grade:          race.Grade,
			Distance:       race.Distance,
			RunnerCount:    len(race.Runners),
			PredictedAt:    now,
		})
	}

	sort.Slice(predictions, func(i, j int) bool {
		return predictions[i].WinProbability > predictions[j].WinProbability
	})
	return predictions
}
