package strategy

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/trapline/traphound/types"
)

// Strategy and subtype labels carried on opportunities and bets.
const (
	StrategyMidrange = "MIDRANGE"
	StrategyLongshot = "LONGSHOT"

	SubtypeMidrangePreferred = "MIDRANGE_PREFERRED"
	SubtypeMidrangeStandard  = "MIDRANGE_STANDARD"
	SubtypeLongshotHigh      = "LONGSHOT_HIGH"
	SubtypeLongshotMedium    = "LONGSHOT_MEDIUM"
)

// Grades where midrange picks have historically outperformed.
var preferredGrades = map[string]bool{
	"HC": true, "A6": true, "A7": true, "D3": true,
	"A3": true, "A5": true, "A1": true, "A9": true,
}

// Params are the odds bands and stakes for the two betting lanes.
type Params struct {
	MidrangeMinOdds decimal.Decimal
	MidrangeMaxOdds decimal.Decimal
	MidrangeMinProb float64
	MidrangeStake   decimal.Decimal

	LongshotMinOdds decimal.Decimal
	LongshotMaxOdds decimal.Decimal
	LongshotMinProb float64
	LongshotHiProb  float64
	LongshotStake   decimal.Decimal
}

// Evaluator scores a race and surfaces at most one opportunity: the model's
// top pick, and only when its price falls in a configured value band.
type Evaluator struct {
	model  Model
	params Params
}

// NewEvaluator wires a probability model to the band parameters.
func NewEvaluator(model Model, params Params) *Evaluator {
	return &Evaluator{model: model, params: params}
}

// Evaluate runs the model and classifies the top pick. Races with no priced
// runners yield an empty evaluation.
func (e *Evaluator) Evaluate(race *types.Race) (*types.Evaluation, error) {
	predictions := e.model.Predict(race)
	if len(predictions) == 0 {
		log.Debug().Str("market_id", race.MarketID).Msg("No priced runners to evaluate")
		return &types.Evaluation{}, nil
	}

	top := predictions[0]
	opp := e.classify(top)
	if opp != nil {
		log.Info().
			Str("market_id", race.MarketID).
			Str("runner", opp.RunnerName).
			Str("odds", opp.Odds.String()).
			Float64("prob", opp.WinProbability).
			Str("subtype", opp.Subtype).
			Msg("🎯 Opportunity identified")
	}

	return &types.Evaluation{Predictions: predictions, Opportunity: opp}, nil
}

// classify applies the midrange and longshot bands to the top pick.
func (e *Evaluator) classify(p types.Prediction) *types.Opportunity {
	inBand := func(min, max decimal.Decimal) bool {
		return p.Odds.GreaterThanOrEqual(min) && p.Odds.LessThanOrEqual(max)
	}

	var strategy, subtype string
	var stake decimal.Decimal

	switch {
	case inBand(e.params.MidrangeMinOdds, e.params.MidrangeMaxOdds) && p.WinProbability >= e.params.MidrangeMinProb:
		strategy = StrategyMidrange
		stake = e.params.MidrangeStake
		if preferredGrades[p.Grade] {
			subtype = SubtypeMidrangePreferred
		} else {
			subtype = SubtypeMidrangeStandard
		}
	case inBand(e.params.LongshotMinOdds, e.params.LongshotMaxOdds) && p.WinProbability >= e.params.LongshotMinProb:
		strategy = StrategyLongshot
		stake = e.params.LongshotStake
		if p.WinProbability >= e.params.LongshotHiProb {
			subtype = SubtypeLongshotHigh
		} else {
			subtype = SubtypeLongshotMedium
		}
	default:
		return nil
	}

	odds, _ := p.Odds.Float64()
	return &types.Opportunity{
		MarketID:       p.MarketID,
		SelectionID:    p.SelectionID,
		RunnerName:     p.RunnerName,
		Trap:           p.Trap,
		Odds:           p.Odds,
		WinProbability: p.WinProbability,
		ExpectedValue:  p.WinProbability*odds - 1.0,
		Strategy:       strategy,
		Subtype:        subtype,
		Stake:          stake,
		Venue:          p.Venue,
		StartTime:      p.StartTime,
		Grade:          p.Grade,
		IdentifiedAt:   time.Now().UTC(),
	}
}
