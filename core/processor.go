package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trapline/traphound/types"
)

// Processor runs the full pipeline for one race at its trigger point:
// hydrate, record, evaluate, bet, enroll for results. Persistence failures
// are logged and skipped; only a hydration failure aborts the race.
type Processor struct {
	source    EventSource
	evaluator Evaluator
	placer    BetPlacer
	risk      RiskValidator
	session   *SessionLog
	sink      Sink
	notifier  Notifier
	tracker   *Tracker
	timeout   time.Duration
}

// NewProcessor wires the pipeline. risk, sink and notifier may be nil.
func NewProcessor(source EventSource, evaluator Evaluator, placer BetPlacer, risk RiskValidator, session *SessionLog, sink Sink, notifier Notifier, tracker *Tracker, timeout time.Duration) *Processor {
	return &Processor{
		source:    source,
		evaluator: evaluator,
		placer:    placer,
		risk:      risk,
		session:   session,
		sink:      sink,
		notifier:  notifier,
		tracker:   tracker,
		timeout:   timeout,
	}
}

// Process handles one race end to end. A race that cannot be hydrated is
// never enrolled for result checking: there is nothing recorded to settle.
func (p *Processor) Process(ctx context.Context, info types.RaceInfo) (*types.ProcessResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	log.Info().
		Str("market_id", info.MarketID).
		Str("venue", info.Venue).
		Time("race_time", info.StartTime).
		Msg("🐕 Processing race")

	race, err := p.source.Hydrate(ctx, info.MarketID)
	if err != nil {
		return nil, fmt.Errorf("core: hydrate %s: %w", info.MarketID, err)
	}

	p.session.AppendRace(race)
	if p.sink != nil {
		if err := p.sink.UpsertRace(p.session.SessionID(), race); err != nil {
			log.Error().Err(err).Str("market_id", race.MarketID).Msg("Failed to persist race")
		}
	}

	evaluation, err := p.evaluator.Evaluate(race)
	if err != nil {
		p.tracker.Enroll(race)
		return nil, fmt.Errorf("core: evaluate %s: %w", info.MarketID, err)
	}

	p.session.AppendPredictions(evaluation.Predictions)
	if p.sink != nil && len(evaluation.Predictions) > 0 {
		if err := p.sink.UpsertPredictions(evaluation.Predictions); err != nil {
			log.Error().Err(err).Str("market_id", race.MarketID).Msg("Failed to persist predictions")
		}
	}

	result := &types.ProcessResult{
		MarketID:  race.MarketID,
		Venue:     race.Venue,
		StartTime: race.StartTime,
	}

	if evaluation.Opportunity != nil {
		result.Opportunities = 1
		if p.risk != nil {
			if err := p.risk.Approve(evaluation.Opportunity); err != nil {
				log.Warn().Err(err).Str("market_id", race.MarketID).Msg("Opportunity rejected by risk limits")
				p.tracker.Enroll(race)
				return result, nil
			}
		}
		bet, err := p.placer.Place(ctx, evaluation.Opportunity)
		if err != nil {
			log.Error().Err(err).Str("market_id", race.MarketID).Msg("Bet execution failed")
		}
		if bet != nil {
			p.session.AppendBet(bet)
			result.Bets = append(result.Bets, bet)
			if p.sink != nil {
				if err := p.sink.UpsertBet(bet); err != nil {
					log.Error().Err(err).Str("bet_id", bet.BetID).Msg("Failed to persist bet")
				}
			}
			if p.notifier != nil && bet.Status != types.BetStatusFailure {
				p.notifier.NotifyBet(bet)
			}
		}
	}

	p.tracker.Enroll(race)
	return result, nil
}
