package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/trapline/traphound/types"
)

// Settlement is one reconciled race outcome.
type Settlement struct {
	MarketID          string          `json:"market_id"`
	Venue             string          `json:"venue"`
	StartTime         time.Time       `json:"race_time"`
	WinnerSelectionID int64           `json:"winner_selection_id"`
	WinnerName        string          `json:"winner_name"`
	WinnerOdds        decimal.Decimal `json:"winner_odds"`
	BetsSettled       int             `json:"bets_settled"`
	CheckedAt         time.Time       `json:"result_checked_time"`
}

// SessionLog accumulates everything one run of the engine produced: races,
// per-runner predictions, bets and settlements. All four sequences are
// append-only; settlement is the only mutation and only flips outcome fields.
// Flush snapshots the current state to JSON files named after the session.
type SessionLog struct {
	sessionID string
	startedAt time.Time
	logDir    string

	mu          sync.Mutex
	races       []*types.Race
	predictions []types.Prediction
	bets        []*types.BetRecord
	settlements []Settlement
}

// NewSessionLog creates a session with a timestamped unique id.
func NewSessionLog(logDir string) *SessionLog {
	now := time.Now().UTC()
	return &SessionLog{
		sessionID: fmt.Sprintf("%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8]),
		startedAt: now,
		logDir:    logDir,
	}
}

// SessionID returns the unique session identifier.
func (s *SessionLog) SessionID() string {
	return s.sessionID
}

// StartedAt returns the session start time.
func (s *SessionLog) StartedAt() time.Time {
	return s.startedAt
}

// AppendRace records a hydrated race.
func (s *SessionLog) AppendRace(race *types.Race) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.races = append(s.races, race)
}

// AppendPredictions records a race's runner probabilities.
func (s *SessionLog) AppendPredictions(predictions []types.Prediction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictions = append(s.predictions, predictions...)
}

// AppendBet records a placed or simulated bet.
func (s *SessionLog) AppendBet(bet *types.BetRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bets = append(s.bets, bet)
}

// ApplyOutcome settles a market: stamps the winner onto the recorded race,
// flips every matching prediction and bet, and appends a settlement entry.
// This is the single place outcome state is written.
func (s *SessionLog) ApplyOutcome(marketID string, winnerID int64, checkedAt time.Time) Settlement {
	s.mu.Lock()
	defer s.mu.Unlock()

	settlement := Settlement{
		MarketID:          marketID,
		WinnerSelectionID: winnerID,
		CheckedAt:         checkedAt,
	}

	for _, race := range s.races {
		if race.MarketID != marketID {
			continue
		}
		race.WinnerSelectionID = winnerID
		race.ResultCheckedAt = checkedAt
		for _, r := range race.Runners {
			if r.SelectionID == winnerID {
				race.WinnerName = r.Name
				race.WinnerOdds = r.Odds
			}
		}
		settlement.Venue = race.Venue
		settlement.StartTime = race.StartTime
		settlement.WinnerName = race.WinnerName
		settlement.WinnerOdds = race.WinnerOdds
	}

	for i := range s.predictions {
		if s.predictions[i].MarketID != marketID {
			continue
		}
		s.predictions[i].Settled = true
		s.predictions[i].Won = s.predictions[i].SelectionID == winnerID
		s.predictions[i].WinnerSelectionID = winnerID
	}

	for _, bet := range s.bets {
		if bet.MarketID != marketID {
			continue
		}
		bet.Settle(winnerID, checkedAt)
		settlement.BetsSettled++
	}

	s.settlements = append(s.settlements, settlement)
	return settlement
}

// SettledBets returns the bets settled for a market, for notification use.
func (s *SessionLog) SettledBets(marketID string) []*types.BetRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.BetRecord
	for _, bet := range s.bets {
		if bet.MarketID == marketID && bet.Settled {
			out = append(out, bet)
		}
	}
	return out
}

// Stats summarises the session so far.
type Stats struct {
	Races       int
	Predictions int
	Bets        int
	Settlements int
	BetsWon     int
	Profit      decimal.Decimal
}

// Stats computes current session counters. Profit only covers settled bets.
func (s *SessionLog) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Races:       len(s.races),
		Predictions: len(s.predictions),
		Bets:        len(s.bets),
		Settlements: len(s.settlements),
	}
	for _, bet := range s.bets {
		if !bet.Settled {
			continue
		}
		if bet.Won {
			stats.BetsWon++
		}
		stats.Profit = stats.Profit.Add(bet.Profit)
	}
	return stats
}

// Flush writes each non-empty sequence to its JSON file, replacing any
// previous flush of this session. Serialization happens under the lock:
// ApplyOutcome mutates the recorded races and bets in place, so the encoder
// must never read them concurrently. Only the file writes run unlocked.
// Errors are logged, not returned; a failed flush never loses in-memory state.
func (s *SessionLog) Flush() {
	s.mu.Lock()
	payloads := make(map[string][]byte)
	encode := func(name string, data any, n int) {
		if n == 0 {
			return
		}
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			log.Error().Err(err).Str("file", name).Msg("Failed to encode session log")
			return
		}
		payloads[name] = b
	}
	encode("races", s.races, len(s.races))
	encode("predictions", s.predictions, len(s.predictions))
	encode("bets", s.bets, len(s.bets))
	encode("results", s.settlements, len(s.settlements))
	s.mu.Unlock()

	if len(payloads) == 0 {
		return
	}
	if err := os.MkdirAll(s.logDir, 0o755); err != nil {
		log.Error().Err(err).Str("dir", s.logDir).Msg("Failed to create log directory")
		return
	}

	for name, payload := range payloads {
		path := filepath.Join(s.logDir, fmt.Sprintf("%s_%s.json", name, s.sessionID))
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			log.Error().Err(err).Str("path", path).Msg("Failed to write session log")
		}
	}

	log.Debug().Str("session_id", s.sessionID).Int("files", len(payloads)).Msg("Session logs flushed")
}
