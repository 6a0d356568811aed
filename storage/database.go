package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/trapline/traphound/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSTGRES PERSISTENCE
// ═══════════════════════════════════════════════════════════════════════════════
//
// Optional persistence layer. Without DATABASE_URL every method is a no-op so
// the engine runs fine on session JSON logs alone.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Database persists sessions, races, predictions and bets to Postgres.
type Database struct {
	db      *sql.DB
	enabled bool
}

// NewDatabase connects and migrates. An empty databaseURL disables persistence.
func NewDatabase(databaseURL string) (*Database, error) {
	if databaseURL == "" {
		log.Info().Msg("No DATABASE_URL set - database persistence disabled")
		return &Database{enabled: false}, nil
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("storage: ping database: %w", err)
	}

	d := &Database{db: db, enabled: true}
	if err := d.migrate(); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	log.Info().Msg("Database connected")
	return d, nil
}

// Enabled reports whether persistence is active.
func (d *Database) Enabled() bool {
	return d.enabled
}

// Close shuts down the connection pool.
func (d *Database) Close() {
	if d.enabled {
		d.db.Close()
	}
}

func (d *Database) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		races_processed INT NOT NULL DEFAULT 0,
		bets_placed INT NOT NULL DEFAULT 0,
		dry_run BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS races (
		market_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		market_name TEXT NOT NULL,
		venue TEXT,
		country_code TEXT,
		race_time TIMESTAMPTZ NOT NULL,
		race_grade TEXT,
		distance INT,
		runner_count INT,
		fetch_time TIMESTAMPTZ NOT NULL,
		winner_selection_id BIGINT,
		winner_name TEXT,
		result_checked_time TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS predictions (
		market_id TEXT NOT NULL,
		selection_id BIGINT NOT NULL,
		runner_name TEXT NOT NULL,
		trap INT,
		odds NUMERIC(10,2),
		win_probability DOUBLE PRECISION NOT NULL,
		implied_probability DOUBLE PRECISION,
		prediction_time TIMESTAMPTZ NOT NULL,
		settled BOOLEAN NOT NULL DEFAULT FALSE,
		won BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (market_id, selection_id)
	);

	CREATE TABLE IF NOT EXISTS bets (
		bet_id TEXT PRIMARY KEY,
		market_id TEXT NOT NULL,
		selection_id BIGINT NOT NULL,
		runner_name TEXT NOT NULL,
		odds NUMERIC(10,2) NOT NULL,
		stake NUMERIC(10,2) NOT NULL,
		status TEXT NOT NULL,
		strategy TEXT,
		strategy_subtype TEXT,
		win_probability DOUBLE PRECISION,
		expected_value DOUBLE PRECISION,
		dry_run BOOLEAN NOT NULL,
		placed_time TIMESTAMPTZ NOT NULL,
		settled BOOLEAN NOT NULL DEFAULT FALSE,
		won BOOLEAN NOT NULL DEFAULT FALSE,
		returns NUMERIC(10,2),
		profit NUMERIC(10,2),
		result_checked_time TIMESTAMPTZ
	);`

	_, err := d.db.Exec(schema)
	return err
}

// LogSessionStart records the beginning of a session.
func (d *Database) LogSessionStart(sessionID string, startedAt time.Time, dryRun bool) error {
	if !d.enabled {
		return nil
	}
	_, err := d.db.Exec(`
		INSERT INTO sessions (session_id, started_at, dry_run)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO NOTHING`,
		sessionID, startedAt, dryRun)
	return err
}

// CloseSession stamps the session's end time and final counters.
func (d *Database) CloseSession(sessionID string, endedAt time.Time, racesProcessed, betsPlaced int) error {
	if !d.enabled {
		return nil
	}
	_, err := d.db.Exec(`
		UPDATE sessions
		SET ended_at = $2, races_processed = $3, bets_placed = $4
		WHERE session_id = $1`,
		sessionID, endedAt, racesProcessed, betsPlaced)
	return err
}

// UpsertRace stores a hydrated race snapshot.
func (d *Database) UpsertRace(sessionID string, race *types.Race) error {
	if !d.enabled {
		return nil
	}
	_, err := d.db.Exec(`
		INSERT INTO races (market_id, session_id, market_name, venue, country_code,
			race_time, race_grade, distance, runner_count, fetch_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (market_id) DO UPDATE SET
			market_name = EXCLUDED.market_name,
			venue = EXCLUDED.venue,
			race_grade = EXCLUDED.race_grade,
			distance = EXCLUDED.distance,
			runner_count = EXCLUDED.runner_count,
			fetch_time = EXCLUDED.fetch_time`,
		race.MarketID, sessionID, race.MarketName, race.Venue, race.CountryCode,
		race.StartTime, race.Grade, race.Distance, len(race.Runners), race.FetchedAt)
	return err
}

// UpsertPredictions stores every runner probability for a race.
func (d *Database) UpsertPredictions(predictions []types.Prediction) error {
	if !d.enabled || len(predictions) == 0 {
		return nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO predictions (market_id, selection_id, runner_name, trap, odds,
			win_probability, implied_probability, prediction_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (market_id, selection_id) DO UPDATE SET
			odds = EXCLUDED.odds,
			win_probability = EXCLUDED.win_probability,
			implied_probability = EXCLUDED.implied_probability,
			prediction_time = EXCLUDED.prediction_time`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range predictions {
		if _, err := stmt.Exec(p.MarketID, p.SelectionID, p.RunnerName, p.Trap,
			p.Odds, p.WinProbability, p.ImpliedProb, p.PredictedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpsertBet stores a placed or simulated bet.
func (d *Database) UpsertBet(bet *types.BetRecord) error {
	if !d.enabled {
		return nil
	}
	_, err := d.db.Exec(`
		INSERT INTO bets (bet_id, market_id, selection_id, runner_name, odds, stake,
			status, strategy, strategy_subtype, win_probability, expected_value,
			dry_run, placed_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (bet_id) DO UPDATE SET
			status = EXCLUDED.status`,
		bet.BetID, bet.MarketID, bet.SelectionID, bet.RunnerName, bet.Odds, bet.Stake,
		bet.Status, bet.Strategy, bet.Subtype, bet.WinProbability, bet.ExpectedValue,
		bet.DryRun, bet.PlacedAt)
	return err
}

// UpdateOutcome settles a market across races, predictions and bets.
func (d *Database) UpdateOutcome(marketID string, winnerID int64, winnerName string, checkedAt time.Time) error {
	if !d.enabled {
		return nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE races
		SET winner_selection_id = $2, winner_name = $3, result_checked_time = $4
		WHERE market_id = $1`,
		marketID, winnerID, winnerName, checkedAt); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE predictions
		SET settled = TRUE, won = (selection_id = $2)
		WHERE market_id = $1`,
		marketID, winnerID); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE bets
		SET settled = TRUE,
			won = (selection_id = $2),
			returns = CASE WHEN selection_id = $2 THEN stake * odds ELSE 0 END,
			profit = CASE WHEN selection_id = $2 THEN stake * odds ELSE 0 END - stake,
			result_checked_time = $3
		WHERE market_id = $1`,
		marketID, winnerID, checkedAt); err != nil {
		return err
	}

	return tx.Commit()
}
