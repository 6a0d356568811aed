package risk

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/trapline/traphound/types"
)

// Manager enforces session-wide betting limits: a cap on the number of bets
// and a cap on total staked exposure. Approval commits the stake, so a race
// approved but never placed still counts against the limits.
type Manager struct {
	maxBets     int
	maxExposure decimal.Decimal

	mu       sync.Mutex
	bets     int
	exposure decimal.Decimal
}

// NewManager builds a risk manager. Zero maxBets or maxExposure disables
// that limit.
func NewManager(maxBets int, maxExposure decimal.Decimal) *Manager {
	return &Manager{maxBets: maxBets, maxExposure: maxExposure}
}

// Approve admits an opportunity against the session limits.
func (m *Manager) Approve(opp *types.Opportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxBets > 0 && m.bets >= m.maxBets {
		return fmt.Errorf("risk: session bet limit reached (%d)", m.maxBets)
	}
	if m.maxExposure.IsPositive() {
		next := m.exposure.Add(opp.Stake)
		if next.GreaterThan(m.maxExposure) {
			return fmt.Errorf("risk: exposure limit %s would be exceeded (at %s, stake %s)",
				m.maxExposure, m.exposure, opp.Stake)
		}
	}

	m.bets++
	m.exposure = m.exposure.Add(opp.Stake)
	log.Debug().
		Int("bets", m.bets).
		Str("exposure", m.exposure.String()).
		Msg("Opportunity approved")
	return nil
}

// Exposure returns the total stake committed this session.
func (m *Manager) Exposure() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exposure
}
