package position

import (
	"time"

	"github.com/yanun0323/logs"

	"marketmaker/internal/schema"
	"marketmaker/internal/stats"
)

// Manager owns the authoritative inventory. Balance snapshots from the
// position feed replace it; fills adjust it until the next snapshot.
type Manager struct {
	pair    schema.Pair
	balance schema.Balance
	has     bool
	rfv     *stats.EWMA
}

func NewManager(pair schema.Pair, rfvPeriods int) *Manager {
	return &Manager{
		pair: pair,
		rfv:  stats.NewEWMA(rfvPeriods),
	}
}

// ApplyBalance replaces the inventory with a venue snapshot.
func (m *Manager) ApplyBalance(b schema.Balance) {
	m.balance, m.has = b, true
}

// ApplyFill moves inventory for one execution and feeds the reference value.
func (m *Manager) ApplyFill(f schema.Fill) {
	m.rfv.Add(f.Price, f.Time)
	if !m.has {
		return
	}

	notional := f.Price * f.Size
	b := &m.balance
	switch f.Side {
	case schema.SideBid:
		b.QuoteHeld, b.QuoteAmount = consume(b.QuoteHeld, b.QuoteAmount, notional)
		b.BaseAmount += f.Size
	case schema.SideAsk:
		b.BaseHeld, b.BaseAmount = consume(b.BaseHeld, b.BaseAmount, f.Size)
		b.QuoteAmount += notional
	default:
		logs.Errorf("position: fill with unknown side, client id: %s", f.ClientID)
		return
	}
	b.Time = f.Time
}

// consume spends amount out of held funds first, then free funds.
func consume(held, free, amount float64) (float64, float64) {
	if amount <= held {
		return held - amount, free
	}
	return 0, free - (amount - held)
}

// SetRFVPeriods changes the reference value window.
func (m *Manager) SetRFVPeriods(periods int) {
	m.rfv.SetPeriods(periods)
}

// SeedRFV replays historical fills into the reference value, oldest first.
func (m *Manager) SeedRFV(fills []schema.Fill) {
	for _, f := range fills {
		m.rfv.Add(f.Price, f.Time)
	}
}

// RestoreRFV resumes the reference value from a persisted state.
func (m *Manager) RestoreRFV(v schema.StatisticValue) {
	m.rfv.Restore(v)
}

// RFV returns the reference value state for persistence.
func (m *Manager) RFV() schema.StatisticValue {
	return m.rfv.State()
}

// Snapshot values the inventory at fair value fv. It reports false until the
// first balance snapshot or without a positive fair value.
func (m *Manager) Snapshot(fv float64, at time.Time) (schema.Position, bool) {
	if !m.has || fv <= 0 {
		return schema.Position{}, false
	}

	p := schema.Position{
		Pair:        m.pair,
		BaseAmount:  m.balance.BaseAmount,
		BaseHeld:    m.balance.BaseHeld,
		QuoteAmount: m.balance.QuoteAmount,
		QuoteHeld:   m.balance.QuoteHeld,
		Time:        at,
	}
	p.Value = p.TotalBase()*fv + p.TotalQuote()
	p.ValueBase = p.Value / fv

	if ref, ok := m.rfv.Value(); ok {
		p.Reference = ref
		p.Unrealized = p.TotalBase() * (fv - ref)
	}
	return p, true
}
