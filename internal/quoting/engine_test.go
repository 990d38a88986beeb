package quoting

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmaker/internal/params"
	"marketmaker/internal/position"
	"marketmaker/internal/schema"
	"marketmaker/internal/stats"
)

const minTick = 0.01

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func baseParams() params.QuotingParameters {
	p := params.Defaults()
	p.Mode = params.ModeMid
	p.WidthPing = 2
	p.BuySize = 1
	p.SellSize = 1
	p.MinSize = 0.01
	p.QuotingEwmaProtection = false
	return p
}

// inputs builds a live recomputation for a book centred on fv.
func inputs(fv, base, quote float64, p params.QuotingParameters) Inputs {
	pos := schema.Position{BaseAmount: base, QuoteAmount: quote, Time: t0}
	pos.Value = pos.TotalBase()*fv + pos.TotalQuote()
	pos.ValueBase = pos.Value / fv

	return Inputs{
		FairValue: schema.FairValue{
			Price: fv,
			Time:  t0,
			Quote: schema.MarketQuote{
				Bid: schema.Level{Price: fv - 0.5, Size: 3},
				Ask: schema.Level{Price: fv + 0.5, Size: 3},
			},
		},
		HasFairValue: true,
		Protection:   stats.Protection{Multiplier: 1},
		Position:     pos,
		HasPosition:  true,
		Target:       position.ComputeTarget(pos, fv, stats.Trend{}, p),
		Safety:       schema.SafetyLimit{Unlimited: true, BuyFactor: 1, SellFactor: 1},
		Params:       p,
		Active:       true,
		Time:         t0,
	}
}

func TestScenarioFixedWidth(t *testing.T) {
	in := inputs(100, 5, 500, baseParams())

	e := New(minTick)
	q, changed := e.Recompute(in)
	require.True(t, changed)
	require.Equal(t, schema.QuoteReasonLive, q.Reason)
	require.NotNil(t, q.Bid)
	require.NotNil(t, q.Ask)
	assert.Equal(t, 99.0, q.Bid.Price)
	assert.Equal(t, 101.0, q.Ask.Price)
	assert.Equal(t, 1.0, q.Bid.Size)
	assert.Equal(t, 1.0, q.Ask.Size)
	assert.Equal(t, "Mid", q.Mode)
}

func TestScenarioRebalance(t *testing.T) {
	p := baseParams()
	p.PositionDivergencePercentage = 10
	p.AggressivePositionRebalance = params.APRSize

	in := inputs(100, 8, 200, p)
	require.InDelta(t, 0.3, in.Target.Divergence, 1e-9)

	q, _ := Compute(in, minTick)
	require.NotNil(t, q.Bid)
	require.NotNil(t, q.Ask)
	assert.InDelta(t, 2.0, q.Ask.Size, 1e-9, "favored side grows")
	assert.InDelta(t, 1.0/3, q.Bid.Size, 1e-7, "worsening side shrinks")
	assert.Less(t, q.Bid.Price, q.Ask.Price)
	assert.LessOrEqual(t, q.Bid.Price, 100.0)
	assert.GreaterOrEqual(t, q.Ask.Price, 100.0)

	p.AggressivePositionRebalance = params.APRSizeWidth
	in = inputs(100, 8, 200, p)
	q, _ = Compute(in, minTick)
	require.NotNil(t, q.Ask)
	assert.Equal(t, 100.5, q.Ask.Price, "ask tightened toward fair value")
	assert.Equal(t, 99.0, q.Bid.Price)

	p.AggressivePositionRebalance = params.APROff
	in = inputs(100, 8, 200, p)
	q, _ = Compute(in, minTick)
	assert.InDelta(t, 1.0, q.Ask.Size, 1e-9)
	assert.InDelta(t, 1.0/3, q.Bid.Size, 1e-7)
}

func TestScenarioSafetyZero(t *testing.T) {
	in := inputs(100, 5, 500, baseParams())
	in.Safety = schema.SafetyLimit{}

	q, _ := Compute(in, minTick)
	assert.Equal(t, schema.QuoteReasonSafetyZero, q.Reason)
	assert.True(t, q.Empty())
}

func TestNoQuoteReasons(t *testing.T) {
	testCases := []struct {
		desc   string
		modify func(in *Inputs)
		reason schema.QuoteReason
	}{
		{"no fair value", func(in *Inputs) { in.HasFairValue = false }, schema.QuoteReasonNoFairValue},
		{"kill switch", func(in *Inputs) { in.Params.KillSwitch = true }, schema.QuoteReasonKillSwitch},
		{"inactive", func(in *Inputs) { in.Active = false }, schema.QuoteReasonInactive},
		{"no position", func(in *Inputs) { in.HasPosition = false }, schema.QuoteReasonNoPosition},
		{"volatility", func(in *Inputs) { in.Protection.Suspend = true }, schema.QuoteReasonVolatility},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			in := inputs(100, 5, 500, baseParams())
			tc.modify(&in)
			q, _ := Compute(in, minTick)
			assert.Equal(t, tc.reason, q.Reason, q.Reason.String())
			assert.True(t, q.Empty())
		})
	}
}

func TestModes(t *testing.T) {
	testCases := []struct {
		desc     string
		mode     params.QuotingMode
		width    float64
		bid, ask float64
	}{
		{"mid", params.ModeMid, 2, 99, 101},
		{"top narrower than width", params.ModeTop, 2, 99, 101},
		{"top inside wide book", params.ModeTop, 0.2, 99.51, 100.49},
		{"join", params.ModeJoin, 0.2, 99.5, 100.5},
		{"depth", params.ModeDepth, 1, 98.5, 101.5},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			p := baseParams()
			p.Mode = tc.mode
			p.WidthPing = tc.width
			q, _ := Compute(inputs(100, 5, 500, p), minTick)
			require.NotNil(t, q.Bid)
			require.NotNil(t, q.Ask)
			assert.InDelta(t, tc.bid, q.Bid.Price, 1e-9)
			assert.InDelta(t, tc.ask, q.Ask.Price, 1e-9)
		})
	}
}

func TestBestWidth(t *testing.T) {
	p := baseParams()
	p.WidthPing = 0.2
	p.BestWidth = true

	q, _ := Compute(inputs(100, 5, 500, p), minTick)
	require.NotNil(t, q.Bid)
	require.NotNil(t, q.Ask)
	assert.InDelta(t, 99.51, q.Bid.Price, 1e-9, "widened to just ahead of the best bid")
	assert.InDelta(t, 100.49, q.Ask.Price, 1e-9)

	p.BestWidth = false
	q, _ = Compute(inputs(100, 5, 500, p), minTick)
	assert.InDelta(t, 99.9, q.Bid.Price, 1e-9)
	assert.InDelta(t, 100.1, q.Ask.Price, 1e-9)

	p.BestWidth = true
	p.WidthPing = 2
	q, _ = Compute(inputs(100, 5, 500, p), minTick)
	assert.Equal(t, 99.0, q.Bid.Price, "already behind the book")
}

func TestSizeMaxBuysTheShortfall(t *testing.T) {
	p := baseParams()
	p.BuySizeMax = true
	p.AggressivePositionRebalance = params.APRSize
	p.PositionDivergencePercentage = 10

	in := inputs(100, 2, 800, p)
	require.InDelta(t, -0.3, in.Target.Divergence, 1e-9)

	q, _ := Compute(in, minTick)
	require.NotNil(t, q.Bid)
	assert.InDelta(t, 3.0, q.Bid.Size, 1e-9, "bid sized to reach the target")
	require.NotNil(t, q.Ask)
	assert.Less(t, q.Ask.Size, 1.0)
}

func TestVolatilityAndEWMAProtection(t *testing.T) {
	in := inputs(100, 5, 500, baseParams())
	in.Protection = stats.Protection{Multiplier: 2, Active: true}
	q, _ := Compute(in, minTick)
	assert.Equal(t, 98.0, q.Bid.Price)
	assert.Equal(t, 102.0, q.Ask.Price)

	in = inputs(100, 5, 500, baseParams())
	in.EWMA, in.HasEWMA = 98.5, true
	q, _ = Compute(in, minTick)
	assert.Equal(t, 98.5, q.Bid.Price, "never bid above the protective average")
	assert.Equal(t, 101.0, q.Ask.Price)
}

func TestPingPong(t *testing.T) {
	p := baseParams()
	p.Mode = params.ModePingPong
	p.WidthPing = 2
	p.WidthPong = 1

	in := inputs(100, 5, 500, p)
	in.Safety.BuyPing, in.Safety.BuyPingSz = 100.5, 0.4
	q, _ := Compute(in, minTick)
	require.NotNil(t, q.Ask)
	assert.True(t, q.Ask.Pong)
	assert.Equal(t, 101.5, q.Ask.Price, "pong sells at least pong width above the bought ping")
	assert.InDelta(t, 0.4, q.Ask.Size, 1e-9)
	require.NotNil(t, q.Bid)
	assert.False(t, q.Bid.Pong)

	p.PingAt = params.PingAtStopPings
	in = inputs(100, 5, 500, p)
	in.Safety.BuyPing, in.Safety.BuyPingSz = 99, 0.4
	q, _ = Compute(in, minTick)
	assert.Nil(t, q.Bid, "no new pings")
	require.NotNil(t, q.Ask)
	assert.Equal(t, 101.0, q.Ask.Price, "fair pong never quotes inside the ping ask")

	p.PongAt = params.PongAtShortPingAggressive
	in = inputs(100, 5, 500, p)
	in.Safety.BuyPing, in.Safety.BuyPingSz = 99, 0.4
	q, _ = Compute(in, minTick)
	require.NotNil(t, q.Ask)
	assert.Equal(t, 100.0, q.Ask.Price)

	p.PingAt = params.PingAtBidSide
	in = inputs(100, 5, 500, p)
	q, _ = Compute(in, minTick)
	assert.NotNil(t, q.Bid)
	assert.Nil(t, q.Ask)
}

func TestCrossedPongsKeepOneSide(t *testing.T) {
	p := baseParams()
	p.Mode = params.ModePingPong
	p.WidthPong = 1
	p.PongAt = params.PongAtShortPingAggressive

	in := inputs(100, 5, 500, p)
	require.InDelta(t, 0, in.Target.Divergence, 1e-9)
	in.Safety.BuyPing, in.Safety.BuyPingSz = 99, 0.4
	in.Safety.SellPing, in.Safety.SellPingSz = 101, 0.4

	q, clamped := Compute(in, minTick)
	assert.Equal(t, 1, clamped)
	assert.Nil(t, q.Bid)
	require.NotNil(t, q.Ask)
	assert.Equal(t, 100.0, q.Ask.Price)

	in = inputs(100, 2, 800, p)
	require.Less(t, in.Target.Divergence, 0.0)
	in.Safety.BuyPing, in.Safety.BuyPingSz = 99, 0.4
	in.Safety.SellPing, in.Safety.SellPingSz = 101, 0.4

	q, _ = Compute(in, minTick)
	assert.Nil(t, q.Ask, "short of base keeps the bid")
	require.NotNil(t, q.Bid)
	assert.Equal(t, 100.0, q.Bid.Price)
}

func TestUncrossDropsFurtherSide(t *testing.T) {
	bid, ask := level{price: 100.4, ok: true}, level{price: 100.1, ok: true}
	uncross(100, 0, &bid, &ask)
	assert.False(t, bid.ok)
	assert.True(t, ask.ok)

	bid, ask = level{price: 99.9, ok: true}, level{price: 99.5, ok: true}
	uncross(100, 0, &bid, &ask)
	assert.True(t, bid.ok)
	assert.False(t, ask.ok)

	bid, ask = level{price: 100, ok: true}, level{price: 100, ok: true}
	uncross(100, -0.2, &bid, &ask)
	assert.True(t, bid.ok)
	assert.False(t, ask.ok)
}

func TestEmitThreshold(t *testing.T) {
	e := New(minTick)
	in := inputs(100, 5, 500, baseParams())

	first, changed := e.Recompute(in)
	require.True(t, changed)

	again, changed := e.Recompute(in)
	assert.False(t, changed)
	assert.Equal(t, first, again)

	in.Params.BuySize = 1.000000001
	again, changed = e.Recompute(in)
	assert.False(t, changed, "sub-step size change keeps the previous state")
	assert.Equal(t, first, again)

	in.FairValue.Price = 100.5
	moved, changed := e.Recompute(in)
	assert.True(t, changed)
	assert.Equal(t, first.Version+1, moved.Version)

	in.Params.KillSwitch = true
	off, changed := e.Recompute(in)
	assert.True(t, changed)
	assert.True(t, off.Empty())
}

func TestNeverCrossedAndWithinSafety(t *testing.T) {
	rnd := rand.New(rand.NewSource(11))
	modes := []params.QuotingMode{params.ModeMid, params.ModeTop, params.ModeJoin, params.ModeDepth, params.ModePingPong}
	aprs := []params.APR{params.APROff, params.APRSize, params.APRSizeWidth}

	for i := 0; i < 3000; i++ {
		p := baseParams()
		p.Mode = modes[rnd.Intn(len(modes))]
		p.AggressivePositionRebalance = aprs[rnd.Intn(len(aprs))]
		p.WidthPing = rnd.Float64() * 3
		p.WidthPong = rnd.Float64() * 3
		p.BuySize = rnd.Float64() * 3
		p.SellSize = rnd.Float64() * 3
		p.PongAt = params.PongAt(rnd.Intn(4))
		p.PositionDivergencePercentage = 1 + rnd.Float64()*30

		fv := 50 + rnd.Float64()*100
		in := inputs(fv, rnd.Float64()*20, rnd.Float64()*2000, p)
		in.FairValue.Quote.Bid.Price = fv - rnd.Float64()*2
		in.FairValue.Quote.Ask.Price = fv + rnd.Float64()*2
		in.Protection.Multiplier = 1 + rnd.Float64()
		in.EWMA, in.HasEWMA = fv+rnd.Float64()*4-2, rnd.Intn(2) == 0
		if rnd.Intn(2) == 0 {
			in.Safety.BuyPing, in.Safety.BuyPingSz = fv+rnd.Float64()*4-2, rnd.Float64()
			in.Safety.SellPing, in.Safety.SellPingSz = fv+rnd.Float64()*4-2, rnd.Float64()
		}
		limit := schema.SafetyLimit{BuySize: rnd.Float64() * 2, SellSize: rnd.Float64() * 2}
		if !limit.Zero() {
			in.Safety.Unlimited = false
			in.Safety.BuySize, in.Safety.SellSize = limit.BuySize, limit.SellSize
		}

		q, _ := Compute(in, minTick)
		if q.Bid != nil && q.Ask != nil {
			require.Less(t, q.Bid.Price, q.Ask.Price, "iteration %d", i)
		}
		if q.Bid != nil {
			require.LessOrEqual(t, q.Bid.Size, in.Safety.Allowed(schema.SideBid, q.Bid.Size+1e6)+1e-12)
			require.Greater(t, q.Bid.Size, 0.0)
		}
		if q.Ask != nil {
			require.LessOrEqual(t, q.Ask.Size, in.Safety.Allowed(schema.SideAsk, q.Ask.Size+1e6)+1e-12)
			require.LessOrEqual(t, q.Ask.Size, in.Position.TotalBase()+1e-12)
		}
	}
}
