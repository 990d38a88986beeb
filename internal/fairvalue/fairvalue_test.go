package fairvalue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmaker/internal/params"
	"marketmaker/internal/schema"
)

func quote(bid, bidSz, ask, askSz float64) schema.MarketQuote {
	return schema.MarketQuote{
		Bid:  schema.Level{Price: bid, Size: bidSz},
		Ask:  schema.Level{Price: ask, Size: askSz},
		Time: time.Unix(1700000000, 0),
	}
}

func TestCompute(t *testing.T) {
	testCases := []struct {
		desc     string
		quote    schema.MarketQuote
		model    params.FairValueModel
		tick     float64
		expected float64
	}{
		{"mid", quote(99, 1, 101, 5), params.FairValueBBO, 0.01, 100},
		{"weighted toward thin side", quote(99, 3, 101, 1), params.FairValueWBBO, 0.01, 100.5},
		{"weighted equal sizes", quote(99, 2, 101, 2), params.FairValueWBBO, 0.01, 100},
		{"rounded to tick", quote(99.011, 1, 99.052, 1), params.FairValueBBO, 0.01, 99.03},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			fv := Compute(tc.quote, tc.model, tc.tick)
			assert.InDelta(t, tc.expected, fv.Price, 1e-9)
			assert.Equal(t, tc.quote, fv.Quote)
		})
	}
}

func TestComputeIsPure(t *testing.T) {
	q := quote(99.37, 1.3, 100.91, 0.2)
	for _, model := range []params.FairValueModel{params.FairValueBBO, params.FairValueWBBO} {
		a := Compute(q, model, 0.01)
		b := Compute(q, model, 0.01)
		assert.Equal(t, a.Price, b.Price, model.String())
	}
}

func TestEngine(t *testing.T) {
	e := New(0.01)
	_, ok := e.Latest()
	assert.False(t, ok, "no fair value before the first quote")

	fv, changed := e.Update(quote(99, 1, 101, 1), params.FairValueBBO)
	assert.True(t, changed)
	assert.Equal(t, 100.0, fv.Price)

	_, changed = e.Update(quote(99, 1, 101, 1), params.FairValueBBO)
	assert.False(t, changed)

	_, changed = e.Update(quote(99, 1, 101.5, 1), params.FairValueBBO)
	assert.True(t, changed)

	latest, ok := e.Latest()
	require.True(t, ok)
	assert.Equal(t, 100.25, latest.Price)
}
