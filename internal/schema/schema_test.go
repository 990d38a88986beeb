package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmaker/pkg/exception"
)

func TestParseExchange(t *testing.T) {
	testCases := []struct {
		desc     string
		input    string
		expected Exchange
		err      error
	}{
		{"lower", "coinbase", ExchangeCoinbase, nil},
		{"mixed case", "HitBtc", ExchangeHitBtc, nil},
		{"null venue", " null ", ExchangeNull, nil},
		{"unknown", "binance", ExchangeUnknown, exception.ErrUnknownExchange},
		{"placeholder", "unknown", ExchangeUnknown, exception.ErrUnknownExchange},
		{"empty", "", ExchangeUnknown, exception.ErrUnknownExchange},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			ex, err := ParseExchange(tc.input)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, ex)
		})
	}
}

func TestParsePair(t *testing.T) {
	testCases := []struct {
		desc     string
		input    string
		expected Pair
		ok       bool
	}{
		{"plain", "BTC/EUR", Pair{"BTC", "EUR"}, true},
		{"lower case", "eth/usd", Pair{"ETH", "USD"}, true},
		{"no separator", "BTCEUR", Pair{}, false},
		{"empty base", "/EUR", Pair{}, false},
		{"same currency", "BTC/btc", Pair{}, false},
		{"three parts", "BTC/EUR/USD", Pair{}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			p, err := ParsePair(tc.input)
			if !tc.ok {
				assert.ErrorIs(t, err, exception.ErrInvalidPair)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, p)
			assert.Equal(t, tc.expected.Base+"/"+tc.expected.Quote, p.String())
		})
	}
}

func TestSafetyLimitAllowed(t *testing.T) {
	limited := SafetyLimit{BuySize: 2, SellSize: 1}
	assert.False(t, limited.Zero())
	assert.Equal(t, 1.5, limited.Allowed(SideBid, 1.5))
	assert.Equal(t, 2.0, limited.Allowed(SideBid, 3))
	assert.Equal(t, 1.0, limited.Allowed(SideAsk, 3))

	oneSided := SafetyLimit{SellSize: 1}
	assert.False(t, oneSided.Zero())
	assert.Equal(t, 0.0, oneSided.Allowed(SideBid, 3))

	unlimited := SafetyLimit{Unlimited: true, BuyFactor: 1, SellFactor: 0}
	assert.False(t, unlimited.Zero())
	assert.Equal(t, 3.0, unlimited.Allowed(SideBid, 3))
	assert.Equal(t, 3.0, unlimited.Allowed(SideAsk, 3))

	assert.True(t, SafetyLimit{}.Zero())
}

func TestOrderStatus(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected} {
		assert.True(t, s.Terminal(), s.String())
		assert.False(t, s.Open(), s.String())
	}
	for _, s := range []OrderStatus{OrderStatusNew, OrderStatusWorking, OrderStatusPartiallyFilled} {
		assert.False(t, s.Terminal(), s.String())
		assert.True(t, s.Open(), s.String())
	}

	o := Order{Size: 1, Filled: 0.25}
	assert.Equal(t, 0.75, o.Remaining())
}

func TestTargetPositionExceeded(t *testing.T) {
	assert.True(t, TargetPosition{Divergence: -0.3, Tolerance: 0.1}.Exceeded())
	assert.False(t, TargetPosition{Divergence: 0.1, Tolerance: 0.1}.Exceeded())
}

func TestEventHeader(t *testing.T) {
	h := NewHeader(EventMarketSample, 7, 0, 1_000)
	assert.Equal(t, SchemaVersion, h.Version)
	assert.Equal(t, time.Unix(0, 1_000).UTC(), h.EventTime())
	assert.Equal(t, "market_sample", h.Type.String())
}
