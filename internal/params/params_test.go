package params

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmaker/pkg/exception"
)

func TestDefaultsAreValid(t *testing.T) {
	p := Defaults()
	require.NoError(t, p.Validate())
	assert.Equal(t, ModeMid, p.Mode)
	assert.Equal(t, 2.0, p.PingWidth(100))
	assert.Equal(t, 0.5, p.TargetFraction(10))
	assert.InDelta(t, 0.21, p.Tolerance(10), 1e-12)
}

func TestAbsoluteTargetValues(t *testing.T) {
	p := Defaults()
	p.PercentageValues = false
	p.TargetBasePosition = 2
	p.PositionDivergence = 0.5

	assert.InDelta(t, 0.2, p.TargetFraction(10), 1e-12)
	assert.InDelta(t, 0.05, p.Tolerance(10), 1e-12)
	assert.Equal(t, 1.0, p.TargetFraction(1), "target above the whole portfolio")
	assert.Zero(t, p.TargetFraction(0))
	assert.Zero(t, p.Tolerance(0))

	p.TargetBasePosition = -1
	assert.ErrorIs(t, p.Validate(), exception.ErrInvalidConfig)
}

func TestWidthAndSizeHelpers(t *testing.T) {
	p := Defaults()
	p.WidthPercentage = true
	p.WidthPingPercentage = 1
	p.WidthPongPercentage = 0.5
	assert.InDelta(t, 2.0, p.PingWidth(200), 1e-12)
	assert.InDelta(t, 1.0, p.PongWidth(200), 1e-12)

	p.SizePercentage = true
	p.BuySizePercentage = 10
	p.SellSizePercentage = 20
	assert.InDelta(t, 1.0, p.BidSize(10, 0), 1e-12)
	assert.InDelta(t, 2.0, p.AskSize(10, 0), 1e-12)

	p.BuySizeMax, p.SellSizeMax = true, true
	assert.InDelta(t, 1.0, p.BidSize(10, 3), 1e-12, "size max needs rebalancing on")

	p.AggressivePositionRebalance = APRSize
	assert.InDelta(t, 3.0, p.BidSize(10, 3), 1e-12)
	assert.InDelta(t, 2.0, p.AskSize(10, 0.5), 1e-12, "never below the configured size")
	assert.InDelta(t, 4.0, p.AskSize(10, 4), 1e-12)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		desc   string
		modify func(p *QuotingParameters)
		err    error
	}{
		{"negative width", func(p *QuotingParameters) { p.WidthPing = -1 }, exception.ErrInvalidConfig},
		{"target over 100", func(p *QuotingParameters) { p.TargetBasePositionPercentage = 101 }, exception.ErrInvalidConfig},
		{"zero smoothing", func(p *QuotingParameters) { p.SafetySmoothing = 0 }, exception.ErrInvalidConfig},
		{"zero periods", func(p *QuotingParameters) { p.ShortEwmaPeriods = 0 }, exception.ErrInvalidConfig},
		{"max below min", func(p *QuotingParameters) { p.MinSize = 1; p.MaxSize = 0.5 }, exception.ErrInvalidConfig},
		{"no action budget", func(p *QuotingParameters) { p.MaxActionsPerWindow = 0 }, exception.ErrInvalidConfig},
		{"bad mode", func(p *QuotingParameters) { p.Mode = QuotingMode(42) }, exception.ErrInvalidEnum},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			p := Defaults()
			tc.modify(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestEnumText(t *testing.T) {
	var m QuotingMode
	require.NoError(t, m.UnmarshalText([]byte("pingpong")))
	assert.Equal(t, ModePingPong, m)

	var apr APR
	err := apr.UnmarshalText([]byte("Sideways"))
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrInvalidEnum)

	b, err := sonic.Marshal(Defaults())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"mode":"Mid"`)
	assert.Contains(t, string(b), `"fvModel":"BBO"`)
}

func TestPatch(t *testing.T) {
	p := Defaults()
	next, err := p.Patch(map[string]any{
		"widthPing":  4.0,
		"mode":       "Join",
		"killSwitch": true,
	})
	require.NoError(t, err)
	assert.Equal(t, 4.0, next.WidthPing)
	assert.Equal(t, ModeJoin, next.Mode)
	assert.True(t, next.KillSwitch)
	assert.Equal(t, p.Version, next.Version)
	assert.Equal(t, 2.0, p.WidthPing, "previous snapshot must not change")

	_, err = p.Patch(map[string]any{"nope": 1})
	assert.ErrorIs(t, err, exception.ErrInvalidConfig)

	_, err = p.Patch(map[string]any{"mode": "Sideways"})
	assert.Error(t, err)
}

func TestRepository(t *testing.T) {
	repo, err := NewRepository(Defaults())
	require.NoError(t, err)

	var seen []uint64
	repo.OnChange(func(p QuotingParameters) { seen = append(seen, p.Version) })

	first := repo.Latest()
	next, err := repo.Apply(map[string]any{"widthPing": 3.0})
	require.NoError(t, err)
	assert.Equal(t, first.Version+1, next.Version)
	assert.Equal(t, 3.0, repo.Latest().WidthPing)
	assert.Equal(t, 2.0, first.WidthPing)

	_, err = repo.Apply(map[string]any{"widthPing": -3.0})
	require.Error(t, err)
	assert.Equal(t, next.Version, repo.Latest().Version, "rejected patch keeps the current version")

	replaced := Defaults()
	replaced.KillSwitch = true
	out, err := repo.Replace(replaced)
	require.NoError(t, err)
	assert.True(t, out.KillSwitch)
	assert.Equal(t, []uint64{first.Version + 1, first.Version + 2}, seen)
}
