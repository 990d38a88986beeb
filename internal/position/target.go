package position

import (
	"marketmaker/internal/params"
	"marketmaker/internal/schema"
	"marketmaker/internal/stats"
)

// ComputeTarget derives the desired base fraction and the divergence of pos from it.
// Automatic modes fall back to the manual target until enough data is seen.
func ComputeTarget(pos schema.Position, fv float64, trend stats.Trend, p params.QuotingParameters) schema.TargetPosition {
	target := p.TargetFraction(pos.ValueBase)

	switch p.AutoPositionMode {
	case params.AutoPositionManual:
	case params.AutoPositionEWMALS:
		if trend.HasEWMA && trend.Long > 0 {
			target = fromTrend(pct(trend.Short, trend.Long), p)
		}
	case params.AutoPositionEWMALMS:
		if trend.HasEWMA && trend.Long > 0 && trend.Medium > 0 {
			target = fromTrend((pct(trend.Short, trend.Medium)+pct(trend.Medium, trend.Long))/2, p)
		}
	case params.AutoPositionRegression:
		if trend.HasSlope && trend.Mean > 0 {
			target = fromTrend(trend.Slope*float64(trend.Periods)/trend.Mean*100, p)
		}
	}

	var actual float64
	if pos.Value > 0 {
		actual = pos.TotalBase() * fv / pos.Value
	}

	return schema.TargetPosition{
		TargetBaseFraction: target,
		ActualBaseFraction: actual,
		Divergence:         actual - target,
		Tolerance:          p.Tolerance(pos.ValueBase),
		ValueBase:          pos.ValueBase,
		Time:               pos.Time,
	}
}

// pct is the percentage difference of a over b.
func pct(a, b float64) float64 {
	return (a/b - 1) * 100
}

// fromTrend maps a percentage trend, scaled by the sensitivity, onto [0, 1].
func fromTrend(trendPct float64, p params.QuotingParameters) float64 {
	t := trendPct / p.EwmaSensitivityPercentage
	if t > 1 {
		t = 1
	}
	if t < -1 {
		t = -1
	}
	return 0.5 + 0.5*t
}
