package params

import (
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"marketmaker/pkg/exception"
)

// QuotingParameters is an immutable snapshot of every strategy knob.
// Consumers receive copies and never mutate a shared value.
type QuotingParameters struct {
	Version uint64 `json:"version"`

	WidthPercentage     bool    `json:"widthPercentage"`
	WidthPing           float64 `json:"widthPing"`
	WidthPingPercentage float64 `json:"widthPingPercentage"`
	WidthPong           float64 `json:"widthPong"`
	WidthPongPercentage float64 `json:"widthPongPercentage"`
	BestWidth           bool    `json:"bestWidth"`

	SizePercentage     bool    `json:"sizePercentage"`
	BuySize            float64 `json:"buySize"`
	BuySizePercentage  float64 `json:"buySizePercentage"`
	BuySizeMax         bool    `json:"buySizeMax"`
	SellSize           float64 `json:"sellSize"`
	SellSizePercentage float64 `json:"sellSizePercentage"`
	SellSizeMax        bool    `json:"sellSizeMax"`
	MinSize            float64 `json:"minSize"`
	MaxSize            float64 `json:"maxSize"`

	Mode    QuotingMode    `json:"mode"`
	FVModel FairValueModel `json:"fvModel"`
	PingAt  PingAt         `json:"pingAt"`
	PongAt  PongAt         `json:"pongAt"`
	PongTTL float64        `json:"pongTTL"`

	PercentageValues             bool             `json:"percentageValues"`
	TargetBasePosition           float64          `json:"targetBasePosition"`
	TargetBasePositionPercentage float64          `json:"targetBasePositionPercentage"`
	PositionDivergence           float64          `json:"positionDivergence"`
	PositionDivergencePercentage float64          `json:"positionDivergencePercentage"`
	AutoPositionMode             AutoPositionMode `json:"autoPositionMode"`
	AggressivePositionRebalance  APR              `json:"aggressivePositionRebalancing"`
	APRMultiplier                float64          `json:"aprMultiplier"`

	TradesPerMinute  float64 `json:"tradesPerMinute"`
	TradeRateSeconds int     `json:"tradeRateSeconds"`
	SafetyMaxSize    float64 `json:"safetyMaxSize"`
	SafetySmoothing  float64 `json:"safetySmoothing"`

	QuotingEwmaProtection        bool            `json:"quotingEwmaProtection"`
	QuotingEwmaProtectionPeriods int             `json:"quotingEwmaProtectionPeriods"`
	QuotingStdevProtection       StdevProtection `json:"quotingStdevProtection"`
	QuotingStdevProtectionFactor float64         `json:"quotingStdevProtectionFactor"`
	QuotingStdevProtectionPeriod int             `json:"quotingStdevProtectionPeriods"`

	EwmaSensitivityPercentage float64 `json:"ewmaSensitivityPercentage"`
	LongEwmaPeriods           int     `json:"longEwmaPeriods"`
	MediumEwmaPeriods         int     `json:"mediumEwmaPeriods"`
	ShortEwmaPeriods          int     `json:"shortEwmaPeriods"`
	RegressionPeriods         int     `json:"regressionPeriods"`
	RFVEwmaPeriods            int     `json:"rfvEwmaPeriods"`

	KillSwitch          bool    `json:"killSwitch"`
	CancelOrdersAuto    bool    `json:"cancelOrdersAuto"`
	MaxActionsPerWindow int     `json:"maxActionsPerWindow"`
	ActionWindowSeconds float64 `json:"actionWindowSeconds"`
	SizeTolerance       float64 `json:"sizeTolerance"`
	MaxPriceDeviationBp float64 `json:"maxPriceDeviationBps"`
}

// Defaults returns the parameter set used when nothing is persisted or configured.
func Defaults() QuotingParameters {
	return QuotingParameters{
		Version: 1,

		WidthPing:           2,
		WidthPingPercentage: 0.25,
		WidthPong:           2,
		WidthPongPercentage: 0.25,
		BestWidth:           true,

		BuySize:            0.02,
		BuySizePercentage:  7,
		SellSize:           0.01,
		SellSizePercentage: 7,
		MinSize:            0.001,

		Mode:    ModeMid,
		FVModel: FairValueBBO,
		PingAt:  PingAtBothSides,
		PongAt:  PongAtShortPingFair,

		PercentageValues:             true,
		TargetBasePosition:           1,
		TargetBasePositionPercentage: 50,
		PositionDivergence:           0.9,
		PositionDivergencePercentage: 21,
		AutoPositionMode:             AutoPositionManual,
		AggressivePositionRebalance:  APROff,
		APRMultiplier:                2,

		TradesPerMinute:  0.9,
		TradeRateSeconds: 69,
		SafetySmoothing:  0.5,

		QuotingEwmaProtection:        true,
		QuotingEwmaProtectionPeriods: 200,
		QuotingStdevProtection:       StdevOff,
		QuotingStdevProtectionFactor: 1,
		QuotingStdevProtectionPeriod: 1200,

		EwmaSensitivityPercentage: 0.5,
		LongEwmaPeriods:           200,
		MediumEwmaPeriods:         100,
		ShortEwmaPeriods:          50,
		RegressionPeriods:         100,
		RFVEwmaPeriods:            200,

		MaxActionsPerWindow: 10,
		ActionWindowSeconds: 1,
		SizeTolerance:       0.1,
		MaxPriceDeviationBp: 500,
	}
}

// PingWidth returns the full ping spread at the given fair value.
func (p QuotingParameters) PingWidth(fv float64) float64 {
	if p.WidthPercentage {
		return fv * p.WidthPingPercentage / 100
	}
	return p.WidthPing
}

// PongWidth returns the full pong spread at the given fair value.
func (p QuotingParameters) PongWidth(fv float64) float64 {
	if p.WidthPercentage {
		return fv * p.WidthPongPercentage / 100
	}
	return p.WidthPong
}

// BidSize returns the buy size given the total portfolio value in base and
// the base still missing to reach the target. With buySizeMax and rebalancing
// on, a larger shortfall replaces the configured size.
func (p QuotingParameters) BidSize(valueBase, shortfall float64) float64 {
	size := p.BuySize
	if p.SizePercentage {
		size = valueBase * p.BuySizePercentage / 100
	}
	if p.BuySizeMax && p.AggressivePositionRebalance != APROff {
		size = math.Max(size, shortfall)
	}
	return size
}

// AskSize returns the sell size given the total portfolio value in base and
// the base held above the target. With sellSizeMax and rebalancing on, a
// larger excess replaces the configured size.
func (p QuotingParameters) AskSize(valueBase, excess float64) float64 {
	size := p.SellSize
	if p.SizePercentage {
		size = valueBase * p.SellSizePercentage / 100
	}
	if p.SellSizeMax && p.AggressivePositionRebalance != APROff {
		size = math.Max(size, excess)
	}
	return size
}

// TargetFraction is the manual target base fraction in [0, 1]. Absolute
// targets are expressed against the portfolio value in base.
func (p QuotingParameters) TargetFraction(valueBase float64) float64 {
	if p.PercentageValues {
		return p.TargetBasePositionPercentage / 100
	}
	if valueBase <= 0 {
		return 0
	}
	return math.Min(p.TargetBasePosition/valueBase, 1)
}

// Tolerance is the allowed |divergence| before rebalancing kicks in.
func (p QuotingParameters) Tolerance(valueBase float64) float64 {
	if p.PercentageValues {
		return p.PositionDivergencePercentage / 100
	}
	if valueBase <= 0 {
		return 0
	}
	return math.Min(p.PositionDivergence/valueBase, 1)
}

// ActionWindow is the rate limit window of the quote sender.
func (p QuotingParameters) ActionWindow() time.Duration {
	return time.Duration(p.ActionWindowSeconds * float64(time.Second))
}

// TradeRateWindow is the trailing window the safety calculator counts fills over.
func (p QuotingParameters) TradeRateWindow() time.Duration {
	return time.Duration(p.TradeRateSeconds) * time.Second
}

// PongExpiry is how long an unmatched ping stays eligible for a pong. Zero never expires.
func (p QuotingParameters) PongExpiry() time.Duration {
	return time.Duration(p.PongTTL * float64(time.Second))
}

// Validate rejects parameter sets the pipeline cannot run with.
func (p QuotingParameters) Validate() error {
	nonNegative := map[string]float64{
		"widthPing":                    p.WidthPing,
		"widthPingPercentage":          p.WidthPingPercentage,
		"widthPong":                    p.WidthPong,
		"widthPongPercentage":          p.WidthPongPercentage,
		"buySize":                      p.BuySize,
		"buySizePercentage":            p.BuySizePercentage,
		"sellSize":                     p.SellSize,
		"sellSizePercentage":           p.SellSizePercentage,
		"minSize":                      p.MinSize,
		"maxSize":                      p.MaxSize,
		"aprMultiplier":                p.APRMultiplier,
		"tradesPerMinute":              p.TradesPerMinute,
		"safetyMaxSize":                p.SafetyMaxSize,
		"targetBasePosition":           p.TargetBasePosition,
		"positionDivergence":           p.PositionDivergence,
		"quotingStdevProtectionFactor": p.QuotingStdevProtectionFactor,
		"pongTTL":                      p.PongTTL,
		"sizeTolerance":                p.SizeTolerance,
		"maxPriceDeviationBps":         p.MaxPriceDeviationBp,
	}
	for k, v := range nonNegative {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return errors.Wrap(exception.ErrInvalidConfig, k+" must be a non-negative number").With("value", v)
		}
	}

	if p.TargetBasePositionPercentage < 0 || p.TargetBasePositionPercentage > 100 {
		return errors.Wrap(exception.ErrInvalidConfig, "targetBasePositionPercentage out of [0,100]").With("value", p.TargetBasePositionPercentage)
	}
	if p.PositionDivergencePercentage < 0 || p.PositionDivergencePercentage > 100 {
		return errors.Wrap(exception.ErrInvalidConfig, "positionDivergencePercentage out of [0,100]").With("value", p.PositionDivergencePercentage)
	}
	if p.SafetySmoothing <= 0 || p.SafetySmoothing > 1 {
		return errors.Wrap(exception.ErrInvalidConfig, "safetySmoothing out of (0,1]").With("value", p.SafetySmoothing)
	}
	if p.EwmaSensitivityPercentage <= 0 {
		return errors.Wrap(exception.ErrInvalidConfig, "ewmaSensitivityPercentage must be positive").With("value", p.EwmaSensitivityPercentage)
	}
	if p.MaxSize > 0 && p.MaxSize < p.MinSize {
		return errors.Wrap(exception.ErrInvalidConfig, "maxSize below minSize").With("maxSize", p.MaxSize)
	}
	if p.MaxActionsPerWindow <= 0 || p.ActionWindowSeconds <= 0 {
		return errors.Wrap(exception.ErrInvalidConfig, "action budget must be positive").With("maxActionsPerWindow", p.MaxActionsPerWindow)
	}

	periods := map[string]int{
		"tradeRateSeconds":              p.TradeRateSeconds,
		"quotingEwmaProtectionPeriods":  p.QuotingEwmaProtectionPeriods,
		"quotingStdevProtectionPeriods": p.QuotingStdevProtectionPeriod,
		"longEwmaPeriods":               p.LongEwmaPeriods,
		"mediumEwmaPeriods":             p.MediumEwmaPeriods,
		"shortEwmaPeriods":              p.ShortEwmaPeriods,
		"regressionPeriods":             p.RegressionPeriods,
		"rfvEwmaPeriods":                p.RFVEwmaPeriods,
	}
	for k, v := range periods {
		if v <= 0 {
			return errors.Wrap(exception.ErrInvalidConfig, k+" must be positive").With("value", v)
		}
	}

	if p.Mode.String() == "Unknown" || p.FVModel.String() == "Unknown" ||
		p.PingAt.String() == "Unknown" || p.PongAt.String() == "Unknown" ||
		p.AutoPositionMode.String() == "Unknown" || p.AggressivePositionRebalance.String() == "Unknown" ||
		p.QuotingStdevProtection.String() == "Unknown" {
		return errors.Wrap(exception.ErrInvalidEnum, "parameter enum out of range")
	}

	return nil
}

// Patch returns a copy of p with the json-keyed fields of patch applied.
// Version is left untouched; the repository assigns it.
func (p QuotingParameters) Patch(patch map[string]any) (QuotingParameters, error) {
	if len(patch) == 0 {
		return p, nil
	}

	known := Keys()
	for k := range patch {
		if _, ok := known[k]; !ok {
			return p, errors.Wrap(exception.ErrInvalidConfig, "unknown parameter").With("key", k)
		}
	}

	buf, err := sonic.Marshal(patch)
	if err != nil {
		return p, errors.Wrap(err, "marshal parameter patch")
	}

	next := p
	if err := sonic.Unmarshal(buf, &next); err != nil {
		return p, errors.Wrap(exception.ErrInvalidConfig, err.Error())
	}
	next.Version = p.Version

	return next, nil
}

var keys = func() map[string]struct{} {
	out := make(map[string]struct{})
	t := reflect.TypeOf(QuotingParameters{})
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" || name == "version" {
			continue
		}
		out[name] = struct{}{}
	}
	return out
}()

// Keys returns the set of patchable json field names.
func Keys() map[string]struct{} {
	return keys
}
