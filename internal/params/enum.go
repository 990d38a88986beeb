package params

import (
	"strconv"
	"strings"

	"github.com/yanun0323/errors"

	"marketmaker/pkg/exception"
)

// QuotingMode selects how base bid/ask prices are derived around fair value.
type QuotingMode uint8

const (
	ModeMid QuotingMode = iota
	ModeTop
	ModeJoin
	ModeDepth
	ModePingPong
)

var quotingModeNames = []string{"Mid", "Top", "Join", "Depth", "PingPong"}

func (m QuotingMode) String() string { return enumName(m, quotingModeNames) }

func (m QuotingMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *QuotingMode) UnmarshalText(b []byte) error {
	return parseEnum(m, b, quotingModeNames, "mode")
}

// FairValueModel selects the fair value formula.
type FairValueModel uint8

const (
	FairValueBBO FairValueModel = iota
	FairValueWBBO
)

var fairValueModelNames = []string{"BBO", "wBBO"}

func (m FairValueModel) String() string { return enumName(m, fairValueModelNames) }

func (m FairValueModel) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *FairValueModel) UnmarshalText(b []byte) error {
	return parseEnum(m, b, fairValueModelNames, "fvModel")
}

// AutoPositionMode selects how the target base position is derived.
type AutoPositionMode uint8

const (
	AutoPositionManual AutoPositionMode = iota
	AutoPositionEWMALS
	AutoPositionEWMALMS
	AutoPositionRegression
)

var autoPositionModeNames = []string{"Manual", "EWMA_LS", "EWMA_LMS", "Regression"}

func (m AutoPositionMode) String() string { return enumName(m, autoPositionModeNames) }

func (m AutoPositionMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *AutoPositionMode) UnmarshalText(b []byte) error {
	return parseEnum(m, b, autoPositionModeNames, "autoPositionMode")
}

// APR is the aggressive position rebalancing mode.
type APR uint8

const (
	APROff APR = iota
	APRSize
	APRSizeWidth
)

var aprNames = []string{"Off", "Size", "SizeWidth"}

func (m APR) String() string { return enumName(m, aprNames) }

func (m APR) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *APR) UnmarshalText(b []byte) error {
	return parseEnum(m, b, aprNames, "aggressivePositionRebalancing")
}

// StdevProtection selects the reaction to abnormal volatility.
type StdevProtection uint8

const (
	StdevOff StdevProtection = iota
	StdevWiden
	StdevSuspend
)

var stdevProtectionNames = []string{"Off", "Widen", "Suspend"}

func (m StdevProtection) String() string { return enumName(m, stdevProtectionNames) }

func (m StdevProtection) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *StdevProtection) UnmarshalText(b []byte) error {
	return parseEnum(m, b, stdevProtectionNames, "quotingStdevProtection")
}

// PingAt selects which sides may open new inventory in ping-pong mode.
type PingAt uint8

const (
	PingAtBothSides PingAt = iota
	PingAtBidSide
	PingAtAskSide
	PingAtDepletedSides
	PingAtStopPings
)

var pingAtNames = []string{"BothSides", "BidSide", "AskSide", "DepletedSides", "StopPings"}

func (m PingAt) String() string { return enumName(m, pingAtNames) }

func (m PingAt) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *PingAt) UnmarshalText(b []byte) error {
	return parseEnum(m, b, pingAtNames, "pingAt")
}

// PongAt selects which open ping a pong is priced against and how.
type PongAt uint8

const (
	PongAtShortPingFair PongAt = iota
	PongAtLongPingFair
	PongAtShortPingAggressive
	PongAtLongPingAggressive
)

var pongAtNames = []string{"ShortPingFair", "LongPingFair", "ShortPingAggressive", "LongPingAggressive"}

func (m PongAt) String() string { return enumName(m, pongAtNames) }

func (m PongAt) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *PongAt) UnmarshalText(b []byte) error {
	return parseEnum(m, b, pongAtNames, "pongAt")
}

// Short reports whether the pong targets the ping nearest to fair value.
func (m PongAt) Short() bool {
	return m == PongAtShortPingFair || m == PongAtShortPingAggressive
}

// Aggressive reports whether the pong may quote inside the ping width.
func (m PongAt) Aggressive() bool {
	return m == PongAtShortPingAggressive || m == PongAtLongPingAggressive
}

func enumName[E ~uint8](e E, names []string) string {
	if int(e) < len(names) {
		return names[e]
	}
	return "Unknown"
}

func parseEnum[E ~uint8](dst *E, b []byte, names []string, field string) error {
	text := strings.TrimSpace(string(b))
	for i, n := range names {
		if strings.EqualFold(n, text) {
			*dst = E(i)
			return nil
		}
	}
	return errors.Wrap(exception.ErrInvalidEnum, field+": "+strconv.Quote(text)).With("expected", names)
}
