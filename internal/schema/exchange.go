package schema

import (
	"strconv"
	"strings"

	"github.com/yanun0323/errors"

	"marketmaker/pkg/exception"
)

// Exchange is the venue an instance trades on.
type Exchange uint8

const (
	ExchangeUnknown Exchange = iota
	ExchangeCoinbase
	ExchangeOkCoin
	ExchangeBitfinex
	ExchangePoloniex
	ExchangeKorbit
	ExchangeHitBtc
	ExchangeNull
)

var exchangeNames = [...]string{
	ExchangeUnknown:  "unknown",
	ExchangeCoinbase: "coinbase",
	ExchangeOkCoin:   "okcoin",
	ExchangeBitfinex: "bitfinex",
	ExchangePoloniex: "poloniex",
	ExchangeKorbit:   "korbit",
	ExchangeHitBtc:   "hitbtc",
	ExchangeNull:     "null",
}

func (e Exchange) String() string {
	if int(e) < len(exchangeNames) {
		return exchangeNames[e]
	}
	return exchangeNames[ExchangeUnknown]
}

// ParseExchange resolves a case-insensitive venue name.
func ParseExchange(name string) (Exchange, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range exchangeNames {
		if i == int(ExchangeUnknown) {
			continue
		}
		if n == name {
			return Exchange(i), nil
		}
	}
	return ExchangeUnknown, errors.Wrap(exception.ErrUnknownExchange, "exchange "+strconv.Quote(name)).With("supported", exchangeNames[1:])
}

// Pair is the traded currency pair.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// ParsePair parses a pair in BASE/QUOTE format, e.g. BTC/EUR.
func ParsePair(raw string) (Pair, error) {
	parts := strings.Split(strings.TrimSpace(raw), "/")
	if len(parts) != 2 {
		return Pair{}, errors.Wrap(exception.ErrInvalidPair, "must be in the format of BASE/QUOTE").With("pair", raw)
	}
	base := strings.ToUpper(strings.TrimSpace(parts[0]))
	quote := strings.ToUpper(strings.TrimSpace(parts[1]))
	if base == "" || quote == "" || base == quote {
		return Pair{}, errors.Wrap(exception.ErrInvalidPair, "must be in the format of BASE/QUOTE").With("pair", raw)
	}
	return Pair{Base: base, Quote: quote}, nil
}
