package persist

import (
	"context"
	"time"

	"github.com/yanun0323/decimal"

	"marketmaker/internal/schema"
)

// Trade is the stored form of a fill. Price and size are kept as exact
// decimal strings so the history reads back the way the venue reported it.
type Trade struct {
	ClientID string          `json:"clientId"`
	Side     schema.Side     `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"`
	Pong     bool            `json:"pong"`
	Time     time.Time       `json:"time"`
}

func NewTrade(f schema.Fill) Trade {
	return Trade{
		ClientID: f.ClientID,
		Side:     f.Side,
		Price:    decimal.NewFromFloat(f.Price),
		Size:     decimal.NewFromFloat(f.Size),
		Pong:     f.Pong,
		Time:     f.Time,
	}
}

// Fill converts the record back into the engine's fill.
func (t Trade) Fill() schema.Fill {
	price, _ := t.Price.Float64()
	size, _ := t.Size.Float64()
	return schema.Fill{
		ClientID: t.ClientID,
		Side:     t.Side,
		Price:    price,
		Size:     size,
		Pong:     t.Pong,
		Time:     t.Time,
	}
}

// LoadTrades returns up to limit newest fills of the trades collection, oldest first.
func LoadTrades(ctx context.Context, s Store, limit int) ([]schema.Fill, error) {
	trades, err := LoadAll[Trade](ctx, s, CollectionTrades, limit)
	if err != nil {
		return nil, err
	}
	fills := make([]schema.Fill, 0, len(trades))
	for _, t := range trades {
		fills = append(fills, t.Fill())
	}
	return fills, nil
}
