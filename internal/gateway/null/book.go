package null

import (
	"math"
	"math/rand"
	"time"

	"marketmaker/internal/schema"
	"marketmaker/pkg/tick"
)

// Generator creates a synthetic order book around a random-walk mid price.
type Generator struct {
	rng        *rand.Rand
	mid        float64
	tick       float64
	spread     float64
	volatility float64
	depth      int
	levelSize  float64
}

// NewGenerator creates a generator starting at startPrice.
func NewGenerator(rng *rand.Rand, startPrice, minTick, spreadTicks, volatility float64, depth int, levelSize float64) *Generator {
	if depth <= 0 {
		depth = 1
	}
	if spreadTicks < 1 {
		spreadTicks = 1
	}
	if levelSize <= 0 {
		levelSize = 1
	}
	return &Generator{
		rng:        rng,
		mid:        startPrice,
		tick:       minTick,
		spread:     spreadTicks * minTick,
		volatility: volatility,
		depth:      depth,
		levelSize:  levelSize,
	}
}

// Mid returns the current mid price.
func (g *Generator) Mid() float64 {
	return g.mid
}

// Next moves the mid one step and returns the resulting book.
func (g *Generator) Next(now time.Time) schema.MarketSample {
	step := g.rng.NormFloat64() * g.volatility * g.mid
	g.mid = math.Max(g.mid+step, g.spread*2)

	bestBid := tick.Down(g.mid-g.spread/2, g.tick)
	bestAsk := tick.Up(g.mid+g.spread/2, g.tick)
	if bestAsk-bestBid < g.tick/2 {
		bestAsk = bestBid + g.tick
	}

	sample := schema.MarketSample{
		Bids: make([]schema.Level, 0, g.depth),
		Asks: make([]schema.Level, 0, g.depth),
		Time: now,
	}
	for i := 0; i < g.depth; i++ {
		off := float64(i) * g.tick
		sample.Bids = append(sample.Bids, schema.Level{Price: tick.Nearest(bestBid-off, g.tick), Size: g.size()})
		sample.Asks = append(sample.Asks, schema.Level{Price: tick.Nearest(bestAsk+off, g.tick), Size: g.size()})
	}
	return sample
}

func (g *Generator) size() float64 {
	return g.levelSize * (0.5 + g.rng.Float64())
}
