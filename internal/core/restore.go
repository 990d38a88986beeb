package core

import (
	"context"

	"github.com/yanun0323/logs"

	"marketmaker/internal/params"
	"marketmaker/internal/persist"
	"marketmaker/internal/schema"
	"marketmaker/internal/stats"
)

// restore resumes parameters, statistics, the reference value and the trade
// history from the store. Failures are logged and the defaults kept.
func (t *Trader) restore(ctx context.Context) {
	if t.store == nil {
		return
	}

	cur := t.repo.Latest()
	def := params.Defaults()
	def.Version = 0
	saved, err := persist.LoadLatest(ctx, t.store, persist.CollectionParams, def)
	switch {
	case err != nil:
		logs.Errorf("restore parameters, err: %+v", err)
	case saved.Version > 0:
		if _, err := t.repo.Replace(saved); err != nil {
			logs.Errorf("restored parameters rejected, err: %+v", err)
		} else {
			logs.Infof("restored parameters, saved version: %d, running version: %d", saved.Version, cur.Version+1)
		}
	}

	snap, err := persist.LoadLatest(ctx, t.store, persist.CollectionMarket, stats.Snapshot{})
	switch {
	case err != nil:
		logs.Errorf("restore statistics, err: %+v", err)
	case !snap.Time.IsZero():
		t.stats.Restore(snap)
		logs.Infof("restored statistics from %s", snap.Time)
	}

	fills, err := persist.LoadTrades(ctx, t.store, t.cfg.TradesHistoryLimit)
	if err != nil {
		logs.Errorf("restore trades, err: %+v", err)
	}
	t.view.setTrades(fills)

	rfv, err := persist.LoadLatest(ctx, t.store, persist.CollectionRFV, schema.StatisticValue{})
	switch {
	case err != nil:
		logs.Errorf("restore reference value, err: %+v", err)
	case rfv.Count > 0:
		t.pos.RestoreRFV(rfv)
	default:
		t.pos.SeedRFV(fills)
	}
}
