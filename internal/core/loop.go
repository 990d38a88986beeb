package core

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"marketmaker/internal/bus"
	"marketmaker/internal/filtration"
	"marketmaker/internal/params"
	"marketmaker/internal/persist"
	"marketmaker/internal/position"
	"marketmaker/internal/publish"
	"marketmaker/internal/quoting"
	"marketmaker/internal/risk"
	"marketmaker/internal/schema"
)

// handle is the decision loop body. Every event ends in one recomputation.
func (t *Trader) handle(e bus.Event) {
	start := time.Now()
	t.metrics.ObserveEvent(e.Header)

	now := e.Header.EventTime()
	if now.IsZero() {
		now = start
	}

	switch e.Header.Type {
	case schema.EventMarketSample:
		sample, ok := e.Payload.(schema.MarketSample)
		if !ok {
			t.mismatch(e)
			return
		}
		t.onMarket(sample)
	case schema.EventOrderUpdate:
		u, ok := e.Payload.(schema.OrderUpdate)
		if !ok {
			t.mismatch(e)
			return
		}
		t.onOrderUpdate(u)
	case schema.EventBalance:
		b, ok := e.Payload.(schema.Balance)
		if !ok {
			t.mismatch(e)
			return
		}
		t.pos.ApplyBalance(b)
	case schema.EventParams:
		p, ok := e.Payload.(params.QuotingParameters)
		if !ok {
			t.mismatch(e)
			return
		}
		t.onParams(p)
	case schema.EventTimer:
		t.onTimer(now)
	case schema.EventResync:
		t.resyncPending.Store(false)
	case schema.EventConnectivity:
		up, ok := e.Payload.(bool)
		if !ok {
			t.mismatch(e)
			return
		}
		t.onConnectivity(up)
	case schema.EventActiveState:
		on, ok := e.Payload.(bool)
		if !ok {
			t.mismatch(e)
			return
		}
		t.enabled = on
		logs.Infof("quoting %s by request", onOff(on))
	default:
		t.mismatch(e)
		return
	}

	t.recompute(now, e.Header.Type == schema.EventTimer)
	t.metrics.ObserveRecompute(time.Since(start))
}

func (t *Trader) mismatch(e bus.Event) {
	logs.Errorf("decision loop: unexpected payload %T for %s event", e.Payload, e.Header.Type)
}

func (t *Trader) onMarket(sample schema.MarketSample) {
	quote, reason := t.filter.Apply(sample, t.broker.Open())
	if reason != filtration.Accepted {
		t.metrics.IncFiltered(reason.String())
		return
	}

	fv, changed := t.fv.Update(quote, t.p.FVModel)
	if !changed {
		return
	}
	t.stats.Add(fv)
	t.metrics.SetFairValue(fv.Price)
	t.view.setFairValue(fv)
	t.publishTopic(publish.TopicFairValue, fv)
}

func (t *Trader) onOrderUpdate(u schema.OrderUpdate) {
	o, fill, err := t.broker.OnUpdate(u)
	if err != nil {
		logs.Errorf("apply order update, err: %+v", err)
		return
	}
	if o.Status == schema.OrderStatusRejected {
		logs.Infof("order %s rejected, reason: %s", o.ClientID, o.Reason)
	}
	t.publishOrders()

	if fill == nil {
		return
	}
	t.pos.ApplyFill(*fill)
	t.safety.OnFill(*fill)
	t.persist(persist.CollectionTrades, persist.NewTrade(*fill))
	t.view.addTrade(*fill)
	t.publishTopic(publish.TopicTrades, *fill)
	logs.Infof("fill %s %.8f@%.8f, pong: %t", fill.Side, fill.Size, fill.Price, fill.Pong)
}

func (t *Trader) onParams(p params.QuotingParameters) {
	if p.Version <= t.p.Version {
		return
	}
	t.p = p
	t.haltOnKillSwitch()
	t.stats.Reconfigure(p)
	t.pos.SetRFVPeriods(p.RFVEwmaPeriods)
	t.sender.Configure(p)
	t.persist(persist.CollectionParams, p)
	t.view.setParams(p)
	t.publishTopic(publish.TopicParams, p)
}

// haltOnKillSwitch makes the broker refuse new orders while the kill switch is on.
func (t *Trader) haltOnKillSwitch() {
	switch {
	case t.p.KillSwitch:
		t.broker.Halt()
	case !t.stopping.Load():
		t.broker.Resume()
	}
}

func (t *Trader) onConnectivity(up bool) {
	if up == t.connected {
		return
	}
	t.connected = up
	t.metrics.SetConnected(up)
	logs.Infof("gateway connected: %t", up)
	t.publishTopic(publish.TopicConnectivity, up)

	if up && !t.reconciled {
		t.reconciled = true
		t.sweepOrphans("startup")
	}
}

func (t *Trader) onTimer(now time.Time) {
	if n := t.broker.Sweep(t.cfg.TerminalOrderAge); n > 0 {
		t.publishOrders()
	}
	if t.p.CancelOrdersAuto && t.connected {
		t.sweepOrphans("auto")
	}
	if t.writer != nil {
		t.metrics.SetPersisted(t.writer.Written(), t.writer.Failed())
	}
	if now.Sub(t.lastPersist) >= t.cfg.StatsPersistInterval {
		t.lastPersist = now
		t.persist(persist.CollectionMarket, t.stats.Snapshot())
		t.persist(persist.CollectionRFV, t.pos.RFV())
	}
}

// sweepOrphans cancels orders the venue reports but the ledger does not know.
// It runs off the loop; the cancels come back as order updates.
func (t *Trader) sweepOrphans(why string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ShutdownTimeout)
		defer cancel()
		n, err := t.broker.Reconcile(ctx)
		if err != nil {
			logs.Errorf("%s orphan sweep, err: %+v", why, err)
			return
		}
		if n > 0 {
			logs.Infof("%s orphan sweep cancelled %d orders", why, n)
		}
	}()
}

// scheduleResync posts one resync event once the action budget has refilled,
// so deferred actions do not wait for the next market sample or timer tick.
func (t *Trader) scheduleResync() {
	if !t.resyncPending.CompareAndSwap(false, true) {
		return
	}
	time.AfterFunc(t.sender.RetryIn(), func() {
		if err := t.queue.TryPublish(t.queue.NewEvent(schema.EventResync, time.Now(), nil)); err != nil {
			t.resyncPending.Store(false)
		}
	})
}

func (t *Trader) active() bool {
	return t.connected && t.enabled && !t.stopping.Load()
}

// recompute derives the quote from the latest inputs and syncs orders to it.
func (t *Trader) recompute(now time.Time, tick bool) {
	p := t.p
	fv, hasFV := t.fv.Latest()
	pos, hasPos := t.pos.Snapshot(fv.Price, fv.Time)

	var target schema.TargetPosition
	if hasPos {
		target = position.ComputeTarget(pos, fv.Price, t.stats.Trend(), p)
	}
	prot := t.stats.Protection(p)
	limit := t.safety.Compute(now, fv.Price, prot, p)
	ewma, hasEWMA := t.stats.EWMAProtection(p)

	state, changed := t.quoter.Recompute(quoting.Inputs{
		FairValue:    fv,
		HasFairValue: hasFV,
		Protection:   prot,
		EWMA:         ewma,
		HasEWMA:      hasEWMA,
		Position:     pos,
		HasPosition:  hasPos,
		Target:       target,
		Safety:       limit,
		Params:       p,
		Active:       t.active(),
		Time:         now,
	})
	if c := t.quoter.Clamps(); c > t.clamps {
		t.metrics.AddClamps(int(c - t.clamps))
		t.clamps = c
	}
	if changed {
		t.metrics.IncQuote(state.Reason)
		t.view.setQuote(state)
		t.publishTopic(publish.TopicQuote, state)
	}

	if !t.stopping.Load() {
		res := t.sender.Sync(now, state, risk.StateView{
			FairValue:  fv.Price,
			BaseFree:   pos.BaseAmount,
			QuoteFree:  pos.QuoteAmount,
			HasBalance: hasPos,
		})
		t.metrics.AddActions("issued", res.Issued)
		t.metrics.AddActions("denied", res.Denied)
		t.metrics.AddActions("failed", res.Failed)
		t.metrics.AddActions("deferred", res.Deferred)
		if res.Issued > 0 {
			t.publishOrders()
		}
		if t.sender.Backlog() {
			t.scheduleResync()
		}
	}

	active := t.active()
	if t.view.setActive(t.connected, active) {
		t.publishTopic(publish.TopicActive, active)
	}

	if !changed && !tick {
		return
	}
	if hasPos {
		t.metrics.SetPosition(pos)
		t.view.setPosition(pos, target)
		t.publishTopic(publish.TopicPosition, pos)
		t.publishTopic(publish.TopicTarget, target)
	}
	t.metrics.SetSafety(limit)
	t.view.setSafety(limit)
	t.publishTopic(publish.TopicSafety, limit)

	st := statistics{Trend: t.stats.Trend(), Protection: prot, RFV: t.pos.RFV()}
	t.view.setStatistics(st)
	t.publishTopic(publish.TopicStatistics, st)
}

func (t *Trader) publishOrders() {
	open := t.broker.Open()
	t.metrics.SetOpenOrders(len(open))
	t.view.setOrders(open)
	t.publishTopic(publish.TopicOrders, open)
}

func (t *Trader) publishTopic(topic publish.Topic, v any) {
	if t.hub != nil {
		t.hub.Publish(topic, v)
	}
}

func (t *Trader) persist(collection string, v any) {
	if t.writer == nil {
		return
	}
	if err := t.writer.TrySave(collection, v); err != nil {
		t.metrics.IncPersistFailure()
		logs.Errorf("queue %s record, err: %+v", collection, err)
	}
}

func onOff(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
