// Package zone turns swings of the zone timeframes into support and
// resistance zones and tracks their lifecycle on the price timeframe.
//
// Lifecycle: a candle trading into an active zone arms it. While armed, a
// close back outside on the side price came from mitigates the zone, and a
// close through the far side invalidates it. Without either reaction within
// ReactionCandles candles (touching candle included) the zone disarms and
// waits for the next touch. Status only moves forward:
//
//	active -> mitigated
//	active -> invalidated
//
// Overlapping zones are never merged.
package zone

import (
	"log/slog"
	"time"

	"github.com/pondem87/kraken/internal/model"
)

type entry struct {
	z         model.Zone
	armed     bool
	fromAbove bool // approach side, fixed when the zone is armed
	elapsed   int  // candles since the touch, touching candle = 1
}

// Tracker owns every zone of one instrument.
// Designed for single-goroutine usage; there are no locks.
type Tracker struct {
	cfg     Config
	tfs     map[model.Timeframe]bool
	zones   []*entry // creation order
	byID    map[string]*entry
	log     []model.ZoneTransition
	pending []model.ZoneTransition // retirements not yet handed out

	lastClose float64
	hasClose  bool

	logger *slog.Logger
}

// New creates a tracker. The config must already be valid.
func New(cfg Config, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	tfs := make(map[model.Timeframe]bool, len(cfg.Timeframes))
	for _, tf := range cfg.Timeframes {
		tfs[tf] = true
	}
	return &Tracker{
		cfg:    cfg,
		tfs:    tfs,
		byID:   make(map[string]*entry),
		logger: log.With(slog.String("component", "zone")),
	}
}

// OnSwingPoint creates a zone from a confirmed swing of a zone timeframe.
// Swings of other timeframes, and swings already turned into a zone, are
// ignored.
func (t *Tracker) OnSwingPoint(sp model.SwingPoint, sourceTF model.Timeframe) (*model.Zone, bool) {
	if !t.tfs[sourceTF] {
		return nil, false
	}
	swingID := sp.ID()
	id := model.NewID("zone", swingID)
	if _, dup := t.byID[id]; dup {
		return nil, false
	}

	kind := model.Resistance
	if sp.Kind == model.SwingLow {
		kind = model.Support
	}
	lo, hi := cut(sp.Candle, kind, t.cfg.Mode)

	e := &entry{z: model.Zone{
		ID:        id,
		SourceTF:  sourceTF,
		Kind:      kind,
		Low:       lo,
		High:      hi,
		Origin:    sp.TS,
		CreatedAt: sp.ConfirmedAt,
		SwingID:   swingID,
		Status:    model.ZoneActive,
	}}
	t.zones = append(t.zones, e)
	t.byID[id] = e

	t.logger.Info("zone created",
		slog.String("id", id),
		slog.String("tf", sourceTF.String()),
		slog.String("kind", string(kind)),
		slog.Float64("low", lo),
		slog.Float64("high", hi),
	)

	if t.cfg.MaxActive > 0 {
		t.retireOverflow(sp)
	}
	z := e.z
	return &z, true
}

// retireOverflow invalidates the oldest active zones until the cap holds.
// The retirement price is the last price timeframe close, or the swing
// candle's close before any was seen.
func (t *Tracker) retireOverflow(sp model.SwingPoint) {
	price := sp.Candle.Close
	if t.hasClose {
		price = t.lastClose
	}
	active := 0
	for _, e := range t.zones {
		if e.z.Status == model.ZoneActive {
			active++
		}
	}
	for _, e := range t.zones {
		if active <= t.cfg.MaxActive {
			return
		}
		if e.z.Status != model.ZoneActive {
			continue
		}
		t.pending = append(t.pending, t.transition(e, model.ZoneInvalidated, sp.ConfirmedAt, price))
		active--
	}
}

// Flush returns transitions produced outside OnCandle (retirements caused by
// the active zone cap) that have not been handed out yet.
func (t *Tracker) Flush() []model.ZoneTransition {
	out := t.pending
	t.pending = nil
	return out
}

// OnCandle advances the lifecycle of every active zone with a candle of the
// price timeframe. Candles of other timeframes are ignored.
func (t *Tracker) OnCandle(c model.Candle) []model.ZoneTransition {
	if c.TF != t.cfg.PriceTF {
		return nil
	}
	out := t.Flush()
	for _, e := range t.zones {
		if e.z.Status != model.ZoneActive {
			continue
		}
		if to, ok := t.react(e, c); ok {
			out = append(out, t.transition(e, to, c.TS, c.Close))
		}
	}
	t.lastClose, t.hasClose = c.Close, true
	return out
}

// react decides whether c moves e to a final status.
func (t *Tracker) react(e *entry, c model.Candle) (model.ZoneStatus, bool) {
	z := &e.z
	touched := c.Low <= z.High && c.High >= z.Low

	if !e.armed {
		fromAbove := t.approach(z)
		// a candle that skips the zone entirely still breaks it
		if !touched {
			if (fromAbove && c.High < z.Low) || (!fromAbove && c.Low > z.High) {
				return model.ZoneInvalidated, true
			}
			return "", false
		}
		e.armed, e.fromAbove, e.elapsed = true, fromAbove, 0
	}
	e.elapsed++

	through := (e.fromAbove && c.Close < z.Low) || (!e.fromAbove && c.Close > z.High)
	back := (e.fromAbove && c.Close > z.High) || (!e.fromAbove && c.Close < z.Low)
	switch {
	case through:
		return model.ZoneInvalidated, true
	case back:
		return model.ZoneMitigated, true
	case e.elapsed >= t.cfg.ReactionCandles:
		e.armed = false
		t.logger.Debug("zone disarmed", slog.String("id", z.ID), slog.Time("ts", c.TS))
	}
	return "", false
}

// approach returns whether price is coming into the zone from above, judged
// by the previous close. Without one, support is approached from above and
// resistance from below.
func (t *Tracker) approach(z *model.Zone) bool {
	switch {
	case t.hasClose && t.lastClose > z.High:
		return true
	case t.hasClose && t.lastClose < z.Low:
		return false
	}
	return z.Kind == model.Support
}

func (t *Tracker) transition(e *entry, to model.ZoneStatus, ts time.Time, price float64) model.ZoneTransition {
	tr := model.ZoneTransition{
		ZoneID: e.z.ID,
		Kind:   e.z.Kind,
		From:   e.z.Status,
		To:     to,
		TS:     ts,
		Price:  price,
	}
	e.z.Status = to
	e.z.ChangedAt = ts
	e.armed = false
	t.log = append(t.log, tr)

	t.logger.Info("zone "+string(to),
		slog.String("id", e.z.ID),
		slog.String("kind", string(e.z.Kind)),
		slog.Float64("price", price),
		slog.Time("ts", ts),
	)
	return tr
}

// cut returns the zone bounds taken from the swing candle. Zero-width
// ranges fall back to the whole candle.
func cut(c model.Candle, kind model.ZoneKind, mode Mode) (lo, hi float64) {
	switch mode {
	case ModeBody:
		lo, hi = c.BodyLow(), c.BodyHigh()
	case ModeWick:
		if kind == model.Resistance {
			lo, hi = c.BodyHigh(), c.High
		} else {
			lo, hi = c.Low, c.BodyLow()
		}
	default:
		lo, hi = c.Low, c.High
	}
	if hi <= lo {
		lo, hi = c.Low, c.High
	}
	return lo, hi
}
