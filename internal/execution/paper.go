package execution

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pondem87/kraken/internal/model"
)

// Observer is told about account changes; metrics implement it.
type Observer interface {
	PositionsOpen(symbol string, n int)
	BalanceChanged(balance float64)
	TradeClosed(symbol, outcome string)
}

// PaperOption configures a Paper account.
type PaperOption func(*Paper)

// WithJournal records every closed position.
func WithJournal(r TradeRecorder) PaperOption {
	return func(p *Paper) { p.journal = r }
}

// WithObserver sets the account observer.
func WithObserver(o Observer) PaperOption {
	return func(p *Paper) { p.obs = o }
}

// WithPaperLogger sets the account logger.
func WithPaperLogger(l *slog.Logger) PaperOption {
	return func(p *Paper) { p.log = l }
}

// Paper simulates order execution without real broker calls. It is a
// signal, candle and structure sink of the driver. One account may serve
// several instruments.
type Paper struct {
	mu       sync.Mutex
	cfg      Config
	contract decimal.Decimal
	initial  decimal.Decimal
	balance  decimal.Decimal

	open      []*Position
	closed    []Position
	lastClose map[string]float64
	skipped   int

	risk    *RiskManager
	journal TradeRecorder
	obs     Observer
	log     *slog.Logger
}

// NewPaper creates a paper account. The config must already be valid.
func NewPaper(cfg Config, opts ...PaperOption) *Paper {
	initial := decimal.NewFromFloat(cfg.InitialBalance)
	p := &Paper{
		cfg:       cfg,
		contract:  decimal.NewFromFloat(cfg.ContractSize),
		initial:   initial,
		balance:   initial,
		lastClose: make(map[string]float64),
		risk:      NewRiskManager(cfg, initial),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(slog.String("component", "paper"))
	return p
}

// OnSignal closes opposite positions on the symbol, then opens a new one
// when sizing and risk limits allow. Signals that cannot be traded are
// logged and skipped; only journal failures are returned.
func (p *Paper) OnSignal(ctx context.Context, sig model.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.cfg.CloseOpposite {
		for _, pos := range p.openFor(sig.Symbol) {
			if pos.Direction != sig.Direction {
				errs = append(errs, p.close(ctx, pos, sig.Entry, sig.TS, ExitOpposite))
			}
		}
	}
	p.lastClose[sig.Symbol] = sig.Entry

	if pos, reason := p.build(sig); pos == nil {
		p.skipped++
		p.log.Warn("signal not traded",
			slog.String("signal", sig.ID),
			slog.String("symbol", sig.Symbol),
			slog.String("reason", reason),
		)
	} else {
		p.open = append(p.open, pos)
		p.log.Info("position opened",
			slog.String("id", pos.ID),
			slog.String("symbol", pos.Symbol),
			slog.String("direction", string(pos.Direction)),
			slog.String("volume", pos.Volume.String()),
			slog.Float64("entry", pos.Entry),
			slog.Float64("stop", pos.Stop),
			slog.Float64("target", pos.Target),
		)
		p.notifyPositions(sig.Symbol)
	}
	p.markToMarket()
	return errors.Join(errs...)
}

// build sizes a position for sig, or returns nil with the reason it cannot
// be opened.
func (p *Paper) build(sig model.Signal) (*Position, string) {
	if ok, why := p.risk.CanTrade(len(p.open)); !ok {
		return nil, why
	}

	entry := sig.Entry
	if p.cfg.SlippageBps > 0 {
		slip := entry * float64(p.cfg.SlippageBps) / 10000
		if sig.Direction == model.Long {
			entry += slip // buy higher
		} else {
			entry -= slip // sell lower
		}
	}
	pos := &Position{
		ID:          model.NewID("position", sig.ID),
		SignalID:    sig.ID,
		Strategy:    sig.Strategy,
		Symbol:      sig.Symbol,
		Direction:   sig.Direction,
		Entry:       entry,
		InitialStop: sig.Stop,
		Stop:        sig.Stop,
		Target:      sig.Target,
		OpenedAt:    sig.TS,
	}
	if pos.InitialRisk() <= 0 {
		return nil, "stop on the wrong side of entry"
	}
	if pos.R(sig.Target) <= 0 {
		return nil, "target on the wrong side of entry"
	}

	base := p.initial
	if p.cfg.CompoundRisk {
		base = p.balance
	}
	perUnit := decimal.NewFromFloat(pos.InitialRisk()).Mul(p.contract)
	vol := base.Mul(decimal.NewFromFloat(p.cfg.RiskPerTrade)).Div(perUnit)

	step := decimal.NewFromFloat(p.cfg.VolumeMin)
	maxVol := decimal.NewFromFloat(p.cfg.VolumeMax)
	switch {
	case vol.LessThan(step):
		return nil, "position requires less than the minimum volume"
	case vol.GreaterThan(maxVol):
		vol = maxVol
	default:
		vol = vol.Div(step).Floor().Mul(step)
	}
	pos.Volume = vol
	return pos, ""
}

// OnCandle checks stops and targets of the symbol's open positions against
// the candle range, then manages the stops of the survivors at the close.
// When a candle reaches both the stop and the target the stop wins.
func (p *Paper) OnCandle(ctx context.Context, c model.Candle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, pos := range p.openFor(c.Symbol) {
		if price, reason, hit := exitHit(pos, c); hit {
			errs = append(errs, p.close(ctx, pos, price, c.TS.Add(c.TF.Duration()), reason))
			continue
		}
		p.manageStop(pos, c.Close)
	}
	p.lastClose[c.Symbol] = c.Close
	p.markToMarket()
	return errors.Join(errs...)
}

// OnStructure applies the structure actions to the symbol's open positions
// for one base timeframe event. st is the state after the event's candle.
// A change of character against a position closes it at the breaking
// close (ExitOn); a break of structure moves the stop of positions in the
// break direction to the new protected swing when that tightens it
// (MoveStopOnBOS).
func (p *Paper) OnStructure(ctx context.Context, symbol string, ev model.StructureEvent, st model.StructureState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.exitOn(ev, st) {
		for _, pos := range p.openFor(symbol) {
			if pos.Direction.Bias() == ev.NewBias {
				continue
			}
			errs = append(errs, p.close(ctx, pos, ev.Price, ev.TS.Add(ev.TF.Duration()), ExitStructure))
		}
	}
	if p.cfg.MoveStopOnBOS && ev.Kind == model.BreakOfStructure {
		for _, pos := range p.openFor(symbol) {
			if pos.Direction.Bias() != ev.NewBias {
				continue
			}
			if level, ok := st.KeyLevel(pos.Direction); ok {
				p.moveStop(pos, level, ev.Price)
			}
		}
	}
	p.lastClose[symbol] = ev.Price
	p.markToMarket()
	return errors.Join(errs...)
}

func (p *Paper) exitOn(ev model.StructureEvent, st model.StructureState) bool {
	switch p.cfg.ExitOn {
	case ExitOnCHoCH:
		return ev.Kind == model.ChangeOfCharacter
	case ExitOnCHoCHConfirmed:
		return ev.Kind == model.BreakOfStructure && st.CHoCHConfirmed && st.BOSCount == 1
	}
	return false
}

// moveStop puts the stop on a swing level when it is tighter than the
// current stop and still on the losing side of last.
func (p *Paper) moveStop(pos *Position, level, last float64) {
	tighter := level > pos.Stop && level < last
	if pos.Direction == model.Short {
		tighter = level < pos.Stop && level > last
	}
	if !tighter {
		return
	}
	p.log.Info("stop moved to swing",
		slog.String("id", pos.ID),
		slog.Float64("from", pos.Stop),
		slog.Float64("to", level),
	)
	pos.Stop = level
	pos.StructureStop = true
}

func exitHit(pos *Position, c model.Candle) (float64, ExitReason, bool) {
	if pos.Direction == model.Long {
		switch {
		case c.Low <= pos.Stop:
			return pos.Stop, pos.stopReason(), true
		case c.High >= pos.Target:
			return pos.Target, ExitTarget, true
		}
		return 0, "", false
	}
	switch {
	case c.High >= pos.Stop:
		return pos.Stop, pos.stopReason(), true
	case c.Low <= pos.Target:
		return pos.Target, ExitTarget, true
	}
	return 0, "", false
}

// manageStop moves the stop to entry once price has run BreakEvenAtR, and
// trails it one initial risk behind the close beyond TrailingAtR. Stops
// only ever tighten.
func (p *Paper) manageStop(pos *Position, last float64) {
	r := pos.R(last)
	stop := pos.Stop
	switch {
	case p.cfg.TrailingAtR > 0 && r > p.cfg.TrailingAtR:
		if pos.Direction == model.Long {
			stop = last - pos.InitialRisk()
		} else {
			stop = last + pos.InitialRisk()
		}
	case p.cfg.BreakEvenAtR > 0 && r >= p.cfg.BreakEvenAtR:
		stop = pos.Entry
	default:
		return
	}
	tighter := stop > pos.Stop
	if pos.Direction == model.Short {
		tighter = stop < pos.Stop
	}
	if !tighter {
		return
	}
	p.log.Debug("stop moved",
		slog.String("id", pos.ID),
		slog.Float64("from", pos.Stop),
		slog.Float64("to", stop),
		slog.Float64("r", r),
	)
	pos.Stop = stop
	pos.StructureStop = false
}

// CloseAll closes every open position at the symbol's last known price.
func (p *Paper) CloseAll(ctx context.Context, ts time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, pos := range append([]*Position(nil), p.open...) {
		price, ok := p.lastClose[pos.Symbol]
		if !ok {
			price = pos.Entry
		}
		errs = append(errs, p.close(ctx, pos, price, ts, ExitEndOfRun))
	}
	p.markToMarket()
	return errors.Join(errs...)
}

func (p *Paper) close(ctx context.Context, pos *Position, price float64, ts time.Time, reason ExitReason) error {
	pos.Closed = true
	pos.Exit = price
	pos.ClosedAt = ts
	pos.Reason = reason
	pos.PnL = pos.ValueAt(price, p.contract)

	p.balance = p.balance.Add(pos.PnL)
	p.risk.RecordPnL(pos.PnL)
	for i, o := range p.open {
		if o == pos {
			p.open = append(p.open[:i], p.open[i+1:]...)
			break
		}
	}
	p.closed = append(p.closed, *pos)

	p.log.Info("position closed",
		slog.String("id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("reason", string(reason)),
		slog.Float64("exit", price),
		slog.String("pnl", pos.PnL.StringFixed(2)),
		slog.String("balance", p.balance.StringFixed(2)),
	)
	if p.obs != nil {
		p.obs.TradeClosed(pos.Symbol, pos.Outcome())
		p.obs.BalanceChanged(p.balance.InexactFloat64())
	}
	p.notifyPositions(pos.Symbol)

	if p.journal != nil {
		return p.journal.RecordTrade(ctx, *pos)
	}
	return nil
}

// markToMarket feeds the equity to the risk manager.
func (p *Paper) markToMarket() {
	p.risk.UpdateEquity(p.equity())
}

func (p *Paper) equity() decimal.Decimal {
	eq := p.balance
	for _, pos := range p.open {
		if price, ok := p.lastClose[pos.Symbol]; ok {
			eq = eq.Add(pos.ValueAt(price, p.contract))
		}
	}
	return eq
}

func (p *Paper) openFor(symbol string) []*Position {
	var out []*Position
	for _, pos := range p.open {
		if pos.Symbol == symbol {
			out = append(out, pos)
		}
	}
	return out
}

func (p *Paper) notifyPositions(symbol string) {
	if p.obs != nil {
		p.obs.PositionsOpen(symbol, len(p.openFor(symbol)))
	}
}

// Open returns copies of the open positions.
func (p *Paper) Open() []Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Position, len(p.open))
	for i, pos := range p.open {
		out[i] = *pos
	}
	return out
}

// Closed returns the closed positions, oldest first.
func (p *Paper) Closed() []Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Position(nil), p.closed...)
}

// Summary returns the account summary.
func (p *Paper) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Summary{
		InitialBalance: p.initial.InexactFloat64(),
		Balance:        p.balance.InexactFloat64(),
		Equity:         p.equity().InexactFloat64(),
		PeakEquity:     p.risk.peakEquity.InexactFloat64(),
		MaxDrawdownPct: math.Round(p.risk.maxDrawdown*100) / 100,
		RealizedPnL:    p.risk.realized.InexactFloat64(),
		Trades:         len(p.closed),
		OpenPositions:  len(p.open),
		Skipped:        p.skipped,
	}
	for _, pos := range p.closed {
		switch pos.Outcome() {
		case "win":
			s.Wins++
		case "loss":
			s.Losses++
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}
	return s
}
