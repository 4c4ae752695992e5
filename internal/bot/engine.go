package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"hars/internal/exchange"
	"hars/internal/models"
	"hars/internal/strategy"
	"hars/pkg/utils"
)

// ============================================================
// Trading engine: кооперативные циклы торгового конвейера
// ============================================================
//
// Поток данных на тике, по каждому символу:
// снапшот рынка -> классификация режима -> роутер (режим, риск) ->
// предложение -> risk engine (предложение, портфель) -> execution ->
// реконсилятор -> портфель -> обратно в risk engine.
//
// Engine не содержит торговой логики - только склейка циклов и
// распределение данных между компонентами.

// EngineConfig - параметры циклов
type EngineConfig struct {
	Symbols []string

	// Интервал торгового тика
	TickInterval time.Duration
	// Интервал синхронизации аккаунта и PnL с биржей
	SyncInterval time.Duration
	// Таймаут запроса к бирже в sync-цикле
	RequestTimeout time.Duration

	// Глубина истории цен на символ (для SMA/stdev/корреляции)
	PriceHistory int

	// Размер буфера канала уведомлений
	NotificationBuffer int
}

// DefaultEngineConfig - значения по умолчанию
func DefaultEngineConfig(symbols []string) EngineConfig {
	return EngineConfig{
		Symbols:            symbols,
		TickInterval:       15 * time.Second,
		SyncInterval:       30 * time.Second,
		RequestTimeout:     10 * time.Second,
		PriceHistory:       120,
		NotificationBuffer: 256,
	}
}

// NotificationSink - приёмник уведомлений (лог, БД). Может быть nil.
type NotificationSink func(ctx context.Context, n models.Notification)

// Engine связывает компоненты конвейера и владеет их циклами
type Engine struct {
	cfg        EngineConfig
	adapter    exchange.Adapter
	feed       *exchange.PriceFeed
	regimes    *RegimeEngine
	router     *Router
	risk       *RiskBrain
	execution  *ExecutionEngine
	reconciler *Reconciler
	portfolio  *Portfolio
	perf       *PerformanceTracker
	sink       NotificationSink
	log        *zap.Logger

	mu      sync.Mutex
	history map[string][]float64  // цены от старых к новым
	trades  map[string]*openTrade // исполненные сделки до исхода, ключ - proposal_id

	notifications chan models.Notification
}

// openTrade - исполненная сделка, ожидающая исхода по стопу или тейку.
// Исход скармливается performance tracker'у.
type openTrade struct {
	module    models.StrategyModule
	symbol    string
	direction string
	entry     float64
	stop      float64
	target    float64
	size      float64
}

// outcome возвращает pnl сделки, если цена дошла до стопа или тейка
func (t *openTrade) outcome(price float64) (float64, bool) {
	switch t.direction {
	case models.DirectionLong:
		if t.stop > 0 && price <= t.stop {
			return (t.stop - t.entry) * t.size, true
		}
		if t.target > 0 && price >= t.target {
			return (t.target - t.entry) * t.size, true
		}
	case models.DirectionShort:
		if t.stop > 0 && price >= t.stop {
			return (t.entry - t.stop) * t.size, true
		}
		if t.target > 0 && price <= t.target {
			return (t.entry - t.target) * t.size, true
		}
	}
	return 0, false
}

// NewEngine собирает движок из готовых компонентов
func NewEngine(
	cfg EngineConfig,
	adapter exchange.Adapter,
	feed *exchange.PriceFeed,
	regimes *RegimeEngine,
	router *Router,
	risk *RiskBrain,
	execution *ExecutionEngine,
	reconciler *Reconciler,
	portfolio *Portfolio,
	perf *PerformanceTracker,
	sink NotificationSink,
	log *zap.Logger,
) *Engine {
	return &Engine{
		cfg:           cfg,
		adapter:       adapter,
		feed:          feed,
		regimes:       regimes,
		router:        router,
		risk:          risk,
		execution:     execution,
		reconciler:    reconciler,
		portfolio:     portfolio,
		perf:          perf,
		sink:          sink,
		log:           log,
		history:       make(map[string][]float64, len(cfg.Symbols)),
		trades:        make(map[string]*openTrade),
		notifications: make(chan models.Notification, cfg.NotificationBuffer),
	}
}

// Notify кладёт уведомление в канал без блокировки.
// Переполненный буфер - потеря уведомления с warn-логом, но не
// блокировка торгового пути.
func (e *Engine) Notify(n models.Notification) {
	select {
	case e.notifications <- n:
	default:
		e.log.Warn("notification buffer full, dropping",
			zap.String("type", n.Type), zap.String("message", n.Message))
	}
}

// Run запускает все циклы и блокируется до отмены контекста
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("trading engine starting",
		zap.Strings("symbols", e.cfg.Symbols),
		zap.Duration("tick_interval", e.cfg.TickInterval),
		zap.String("exchange", e.adapter.Name()))

	if e.feed != nil {
		e.feed.SetOnTicker(e.onTicker)
		go func() {
			if err := e.feed.Start(ctx); err != nil && ctx.Err() == nil {
				e.log.Error("price feed terminated", zap.Error(err))
			}
		}()
	}

	go e.reconciler.Run(ctx)
	go e.syncLoop(ctx)
	go e.notificationLoop(ctx)

	// первичная синхронизация до первого тика
	e.syncOnce(ctx)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("trading engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// onTicker - callback ценового фида: пополняет историю и модели риска
func (e *Engine) onTicker(t *exchange.Ticker) {
	price := t.Mid()
	if price <= 0 {
		return
	}

	e.mu.Lock()
	h := append(e.history[t.Symbol], price)
	if len(h) > e.cfg.PriceHistory {
		h = h[len(h)-e.cfg.PriceHistory:]
	}
	e.history[t.Symbol] = h
	e.mu.Unlock()

	e.risk.ObservePrice(t.Symbol, price)

	// Paper-адаптер исполняет по живой цене фида
	if ps, ok := e.adapter.(interface{ SetPrice(string, float64) }); ok {
		ps.SetPrice(t.Symbol, price)
	}
}

// snapshotHistory возвращает копию истории цен символа
func (e *Engine) snapshotHistory(symbol string) []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.history[symbol]
	out := make([]float64, len(h))
	copy(out, h)
	return out
}

// tick - один проход конвейера по всем символам
func (e *Engine) tick(ctx context.Context) {
	riskSnap := e.risk.Snapshot()
	if riskSnap.KillSwitch {
		e.log.Warn("tick skipped: kill switch active, manual reset required",
			zap.String("reason", riskSnap.KillReason))
		return
	}

	pf := e.portfolio.Snapshot()

	for _, symbol := range e.cfg.Symbols {
		select {
		case <-ctx.Done():
			return
		default:
		}
		e.tickSymbol(ctx, symbol, pf, riskSnap)
	}
}

func (e *Engine) tickSymbol(ctx context.Context, symbol string, pf *models.PortfolioSnapshot, riskSnap RiskSnapshot) {
	prices := e.snapshotHistory(symbol)
	if len(prices) == 0 {
		return
	}
	price := prices[len(prices)-1]

	e.resolveTrades(symbol, price)

	regime, prevRegime := e.regimes.Classify(symbol, prices)

	view := &strategy.MarketView{
		Symbol:        symbol,
		Price:         price,
		Prices:        prices,
		Regime:        regime,
		PrevRegime:    prevRegime,
		Auction:       e.auctionContext(symbol, prices),
		VolMultiplier: e.risk.VolMultiplier(symbol),
	}

	proposal := e.router.Route(view, riskSnap)
	if proposal == nil {
		return
	}

	rec := e.execution.Execute(ctx, proposal, pf, price)
	if rec == nil {
		return
	}

	e.registerTrade(proposal, rec)

	e.Notify(models.Notification{
		Timestamp: rec.Timestamp,
		Type:      models.NotificationTypeExecution,
		Severity:  models.SeverityInfo,
		Symbol:    rec.Symbol,
		Message:   "order executed: " + rec.ProposalID,
		Meta: map[string]interface{}{
			"module":         string(rec.Module),
			"direction":      rec.Direction,
			"allocated_size": rec.AllocatedSize,
			"executed_size":  rec.ExecutedSize,
		},
	})
}

// registerTrade ставит исполненную сделку в очередь на оценку исхода
func (e *Engine) registerTrade(p *models.ExecutionProposal, rec *models.ExecutionRecord) {
	entry := rec.ExecutedPrice
	if entry <= 0 {
		entry = rec.ReferencePrice
	}

	e.mu.Lock()
	e.trades[p.ProposalID] = &openTrade{
		module:    p.Module,
		symbol:    p.Symbol,
		direction: p.Direction,
		entry:     entry,
		stop:      p.StopLoss,
		target:    p.TakeProfit,
		size:      rec.AllocatedSize,
	}
	e.mu.Unlock()
}

// resolveTrades закрывает сделки символа, чья цена дошла до стопа или
// тейка, и передаёт исход performance tracker'у
func (e *Engine) resolveTrades(symbol string, price float64) {
	type result struct {
		module models.StrategyModule
		pnl    float64
	}
	var resolved []result

	e.mu.Lock()
	for id, tr := range e.trades {
		if tr.symbol != symbol {
			continue
		}
		pnl, done := tr.outcome(price)
		if !done {
			continue
		}
		delete(e.trades, id)
		resolved = append(resolved, result{tr.module, pnl})
	}
	e.mu.Unlock()

	for _, r := range resolved {
		e.perf.RecordTrade(r.module, r.pnl)
		e.log.Info("trade resolved",
			zap.String("symbol", symbol),
			zap.String("module", string(r.module)),
			zap.Float64("pnl", r.pnl))
	}
}

// auctionContext строит микроструктурные флаги из истории цен.
// Value area аппроксимируется полосой вокруг среднего окна: без
// полноценного volume profile это честная грубая оценка.
func (e *Engine) auctionContext(symbol string, prices []float64) models.AuctionContext {
	ticker := (*exchange.Ticker)(nil)
	if e.feed != nil {
		ticker = e.feed.Last(symbol)
	}

	price := prices[len(prices)-1]
	mean := price
	band := 0.0
	if len(prices) >= 20 {
		window := prices[len(prices)-20:]
		mean = utils.Mean(window)
		band = utils.StdDev(window)
	}

	val := mean - band
	vah := mean + band
	delta := true
	if ticker != nil && ticker.BidPrice > 0 && ticker.AskPrice > 0 {
		// упрощённый суррогат дельты: цена тяготеет к ask при покупках
		delta = price >= (ticker.BidPrice+ticker.AskPrice)/2
	}

	return models.AuctionContext{
		EntryAtVAL:       band > 0 && price <= val,
		EntryAtVAH:       band > 0 && price >= vah,
		EntryAtValueMid:  band > 0 && price > val && price < vah,
		OutsideValueArea: band > 0 && (price < val || price > vah),
		DeltaAligned:     delta,
		HTFFilterPassed:  true,
	}
}

// syncLoop периодически подтягивает аккаунт и PnL с биржи
func (e *Engine) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.syncOnce(ctx)
		}
	}
}

// syncOnce - одна синхронизация: портфель из снапшота аккаунта,
// риск из снапшота PnL. Ошибки адаптера идут в failure streak.
func (e *Engine) syncOnce(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	account, err := e.adapter.GetAccountState(reqCtx)
	cancel()
	if err != nil {
		e.risk.RegisterAPIFailure()
		e.log.Warn("account sync failed", zap.Error(err))
	} else {
		e.risk.RegisterAPISuccess()
		e.portfolio.UpdateFromAccount(account)
	}

	reqCtx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
	pnl, err := e.adapter.GetPnl(reqCtx)
	cancel()
	if err != nil {
		e.risk.RegisterAPIFailure()
		e.log.Warn("pnl sync failed", zap.Error(err))
		return
	}
	e.risk.RegisterAPISuccess()
	e.portfolio.UpdateFromPnl(pnl)
	e.risk.UpdateFromPnlSnapshot(pnl)
}

// notificationLoop дренирует канал уведомлений в sink и лог
func (e *Engine) notificationLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-e.notifications:
			e.logNotification(n)
			if e.sink != nil {
				e.sink(ctx, n)
			}
		}
	}
}

func (e *Engine) logNotification(n models.Notification) {
	fields := []zap.Field{
		zap.String("type", n.Type),
		zap.String("symbol", n.Symbol),
	}
	switch n.Severity {
	case models.SeverityError:
		e.log.Error(n.Message, fields...)
	case models.SeverityWarn:
		e.log.Warn(n.Message, fields...)
	default:
		e.log.Info(n.Message, fields...)
	}
}

// RiskSnapshot прокидывает срез риска для ops surface
func (e *Engine) RiskSnapshot() RiskSnapshot { return e.risk.Snapshot() }

// PortfolioSnapshot прокидывает срез портфеля для ops surface
func (e *Engine) PortfolioSnapshot() *models.PortfolioSnapshot { return e.portfolio.Snapshot() }

// TrackedOrders прокидывает ордера реконсилятора для ops surface
func (e *Engine) TrackedOrders() []models.TrackedOrder { return e.reconciler.Orders() }

// ModuleStats прокидывает статистику модулей для ops surface
func (e *Engine) ModuleStats() map[models.StrategyModule]ModuleStats { return e.perf.Stats() }

// ResetKillSwitch - операторский сброс kill switch
func (e *Engine) ResetKillSwitch() { e.risk.ResetKillSwitch() }
