package bot

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"hars/internal/exchange"
	"hars/internal/models"
	"hars/pkg/utils"
)

// ============================================================
// Portfolio state: книга позиций по данным биржи
// ============================================================
//
// Источник истины - снапшоты аккаунта с биржи, не локально выведенные
// fills: локальный учёт неизбежно дрейфует. Пишут сюда только
// Update-методы, читают risk engine и ops surface через Snapshot.

// Portfolio хранит текущее состояние книги
type Portfolio struct {
	log *zap.Logger

	mu            sync.RWMutex
	balance       float64
	exposureUSD   float64
	positions     map[string]*models.Position
	realizedPnl   float64
	dailyPnl      float64
	drawdownPct   float64
	lastUpdatedAt time.Time
	pnlDay        time.Time
}

// NewPortfolio создаёт пустое состояние портфеля
func NewPortfolio(log *zap.Logger) *Portfolio {
	return &Portfolio{
		log:       log,
		positions: make(map[string]*models.Position),
	}
}

// UpdateFromAccount замещает книгу позиций снапшотом аккаунта
func (p *Portfolio) UpdateFromAccount(snap *exchange.AccountSnapshot) {
	if snap == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.balance = snap.Balance
	p.exposureUSD = snap.ExposureUSD

	positions := make(map[string]*models.Position, len(snap.Positions))
	for _, ap := range snap.Positions {
		if ap == nil || ap.Size <= 0 {
			continue
		}
		positions[ap.Symbol] = &models.Position{
			Symbol:        ap.Symbol,
			Direction:     ap.Direction,
			Size:          ap.Size,
			AvgEntryPrice: ap.EntryPrice,
			UnrealizedPnl: ap.UnrealizedPnl,
			UpdatedAt:     snap.Timestamp,
		}
	}
	p.positions = positions
	p.lastUpdatedAt = snap.Timestamp

	OpenPositions.Set(float64(len(positions)))
	ExposureUSD.Set(snap.ExposureUSD)
}

// UpdateFromPnl обновляет агрегаты PnL. Дневной PnL сбрасывается на
// границе UTC-суток.
func (p *Portfolio) UpdateFromPnl(snap *exchange.PnlSnapshot) {
	if snap == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.pnlDay.IsZero() && !utils.SameUTCDay(p.pnlDay, snap.Timestamp) {
		p.log.Info("daily pnl rollover",
			zap.Float64("previous_daily_pnl", p.dailyPnl))
	}
	p.pnlDay = snap.Timestamp

	p.realizedPnl = snap.RealizedPnl
	p.dailyPnl = snap.DailyPnl
	p.drawdownPct = snap.DrawdownPct
}

// Snapshot возвращает глубокую копию состояния портфеля
func (p *Portfolio) Snapshot() *models.PortfolioSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	positions := make(map[string]*models.Position, len(p.positions))
	unrealized := 0.0
	for sym, pos := range p.positions {
		cp := *pos
		positions[sym] = &cp
		unrealized += pos.UnrealizedPnl
	}

	return &models.PortfolioSnapshot{
		Timestamp:     p.lastUpdatedAt,
		Positions:     positions,
		RealizedPnl:   p.realizedPnl,
		UnrealizedPnl: unrealized,
		DailyPnl:      p.dailyPnl,
		DrawdownPct:   p.drawdownPct,
		ExposureUSD:   p.exposureUSD,
	}
}

// Balance возвращает последний известный баланс аккаунта
func (p *Portfolio) Balance() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance
}
