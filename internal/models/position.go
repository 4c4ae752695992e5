package models

import "time"

// Position - агрегированная позиция по одному символу.
// Direction наследует константы DirectionLong/DirectionShort.
type Position struct {
	Symbol        string    `json:"symbol"`
	Direction     string    `json:"direction"` // LONG | SHORT
	Size          float64   `json:"size"`      // всегда >= 0, знак несёт Direction
	AvgEntryPrice float64   `json:"avg_entry_price"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PortfolioSnapshot - read-only срез портфеля для risk engine.
// Источник истины - снапшоты аккаунта с биржи, не локальные fills.
type PortfolioSnapshot struct {
	Timestamp     time.Time            `json:"timestamp"`
	Positions     map[string]*Position `json:"positions"`
	RealizedPnl   float64              `json:"realized_pnl"`
	UnrealizedPnl float64              `json:"unrealized_pnl"`
	DailyPnl      float64              `json:"daily_pnl"`
	DrawdownPct   float64              `json:"drawdown_pct"`
	ExposureUSD   float64              `json:"exposure_usd"`
}

// Open возвращает true, если по символу есть открытая позиция
func (s *PortfolioSnapshot) Open(symbol string) bool {
	if s == nil || s.Positions == nil {
		return false
	}
	pos, ok := s.Positions[symbol]
	return ok && pos.Size > 0
}

// SymbolExposure возвращает экспозицию по символу в USD
func (s *PortfolioSnapshot) SymbolExposure(symbol string) float64 {
	if s == nil || s.Positions == nil {
		return 0
	}
	pos, ok := s.Positions[symbol]
	if !ok {
		return 0
	}
	return pos.Size * pos.AvgEntryPrice
}
