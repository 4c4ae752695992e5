package bot

import (
	"sync"

	"hars/pkg/utils"
)

// ============================================================
// Модель ликвидности: потолок нотионала через долю участия
// ============================================================

// LiquidityConfig - параметры модели
type LiquidityConfig struct {
	// Доля от оценённой ликвидности символа, которую позволено занять
	// одним ордером (0.02 = 2% участия)
	ParticipationRate float64
}

// DefaultLiquidityConfig - значения по умолчанию
func DefaultLiquidityConfig() LiquidityConfig {
	return LiquidityConfig{ParticipationRate: 0.02}
}

// LiquidityModel хранит оценки доступной ликвидности (нотионал в USD)
// по символам. Оценка подаётся извне: из объёмов тикера или
// статически из конфига.
type LiquidityModel struct {
	cfg       LiquidityConfig
	mu        sync.RWMutex
	estimates map[string]float64
}

// NewLiquidityModel создаёт модель
func NewLiquidityModel(cfg LiquidityConfig) *LiquidityModel {
	if cfg.ParticipationRate <= 0 {
		cfg.ParticipationRate = 0.02
	}
	return &LiquidityModel{
		cfg:       cfg,
		estimates: make(map[string]float64),
	}
}

// SetEstimate задаёт оценку ликвидности символа (нотионал в USD)
func (m *LiquidityModel) SetEstimate(symbol string, notionalUSD float64) {
	if notionalUSD < 0 {
		return
	}
	m.mu.Lock()
	m.estimates[symbol] = notionalUSD
	m.mu.Unlock()
}

// Multiplier возвращает min(1, maxAllowedNotional / proposedNotional).
//
// Если оценки ликвидности нет, ограничение не применяется (1.0):
// лимиты экспозиции выше по стеку остаются жёстким потолком.
func (m *LiquidityModel) Multiplier(symbol string, proposedNotional float64) float64 {
	if proposedNotional <= 0 {
		return 1.0
	}

	m.mu.RLock()
	estimate, ok := m.estimates[symbol]
	m.mu.RUnlock()
	if !ok || estimate <= 0 {
		return 1.0
	}

	maxAllowed := estimate * m.cfg.ParticipationRate
	return utils.Min(1.0, maxAllowed/proposedNotional)
}
