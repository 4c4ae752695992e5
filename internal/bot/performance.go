package bot

import (
	"sync"

	"hars/internal/models"
)

// ============================================================
// Performance tracker: статистика по модулям стратегий
// ============================================================

// minTradesForScore - до этого числа сделок score нейтрален:
// ранняя серия убытков не должна выключать модуль
const minTradesForScore = 5

// ModuleStats - накопленная статистика одного модуля
type ModuleStats struct {
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	TotalPnl float64 `json:"total_pnl"`
}

// WinRate возвращает долю прибыльных сделок
func (s ModuleStats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}

// PerformanceTracker копит результаты сделок по модулям
type PerformanceTracker struct {
	mu    sync.Mutex
	stats map[models.StrategyModule]*ModuleStats
}

// NewPerformanceTracker создаёт пустой трекер
func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{stats: make(map[models.StrategyModule]*ModuleStats)}
}

// RecordTrade регистрирует закрытую сделку модуля
func (t *PerformanceTracker) RecordTrade(module models.StrategyModule, pnl float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[module]
	if !ok {
		s = &ModuleStats{}
		t.stats[module] = s
	}
	s.Trades++
	if pnl > 0 {
		s.Wins++
	}
	s.TotalPnl += pnl
}

// Score возвращает оценку модуля в [0,1]: win rate после достаточной
// выборки, нейтральные 0.5 до неё
func (t *PerformanceTracker) Score(module models.StrategyModule) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[module]
	if !ok || s.Trades < minTradesForScore {
		return 0.5
	}
	return s.WinRate()
}

// Stats возвращает копию статистики всех модулей
func (t *PerformanceTracker) Stats() map[models.StrategyModule]ModuleStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[models.StrategyModule]ModuleStats, len(t.stats))
	for m, s := range t.stats {
		out[m] = *s
	}
	return out
}
