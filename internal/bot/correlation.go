package bot

import (
	"sync"

	"hars/pkg/utils"
)

// ============================================================
// Трекер корреляций: rolling-корреляция доходностей между символами
// ============================================================

// CorrelationConfig - параметры расчёта
type CorrelationConfig struct {
	// Окно цен для расчёта корреляции
	Window int
	// Порог, выше которого пара считается сильно коррелированной
	Threshold float64
	// Предел суммарного размера коррелированных открытых позиций (в монетах)
	ClusterExposureCap float64
}

// DefaultCorrelationConfig - значения по умолчанию
func DefaultCorrelationConfig() CorrelationConfig {
	return CorrelationConfig{
		Window:             50,
		Threshold:          0.75,
		ClusterExposureCap: 2.0,
	}
}

// CorrelationTracker держит окна цен по символам и считает попарную
// корреляцию Пирсона их доходностей
type CorrelationTracker struct {
	cfg    CorrelationConfig
	mu     sync.Mutex
	prices map[string][]float64
}

// NewCorrelationTracker создаёт трекер
func NewCorrelationTracker(cfg CorrelationConfig) *CorrelationTracker {
	if cfg.Window < 3 {
		cfg.Window = 3
	}
	return &CorrelationTracker{
		cfg:    cfg,
		prices: make(map[string][]float64),
	}
}

// Observe добавляет цену в окно символа
func (t *CorrelationTracker) Observe(symbol string, price float64) {
	if price <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	w := append(t.prices[symbol], price)
	if len(w) > t.cfg.Window {
		w = w[len(w)-t.cfg.Window:]
	}
	t.prices[symbol] = w
}

// Correlation возвращает корреляцию доходностей двух символов.
// 0 если данных недостаточно.
func (t *CorrelationTracker) Correlation(a, b string) float64 {
	t.mu.Lock()
	pa := t.prices[a]
	pb := t.prices[b]
	t.mu.Unlock()

	ra := utils.PctReturns(pa)
	rb := utils.PctReturns(pb)

	// Выравниваем длины по хвосту
	n := len(ra)
	if len(rb) < n {
		n = len(rb)
	}
	if n < 2 {
		return 0
	}
	return utils.PearsonCorrelation(ra[len(ra)-n:], rb[len(rb)-n:])
}

// CorrelatedExposure суммирует |размер| открытых позиций, чья
// корреляция с symbol по модулю не ниже порога.
//
// Пока окон недостаточно, корреляция неизвестна и позиция в кластер
// не попадает: модель отдаёт предпочтение торговле, жёсткие лимиты
// экспозиции всё равно применяются отдельно.
func (t *CorrelationTracker) CorrelatedExposure(symbol string, openSizes map[string]float64) float64 {
	var total float64
	for other, size := range openSizes {
		if other == symbol {
			continue
		}
		corr := t.Correlation(symbol, other)
		if utils.Abs(corr) >= t.cfg.Threshold {
			total += utils.Abs(size)
		}
	}
	return total
}

// OverCap возвращает true если коррелированная экспозиция превышает лимит
func (t *CorrelationTracker) OverCap(symbol string, openSizes map[string]float64) bool {
	return t.CorrelatedExposure(symbol, openSizes) > t.cfg.ClusterExposureCap
}
