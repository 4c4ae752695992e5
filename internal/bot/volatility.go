package bot

import (
	"sync"

	"hars/pkg/utils"
)

// ============================================================
// Модель волатильности: ступенчатый множитель по stdev доходностей
// ============================================================

// VolatilityConfig - пороги ступенчатой функции
type VolatilityConfig struct {
	// Окно цен для расчёта доходностей
	Window int
	// Stdev доходностей, начиная с которого рынок считается высоковолатильным
	HighThreshold float64
	// Stdev доходностей умеренной волатильности
	ModerateThreshold float64
}

// DefaultVolatilityConfig - пороги откалиброваны под 1m-5m тики крупных перпов
func DefaultVolatilityConfig() VolatilityConfig {
	return VolatilityConfig{
		Window:            20,
		HighThreshold:     0.004,
		ModerateThreshold: 0.002,
	}
}

const (
	volMultHigh     = 0.4
	volMultModerate = 0.7
)

// VolatilityModel держит короткие окна цен по символам и выдаёт
// ступенчатый множитель: 0.4 / 0.7 / 1.0
type VolatilityModel struct {
	cfg    VolatilityConfig
	mu     sync.Mutex
	prices map[string][]float64
}

// NewVolatilityModel создаёт модель
func NewVolatilityModel(cfg VolatilityConfig) *VolatilityModel {
	if cfg.Window < 2 {
		cfg.Window = 2
	}
	return &VolatilityModel{
		cfg:    cfg,
		prices: make(map[string][]float64),
	}
}

// Observe добавляет цену в окно символа
func (m *VolatilityModel) Observe(symbol string, price float64) {
	if price <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	w := append(m.prices[symbol], price)
	// Window+1 цен дают Window доходностей
	if len(w) > m.cfg.Window+1 {
		w = w[len(w)-m.cfg.Window-1:]
	}
	m.prices[symbol] = w
}

// Multiplier возвращает множитель волатильности и флаг vol spike.
// Пока данных недостаточно, рынок считается спокойным (1.0).
func (m *VolatilityModel) Multiplier(symbol string) (mult float64, spike bool) {
	m.mu.Lock()
	window := m.prices[symbol]
	m.mu.Unlock()

	sd := utils.StdDev(utils.PctReturns(window))
	switch {
	case sd >= m.cfg.HighThreshold:
		return volMultHigh, true
	case sd >= m.cfg.ModerateThreshold:
		return volMultModerate, false
	default:
		return 1.0, false
	}
}
