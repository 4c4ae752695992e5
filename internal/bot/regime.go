package bot

import (
	"sync"

	"hars/internal/models"
	"hars/pkg/utils"
)

// ============================================================
// Regime engine: классификация режима рынка по старшему ТФ
// ============================================================
//
// Классификация по двум признакам на окне цен: наклон SMA (тренд) и
// stdev доходностей (волатильность). Порядок проверок: сначала
// волатильность (HIGH_VOLATILITY бьёт всё), затем тренд, затем
// различение BALANCED/TRANSITION по остаточному наклону.

// RegimeConfig - пороги классификатора режимов
type RegimeConfig struct {
	// Окно цен для SMA и stdev доходностей
	Window int
	// Stdev доходностей, с которого режим считается HIGH_VOLATILITY
	HighVolThreshold float64
	// Относительный наклон SMA, с которого режим считается трендовым
	TrendSlopeThreshold float64
	// Относительный наклон, ниже которого рынок считается BALANCED;
	// между Balanced и Trend порогами - TRANSITION
	BalancedSlopeThreshold float64
}

// DefaultRegimeConfig - значения по умолчанию
func DefaultRegimeConfig() RegimeConfig {
	return RegimeConfig{
		Window:                 30,
		HighVolThreshold:       0.004,
		TrendSlopeThreshold:    0.0015,
		BalancedSlopeThreshold: 0.0005,
	}
}

// RegimeEngine классифицирует режим и помнит предыдущий по символу
type RegimeEngine struct {
	cfg RegimeConfig

	mu   sync.Mutex
	prev map[string]models.HTFRegime
}

// NewRegimeEngine создаёт классификатор режимов
func NewRegimeEngine(cfg RegimeConfig) *RegimeEngine {
	return &RegimeEngine{cfg: cfg, prev: make(map[string]models.HTFRegime)}
}

// Classify возвращает (текущий режим, режим предыдущего вызова).
// prices - от старых к новым. При нехватке данных - BALANCED
// (консервативный дефолт, торговля разрешена со сниженным множителем).
func (re *RegimeEngine) Classify(symbol string, prices []float64) (models.HTFRegime, models.HTFRegime) {
	regime := re.classify(prices)

	re.mu.Lock()
	prev, ok := re.prev[symbol]
	if !ok {
		prev = regime
	}
	re.prev[symbol] = regime
	re.mu.Unlock()

	return regime, prev
}

func (re *RegimeEngine) classify(prices []float64) models.HTFRegime {
	if len(prices) < re.cfg.Window {
		return models.RegimeBalanced
	}
	window := prices[len(prices)-re.cfg.Window:]

	returns := utils.PctReturns(window)
	if utils.StdDev(returns) >= re.cfg.HighVolThreshold {
		return models.RegimeHighVolatility
	}

	slope := smaSlope(window)
	switch {
	case slope >= re.cfg.TrendSlopeThreshold:
		return models.RegimeTrendUp
	case slope <= -re.cfg.TrendSlopeThreshold:
		return models.RegimeTrendDown
	case utils.Abs(slope) <= re.cfg.BalancedSlopeThreshold:
		return models.RegimeBalanced
	default:
		return models.RegimeTransition
	}
}

// smaSlope - относительный наклон SMA: сравнение средних первой и
// второй половин окна, нормированное на среднее всего окна
func smaSlope(prices []float64) float64 {
	half := len(prices) / 2
	if half == 0 {
		return 0
	}
	first := utils.Mean(prices[:half])
	second := utils.Mean(prices[half:])
	mean := utils.Mean(prices)
	if mean == 0 {
		return 0
	}
	return (second - first) / mean
}
