package strategy

import (
	"hars/internal/models"
	"hars/pkg/utils"
)

// ============================================================
// Модель стопов: дистанция по режиму + risk/reward
// ============================================================

// Базовые дистанции стопа в долях цены, по режимам.
// Тренды дают больше пространства, сбалансированный рынок - меньше.
var regimeStopDistance = map[models.HTFRegime]float64{
	models.RegimeTrendUp:        0.008,
	models.RegimeTrendDown:      0.008,
	models.RegimeBalanced:       0.005,
	models.RegimeHighVolatility: 0.015,
	models.RegimeTransition:     0.010,
}

const (
	defaultStopDistance = 0.010
	riskRewardRatio     = 2.0
	// Максимальный коэффициент расширения стопа по волатильности
	maxVolWiden = 2.0
)

// ComputeStops возвращает stop loss и take profit для входа.
//
// Дистанция берётся по режиму и расширяется обратно пропорционально
// множителю волатильности: чем волатильнее рынок (ниже множитель),
// тем дальше стоп, чтобы не выбивало шумом. Take profit ставится
// на фиксированном risk/reward от стопа.
func ComputeStops(price float64, direction string, regime models.HTFRegime, volMult float64) (stopLoss, takeProfit float64) {
	if price <= 0 {
		return 0, 0
	}

	dist, ok := regimeStopDistance[regime]
	if !ok {
		dist = defaultStopDistance
	}

	widen := 1.0
	if volMult > 0 && volMult < 1 {
		widen = utils.Min(maxVolWiden, 1.0/volMult)
	}
	dist *= widen

	if direction == models.DirectionShort {
		stopLoss = price * (1 + dist)
		takeProfit = price * (1 - dist*riskRewardRatio)
	} else {
		stopLoss = price * (1 - dist)
		takeProfit = price * (1 + dist*riskRewardRatio)
	}
	return stopLoss, takeProfit
}
