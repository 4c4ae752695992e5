package utils

import (
	"math"
)

// math.go - математические утилиты для торгового движка
//
// Назначение:
// Вспомогательные функции для размеров ордеров, PNL и скользящей
// статистики (волатильность, корреляция).
// Все функции являются чистыми (pure functions) без побочных эффектов.

// RoundToLotSize округляет значение ВНИЗ до ближайшего кратного lotSize.
//
// Используется для округления объёма ордера до минимального шага биржи.
// Округление вниз гарантирует, что мы не превысим выделенную аллокацию.
//
// Примеры:
//   - RoundToLotSize(0.123456, 0.001) = 0.123
//   - RoundToLotSize(1.999, 0.01) = 1.99
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	return math.Floor(value/lotSize) * lotSize
}

// RoundToLotSizeUp округляет значение ВВЕРХ до ближайшего кратного lotSize.
//
// Используется когда нужно гарантировать минимальный объём (например, для minQty).
func RoundToLotSizeUp(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	return math.Ceil(value/lotSize) * lotSize
}

// RoundToLotSizeNearest округляет к ближайшему кратному lotSize.
func RoundToLotSizeNearest(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	return math.Round(value/lotSize) * lotSize
}

// CalculatePNL расчитывает прибыль/убыток по позиции.
//
// Формулы:
//   - Long PNL = (P_close - P_open) × qty
//   - Short PNL = (P_open - P_close) × qty
//
// Параметры:
//   - side: "long" или "short"
//   - entryPrice: цена входа
//   - currentPrice: текущая/выходная цена
//   - quantity: объём позиции (положительный)
func CalculatePNL(side string, entryPrice, currentPrice, quantity float64) float64 {
	if quantity <= 0 {
		return 0
	}

	switch side {
	case "long":
		return (currentPrice - entryPrice) * quantity
	case "short":
		return (entryPrice - currentPrice) * quantity
	default:
		return 0
	}
}

// Mean вычисляет среднее арифметическое. 0 для пустого слайса.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev вычисляет выборочное стандартное отклонение (n-1).
// 0 если точек меньше двух.
func StdDev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	mean := Mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// PctReturns вычисляет процентные изменения между соседними точками.
//
// returns[i] = (prices[i+1] - prices[i]) / prices[i]
//
// Точки с нулевой или отрицательной ценой пропускаются.
// Возвращает nil если точек меньше двух.
func PctReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}
	return returns
}

// PearsonCorrelation вычисляет коэффициент корреляции Пирсона двух рядов.
//
// Ряды должны быть одинаковой длины и содержать минимум две точки.
// Возвращает 0 при вырожденных данных (нулевая дисперсия, разная длина).
func PearsonCorrelation(a, b []float64) float64 {
	n := len(a)
	if n < 2 || n != len(b) {
		return 0
	}

	meanA := Mean(a)
	meanB := Mean(b)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}

	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// CalculateWeightedAverage вычисляет средневзвешенное значение (VWAP).
//
// Формула:
//
//	VWAP = Σ(price_i × volume_i) / Σ(volume_i)
//
// Возвращает 0 если входные данные некорректны.
func CalculateWeightedAverage(values, weights []float64) float64 {
	if len(values) == 0 || len(values) != len(weights) {
		return 0
	}

	var sumWeighted, sumWeights float64
	for i := range values {
		if weights[i] < 0 {
			continue
		}
		sumWeighted += values[i] * weights[i]
		sumWeights += weights[i]
	}

	if sumWeights == 0 {
		return 0
	}
	return sumWeighted / sumWeights
}

// Abs возвращает абсолютное значение числа.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Min возвращает минимум из двух чисел.
func Min(a, b float64) float64 {
	return math.Min(a, b)
}

// Max возвращает максимум из двух чисел.
func Max(a, b float64) float64 {
	return math.Max(a, b)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
