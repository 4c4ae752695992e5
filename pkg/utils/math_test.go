package utils

import (
	"math"
	"testing"
)

// ============================================================
// Тесты RoundToLotSize
// ============================================================

func TestRoundToLotSize(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		lotSize  float64
		expected float64
	}{
		// Базовые кейсы
		{"exact match", 0.123, 0.001, 0.123},
		{"round down", 0.123456, 0.001, 0.123},
		{"round down 2", 1.999, 0.01, 1.99},
		{"whole numbers", 100.5, 1.0, 100.0},

		// Граничные случаи
		{"zero value", 0, 0.001, 0},
		{"zero lotSize", 0.123, 0, 0.123},
		{"negative lotSize", 0.123, -0.001, 0.123},

		// BTC примеры
		{"BTC lot 0.001", 0.5, 0.001, 0.5},
		{"BTC lot 0.001 round", 0.1234, 0.001, 0.123},

		// Большие числа
		{"large number", 12345.6789, 0.01, 12345.67},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToLotSize(tt.value, tt.lotSize)
			if !floatEquals(result, tt.expected) {
				t.Errorf("RoundToLotSize(%v, %v) = %v, want %v",
					tt.value, tt.lotSize, result, tt.expected)
			}
		})
	}
}

func TestRoundToLotSizeUp(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		lotSize  float64
		expected float64
	}{
		{"exact match", 0.123, 0.001, 0.123},
		{"round up", 0.1231, 0.001, 0.124},
		{"round up 2", 1.991, 0.01, 2.0},
		{"zero lotSize", 0.123, 0, 0.123},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToLotSizeUp(tt.value, tt.lotSize)
			if !floatEquals(result, tt.expected) {
				t.Errorf("RoundToLotSizeUp(%v, %v) = %v, want %v",
					tt.value, tt.lotSize, result, tt.expected)
			}
		})
	}
}

func TestRoundToLotSizeNearest(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		lotSize  float64
		expected float64
	}{
		{"exact match", 0.123, 0.001, 0.123},
		{"round down", 0.1234, 0.001, 0.123},
		{"round up", 0.1236, 0.001, 0.124},
		{"midpoint rounds up", 0.1235, 0.001, 0.124}, // Go округляет 0.5 вверх
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToLotSizeNearest(tt.value, tt.lotSize)
			if !floatEquals(result, tt.expected) {
				t.Errorf("RoundToLotSizeNearest(%v, %v) = %v, want %v",
					tt.value, tt.lotSize, result, tt.expected)
			}
		})
	}
}

// ============================================================
// Тесты CalculatePNL
// ============================================================

func TestCalculatePNL(t *testing.T) {
	tests := []struct {
		name     string
		side     string
		entry    float64
		current  float64
		quantity float64
		expected float64
	}{
		{"long profit", "long", 100.0, 110.0, 2.0, 20.0},
		{"long loss", "long", 100.0, 95.0, 2.0, -10.0},
		{"short profit", "short", 100.0, 90.0, 1.0, 10.0},
		{"short loss", "short", 100.0, 105.0, 1.0, -5.0},
		{"zero quantity", "long", 100.0, 110.0, 0, 0},
		{"unknown side", "flat", 100.0, 110.0, 1.0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculatePNL(tt.side, tt.entry, tt.current, tt.quantity)
			if !floatEquals(result, tt.expected) {
				t.Errorf("CalculatePNL(%s, %v, %v, %v) = %v, want %v",
					tt.side, tt.entry, tt.current, tt.quantity, result, tt.expected)
			}
		})
	}
}

// ============================================================
// Тесты статистики
// ============================================================

func TestMean(t *testing.T) {
	if got := Mean(nil); got != 0 {
		t.Errorf("Mean(nil) = %v, want 0", got)
	}
	if got := Mean([]float64{2, 4, 6}); !floatEquals(got, 4) {
		t.Errorf("Mean = %v, want 4", got)
	}
}

func TestStdDev(t *testing.T) {
	if got := StdDev([]float64{5}); got != 0 {
		t.Errorf("StdDev of single point = %v, want 0", got)
	}
	// Выборочное отклонение [2,4,4,4,5,5,7,9]: дисперсия 32/7
	got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	want := math.Sqrt(32.0 / 7.0)
	if !floatEquals(got, want) {
		t.Errorf("StdDev = %v, want %v", got, want)
	}
}

func TestPctReturns(t *testing.T) {
	if got := PctReturns([]float64{100}); got != nil {
		t.Errorf("PctReturns of single point = %v, want nil", got)
	}

	returns := PctReturns([]float64{100, 110, 99})
	if len(returns) != 2 {
		t.Fatalf("PctReturns length = %d, want 2", len(returns))
	}
	if !floatEquals(returns[0], 0.10) {
		t.Errorf("returns[0] = %v, want 0.10", returns[0])
	}
	if !floatEquals(returns[1], -0.10) {
		t.Errorf("returns[1] = %v, want -0.10", returns[1])
	}

	// Нулевая цена пропускается
	returns = PctReturns([]float64{0, 100, 110})
	if len(returns) != 1 {
		t.Errorf("PctReturns with zero price: length = %d, want 1", len(returns))
	}
}

func TestPearsonCorrelation(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float64
		expected float64
	}{
		{"perfect positive", []float64{1, 2, 3, 4}, []float64{2, 4, 6, 8}, 1.0},
		{"perfect negative", []float64{1, 2, 3, 4}, []float64{8, 6, 4, 2}, -1.0},
		{"constant series", []float64{1, 2, 3}, []float64{5, 5, 5}, 0},
		{"length mismatch", []float64{1, 2, 3}, []float64{1, 2}, 0},
		{"too short", []float64{1}, []float64{1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := PearsonCorrelation(tt.a, tt.b)
			if !floatEquals(result, tt.expected) {
				t.Errorf("PearsonCorrelation = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestCalculateWeightedAverage(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		weights  []float64
		expected float64
	}{
		{"vwap", []float64{100, 101, 102}, []float64{10, 20, 10}, 101.0},
		{"empty", nil, nil, 0},
		{"length mismatch", []float64{1, 2}, []float64{1}, 0},
		{"zero weights", []float64{1, 2}, []float64{0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateWeightedAverage(tt.values, tt.weights)
			if !floatEquals(result, tt.expected) {
				t.Errorf("CalculateWeightedAverage = %v, want %v", result, tt.expected)
			}
		})
	}
}

// ============================================================
// Тесты Clamp
// ============================================================

func TestClamp(t *testing.T) {
	tests := []struct {
		name              string
		value, lo, hi     float64
		expected          float64
	}{
		{"inside range", 0.5, 0, 1, 0.5},
		{"below min", -0.2, 0, 1, 0},
		{"above max", 1.7, 0, 1, 1},
		{"at min", 0, 0, 1, 0},
		{"at max", 1, 0, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Clamp(tt.value, tt.lo, tt.hi)
			if !floatEquals(result, tt.expected) {
				t.Errorf("Clamp(%v, %v, %v) = %v, want %v",
					tt.value, tt.lo, tt.hi, result, tt.expected)
			}
		})
	}
}

// floatEquals сравнивает два float64 с погрешностью
func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
