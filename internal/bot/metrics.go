package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================
//
// Использование:
// - Grafana дашборды для визуализации
// - Alertmanager для уведомлений о kill switch и allocation violation

// ============ Конвейер ============

// ProposalsGenerated - предложения, выданные роутером, по модулям
var ProposalsGenerated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hars",
		Subsystem: "pipeline",
		Name:      "proposals_total",
		Help:      "Total proposals returned by the strategy router",
	},
	[]string{"module", "symbol"},
)

// RiskBlocks - отказы risk engine по причинам
var RiskBlocks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hars",
		Subsystem: "risk",
		Name:      "blocks_total",
		Help:      "Total proposals blocked by the risk engine",
	},
	[]string{"reason"},
)

// AllocationMultiplierGauge - последний множитель аллокации по символам
var AllocationMultiplierGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "hars",
		Subsystem: "risk",
		Name:      "allocation_multiplier",
		Help:      "Last allocation multiplier produced for a symbol",
	},
	[]string{"symbol"},
)

// OrdersSubmitted - отправленные ордера
var OrdersSubmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hars",
		Subsystem: "execution",
		Name:      "orders_submitted_total",
		Help:      "Total orders submitted to the exchange",
	},
	[]string{"symbol", "direction"},
)

// ExecutionLatency - время исполнения execute() целиком
var ExecutionLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "hars",
		Subsystem: "execution",
		Name:      "latency_ms",
		Help:      "End-to-end execute() latency in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 1000, 2000, 5000},
	},
)

// AllocationViolations - превышения допуска аллокации (критично)
var AllocationViolations = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "hars",
		Subsystem: "execution",
		Name:      "allocation_violations_total",
		Help:      "Total allocation tolerance violations (kill switch trips)",
	},
)

// ============ Состояние риска ============

// KillSwitchActive - 1 когда kill switch активен
var KillSwitchActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "hars",
		Subsystem: "risk",
		Name:      "kill_switch_active",
		Help:      "1 when the kill switch is active",
	},
)

// APIFailureStreak - текущая серия последовательных отказов API
var APIFailureStreak = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "hars",
		Subsystem: "risk",
		Name:      "api_failure_streak",
		Help:      "Current consecutive exchange API failure streak",
	},
)

// DrawdownPct - текущая просадка в долях
var DrawdownPct = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "hars",
		Subsystem: "risk",
		Name:      "drawdown_pct",
		Help:      "Current drawdown as a fraction of peak equity",
	},
)

// CPMActiveGauge - 1 когда включён capital preservation mode
var CPMActiveGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "hars",
		Subsystem: "risk",
		Name:      "cpm_active",
		Help:      "1 when capital preservation mode is active",
	},
)

// ============ Реконсиляция ============

// ReconcilePolls - выполненные циклы опроса
var ReconcilePolls = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "hars",
		Subsystem: "reconcile",
		Name:      "polls_total",
		Help:      "Total reconciliation poll passes",
	},
)

// OrdersStuck - ордера, помеченные STUCK
var OrdersStuck = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "hars",
		Subsystem: "reconcile",
		Name:      "orders_stuck_total",
		Help:      "Total orders marked STUCK by the reconciler",
	},
)

// OrderStateTransitions - переходы состояний ордеров
var OrderStateTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hars",
		Subsystem: "reconcile",
		Name:      "state_transitions_total",
		Help:      "Total tracked order state transitions",
	},
	[]string{"from", "to"},
)

// ============ Портфель ============

// OpenPositions - количество открытых позиций
var OpenPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "hars",
		Subsystem: "portfolio",
		Name:      "open_positions",
		Help:      "Number of open positions",
	},
)

// ExposureUSD - суммарная экспозиция в USD
var ExposureUSD = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "hars",
		Subsystem: "portfolio",
		Name:      "exposure_usd",
		Help:      "Total open exposure in USD",
	},
)
