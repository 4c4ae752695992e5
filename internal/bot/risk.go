package bot

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"hars/internal/exchange"
	"hars/internal/models"
	"hars/pkg/utils"
)

// ============================================================
// Risk engine: множитель аллокации, circuit breakers, kill switch
// ============================================================
//
// RiskBrain - единственный владелец состояния риска. Все мутации идут
// через его методы под мьютексом; наружу отдаётся только копия
// (Snapshot). Kill switch монотонен: единожды взведённый, он не
// сбрасывается никаким внутренним путём - только явный ResetKillSwitch
// оператора.
//
// Функции:
// - Assess: предложение -> (allow, множитель [0,1], причина)
// - RegisterAPIFailure / RegisterAPISuccess: серия отказов API
// - UpdateFromPnlSnapshot: просадка и дневной PNL с биржи
// - ObservePrice: окна волатильности и корреляции
// - TripKillSwitch / ResetKillSwitch / Snapshot

// RiskLevel - уровень риска
type RiskLevel string

const (
	RiskLevelGreen   RiskLevel = "GREEN"
	RiskLevelYellow  RiskLevel = "YELLOW"
	RiskLevelRed     RiskLevel = "RED"
	RiskLevelCircuit RiskLevel = "CIRCUIT"
)

// Причины решений risk engine
const (
	ReasonOK                = "OK"
	ReasonContractViolation = "CONTRACT_VIOLATION"
	ReasonKillSwitch        = "KILL_SWITCH_ACTIVE"
	ReasonAPIFailurePause   = "API_FAILURE_PAUSE"
	ReasonDrawdownHardLimit = "DRAWDOWN_HARD_LIMIT"
	ReasonExposureCap       = "EXPOSURE_CAP"
)

// RiskConfig - пороги risk engine
type RiskConfig struct {
	// Просадка: мягкий лимит (начало линейного снижения, вход в CPM)
	// и жёсткий лимит (kill switch)
	SoftDrawdownLimit float64
	HardDrawdownLimit float64

	// Серия отказов API, при которой взводится kill switch
	APIFailureThreshold int

	// Множители по режимам рынка
	RegimeMultipliers map[models.HTFRegime]float64

	// Capital preservation mode
	CPMMultiplier float64
	CPMMinDwell   time.Duration

	// Штраф за коррелированную экспозицию сверх лимита кластера
	CorrelationPenalty float64

	// Жёсткие потолки экспозиции, USD
	MaxSymbolExposureUSD float64
	MaxTotalExposureUSD  float64

	Volatility  VolatilityConfig
	Correlation CorrelationConfig
	Liquidity   LiquidityConfig
}

// DefaultRiskConfig - значения по умолчанию
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		SoftDrawdownLimit:   0.08,
		HardDrawdownLimit:   0.15,
		APIFailureThreshold: 5,
		RegimeMultipliers: map[models.HTFRegime]float64{
			models.RegimeTrendUp:        1.0,
			models.RegimeTrendDown:      1.0,
			models.RegimeBalanced:       0.9,
			models.RegimeHighVolatility: 0.5,
			models.RegimeTransition:     0.6,
		},
		CPMMultiplier:        0.3,
		CPMMinDwell:          30 * time.Minute,
		CorrelationPenalty:   0.5,
		MaxSymbolExposureUSD: 50_000,
		MaxTotalExposureUSD:  150_000,
		Volatility:           DefaultVolatilityConfig(),
		Correlation:          DefaultCorrelationConfig(),
		Liquidity:            DefaultLiquidityConfig(),
	}
}

// riskState - мутабельное состояние под мьютексом
type riskState struct {
	killSwitch       bool
	killReason       string
	level            RiskLevel
	apiFailureStreak int
	drawdownPct      float64
	dailyPnl         float64
	volSpike         bool
	cpmActive        bool
	cpmEnteredAt     time.Time
}

// RiskSnapshot - read-only копия состояния для роутера и ops surface
type RiskSnapshot struct {
	KillSwitch       bool      `json:"kill_switch"`
	KillReason       string    `json:"kill_reason,omitempty"`
	Level            RiskLevel `json:"risk_level"`
	APIFailureStreak int       `json:"api_failure_streak"`
	DrawdownPct      float64   `json:"drawdown_pct"`
	DailyPnl         float64   `json:"daily_pnl"`
	VolSpike         bool      `json:"vol_spike"`
	CPMActive        bool      `json:"cpm_active"`
}

// Decision - результат оценки предложения
type Decision struct {
	Allowed    bool
	Multiplier float64
	Reason     string
}

// RiskBrain - stateful risk engine
type RiskBrain struct {
	cfg RiskConfig
	log *zap.Logger

	mu    sync.Mutex
	state riskState

	vol  *VolatilityModel
	corr *CorrelationTracker
	liq  *LiquidityModel

	// переопределяется в тестах для контроля dwell-таймера CPM
	now func() time.Time
}

// NewRiskBrain создаёт risk engine в состоянии GREEN без kill switch
func NewRiskBrain(cfg RiskConfig, log *zap.Logger) *RiskBrain {
	return &RiskBrain{
		cfg:   cfg,
		log:   log,
		state: riskState{level: RiskLevelGreen},
		vol:   NewVolatilityModel(cfg.Volatility),
		corr:  NewCorrelationTracker(cfg.Correlation),
		liq:   NewLiquidityModel(cfg.Liquidity),
		now:   time.Now,
	}
}

// Assess оценивает предложение против текущего состояния риска.
//
// Порядок проверок фиксирован: контракт -> kill switch -> пауза по
// серии отказов API -> произведение суб-множителей -> потолки
// экспозиции. Итоговый множитель всегда в [0,1].
func (rb *RiskBrain) Assess(p *models.ExecutionProposal, pf *models.PortfolioSnapshot) Decision {
	if err := p.Validate(); err != nil {
		rb.log.Warn("proposal failed contract validation",
			zap.String("proposal_id", p.ProposalID), zap.Error(err))
		RiskBlocks.WithLabelValues(ReasonContractViolation).Inc()
		return Decision{Allowed: false, Multiplier: 0, Reason: ReasonContractViolation}
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.state.killSwitch {
		RiskBlocks.WithLabelValues(ReasonKillSwitch).Inc()
		return Decision{Allowed: false, Multiplier: 0, Reason: ReasonKillSwitch}
	}

	if rb.state.apiFailureStreak >= rb.cfg.APIFailureThreshold {
		RiskBlocks.WithLabelValues(ReasonAPIFailurePause).Inc()
		return Decision{Allowed: false, Multiplier: 0, Reason: ReasonAPIFailurePause}
	}

	// --- просадка ---
	dd := rb.state.drawdownPct
	if dd >= rb.cfg.HardDrawdownLimit {
		rb.tripLocked(ReasonDrawdownHardLimit)
		RiskBlocks.WithLabelValues(ReasonDrawdownHardLimit).Inc()
		return Decision{Allowed: false, Multiplier: 0, Reason: ReasonDrawdownHardLimit}
	}
	ddMult := 1.0
	if dd > rb.cfg.SoftDrawdownLimit {
		ddMult = (rb.cfg.HardDrawdownLimit - dd) /
			(rb.cfg.HardDrawdownLimit - rb.cfg.SoftDrawdownLimit)
	}

	// --- волатильность ---
	volMult, spike := rb.vol.Multiplier(p.Symbol)
	rb.state.volSpike = spike

	// --- режим рынка ---
	regimeMult, ok := rb.cfg.RegimeMultipliers[p.HTFRegime]
	if !ok {
		regimeMult = 1.0
	}

	// --- capital preservation mode (гистерезис) ---
	rb.updateCPMLocked(dd)
	cpmMult := 1.0
	if rb.state.cpmActive {
		cpmMult = rb.cfg.CPMMultiplier
	}

	// --- корреляция ---
	corrMult := 1.0
	if pf != nil && rb.corr.OverCap(p.Symbol, openSizes(pf)) {
		corrMult = rb.cfg.CorrelationPenalty
	}

	// --- ликвидность ---
	liqMult := rb.liq.Multiplier(p.Symbol, p.Size*p.EntryPrice)

	mult := utils.Clamp(ddMult*volMult*regimeMult*cpmMult*corrMult*liqMult, 0, 1)

	// --- жёсткие потолки экспозиции ---
	mult, headroomLeft := rb.applyExposureCaps(p, pf, mult)
	if !headroomLeft {
		RiskBlocks.WithLabelValues(ReasonExposureCap).Inc()
		return Decision{Allowed: false, Multiplier: 0, Reason: ReasonExposureCap}
	}

	rb.updateLevelLocked()
	AllocationMultiplierGauge.WithLabelValues(p.Symbol).Set(mult)

	return Decision{Allowed: true, Multiplier: mult, Reason: ReasonOK}
}

// applyExposureCaps ужимает множитель до остаточного headroom.
// Возвращает (множитель, false) при исчерпанном headroom.
// Вызывается под lock.
func (rb *RiskBrain) applyExposureCaps(p *models.ExecutionProposal, pf *models.PortfolioSnapshot, mult float64) (float64, bool) {
	if pf == nil {
		return mult, true
	}

	symbolHeadroom := rb.cfg.MaxSymbolExposureUSD - pf.SymbolExposure(p.Symbol)
	totalHeadroom := rb.cfg.MaxTotalExposureUSD - pf.ExposureUSD
	headroom := utils.Min(symbolHeadroom, totalHeadroom)
	if headroom <= 0 {
		return 0, false
	}

	notional := p.Size * mult * p.EntryPrice
	if notional > headroom {
		mult *= headroom / notional
	}
	return utils.Clamp(mult, 0, 1), true
}

// updateCPMLocked входит/выходит из capital preservation mode.
//
// Вход: просадка пробила мягкий лимит. Выход: просадка восстановилась
// ниже мягкого лимита И прошёл минимальный dwell. Гистерезис не даёт
// режиму хлопать на границе лимита. Вызывается под lock.
func (rb *RiskBrain) updateCPMLocked(dd float64) {
	if !rb.state.cpmActive {
		if dd >= rb.cfg.SoftDrawdownLimit {
			rb.state.cpmActive = true
			rb.state.cpmEnteredAt = rb.now()
			CPMActiveGauge.Set(1)
			rb.log.Warn("capital preservation mode entered",
				zap.Float64("drawdown_pct", dd))
		}
		return
	}

	recovered := dd < rb.cfg.SoftDrawdownLimit
	dwellElapsed := rb.now().Sub(rb.state.cpmEnteredAt) >= rb.cfg.CPMMinDwell
	if recovered && dwellElapsed {
		rb.state.cpmActive = false
		CPMActiveGauge.Set(0)
		rb.log.Info("capital preservation mode exited",
			zap.Float64("drawdown_pct", dd))
	}
}

// RegisterAPIFailure инкрементирует серию отказов; на пороге взводит
// kill switch (CIRCUIT)
func (rb *RiskBrain) RegisterAPIFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.state.apiFailureStreak++
	APIFailureStreak.Set(float64(rb.state.apiFailureStreak))

	if rb.state.apiFailureStreak >= rb.cfg.APIFailureThreshold && !rb.state.killSwitch {
		rb.tripLocked(ReasonAPIFailurePause)
	}
	rb.updateLevelLocked()
}

// RegisterAPISuccess уменьшает серию на единицу (не ниже нуля).
// НИКОГДА не снимает kill switch.
func (rb *RiskBrain) RegisterAPISuccess() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.state.apiFailureStreak > 0 {
		rb.state.apiFailureStreak--
		APIFailureStreak.Set(float64(rb.state.apiFailureStreak))
	}
	rb.updateLevelLocked()
}

// UpdateFromPnlSnapshot обновляет просадку и дневной PNL из снапшота
// биржи; на жёстком лимите взводит kill switch
func (rb *RiskBrain) UpdateFromPnlSnapshot(snap *exchange.PnlSnapshot) {
	if snap == nil {
		return
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.state.drawdownPct = snap.DrawdownPct
	rb.state.dailyPnl = snap.DailyPnl
	DrawdownPct.Set(snap.DrawdownPct)

	if snap.DrawdownPct >= rb.cfg.HardDrawdownLimit && !rb.state.killSwitch {
		rb.tripLocked(ReasonDrawdownHardLimit)
	}
	rb.updateCPMLocked(snap.DrawdownPct)
	rb.updateLevelLocked()
}

// ObservePrice скармливает цену моделям волатильности и корреляции
func (rb *RiskBrain) ObservePrice(symbol string, price float64) {
	rb.vol.Observe(symbol, price)
	rb.corr.Observe(symbol, price)

	_, spike := rb.vol.Multiplier(symbol)
	rb.mu.Lock()
	rb.state.volSpike = spike
	rb.updateLevelLocked()
	rb.mu.Unlock()
}

// VolMultiplier возвращает текущий множитель волатильности символа
// (используется стратегиями для расширения стопов)
func (rb *RiskBrain) VolMultiplier(symbol string) float64 {
	mult, _ := rb.vol.Multiplier(symbol)
	return mult
}

// SetLiquidityEstimate задаёт оценку ликвидности символа (USD)
func (rb *RiskBrain) SetLiquidityEstimate(symbol string, notionalUSD float64) {
	rb.liq.SetEstimate(symbol, notionalUSD)
}

// TripKillSwitch взводит kill switch извне (allocation violation)
func (rb *RiskBrain) TripKillSwitch(reason string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if !rb.state.killSwitch {
		rb.tripLocked(reason)
	}
}

// tripLocked взводит kill switch. Вызывается под lock.
func (rb *RiskBrain) tripLocked(reason string) {
	rb.state.killSwitch = true
	rb.state.killReason = reason
	rb.state.level = RiskLevelCircuit
	KillSwitchActive.Set(1)
	rb.log.Error("KILL SWITCH TRIPPED - trading halted, manual reset required",
		zap.String("reason", reason),
		zap.Int("api_failure_streak", rb.state.apiFailureStreak),
		zap.Float64("drawdown_pct", rb.state.drawdownPct))
}

// ResetKillSwitch - явный сброс оператором. Единственный путь снять
// kill switch; нигде в торговом цикле не вызывается.
func (rb *RiskBrain) ResetKillSwitch() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.state.killSwitch = false
	rb.state.killReason = ""
	rb.state.apiFailureStreak = 0
	KillSwitchActive.Set(0)
	APIFailureStreak.Set(0)
	rb.updateLevelLocked()
	rb.log.Warn("kill switch manually reset")
}

// updateLevelLocked пересчитывает risk level. Вызывается под lock.
func (rb *RiskBrain) updateLevelLocked() {
	switch {
	case rb.state.killSwitch:
		rb.state.level = RiskLevelCircuit
	case rb.state.cpmActive:
		rb.state.level = RiskLevelRed
	case rb.state.drawdownPct >= rb.cfg.SoftDrawdownLimit || rb.state.volSpike ||
		rb.state.apiFailureStreak > 0:
		rb.state.level = RiskLevelYellow
	default:
		rb.state.level = RiskLevelGreen
	}
}

// Snapshot возвращает копию состояния риска
func (rb *RiskBrain) Snapshot() RiskSnapshot {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	return RiskSnapshot{
		KillSwitch:       rb.state.killSwitch,
		KillReason:       rb.state.killReason,
		Level:            rb.state.level,
		APIFailureStreak: rb.state.apiFailureStreak,
		DrawdownPct:      rb.state.drawdownPct,
		DailyPnl:         rb.state.dailyPnl,
		VolSpike:         rb.state.volSpike,
		CPMActive:        rb.state.cpmActive,
	}
}

// openSizes собирает map символ -> размер открытой позиции
func openSizes(pf *models.PortfolioSnapshot) map[string]float64 {
	sizes := make(map[string]float64, len(pf.Positions))
	for sym, pos := range pf.Positions {
		if pos != nil && pos.Size > 0 {
			sizes[sym] = pos.Size
		}
	}
	return sizes
}
