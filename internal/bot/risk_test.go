package bot

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"hars/internal/exchange"
	"hars/internal/models"
)

func testProposal(symbol string) *models.ExecutionProposal {
	return &models.ExecutionProposal{
		ProposalID: "MEAN_REVERSION-" + symbol + "-1-1",
		Symbol:     symbol,
		Direction:  models.DirectionLong,
		Size:       1.0,
		EntryPrice: 100.0,
		StopLoss:   99.0,
		TakeProfit: 102.0,
		Basket:     models.Basket1,
		Module:     models.ModuleMeanReversion,
		HTFRegime:  models.RegimeTrendUp,
	}
}

func newTestBrain() *RiskBrain {
	return NewRiskBrain(DefaultRiskConfig(), zap.NewNop())
}

func TestAssessMultiplierAlwaysInBounds(t *testing.T) {
	rb := newTestBrain()

	drawdowns := []float64{0, 0.02, 0.05, 0.079, 0.081, 0.1, 0.12, 0.149}
	regimes := []models.HTFRegime{
		models.RegimeTrendUp, models.RegimeTrendDown, models.RegimeBalanced,
		models.RegimeHighVolatility, models.RegimeTransition,
	}

	for _, dd := range drawdowns {
		rb.UpdateFromPnlSnapshot(&exchange.PnlSnapshot{Timestamp: time.Now(), DrawdownPct: dd})
		if rb.Snapshot().KillSwitch {
			t.Fatalf("drawdown %v below hard limit must not trip kill switch", dd)
		}
		for _, regime := range regimes {
			p := testProposal("BTC-PERP")
			p.HTFRegime = regime
			d := rb.Assess(p, nil)
			if !d.Allowed {
				t.Fatalf("dd=%v regime=%s: expected allow, got reason=%s", dd, regime, d.Reason)
			}
			if d.Multiplier < 0 || d.Multiplier > 1 {
				t.Errorf("dd=%v regime=%s: multiplier %v out of [0,1]", dd, regime, d.Multiplier)
			}
		}
	}
}

func TestAssessRejectsInvalidProposal(t *testing.T) {
	rb := newTestBrain()

	p := testProposal("BTC-PERP")
	p.Basket = "BASKET_9"

	d := rb.Assess(p, nil)
	if d.Allowed {
		t.Fatal("contract-violating proposal must be rejected")
	}
	if d.Reason != ReasonContractViolation {
		t.Errorf("reason = %s, want %s", d.Reason, ReasonContractViolation)
	}
}

func TestDrawdownHardLimitTripsKillSwitch(t *testing.T) {
	rb := newTestBrain()

	rb.UpdateFromPnlSnapshot(&exchange.PnlSnapshot{Timestamp: time.Now(), DrawdownPct: 0.16})

	snap := rb.Snapshot()
	if !snap.KillSwitch {
		t.Fatal("drawdown above hard limit must trip kill switch")
	}
	if snap.Level != RiskLevelCircuit {
		t.Errorf("level = %s, want %s", snap.Level, RiskLevelCircuit)
	}

	d := rb.Assess(testProposal("BTC-PERP"), nil)
	if d.Allowed {
		t.Fatal("assess must reject while kill switch active")
	}
	if d.Reason != ReasonKillSwitch {
		t.Errorf("reason = %s, want %s", d.Reason, ReasonKillSwitch)
	}
}

func TestDrawdownSoftLimitScalesLinearly(t *testing.T) {
	rb := newTestBrain()

	// ровно посередине между soft 0.08 и hard 0.15
	rb.UpdateFromPnlSnapshot(&exchange.PnlSnapshot{Timestamp: time.Now(), DrawdownPct: 0.115})

	p := testProposal("BTC-PERP")
	d := rb.Assess(p, nil)
	if !d.Allowed {
		t.Fatalf("expected allow, got reason=%s", d.Reason)
	}
	// ddMult = 0.5, cpmMult = 0.3 (просадка выше soft активирует CPM)
	want := 0.5 * 0.3
	if diff := d.Multiplier - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("multiplier = %v, want %v", d.Multiplier, want)
	}
}

func TestAPIFailureStreakTripsKillSwitch(t *testing.T) {
	rb := newTestBrain()

	for i := 0; i < 4; i++ {
		rb.RegisterAPIFailure()
	}
	if rb.Snapshot().KillSwitch {
		t.Fatal("streak below threshold must not trip kill switch")
	}

	rb.RegisterAPIFailure()
	if !rb.Snapshot().KillSwitch {
		t.Fatal("streak at threshold must trip kill switch")
	}
}

func TestAPISuccessDecrementsButNeverClearsKill(t *testing.T) {
	rb := newTestBrain()

	rb.RegisterAPIFailure()
	rb.RegisterAPIFailure()
	rb.RegisterAPISuccess()
	if got := rb.Snapshot().APIFailureStreak; got != 1 {
		t.Errorf("streak = %d, want 1", got)
	}
	rb.RegisterAPISuccess()
	rb.RegisterAPISuccess()
	if got := rb.Snapshot().APIFailureStreak; got != 0 {
		t.Errorf("streak = %d, want 0 (floor)", got)
	}

	// взводим kill и убеждаемся, что успехи его не снимают
	for i := 0; i < 5; i++ {
		rb.RegisterAPIFailure()
	}
	for i := 0; i < 100; i++ {
		rb.RegisterAPISuccess()
	}
	if !rb.Snapshot().KillSwitch {
		t.Fatal("api successes must never clear a tripped kill switch")
	}
}

func TestKillSwitchManualResetOnly(t *testing.T) {
	rb := newTestBrain()

	rb.TripKillSwitch("ALLOCATION_TOLERANCE_VIOLATION")
	if !rb.Snapshot().KillSwitch {
		t.Fatal("TripKillSwitch must set kill switch")
	}

	// восстановление просадки не снимает kill
	rb.UpdateFromPnlSnapshot(&exchange.PnlSnapshot{Timestamp: time.Now(), DrawdownPct: 0.0})
	if !rb.Snapshot().KillSwitch {
		t.Fatal("drawdown recovery must not clear kill switch")
	}

	rb.ResetKillSwitch()
	snap := rb.Snapshot()
	if snap.KillSwitch {
		t.Fatal("manual reset must clear kill switch")
	}
	if snap.APIFailureStreak != 0 {
		t.Errorf("manual reset must clear streak, got %d", snap.APIFailureStreak)
	}
}

func TestCPMHysteresis(t *testing.T) {
	rb := newTestBrain()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	rb.now = func() time.Time { return now }

	// вход в CPM на пробое мягкого лимита
	rb.UpdateFromPnlSnapshot(&exchange.PnlSnapshot{Timestamp: base, DrawdownPct: 0.09})
	if !rb.Snapshot().CPMActive {
		t.Fatal("soft-limit breach must enter CPM")
	}

	// просадка восстановилась, но dwell не прошёл - остаёмся в CPM
	now = base.Add(10 * time.Minute)
	rb.UpdateFromPnlSnapshot(&exchange.PnlSnapshot{Timestamp: now, DrawdownPct: 0.03})
	if !rb.Snapshot().CPMActive {
		t.Fatal("CPM must hold until minimum dwell elapses")
	}

	// dwell прошёл, но просадка снова выше лимита - остаёмся
	now = base.Add(40 * time.Minute)
	rb.UpdateFromPnlSnapshot(&exchange.PnlSnapshot{Timestamp: now, DrawdownPct: 0.10})
	if !rb.Snapshot().CPMActive {
		t.Fatal("CPM must hold while drawdown above soft limit")
	}

	// оба условия выхода выполнены
	now = base.Add(80 * time.Minute)
	rb.UpdateFromPnlSnapshot(&exchange.PnlSnapshot{Timestamp: now, DrawdownPct: 0.03})
	if rb.Snapshot().CPMActive {
		t.Fatal("CPM must exit after recovery and dwell")
	}
}

func TestExposureCaps(t *testing.T) {
	cfg := DefaultRiskConfig()
	cfg.MaxSymbolExposureUSD = 1000
	cfg.MaxTotalExposureUSD = 5000
	rb := NewRiskBrain(cfg, zap.NewNop())

	pf := &models.PortfolioSnapshot{
		Positions: map[string]*models.Position{
			"BTC-PERP": {Symbol: "BTC-PERP", Direction: models.DirectionLong, Size: 10, AvgEntryPrice: 100},
		},
		ExposureUSD: 1000,
	}

	// headroom по символу исчерпан (10 * 100 = 1000 = cap)
	d := rb.Assess(testProposal("BTC-PERP"), pf)
	if d.Allowed {
		t.Fatalf("expected exposure-cap reject, got multiplier %v", d.Multiplier)
	}
	if d.Reason != ReasonExposureCap {
		t.Errorf("reason = %s, want %s", d.Reason, ReasonExposureCap)
	}

	// по другому символу headroom есть, но множитель ужат к нему
	p := testProposal("ETH-PERP")
	p.Size = 100 // 100 * 100 = 10000 USD, headroom всего 4000
	d = rb.Assess(p, pf)
	if !d.Allowed {
		t.Fatalf("expected allow, got reason=%s", d.Reason)
	}
	notional := p.Size * d.Multiplier * p.EntryPrice
	if notional > 4000+1e-6 {
		t.Errorf("sized notional %v exceeds remaining headroom 4000", notional)
	}
}

func TestVolatilityTierMultiplier(t *testing.T) {
	rb := newTestBrain()

	// спокойный рынок: почти плоская цена
	px := 100.0
	for i := 0; i < 30; i++ {
		rb.ObservePrice("CALM-PERP", px)
		px += 0.001
	}
	// шумный рынок: чередующиеся скачки ~1%
	px = 100.0
	for i := 0; i < 30; i++ {
		if i%2 == 0 {
			px *= 1.01
		} else {
			px *= 0.99
		}
		rb.ObservePrice("WILD-PERP", px)
	}

	calm := rb.VolMultiplier("CALM-PERP")
	wild := rb.VolMultiplier("WILD-PERP")
	if calm != 1.0 {
		t.Errorf("calm multiplier = %v, want 1.0", calm)
	}
	if wild != 0.4 {
		t.Errorf("wild multiplier = %v, want 0.4", wild)
	}
}

// Оценка ликвидности из конфига ограничивает нотионал долей участия
func TestAssessLiquidityMultiplier(t *testing.T) {
	rb := newTestBrain()
	p := testProposal("BTC-PERP") // нотионал 100 USD

	// без оценки ликвидности ограничения нет
	if d := rb.Assess(p, nil); !d.Allowed || d.Multiplier != 1.0 {
		t.Fatalf("no estimate: allowed=%v mult=%v, want allowed with 1.0", d.Allowed, d.Multiplier)
	}

	// 2% участия от 1000 USD = потолок 20 USD -> множитель 0.2
	rb.SetLiquidityEstimate("BTC-PERP", 1000)
	d := rb.Assess(p, nil)
	if !d.Allowed {
		t.Fatalf("expected allow, got reason=%s", d.Reason)
	}
	if d.Multiplier < 0.199 || d.Multiplier > 0.201 {
		t.Errorf("multiplier = %v, want 0.2", d.Multiplier)
	}

	// глубокий рынок размер не режет
	rb.SetLiquidityEstimate("BTC-PERP", 1_000_000)
	if d := rb.Assess(p, nil); d.Multiplier != 1.0 {
		t.Errorf("deep market multiplier = %v, want 1.0", d.Multiplier)
	}
}
