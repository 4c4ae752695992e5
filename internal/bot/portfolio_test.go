package bot

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"hars/internal/exchange"
	"hars/internal/models"
)

func TestPortfolioUpdateFromAccount(t *testing.T) {
	pf := NewPortfolio(zap.NewNop())
	now := time.Now().UTC()

	pf.UpdateFromAccount(&exchange.AccountSnapshot{
		Timestamp:   now,
		Balance:     50_000,
		ExposureUSD: 12_000,
		Positions: []*exchange.AccountPosition{
			{Symbol: "BTC-PERP", Direction: models.DirectionLong, Size: 0.2, EntryPrice: 50_000, UnrealizedPnl: 150},
			{Symbol: "ETH-PERP", Direction: models.DirectionShort, Size: 1.0, EntryPrice: 2_000, UnrealizedPnl: -40},
			{Symbol: "DUST-PERP", Direction: models.DirectionLong, Size: 0, EntryPrice: 1},
		},
	})

	snap := pf.Snapshot()
	if len(snap.Positions) != 2 {
		t.Fatalf("positions = %d, want 2 (zero-size positions dropped)", len(snap.Positions))
	}
	if !snap.Open("BTC-PERP") || snap.Open("DUST-PERP") {
		t.Error("Open() disagrees with snapshot contents")
	}
	if got := snap.SymbolExposure("BTC-PERP"); got != 0.2*50_000 {
		t.Errorf("symbol exposure = %v, want %v", got, 0.2*50_000)
	}
	if snap.ExposureUSD != 12_000 {
		t.Errorf("exposure_usd = %v, want 12000", snap.ExposureUSD)
	}
	if snap.UnrealizedPnl != 110 {
		t.Errorf("unrealized pnl = %v, want 110", snap.UnrealizedPnl)
	}
	if pf.Balance() != 50_000 {
		t.Errorf("balance = %v, want 50000", pf.Balance())
	}
}

func TestPortfolioSnapshotIsDeepCopy(t *testing.T) {
	pf := NewPortfolio(zap.NewNop())
	pf.UpdateFromAccount(&exchange.AccountSnapshot{
		Timestamp: time.Now(),
		Positions: []*exchange.AccountPosition{
			{Symbol: "BTC-PERP", Direction: models.DirectionLong, Size: 1, EntryPrice: 100},
		},
	})

	snap := pf.Snapshot()
	snap.Positions["BTC-PERP"].Size = 999

	if got := pf.Snapshot().Positions["BTC-PERP"].Size; got != 1 {
		t.Errorf("snapshot mutation leaked into portfolio: size = %v", got)
	}
}

func TestPortfolioUpdateFromPnl(t *testing.T) {
	pf := NewPortfolio(zap.NewNop())

	pf.UpdateFromPnl(&exchange.PnlSnapshot{
		Timestamp:   time.Now(),
		RealizedPnl: 320,
		DailyPnl:    45,
		DrawdownPct: 0.03,
	})

	snap := pf.Snapshot()
	if snap.RealizedPnl != 320 || snap.DailyPnl != 45 || snap.DrawdownPct != 0.03 {
		t.Errorf("pnl fields not applied: %+v", snap)
	}
}

func TestPerformanceTrackerNeutralUntilSample(t *testing.T) {
	pt := NewPerformanceTracker()

	if got := pt.Score(models.ModuleMeanReversion); got != 0.5 {
		t.Errorf("score with no trades = %v, want 0.5", got)
	}

	for i := 0; i < 4; i++ {
		pt.RecordTrade(models.ModuleMeanReversion, -10)
	}
	if got := pt.Score(models.ModuleMeanReversion); got != 0.5 {
		t.Errorf("score below sample minimum = %v, want 0.5", got)
	}

	pt.RecordTrade(models.ModuleMeanReversion, 25)
	if got := pt.Score(models.ModuleMeanReversion); got != 0.2 {
		t.Errorf("score = %v, want 0.2 (1 win of 5)", got)
	}

	stats := pt.Stats()[models.ModuleMeanReversion]
	if stats.Trades != 5 || stats.Wins != 1 || stats.TotalPnl != -15 {
		t.Errorf("stats = %+v", stats)
	}
}
