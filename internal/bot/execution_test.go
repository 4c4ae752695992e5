package bot

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"hars/internal/exchange"
	"hars/internal/models"
)

func newTestExecution(paper *exchange.Paper, store RecordStore) (*ExecutionEngine, *RiskBrain, *Reconciler) {
	log := zap.NewNop()
	risk := NewRiskBrain(DefaultRiskConfig(), log)
	rec := NewReconciler(DefaultReconcilerConfig(), paper, nil, log)
	return NewExecutionEngine(DefaultExecutionConfig(), paper, risk, rec, store, log), risk, rec
}

func TestExecuteHappyPath(t *testing.T) {
	paper := exchange.NewPaper()
	paper.SetPrice("BTC-PERP", 50_000)
	var stored []*models.ExecutionRecord
	engine, _, reconciler := newTestExecution(paper, func(_ context.Context, r *models.ExecutionRecord) error {
		stored = append(stored, r)
		return nil
	})

	p := testProposal("BTC-PERP")
	rec := engine.Execute(context.Background(), p, nil, 50_000)
	if rec == nil {
		t.Fatal("expected execution record")
	}
	if rec.ProposalID != p.ProposalID {
		t.Errorf("record proposal_id = %s, want %s", rec.ProposalID, p.ProposalID)
	}
	if rec.AllocationMultiplier <= 0 || rec.AllocationMultiplier > 1 {
		t.Errorf("allocation multiplier %v out of (0,1]", rec.AllocationMultiplier)
	}
	if rec.ExecutedSize > rec.AllocatedSize*1.01 {
		t.Errorf("executed %v exceeds allocated %v beyond tolerance", rec.ExecutedSize, rec.AllocatedSize)
	}

	if len(stored) != 1 {
		t.Fatalf("store callback called %d times, want 1", len(stored))
	}
	if _, ok := reconciler.Get(p.ProposalID); !ok {
		t.Error("executed order must be tracked by reconciler")
	}
}

func TestExecuteIdempotentByProposalID(t *testing.T) {
	paper := exchange.NewPaper()
	engine, _, _ := newTestExecution(paper, nil)

	p := testProposal("BTC-PERP")
	first := engine.Execute(context.Background(), p, nil, 100)
	second := engine.Execute(context.Background(), p, nil, 100)

	if first == nil || second == nil {
		t.Fatal("both executes must succeed")
	}
	if paper.OrderCount() != 1 {
		t.Fatalf("order count = %d, want exactly 1 live order per proposal", paper.OrderCount())
	}
	if first.OrderID != second.OrderID {
		t.Errorf("resubmission returned different order: %s vs %s", first.OrderID, second.OrderID)
	}
}

func TestExecuteAllocationToleranceBoundary(t *testing.T) {
	// 0.4% overfill - внутри допуска 1%
	paper := exchange.NewPaper()
	paper.FillRatio = 1.004
	engine, risk, _ := newTestExecution(paper, nil)

	rec := engine.Execute(context.Background(), testProposal("BTC-PERP"), nil, 100)
	if rec == nil {
		t.Fatal("overfill within tolerance must pass")
	}
	if risk.Snapshot().KillSwitch {
		t.Fatal("overfill within tolerance must not trip kill switch")
	}
}

func TestExecuteAllocationToleranceViolation(t *testing.T) {
	// 4% overfill - критическое нарушение
	paper := exchange.NewPaper()
	paper.FillRatio = 1.04
	engine, risk, _ := newTestExecution(paper, nil)

	rec := engine.Execute(context.Background(), testProposal("BTC-PERP"), nil, 100)
	if rec != nil {
		t.Fatal("tolerance violation must return nil")
	}
	snap := risk.Snapshot()
	if !snap.KillSwitch {
		t.Fatal("tolerance violation must trip kill switch")
	}
	if snap.Level != RiskLevelCircuit {
		t.Errorf("level = %s, want %s", snap.Level, RiskLevelCircuit)
	}

	// best-effort cancel остаточного ордера
	order, err := paper.GetOrderByClientID(context.Background(), "MEAN_REVERSION-BTC-PERP-1-1")
	if err != nil || order == nil {
		t.Fatalf("order lookup failed: %v", err)
	}
	if order.Status != "CANCELLED" {
		t.Errorf("residual order status = %s, want CANCELLED", order.Status)
	}
}

func TestExecuteAPIFailureRegistersStreak(t *testing.T) {
	paper := exchange.NewPaper()
	paper.FailNext(1)
	engine, risk, _ := newTestExecution(paper, nil)

	rec := engine.Execute(context.Background(), testProposal("BTC-PERP"), nil, 100)
	if rec != nil {
		t.Fatal("api failure must return nil")
	}
	if got := risk.Snapshot().APIFailureStreak; got != 1 {
		t.Errorf("streak = %d, want 1", got)
	}
}

func TestExecuteBlockedByRisk(t *testing.T) {
	paper := exchange.NewPaper()
	engine, risk, _ := newTestExecution(paper, nil)
	risk.TripKillSwitch("test")

	if rec := engine.Execute(context.Background(), testProposal("BTC-PERP"), nil, 100); rec != nil {
		t.Fatal("risk-blocked proposal must not execute")
	}
	if paper.OrderCount() != 0 {
		t.Errorf("no order must reach the exchange, got %d", paper.OrderCount())
	}
}

func TestExecuteStoreFailureIsNonFatal(t *testing.T) {
	paper := exchange.NewPaper()
	engine, _, _ := newTestExecution(paper, func(_ context.Context, _ *models.ExecutionRecord) error {
		return context.DeadlineExceeded
	})

	if rec := engine.Execute(context.Background(), testProposal("BTC-PERP"), nil, 100); rec == nil {
		t.Fatal("store failure must not fail the execution")
	}
}
