package bot

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"hars/internal/exchange"
	"hars/internal/models"
)

func trackTestOrder(t *testing.T, paper *exchange.Paper, rec *Reconciler, proposalID string) *models.ExecutionProposal {
	t.Helper()
	p := testProposal("BTC-PERP")
	p.ProposalID = proposalID

	result, err := paper.MarketOrder(context.Background(), p.Symbol, p.Size, p.ProposalID)
	if err != nil {
		t.Fatalf("paper order failed: %v", err)
	}
	rec.Track(p, result)
	return p
}

func TestReconcilerTrackInitialState(t *testing.T) {
	paper := exchange.NewPaper()
	rec := NewReconciler(DefaultReconcilerConfig(), paper, nil, zap.NewNop())

	trackTestOrder(t, paper, rec, "prop-1")

	order, ok := rec.Get("prop-1")
	if !ok {
		t.Fatal("tracked order not found")
	}
	// paper исполняет рыночный ордер мгновенно
	if order.State != models.OrderStateFilled {
		t.Errorf("state = %s, want %s", order.State, models.OrderStateFilled)
	}
	if order.ClientOrderID != "prop-1" {
		t.Errorf("client_order_id = %s, want proposal_id", order.ClientOrderID)
	}
}

func TestReconcilerPollAppliesExchangeState(t *testing.T) {
	paper := exchange.NewPaper()
	paper.InitialStatus = "NEW"
	rec := NewReconciler(DefaultReconcilerConfig(), paper, nil, zap.NewNop())

	trackTestOrder(t, paper, rec, "prop-1")
	if order, _ := rec.Get("prop-1"); order.State != models.OrderStateSubmitted {
		t.Fatalf("initial state = %s, want %s", order.State, models.OrderStateSubmitted)
	}

	tests := []struct {
		rawStatus string
		filled    float64
		want      models.OrderState
	}{
		{"OPEN", 0, models.OrderStateSubmitted},
		{"PARTIALLY_FILLED", 0.4, models.OrderStatePartial},
		{"WORKING", 0.4, models.OrderStatePartial}, // нераспознанный open-статус с fill
		{"FILLED", 1.0, models.OrderStateFilled},
	}

	for _, tt := range tests {
		paper.SetOrderStatus("prop-1", tt.rawStatus, tt.filled, 100)
		rec.poll(context.Background())

		order, _ := rec.Get("prop-1")
		if order.State != tt.want {
			t.Errorf("status %q filled %v: state = %s, want %s",
				tt.rawStatus, tt.filled, order.State, tt.want)
		}
		if order.LastStatus != tt.rawStatus {
			t.Errorf("last_status = %s, want %s", order.LastStatus, tt.rawStatus)
		}
	}
}

func TestReconcilerTerminalStatesFrozen(t *testing.T) {
	paper := exchange.NewPaper()
	rec := NewReconciler(DefaultReconcilerConfig(), paper, nil, zap.NewNop())

	trackTestOrder(t, paper, rec, "prop-1")
	paper.SetOrderStatus("prop-1", "CANCELLED", 0, 0)
	// FILLED -> CANCELLED недопустим; терминальные ордера вообще не опрашиваются
	rec.poll(context.Background())

	order, _ := rec.Get("prop-1")
	if order.State != models.OrderStateFilled {
		t.Errorf("terminal state changed to %s", order.State)
	}
}

func TestReconcilerMarksStuck(t *testing.T) {
	cfg := DefaultReconcilerConfig()
	cfg.StuckAfter = 10 * time.Millisecond

	var notified []models.Notification
	paper := exchange.NewPaper()
	paper.InitialStatus = "NEW"
	rec := NewReconciler(cfg, paper, func(n models.Notification) {
		notified = append(notified, n)
	}, zap.NewNop())

	trackTestOrder(t, paper, rec, "prop-1")

	// "теряем" ордер на бирже и состариваем последнее обновление
	rec.mu.Lock()
	rec.orders["prop-1"].LastUpdateTS = time.Now().Add(-time.Minute)
	rec.mu.Unlock()
	paper.FailNext(1)
	rec.poll(context.Background())

	order, _ := rec.Get("prop-1")
	if order.State != models.OrderStateStuck {
		t.Fatalf("state = %s, want %s", order.State, models.OrderStateStuck)
	}
	if len(notified) != 1 || notified[0].Type != models.NotificationTypeStuckOrder {
		t.Errorf("expected one stuck-order notification, got %+v", notified)
	}

	// более поздний ответ биржи с fill перекрывает STUCK
	paper.SetOrderStatus("prop-1", "FILLED", 1.0, 100)
	rec.poll(context.Background())
	order, _ = rec.Get("prop-1")
	if order.State != models.OrderStateFilled {
		t.Errorf("stuck order must recover on fill, state = %s", order.State)
	}
}

// Ордер, висящий на книге, помечается STUCK даже когда биржа исправно
// отвечает тем же статусом: неизменный "OPEN" - не прогресс
func TestReconcilerMarksStuckOnUnchangedStatus(t *testing.T) {
	cfg := DefaultReconcilerConfig()
	cfg.StuckAfter = 10 * time.Millisecond

	paper := exchange.NewPaper()
	paper.InitialStatus = "NEW"
	rec := NewReconciler(cfg, paper, nil, zap.NewNop())

	trackTestOrder(t, paper, rec, "prop-1")
	paper.SetOrderStatus("prop-1", "OPEN", 0, 0)

	rec.mu.Lock()
	rec.orders["prop-1"].LastUpdateTS = time.Now().Add(-time.Minute)
	rec.mu.Unlock()

	rec.poll(context.Background())

	order, _ := rec.Get("prop-1")
	if order.State != models.OrderStateStuck {
		t.Fatalf("state = %s, want %s (unchanged status must not reset the stuck clock)",
			order.State, models.OrderStateStuck)
	}

	// дальнейшие здоровые ответы "OPEN" не гоняют ордер STUCK <-> SUBMITTED
	for i := 0; i < 3; i++ {
		rec.poll(context.Background())
	}
	order, _ = rec.Get("prop-1")
	if order.State != models.OrderStateStuck {
		t.Errorf("state = %s, want %s (no progress must keep the order stuck)",
			order.State, models.OrderStateStuck)
	}

	// рост исполненного объёма - прогресс: снимает STUCK
	paper.SetOrderStatus("prop-1", "PARTIALLY_FILLED", 0.3, 100)
	rec.poll(context.Background())
	order, _ = rec.Get("prop-1")
	if order.State != models.OrderStatePartial {
		t.Errorf("state = %s, want %s (fill progress must recover from stuck)",
			order.State, models.OrderStatePartial)
	}
}

// Рост исполненного объёма при неизменном состоянии (PARTIAL -> PARTIAL
// с большим fill) считается прогрессом и обновляет stuck-таймер
func TestReconcilerFillProgressResetsStuckClock(t *testing.T) {
	cfg := DefaultReconcilerConfig()
	cfg.StuckAfter = time.Minute

	paper := exchange.NewPaper()
	paper.InitialStatus = "NEW"
	rec := NewReconciler(cfg, paper, nil, zap.NewNop())

	trackTestOrder(t, paper, rec, "prop-1")
	paper.SetOrderStatus("prop-1", "PARTIALLY_FILLED", 0.2, 100)
	rec.poll(context.Background())

	rec.mu.Lock()
	rec.orders["prop-1"].LastUpdateTS = time.Now().Add(-55 * time.Second)
	rec.mu.Unlock()

	paper.SetOrderStatus("prop-1", "PARTIALLY_FILLED", 0.5, 100)
	rec.poll(context.Background())

	order, _ := rec.Get("prop-1")
	if order.State != models.OrderStatePartial {
		t.Fatalf("state = %s, want %s", order.State, models.OrderStatePartial)
	}
	if time.Since(order.LastUpdateTS) > time.Second {
		t.Errorf("fill progress must refresh LastUpdateTS, got %v", order.LastUpdateTS)
	}
}

func TestReconcilerNeverDeletesOrders(t *testing.T) {
	paper := exchange.NewPaper()
	rec := NewReconciler(DefaultReconcilerConfig(), paper, nil, zap.NewNop())

	for _, id := range []string{"prop-1", "prop-2", "prop-3"} {
		trackTestOrder(t, paper, rec, id)
	}
	for i := 0; i < 5; i++ {
		rec.poll(context.Background())
	}

	if got := len(rec.Orders()); got != 3 {
		t.Errorf("tracked orders = %d, want 3 (terminal orders retained for audit)", got)
	}
}
