package bot

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"hars/internal/exchange"
	"hars/internal/models"
	"hars/internal/strategy"
)

func newTestEngine(strategies ...strategy.Strategy) (*Engine, *exchange.Paper) {
	paper := exchange.NewPaper()
	risk := NewRiskBrain(DefaultRiskConfig(), zap.NewNop())
	reconciler := NewReconciler(DefaultReconcilerConfig(), paper, nil, zap.NewNop())
	execution := NewExecutionEngine(DefaultExecutionConfig(), paper, risk, reconciler, nil, zap.NewNop())
	router := NewRouter(DefaultRouterConfig(), strategy.NewRegistry(strategies...), zap.NewNop())

	engine := NewEngine(
		DefaultEngineConfig([]string{"BTC-PERP"}),
		paper, nil,
		NewRegimeEngine(DefaultRegimeConfig()),
		router, risk, execution, reconciler,
		NewPortfolio(zap.NewNop()),
		NewPerformanceTracker(),
		nil, zap.NewNop(),
	)
	return engine, paper
}

// Цена из фида прокидывается в paper-адаптер: бумажные fill'ы
// исполняются по живой рыночной цене
func TestEngineForwardsFeedPriceToPaper(t *testing.T) {
	eng, paper := newTestEngine()

	eng.onTicker(&exchange.Ticker{Symbol: "BTC-PERP", BidPrice: 199, AskPrice: 201})

	result, err := paper.MarketOrder(context.Background(), "BTC-PERP", 1, "prop-1")
	if err != nil {
		t.Fatalf("paper order failed: %v", err)
	}
	if result.AvgPrice != 200 {
		t.Errorf("avg_price = %v, want 200 (mid of feed ticker)", result.AvgPrice)
	}
}

// Конвейер на paper-адаптере проходит до исполнения: тикеры фида
// наполняют историю, тик порождает и исполняет предложение
func TestEngineTickExecutesOnPaperAdapter(t *testing.T) {
	mr := &stubStrategy{
		name:     models.ModuleMeanReversion,
		basket:   models.Basket1,
		proposal: stubProposal(models.ModuleMeanReversion, models.Basket1),
	}
	eng, paper := newTestEngine(mr)

	// без рыночных данных тик не должен ничего исполнять
	eng.tick(context.Background())
	if paper.OrderCount() != 0 {
		t.Fatalf("orders before market data = %d, want 0", paper.OrderCount())
	}

	for i := 0; i < 40; i++ {
		eng.onTicker(&exchange.Ticker{Symbol: "BTC-PERP", LastPrice: 100})
	}
	eng.tick(context.Background())

	if paper.OrderCount() != 1 {
		t.Fatalf("orders after tick = %d, want 1", paper.OrderCount())
	}
	if _, ok := eng.reconciler.Get(mr.proposal.ProposalID); !ok {
		t.Error("executed order is not tracked by reconciler")
	}
}

// Исход сделки по стопу/тейку попадает в performance tracker
func TestEngineResolvesTradesIntoPerformance(t *testing.T) {
	eng, _ := newTestEngine()

	long := stubProposal(models.ModuleMeanReversion, models.Basket1) // entry 100, stop 99, take 102
	eng.registerTrade(long, &models.ExecutionRecord{ExecutedPrice: 100, AllocatedSize: 1})

	// цена между стопом и тейком - сделка остаётся открытой
	eng.resolveTrades("BTC-PERP", 100.5)
	if s := eng.ModuleStats()[models.ModuleMeanReversion]; s.Trades != 0 {
		t.Fatalf("trades = %d, want 0 while price is inside stop/take band", s.Trades)
	}

	// тейк достигнут - win с pnl = (102-100)*1
	eng.resolveTrades("BTC-PERP", 102.5)
	s := eng.ModuleStats()[models.ModuleMeanReversion]
	if s.Trades != 1 || s.Wins != 1 {
		t.Fatalf("stats = %+v, want 1 trade 1 win", s)
	}
	if s.TotalPnl != 2.0 {
		t.Errorf("total_pnl = %v, want 2.0", s.TotalPnl)
	}

	// закрытая сделка не разрешается повторно
	eng.resolveTrades("BTC-PERP", 103)
	if s := eng.ModuleStats()[models.ModuleMeanReversion]; s.Trades != 1 {
		t.Errorf("trades = %d, want 1 (trade must resolve exactly once)", s.Trades)
	}
}

func TestEngineResolvesShortStopAsLoss(t *testing.T) {
	eng, _ := newTestEngine()

	short := stubProposal(models.ModuleTrendContinuation, models.Basket2)
	short.Direction = models.DirectionShort
	short.StopLoss = 101
	short.TakeProfit = 97
	eng.registerTrade(short, &models.ExecutionRecord{ExecutedPrice: 100, AllocatedSize: 2})

	eng.resolveTrades("BTC-PERP", 101.5)

	s := eng.ModuleStats()[models.ModuleTrendContinuation]
	if s.Trades != 1 || s.Wins != 0 {
		t.Fatalf("stats = %+v, want 1 losing trade", s)
	}
	if s.TotalPnl != -2.0 {
		t.Errorf("total_pnl = %v, want -2.0 ((100-101)*2)", s.TotalPnl)
	}
}
