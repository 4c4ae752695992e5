package bot

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"hars/internal/exchange"
	"hars/internal/models"
	"hars/pkg/retry"
)

// ============================================================
// Execution engine: единственная точка отправки ордеров
// ============================================================
//
// Execute никогда не возвращает ошибку вызывающему: любой отказ
// логируется и превращается в nil. Торговый цикл не должен падать
// из-за одного предложения.

// ExecutionConfig - параметры исполнения
type ExecutionConfig struct {
	// Допуск на превышение исполненного размера над аллоцированным.
	// Превышение - критическое нарушение инварианта: kill switch + отмена.
	AllocationTolerance float64

	// Минимальный торгуемый размер; аллокации меньше отбрасываются
	MinTradableSize float64

	// Таймаут одного вызова адаптера
	SubmitTimeout time.Duration
}

// DefaultExecutionConfig - значения по умолчанию
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		AllocationTolerance: 0.01,
		MinTradableSize:     1e-6,
		SubmitTimeout:       10 * time.Second,
	}
}

// RecordStore - опциональный приёмник audit-записей исполнения.
// Ошибка записи не фатальна и только логируется.
type RecordStore func(ctx context.Context, rec *models.ExecutionRecord) error

// ExecutionEngine оркестрирует путь предложения до биржи
type ExecutionEngine struct {
	cfg        ExecutionConfig
	adapter    exchange.Adapter
	risk       *RiskBrain
	reconciler *Reconciler
	store      RecordStore
	log        *zap.Logger
}

// NewExecutionEngine создаёт execution engine. store может быть nil.
func NewExecutionEngine(cfg ExecutionConfig, adapter exchange.Adapter, risk *RiskBrain, reconciler *Reconciler, store RecordStore, log *zap.Logger) *ExecutionEngine {
	return &ExecutionEngine{
		cfg:        cfg,
		adapter:    adapter,
		risk:       risk,
		reconciler: reconciler,
		store:      store,
		log:        log,
	}
}

// Execute проводит предложение через валидацию, риск, отправку и
// проверку allocation tolerance. Возвращает запись об исполнении или
// nil (отказ на любом шаге).
//
// ProposalID используется как client order id - это idempotency key:
// повторный Execute того же предложения (ретрай, рестарт) не породит
// второй живой ордер.
func (e *ExecutionEngine) Execute(ctx context.Context, p *models.ExecutionProposal, pf *models.PortfolioSnapshot, refPrice float64) *models.ExecutionRecord {
	start := time.Now()

	if err := p.Validate(); err != nil {
		e.log.Error("rejecting invalid proposal",
			zap.String("proposal_id", p.ProposalID), zap.Error(err))
		return nil
	}

	decision := e.risk.Assess(p, pf)
	if !decision.Allowed {
		e.log.Info("proposal blocked by risk engine",
			zap.String("proposal_id", p.ProposalID),
			zap.String("symbol", p.Symbol),
			zap.String("reason", decision.Reason))
		return nil
	}

	allocatedSize := p.Size * decision.Multiplier
	if allocatedSize < e.cfg.MinTradableSize {
		e.log.Info("allocated size below tradable minimum, skipping",
			zap.String("proposal_id", p.ProposalID),
			zap.Float64("allocated_size", allocatedSize),
			zap.Float64("multiplier", decision.Multiplier))
		return nil
	}

	submitCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	defer cancel()

	result, err := e.adapter.MarketOrder(submitCtx, p.Symbol, p.SignedSize(allocatedSize), p.ProposalID)
	if err != nil {
		var apiErr *exchange.APIError
		if errors.As(err, &apiErr) || errors.Is(err, context.DeadlineExceeded) {
			e.risk.RegisterAPIFailure()
		}
		e.log.Error("order submission failed",
			zap.String("proposal_id", p.ProposalID),
			zap.String("symbol", p.Symbol),
			zap.Error(err))
		return nil
	}
	e.risk.RegisterAPISuccess()

	// Страховка от over-fill на стороне биржи: исполнение сверх
	// разрешённого риском размера растит экспозицию бесконтрольно
	if result.FilledSize > allocatedSize*(1+e.cfg.AllocationTolerance) {
		AllocationViolations.Inc()
		e.log.Error("ALLOCATION TOLERANCE VIOLATED",
			zap.String("proposal_id", p.ProposalID),
			zap.String("symbol", p.Symbol),
			zap.Float64("allocated_size", allocatedSize),
			zap.Float64("executed_size", result.FilledSize))
		e.risk.TripKillSwitch("ALLOCATION_TOLERANCE_VIOLATION")
		e.cancelResidual(ctx, p.Symbol, result.OrderID)
		return nil
	}

	e.reconciler.Track(p, result)

	OrdersSubmitted.WithLabelValues(p.Symbol, p.Direction).Inc()
	ExecutionLatency.Observe(float64(time.Since(start).Milliseconds()))

	rec := &models.ExecutionRecord{
		Timestamp:            time.Now().UTC(),
		ProposalID:           p.ProposalID,
		Symbol:               p.Symbol,
		Direction:            p.Direction,
		AllocatedSize:        allocatedSize,
		ExecutedSize:         result.FilledSize,
		ReferencePrice:       refPrice,
		ExecutedPrice:        result.AvgPrice,
		Status:               result.Status,
		OrderID:              result.OrderID,
		Basket:               p.Basket,
		Module:               p.Module,
		HTFRegime:            p.HTFRegime,
		AuctionContext:       p.AuctionContext,
		AllocationMultiplier: decision.Multiplier,
	}

	if e.store != nil {
		if err := e.store(ctx, rec); err != nil {
			e.log.Warn("failed to persist execution record",
				zap.String("proposal_id", p.ProposalID), zap.Error(err))
		}
	}

	e.log.Info("order executed",
		zap.String("proposal_id", p.ProposalID),
		zap.String("symbol", p.Symbol),
		zap.String("direction", p.Direction),
		zap.Float64("allocated_size", allocatedSize),
		zap.Float64("executed_size", result.FilledSize),
		zap.Float64("multiplier", decision.Multiplier),
		zap.String("order_id", result.OrderID))

	return rec
}

// cancelResidual - best-effort отмена ордера после нарушения tolerance.
// Агрессивные ретраи: остаточный ордер опаснее лишнего запроса.
func (e *ExecutionEngine) cancelResidual(ctx context.Context, symbol, orderID string) {
	if orderID == "" {
		return
	}
	err := retry.Do(ctx, func() error {
		cancelCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
		defer cancel()
		return e.adapter.CancelOrder(cancelCtx, symbol, orderID)
	}, retry.AggressiveConfig())
	if err != nil {
		e.log.Error("best-effort cancel after tolerance violation failed",
			zap.String("symbol", symbol),
			zap.String("order_id", orderID),
			zap.Error(err))
		return
	}
	e.log.Warn("residual order cancelled after tolerance violation",
		zap.String("symbol", symbol), zap.String("order_id", orderID))
}
