package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"hars/internal/exchange"
	"hars/internal/models"
)

// ============================================================
// Order reconciler: сверка внутреннего состояния с биржей
// ============================================================
//
// Реконсилятор - единственный писатель TrackedOrder после отправки.
// Он опрашивает биржу по фиксированному интервалу вне критического
// пути и переводит сырые статусы в state machine. Записи никогда не
// удаляются. По отношению к бирже цикл read-only.

// ReconcilerConfig - параметры цикла сверки
type ReconcilerConfig struct {
	PollInterval time.Duration
	// SUBMITTED/PARTIAL без обновлений дольше этого срока помечается STUCK
	StuckAfter time.Duration
	// Таймаут одного запроса к бирже
	RequestTimeout time.Duration
}

// DefaultReconcilerConfig - значения по умолчанию
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		PollInterval:   5 * time.Second,
		StuckAfter:     2 * time.Minute,
		RequestTimeout: 10 * time.Second,
	}
}

// Reconciler владеет картой отслеживаемых ордеров
type Reconciler struct {
	cfg     ReconcilerConfig
	adapter exchange.Adapter
	log     *zap.Logger
	notify  func(models.Notification)

	mu     sync.Mutex
	orders map[string]*models.TrackedOrder // ключ - proposal_id
}

// NewReconciler создаёт реконсилятор. notify может быть nil.
func NewReconciler(cfg ReconcilerConfig, adapter exchange.Adapter, notify func(models.Notification), log *zap.Logger) *Reconciler {
	return &Reconciler{
		cfg:     cfg,
		adapter: adapter,
		log:     log,
		notify:  notify,
		orders:  make(map[string]*models.TrackedOrder),
	}
}

// Track регистрирует только что отправленный ордер.
// Вызывается execution engine сразу после успешного submit.
func (r *Reconciler) Track(p *models.ExecutionProposal, result *exchange.OrderResult) {
	state := models.MapExchangeStatus(result.Status, result.FilledSize)
	if state == models.OrderStateUnknown && result.OrderID != "" {
		// биржа приняла ордер, но статус нераспознан
		state = models.OrderStateSubmitted
	}

	order := &models.TrackedOrder{
		ProposalID:    p.ProposalID,
		Symbol:        p.Symbol,
		ClientOrderID: p.ProposalID,
		OrderID:       result.OrderID,
		State:         state,
		LastStatus:    result.Status,
		FilledSize:    result.FilledSize,
		AvgPrice:      result.AvgPrice,
		LastUpdateTS:  time.Now().UTC(),
	}

	r.mu.Lock()
	r.orders[p.ProposalID] = order
	r.mu.Unlock()

	OrderStateTransitions.WithLabelValues(string(models.OrderStatePending), string(state)).Inc()
}

// Get возвращает копию отслеживаемого ордера
func (r *Reconciler) Get(proposalID string) (models.TrackedOrder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[proposalID]
	if !ok {
		return models.TrackedOrder{}, false
	}
	return *order, true
}

// Orders возвращает копии всех отслеживаемых ордеров
func (r *Reconciler) Orders() []models.TrackedOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.TrackedOrder, 0, len(r.orders))
	for _, order := range r.orders {
		out = append(out, *order)
	}
	return out
}

// Run запускает цикл опроса до отмены контекста
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.log.Info("order reconciler started",
		zap.Duration("poll_interval", r.cfg.PollInterval),
		zap.Duration("stuck_after", r.cfg.StuckAfter))

	for {
		select {
		case <-ctx.Done():
			r.log.Info("order reconciler stopped")
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

// poll сверяет все нетерминальные ордера с биржей
func (r *Reconciler) poll(ctx context.Context) {
	ReconcilePolls.Inc()

	for _, id := range r.activeIDs() {
		r.reconcileOne(ctx, id)
	}
}

// activeIDs собирает proposal_id нетерминальных ордеров под локом
func (r *Reconciler) activeIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.orders))
	for id, order := range r.orders {
		if !models.IsTerminalOrderState(order.State) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Reconciler) reconcileOne(ctx context.Context, proposalID string) {
	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	result, err := r.adapter.GetOrderByClientID(reqCtx, proposalID)
	cancel()

	if err != nil {
		r.log.Warn("order lookup failed during reconciliation",
			zap.String("proposal_id", proposalID), zap.Error(err))
		r.maybeMarkStuck(proposalID)
		return
	}
	if result == nil {
		// ордер не найден ни среди открытых, ни в истории
		r.maybeMarkStuck(proposalID)
		return
	}

	r.applyUpdate(proposalID, result)
	// Здоровый ответ биржи с тем же статусом - тоже отсутствие прогресса
	r.maybeMarkStuck(proposalID)
}

// applyUpdate переводит ордер в состояние, соответствующее ответу биржи.
//
// LastUpdateTS - это время последнего ПРОГРЕССА (смена состояния или рост
// исполненного объёма), а не последнего ответа биржи. Ордер, висящий на
// книге, пока биржа исправно отвечает "OPEN" каждые 5 секунд, иначе никогда
// не был бы помечен STUCK.
func (r *Reconciler) applyUpdate(proposalID string, result *exchange.OrderResult) {
	newState := models.MapExchangeStatus(result.Status, result.FilledSize)

	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[proposalID]
	if !ok {
		return
	}

	if order.OrderID == "" && result.OrderID != "" {
		order.OrderID = result.OrderID
	}
	filledChanged := result.FilledSize != order.FilledSize
	order.LastStatus = result.Status
	order.FilledSize = result.FilledSize
	if result.AvgPrice > 0 {
		order.AvgPrice = result.AvgPrice
	}

	if newState == order.State {
		if filledChanged {
			order.LastUpdateTS = time.Now().UTC()
		}
		return
	}

	// Со STUCK снимает только реальный прогресс: fill или терминальный
	// статус. Неизменный "OPEN" не должен гонять ордер STUCK↔SUBMITTED.
	if order.State == models.OrderStateStuck && !filledChanged && !models.IsTerminalOrderState(newState) {
		return
	}

	if !models.CanTransitionOrder(order.State, newState) {
		r.log.Warn("exchange reported invalid order state transition",
			zap.String("proposal_id", proposalID),
			zap.String("from", string(order.State)),
			zap.String("to", string(newState)),
			zap.String("raw_status", result.Status))
		return
	}

	r.log.Info("order state transition",
		zap.String("proposal_id", proposalID),
		zap.String("symbol", order.Symbol),
		zap.String("from", string(order.State)),
		zap.String("to", string(newState)),
		zap.Float64("filled_size", result.FilledSize))
	OrderStateTransitions.WithLabelValues(string(order.State), string(newState)).Inc()

	order.State = newState
	order.LastUpdateTS = time.Now().UTC()
}

// maybeMarkStuck помечает ордер STUCK, если обновлений не было дольше
// StuckAfter. STUCK - боковое нетерминальное состояние: более поздний
// ответ биржи с fill или терминальным статусом его перекроет.
func (r *Reconciler) maybeMarkStuck(proposalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[proposalID]
	if !ok {
		return
	}
	if order.State == models.OrderStateStuck || models.IsTerminalOrderState(order.State) {
		return
	}
	if time.Since(order.LastUpdateTS) < r.cfg.StuckAfter {
		return
	}
	if !models.CanTransitionOrder(order.State, models.OrderStateStuck) {
		return
	}

	prev := order.State
	order.State = models.OrderStateStuck

	OrdersStuck.Inc()
	OrderStateTransitions.WithLabelValues(string(prev), string(models.OrderStateStuck)).Inc()
	r.log.Warn("order marked stuck",
		zap.String("proposal_id", proposalID),
		zap.String("symbol", order.Symbol),
		zap.String("previous_state", string(prev)),
		zap.Time("last_update", order.LastUpdateTS))

	if r.notify != nil {
		r.notify(models.Notification{
			Timestamp: time.Now().UTC(),
			Type:      models.NotificationTypeStuckOrder,
			Severity:  models.SeverityWarn,
			Symbol:    order.Symbol,
			Message:   "order stuck without updates: " + proposalID,
			Meta: map[string]interface{}{
				"previous_state": string(prev),
				"last_update":    order.LastUpdateTS,
			},
		})
	}
}
