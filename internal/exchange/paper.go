package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Paper - dry-run адаптер (бумажная торговля).
//
// Назначение:
// - Безопасный запуск ядра без живых ордеров (DRY_RUN=1)
// - Детерминированная биржа для unit-тестов
//
// Поведение:
// - Рыночный ордер "исполняется" мгновенно по заданной цене
// - Идемпотентность по clientOrderID соблюдается честно: повторный
//   вызов возвращает уже созданный ордер
// - FillRatio и инъекция ошибок позволяют воспроизводить overfill
//   и API-сбои в тестах
type Paper struct {
	mu sync.Mutex

	orders map[string]*OrderResult // clientOrderID -> ордер
	prices map[string]float64      // symbol -> цена исполнения

	// FillRatio - доля запрошенного объёма, которую "исполнит" биржа.
	// 1.0 = полный fill; >1.0 моделирует overfill со стороны биржи.
	FillRatio float64

	// InitialStatus - статус новых ордеров. Пустая строка = "FILLED"
	// (мгновенное исполнение). "NEW"/"OPEN" моделируют ордер, живущий
	// в стакане, для тестов реконсилятора.
	InitialStatus string

	// failNext - сколько следующих вызовов вернут APIError
	failNext int

	balance float64
}

// NewPaper создаёт paper-адаптер с дефолтной ценой исполнения
func NewPaper() *Paper {
	return &Paper{
		orders:    make(map[string]*OrderResult),
		prices:    make(map[string]float64),
		FillRatio: 1.0,
		balance:   100_000,
	}
}

// Name возвращает имя биржи
func (p *Paper) Name() string { return "paper" }

// SetPrice задаёт цену исполнения для символа
func (p *Paper) SetPrice(symbol string, px float64) {
	p.mu.Lock()
	p.prices[symbol] = px
	p.mu.Unlock()
}

// FailNext заставляет следующие n вызовов вернуть APIError
func (p *Paper) FailNext(n int) {
	p.mu.Lock()
	p.failNext = n
	p.mu.Unlock()
}

// SetOrderStatus переписывает статус существующего ордера.
// Используется тестами реконсилятора для имитации жизни ордера на бирже.
func (p *Paper) SetOrderStatus(clientOrderID, status string, filledSize, avgPrice float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o, ok := p.orders[clientOrderID]; ok {
		o.Status = status
		o.FilledSize = filledSize
		o.AvgPrice = avgPrice
		o.UpdatedAt = time.Now()
	}
}

// OrderCount возвращает количество созданных ордеров
func (p *Paper) OrderCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}

func (p *Paper) takeFailure(op string) error {
	if p.failNext > 0 {
		p.failNext--
		return NewAPIError("paper", op, "injected failure", nil)
	}
	return nil
}

// MarketOrder имитирует размещение рыночного ордера
func (p *Paper) MarketOrder(ctx context.Context, symbol string, signedAmount float64, clientOrderID string) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewAPIError("paper", "market_order", "context cancelled", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure("market_order"); err != nil {
		return nil, err
	}

	// Идемпотентность: повтор с тем же clientOrderID возвращает
	// существующий ордер, второй живой ордер не создаётся
	if existing, ok := p.orders[clientOrderID]; ok {
		return cloneOrder(existing), nil
	}

	px := p.prices[symbol]
	if px <= 0 {
		px = 100.0
	}

	amount := signedAmount
	if amount < 0 {
		amount = -amount
	}

	status := p.InitialStatus
	filled := amount * p.FillRatio
	if status == "" {
		status = "FILLED"
	} else {
		filled = 0
	}

	order := &OrderResult{
		OrderID:       fmt.Sprintf("PAPER_%s", clientOrderID),
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Status:        status,
		FilledSize:    filled,
		AvgPrice:      px,
		UpdatedAt:     time.Now(),
	}
	p.orders[clientOrderID] = order

	return cloneOrder(order), nil
}

// CancelOrder имитирует отмену ордера
func (p *Paper) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := ctx.Err(); err != nil {
		return NewAPIError("paper", "cancel_order", "context cancelled", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure("cancel_order"); err != nil {
		return err
	}

	for _, o := range p.orders {
		if o.OrderID == orderID {
			o.Status = "CANCELLED"
			o.UpdatedAt = time.Now()
			return nil
		}
	}
	return NewAPIError("paper", "cancel_order", "order not found: "+orderID, nil)
}

// GetOrderByClientID возвращает ордер по client order id (nil если не найден)
func (p *Paper) GetOrderByClientID(ctx context.Context, clientOrderID string) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewAPIError("paper", "get_order_by_client_id", "context cancelled", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure("get_order_by_client_id"); err != nil {
		return nil, err
	}

	if o, ok := p.orders[clientOrderID]; ok {
		return cloneOrder(o), nil
	}
	return nil, nil
}

// GetAccountState возвращает снапшот бумажного аккаунта
func (p *Paper) GetAccountState(ctx context.Context) (*AccountSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewAPIError("paper", "get_account_state", "context cancelled", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure("get_account_state"); err != nil {
		return nil, err
	}

	return &AccountSnapshot{
		Timestamp: time.Now(),
		Balance:   p.balance,
		Positions: nil,
	}, nil
}

// GetPnl возвращает нулевой PnL снапшот
func (p *Paper) GetPnl(ctx context.Context) (*PnlSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewAPIError("paper", "get_pnl", "context cancelled", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure("get_pnl"); err != nil {
		return nil, err
	}

	return &PnlSnapshot{Timestamp: time.Now()}, nil
}

// Close ничего не делает для paper-адаптера
func (p *Paper) Close() error { return nil }

func cloneOrder(o *OrderResult) *OrderResult {
	c := *o
	return &c
}
