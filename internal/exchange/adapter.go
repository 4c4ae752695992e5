// Package exchange предоставляет тонкий адаптер к бирже для торгового ядра.
package exchange

import (
	"context"
	"time"
)

// Adapter определяет единый контракт биржевого адаптера.
//
// Это ЕДИНСТВЕННАЯ поверхность, через которую ядро трогает биржу.
// Все методы обязаны уважать ctx deadline; любая ошибка (сеть, auth,
// кривой ответ) доходит до ядра как *APIError, чтобы риск-движок
// мог единообразно считать failure streak.
type Adapter interface {
	// Name возвращает имя биржи
	Name() string

	// MarketOrder размещает рыночный ордер.
	// signedAmount: положительный = LONG, отрицательный = SHORT.
	// Обязан быть идемпотентным по clientOrderID: повторный вызов
	// с тем же ID возвращает существующий ордер, а не создаёт новый.
	MarketOrder(ctx context.Context, symbol string, signedAmount float64, clientOrderID string) (*OrderResult, error)

	// CancelOrder отменяет ордер по биржевому ID
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// GetOrderByClientID ищет ордер по client order id
	// (сначала среди открытых, затем в истории). nil, nil если не найден.
	GetOrderByClientID(ctx context.Context, clientOrderID string) (*OrderResult, error)

	// GetAccountState возвращает снапшот аккаунта (best-effort поля)
	GetAccountState(ctx context.Context) (*AccountSnapshot, error)

	// GetPnl возвращает снапшот PnL (best-effort поля)
	GetPnl(ctx context.Context) (*PnlSnapshot, error)

	// Close закрывает соединения с биржей
	Close() error
}

// OrderResult - ответ биржи на размещение/запрос ордера
type OrderResult struct {
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Status        string    `json:"status"` // сырой биржевой статус, маппится реконсилятором
	FilledSize    float64   `json:"filled_size"`
	AvgPrice      float64   `json:"avg_price"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AccountPosition - позиция в снапшоте аккаунта
type AccountPosition struct {
	Symbol        string  `json:"symbol"`
	Direction     string  `json:"direction"` // LONG | SHORT
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entry_price"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
}

// AccountSnapshot - состояние аккаунта. Поля best-effort: биржа может
// не отдавать часть из них, потребители обязаны это переживать.
type AccountSnapshot struct {
	Timestamp   time.Time          `json:"timestamp"`
	Balance     float64            `json:"balance"`
	ExposureUSD float64            `json:"exposure_usd"`
	Positions   []*AccountPosition `json:"positions"`
}

// PnlSnapshot - снапшот PnL
type PnlSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	RealizedPnl float64   `json:"realized_pnl"`
	DailyPnl    float64   `json:"daily_pnl"`
	DrawdownPct float64   `json:"drawdown_pct"`
}

// Ticker содержит текущую цену (приходит из price feed)
type Ticker struct {
	Symbol    string    `json:"symbol"`
	BidPrice  float64   `json:"bid_price"`
	AskPrice  float64   `json:"ask_price"`
	LastPrice float64   `json:"last_price"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid возвращает середину bid/ask, либо последнюю цену если стакан пуст
func (t *Ticker) Mid() float64 {
	if t.BidPrice > 0 && t.AskPrice > 0 {
		return (t.BidPrice + t.AskPrice) / 2
	}
	return t.LastPrice
}

// APIError представляет любую ошибку биржевого адаптера.
// Ядро не различает причины (сеть/auth/формат): каждая APIError
// засчитывается в api_failure_streak.
type APIError struct {
	Exchange string
	Op       string // операция: market_order, cancel_order, ...
	Message  string
	Original error
}

func (e *APIError) Error() string {
	return e.Exchange + ": " + e.Op + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *APIError) Unwrap() error {
	return e.Original
}

// NewAPIError создаёт APIError с обёрнутой исходной ошибкой
func NewAPIError(exchange, op, message string, original error) *APIError {
	return &APIError{Exchange: exchange, Op: op, Message: message, Original: original}
}
