package models

import (
	"strings"
	"time"
)

// ============================================================
// Отслеживаемые ордера и state machine реконсиляции
// ============================================================

// OrderState - внутреннее состояние отслеживаемого ордера
type OrderState string

const (
	OrderStatePending   OrderState = "PENDING"   // создан, ещё не отправлен
	OrderStateSubmitted OrderState = "SUBMITTED" // принят биржей, ждёт исполнения
	OrderStatePartial   OrderState = "PARTIAL"   // частично исполнен
	OrderStateFilled    OrderState = "FILLED"    // полностью исполнен
	OrderStateCancelled OrderState = "CANCELLED" // отменён
	OrderStateRejected  OrderState = "REJECTED"  // отклонён биржей
	OrderStateStuck     OrderState = "STUCK"     // нет обновлений дольше таймаута
	OrderStateUnknown   OrderState = "UNKNOWN"   // биржа вернула нераспознанный статус
)

// ValidOrderTransitions определяет допустимые переходы между состояниями.
// STUCK не терминален: более поздний опрос с терминальным или fill-статусом
// перекрывает его.
var ValidOrderTransitions = map[OrderState][]OrderState{
	OrderStatePending:   {OrderStateSubmitted, OrderStateRejected, OrderStateUnknown},
	OrderStateSubmitted: {OrderStatePartial, OrderStateFilled, OrderStateCancelled, OrderStateRejected, OrderStateStuck, OrderStateUnknown},
	OrderStatePartial:   {OrderStateSubmitted, OrderStateFilled, OrderStateCancelled, OrderStateRejected, OrderStateStuck, OrderStateUnknown},
	OrderStateStuck:     {OrderStateSubmitted, OrderStatePartial, OrderStateFilled, OrderStateCancelled, OrderStateRejected, OrderStateUnknown},
	OrderStateUnknown:   {OrderStateSubmitted, OrderStatePartial, OrderStateFilled, OrderStateCancelled, OrderStateRejected, OrderStateStuck},
	// Терминальные состояния: переходов нет
	OrderStateFilled:    {},
	OrderStateCancelled: {},
	OrderStateRejected:  {},
}

// CanTransitionOrder проверяет допустимость перехода между состояниями ордера
func CanTransitionOrder(from, to OrderState) bool {
	if from == to {
		return true
	}
	allowed, ok := ValidOrderTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminalOrderState возвращает true для терминальных состояний
func IsTerminalOrderState(s OrderState) bool {
	return s == OrderStateFilled || s == OrderStateCancelled || s == OrderStateRejected
}

// MapExchangeStatus переводит сырой биржевой статус во внутреннее состояние.
//
// Маппинг лексический и оборонительный: биржи произвольно варьируют
// написание статусов, поэтому сравниваются case-insensitive подстроки.
// Порядок проверок важен: CANCEL/REJECT раньше FILL, потому что
// "PARTIALLY_FILLED_CANCELLED" должен считаться отменой; PART раньше
// FILL, потому что "PARTIALLY_FILLED" содержит обе подстроки.
func MapExchangeStatus(rawStatus string, filledSize float64) OrderState {
	s := strings.ToUpper(strings.TrimSpace(rawStatus))

	switch {
	case strings.Contains(s, "CANCEL"):
		return OrderStateCancelled
	case strings.Contains(s, "REJECT"):
		return OrderStateRejected
	case strings.Contains(s, "PART"):
		return OrderStatePartial
	case strings.Contains(s, "FILL"):
		return OrderStateFilled
	}

	// Нераспознанный статус, но есть частичное исполнение
	if filledSize > 0 {
		return OrderStatePartial
	}

	// Известная "открытая" лексика
	for _, open := range []string{"OPEN", "NEW", "PENDING", "LIVE", "WORKING"} {
		if strings.Contains(s, open) {
			return OrderStateSubmitted
		}
	}

	return OrderStateUnknown
}

// TrackedOrder - ордер под наблюдением реконсилятора.
//
// Создаётся execution engine при отправке, дальше обновляется
// ИСКЛЮЧИТЕЛЬНО polling-циклом реконсилятора. Записи не удаляются
// (сохраняются для аудита).
type TrackedOrder struct {
	ProposalID    string     `json:"proposal_id"` // ключ, он же client order id
	Symbol        string     `json:"symbol"`
	ClientOrderID string     `json:"client_order_id"`
	OrderID       string     `json:"order_id,omitempty"` // пустой, пока биржа не назначила
	State         OrderState `json:"state"`
	LastStatus    string     `json:"last_status"` // сырой статус от биржи
	FilledSize    float64    `json:"filled_size"`
	AvgPrice      float64    `json:"avg_price"`
	LastUpdateTS  time.Time  `json:"last_update_ts"`
}

// ExecutionRecord - неизменяемая запись об успешном исполнении.
// Одна запись на успешный execute; append-only audit-лог, не источник
// истины для позиций.
type ExecutionRecord struct {
	Timestamp            time.Time      `json:"timestamp"`
	ProposalID           string         `json:"proposal_id"`
	Symbol               string         `json:"symbol"`
	Direction            string         `json:"direction"`
	AllocatedSize        float64        `json:"allocated_size"`
	ExecutedSize         float64        `json:"executed_size"`
	ReferencePrice       float64        `json:"reference_price"`
	ExecutedPrice        float64        `json:"executed_price"`
	Status               string         `json:"status"`
	OrderID              string         `json:"order_id"`
	Basket               Basket         `json:"basket"`
	Module               StrategyModule `json:"module"`
	HTFRegime            HTFRegime      `json:"htf_regime"`
	AuctionContext       AuctionContext `json:"auction_context"`
	AllocationMultiplier float64        `json:"allocation_multiplier"`
}
