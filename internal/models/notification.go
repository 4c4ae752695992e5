package models

import "time"

// Notification представляет уведомление о событии торгового ядра
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`         // KILL_SWITCH, ALLOCATION, STUCK_ORDER, API_ERROR, EXECUTION, RISK_BLOCK
	Severity  string                 `json:"severity" db:"severity"` // info, warn, error
	Symbol    string                 `json:"symbol,omitempty" db:"symbol"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON в БД)
}

// Типы уведомлений
const (
	NotificationTypeKillSwitch = "KILL_SWITCH" // сработал kill-switch
	NotificationTypeAllocation = "ALLOCATION"  // нарушение allocation tolerance
	NotificationTypeStuckOrder = "STUCK_ORDER" // ордер без обновлений дольше таймаута
	NotificationTypeAPIError   = "API_ERROR"   // ошибка биржевого адаптера
	NotificationTypeExecution  = "EXECUTION"   // успешное исполнение
	NotificationTypeRiskBlock  = "RISK_BLOCK"  // risk engine заблокировал сделку
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
