package repository

import (
	"context"
	"database/sql"
	"time"

	"hars/internal/models"
)

// NotificationRepository - работа с таблицей notifications
// (журнал событий торгового ядра: kill switch, stuck orders,
// нарушения allocation tolerance, исполнения)
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создает новый экземпляр репозитория
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create записывает уведомление. Meta сериализуется в JSONB.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (timestamp, type, severity, symbol, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	var meta []byte
	if n.Meta != nil {
		var err error
		meta, err = json.Marshal(n.Meta)
		if err != nil {
			return err
		}
	}

	return r.db.QueryRowContext(
		ctx,
		query,
		n.Timestamp,
		n.Type,
		n.Severity,
		n.Symbol,
		n.Message,
		meta,
	).Scan(&n.ID)
}

// GetRecent возвращает последние N уведомлений
func (r *NotificationRepository) GetRecent(ctx context.Context, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, timestamp, type, severity, symbol, message, meta
		FROM notifications
		ORDER BY timestamp DESC
		LIMIT $1`

	return r.queryNotifications(ctx, query, limit)
}

// GetByType возвращает последние N уведомлений заданного типа
func (r *NotificationRepository) GetByType(ctx context.Context, notifType string, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, timestamp, type, severity, symbol, message, meta
		FROM notifications
		WHERE type = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	return r.queryNotifications(ctx, query, notifType, limit)
}

// DeleteOlderThan удаляет уведомления старше указанной даты
func (r *NotificationRepository) DeleteOlderThan(ctx context.Context, timestamp time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE timestamp < $1`, timestamp)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *NotificationRepository) queryNotifications(ctx context.Context, query string, args ...interface{}) ([]*models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		var symbol sql.NullString
		var meta []byte

		err := rows.Scan(&n.ID, &n.Timestamp, &n.Type, &n.Severity, &symbol, &n.Message, &meta)
		if err != nil {
			return nil, err
		}
		n.Symbol = symbol.String
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &n.Meta); err != nil {
				return nil, err
			}
		}
		notifications = append(notifications, n)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return notifications, nil
}
