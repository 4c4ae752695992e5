package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	"hars/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Ошибки репозитория исполнений
var (
	ErrExecutionNotFound = errors.New("execution not found")
)

// ExecutionRepository - работа с таблицей executions (append-only
// audit-лог исполнений; не источник истины для позиций)
type ExecutionRepository struct {
	db *sql.DB
}

// NewExecutionRepository создает новый экземпляр репозитория
func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Create записывает исполнение в audit-лог.
// auction_context сериализуется в JSONB как есть - замороженный тег.
func (r *ExecutionRepository) Create(ctx context.Context, rec *models.ExecutionRecord) error {
	query := `
		INSERT INTO executions (timestamp, proposal_id, symbol, direction, allocated_size, executed_size,
			reference_price, executed_price, status, order_id, basket, module, htf_regime,
			auction_context, allocation_multiplier)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	auction, err := json.Marshal(rec.AuctionContext)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(
		ctx,
		query,
		rec.Timestamp,
		rec.ProposalID,
		rec.Symbol,
		rec.Direction,
		rec.AllocatedSize,
		rec.ExecutedSize,
		rec.ReferencePrice,
		rec.ExecutedPrice,
		rec.Status,
		rec.OrderID,
		string(rec.Basket),
		string(rec.Module),
		string(rec.HTFRegime),
		auction,
		rec.AllocationMultiplier,
	)
	return err
}

const executionColumns = `timestamp, proposal_id, symbol, direction, allocated_size, executed_size,
		reference_price, executed_price, status, order_id, basket, module, htf_regime,
		auction_context, allocation_multiplier`

func scanExecution(scan func(dest ...interface{}) error) (*models.ExecutionRecord, error) {
	rec := &models.ExecutionRecord{}
	var basket, module, regime string
	var auction []byte

	err := scan(
		&rec.Timestamp,
		&rec.ProposalID,
		&rec.Symbol,
		&rec.Direction,
		&rec.AllocatedSize,
		&rec.ExecutedSize,
		&rec.ReferencePrice,
		&rec.ExecutedPrice,
		&rec.Status,
		&rec.OrderID,
		&basket,
		&module,
		&regime,
		&auction,
		&rec.AllocationMultiplier,
	)
	if err != nil {
		return nil, err
	}

	rec.Basket = models.Basket(basket)
	rec.Module = models.StrategyModule(module)
	rec.HTFRegime = models.HTFRegime(regime)
	if len(auction) > 0 {
		if err := json.Unmarshal(auction, &rec.AuctionContext); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// GetByProposalID возвращает исполнение по proposal_id
func (r *ExecutionRepository) GetByProposalID(ctx context.Context, proposalID string) (*models.ExecutionRecord, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE proposal_id = $1`

	rec, err := scanExecution(r.db.QueryRowContext(ctx, query, proposalID).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return rec, nil
}

// GetRecent возвращает последние N исполнений
func (r *ExecutionRepository) GetRecent(ctx context.Context, limit int) ([]*models.ExecutionRecord, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		ORDER BY timestamp DESC
		LIMIT $1`

	return r.queryExecutions(ctx, query, limit)
}

// GetBySymbol возвращает последние N исполнений по символу
func (r *ExecutionRepository) GetBySymbol(ctx context.Context, symbol string, limit int) ([]*models.ExecutionRecord, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE symbol = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	return r.queryExecutions(ctx, query, symbol, limit)
}

// GetByModuleInTimeRange возвращает исполнения модуля за период
func (r *ExecutionRepository) GetByModuleInTimeRange(ctx context.Context, module models.StrategyModule, from, to time.Time) ([]*models.ExecutionRecord, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE module = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp DESC`

	return r.queryExecutions(ctx, query, string(module), from, to)
}

// Count возвращает общее количество исполнений
func (r *ExecutionRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions`).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...interface{}) ([]*models.ExecutionRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}
