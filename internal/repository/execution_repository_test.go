package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"hars/internal/models"
)

// ============================================================
// ExecutionRepository Tests
// ============================================================

func testRecord() *models.ExecutionRecord {
	return &models.ExecutionRecord{
		Timestamp:            time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		ProposalID:           "MEAN_REVERSION-BTC-PERP-1-1",
		Symbol:               "BTC-PERP",
		Direction:            models.DirectionLong,
		AllocatedSize:        0.5,
		ExecutedSize:         0.5,
		ReferencePrice:       50_000,
		ExecutedPrice:        50_010,
		Status:               "FILLED",
		OrderID:              "EX-1",
		Basket:               models.Basket1,
		Module:               models.ModuleMeanReversion,
		HTFRegime:            models.RegimeBalanced,
		AuctionContext:       models.AuctionContext{EntryAtVAL: true, DeltaAligned: true},
		AllocationMultiplier: 0.5,
	}
}

func TestExecutionRepositoryCreate(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO executions`).
					WithArgs(
						sqlmock.AnyArg(), "MEAN_REVERSION-BTC-PERP-1-1", "BTC-PERP", models.DirectionLong,
						0.5, 0.5, 50_000.0, 50_010.0, "FILLED", "EX-1",
						"BASKET_1", "MEAN_REVERSION", "BALANCED", sqlmock.AnyArg(), 0.5,
					).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			expectError: false,
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO executions`).
					WillReturnError(errors.New("database error"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewExecutionRepository(db)
			err = repo.Create(context.Background(), testRecord())

			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func executionRows(rec *models.ExecutionRecord) *sqlmock.Rows {
	auction, _ := json.Marshal(rec.AuctionContext)
	return sqlmock.NewRows([]string{
		"timestamp", "proposal_id", "symbol", "direction", "allocated_size", "executed_size",
		"reference_price", "executed_price", "status", "order_id", "basket", "module",
		"htf_regime", "auction_context", "allocation_multiplier",
	}).AddRow(
		rec.Timestamp, rec.ProposalID, rec.Symbol, rec.Direction, rec.AllocatedSize,
		rec.ExecutedSize, rec.ReferencePrice, rec.ExecutedPrice, rec.Status, rec.OrderID,
		string(rec.Basket), string(rec.Module), string(rec.HTFRegime), auction,
		rec.AllocationMultiplier,
	)
}

func TestExecutionRepositoryGetByProposalID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	want := testRecord()
	mock.ExpectQuery(`SELECT (.+) FROM executions`).
		WithArgs(want.ProposalID).
		WillReturnRows(executionRows(want))

	repo := NewExecutionRepository(db)
	got, err := repo.GetByProposalID(context.Background(), want.ProposalID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ProposalID != want.ProposalID || got.Module != want.Module {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !got.AuctionContext.EntryAtVAL {
		t.Error("auction context not round-tripped through JSONB")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestExecutionRepositoryGetByProposalIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM executions`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"timestamp"}))

	repo := NewExecutionRepository(db)
	_, err = repo.GetByProposalID(context.Background(), "missing")
	if !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("err = %v, want ErrExecutionNotFound", err)
	}
}

func TestExecutionRepositoryGetRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := executionRows(testRecord())
	mock.ExpectQuery(`SELECT (.+) FROM executions ORDER BY timestamp DESC`).
		WithArgs(10).
		WillReturnRows(rows)

	repo := NewExecutionRepository(db)
	records, err := repo.GetRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestExecutionRepositoryCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM executions`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	repo := NewExecutionRepository(db)
	count, err := repo.Count(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 42 {
		t.Errorf("count = %d, want 42", count)
	}
}
