package repos_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"codeshop/internal/domain"
	"codeshop/internal/repos"
)

func mockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = raw.Close() })
	return sqlx.NewDb(raw, "sqlmock"), mock
}

func TestDebitGuardsBalance(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET balance_cents = balance_cents - ?`)).
		WithArgs(int64(1999), "u-1", int64(1999)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT balance_cents FROM users WHERE id = ?`)).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(int64(500)))

	err := repos.NewLedgerRepo(db).Debit(context.Background(), "u-1", decimal.RequireFromString("19.99"))
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("want ErrInsufficientBalance, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDebitUnknownUser(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectExec(`UPDATE users`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT balance_cents`).WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}))

	err := repos.NewLedgerRepo(db).Debit(context.Background(), "ghost", decimal.NewFromInt(1))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestDebitPropagatesDriverErrors(t *testing.T) {
	db, mock := mockDB(t)
	boom := errors.New("connection reset")
	mock.ExpectExec(`UPDATE users`).WillReturnError(boom)

	if err := repos.NewLedgerRepo(db).Debit(context.Background(), "u-1", decimal.NewFromInt(5)); !errors.Is(err, boom) {
		t.Fatalf("want driver error, got %v", err)
	}
}

func TestCreditRejectsNonPositive(t *testing.T) {
	db, mock := mockDB(t)
	var verr *domain.ValidationError
	if err := repos.NewLedgerRepo(db).Credit(context.Background(), "u-1", decimal.Zero); !errors.As(err, &verr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestBalanceRoundTrip(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	l := repos.NewLedgerRepo(db)

	if err := l.Credit(ctx, "u-carol", decimal.RequireFromString("12.345")); err != nil {
		t.Fatal(err)
	}
	b, err := l.Balance(ctx, "u-carol")
	if err != nil || !b.Equal(decimal.RequireFromString("12.35")) {
		t.Fatalf("balance = %s err = %v", b, err)
	}
	if err := l.Debit(ctx, "u-carol", decimal.RequireFromString("12.35")); err != nil {
		t.Fatal(err)
	}
	if err := l.Debit(ctx, "u-carol", decimal.RequireFromString("0.01")); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("overdraft: %v", err)
	}
}
