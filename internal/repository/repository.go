// Package repository: слой доступа к данным PostgreSQL.
// Чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound: строка не найдена.
	ErrNotFound = errors.New("record not found")
	// ErrConflict: нарушено ограничение уникальности.
	ErrConflict = errors.New("conflict: record already exists")
	// ErrOwnerHasBusiness: у владельца уже есть карточка при политике
	// "одна на владельца".
	ErrOwnerHasBusiness = errors.New("owner already has a business")
)

// DBTX реализуют и *pgxpool.Pool, и pgx.Tx, поэтому репозитории работают
// как внутри транзакций, так и вне их.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store объединяет все репозитории над одним DBTX.
type Store struct {
	Reviews    ReviewRepository
	Businesses BusinessRepository
	Contacts   ContactRepository
}

// NewStore создаёт репозитории над db.
func NewStore(db DBTX) *Store {
	return &Store{
		Reviews:    NewReviewRepository(db),
		Businesses: NewBusinessRepository(db),
		Contacts:   NewContactRepository(db),
	}
}

// TxRunner выполняет операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner над pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn в транзакции. Ошибка fn откатывает транзакцию,
// иначе выполняется commit.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // после commit ничего не делает

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// InTx выполняет fn со Store, привязанным к одной транзакции.
func (r *TxRunner) InTx(ctx context.Context, fn func(s *Store) error) error {
	return r.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(NewStore(tx))
	})
}

// isUniqueViolation: ошибка PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isForeignKeyViolation: ошибка PostgreSQL foreign_key_violation.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
