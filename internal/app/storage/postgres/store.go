// Package postgres implements the TransactionStore on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/linktum-network/matrix-service/internal/app/domain/txflow"
	"github.com/linktum-network/matrix-service/internal/app/storage"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store persists transaction audit records in the matrix_transactions table.
type Store struct {
	db *sqlx.DB
}

var _ storage.TransactionStore = (*Store)(nil)

// Open connects to the database and applies pending migrations.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// New wraps an existing handle without running migrations; used by tests.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

type txRow struct {
	ID            string    `db:"id"`
	Kind          string    `db:"kind"`
	Account       string    `db:"account"`
	Program       int16     `db:"program"`
	Level         int16     `db:"level"`
	Referrer      string    `db:"referrer"`
	Cost          string    `db:"cost"`
	State         string    `db:"state"`
	ApproveTxHash string    `db:"approve_tx_hash"`
	ExecuteTxHash string    `db:"execute_tx_hash"`
	Reason        string    `db:"reason"`
	Detail        string    `db:"detail"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func toRow(tx txflow.Transaction) txRow {
	cost := "0"
	if tx.Cost != nil {
		cost = tx.Cost.String()
	}
	return txRow{
		ID:            tx.ID,
		Kind:          string(tx.Kind),
		Account:       tx.Account.Hex(),
		Program:       int16(tx.Program),
		Level:         int16(tx.Level),
		Referrer:      tx.Referrer.Hex(),
		Cost:          cost,
		State:         string(tx.State),
		ApproveTxHash: tx.ApproveTxHash,
		ExecuteTxHash: tx.ExecuteTxHash,
		Reason:        string(tx.Reason),
		Detail:        tx.Detail,
		CreatedAt:     tx.CreatedAt,
		UpdatedAt:     tx.UpdatedAt,
	}
}

func fromRow(r txRow) txflow.Transaction {
	cost, ok := new(big.Int).SetString(r.Cost, 10)
	if !ok {
		cost = new(big.Int)
	}
	return txflow.Transaction{
		ID:            r.ID,
		Kind:          txflow.Kind(r.Kind),
		Account:       common.HexToAddress(r.Account),
		Program:       uint8(r.Program),
		Level:         int(r.Level),
		Referrer:      common.HexToAddress(r.Referrer),
		Cost:          cost,
		State:         txflow.State(r.State),
		ApproveTxHash: r.ApproveTxHash,
		ExecuteTxHash: r.ExecuteTxHash,
		Reason:        txflow.Reason(r.Reason),
		Detail:        r.Detail,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

const insertSQL = `
	INSERT INTO matrix_transactions (
		id, kind, account, program, level, referrer, cost, state,
		approve_tx_hash, execute_tx_hash, reason, detail, created_at, updated_at
	) VALUES (
		:id, :kind, :account, :program, :level, :referrer, :cost, :state,
		:approve_tx_hash, :execute_tx_hash, :reason, :detail, :created_at, :updated_at
	)`

func (s *Store) CreateTransaction(ctx context.Context, tx txflow.Transaction) (txflow.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	if _, err := s.db.NamedExecContext(ctx, insertSQL, toRow(tx)); err != nil {
		return txflow.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return tx, nil
}

const updateSQL = `
	UPDATE matrix_transactions
	SET state = :state, cost = :cost, approve_tx_hash = :approve_tx_hash,
		execute_tx_hash = :execute_tx_hash, reason = :reason, detail = :detail,
		updated_at = :updated_at
	WHERE id = :id`

func (s *Store) UpdateTransaction(ctx context.Context, tx txflow.Transaction) (txflow.Transaction, error) {
	tx.UpdatedAt = time.Now().UTC()

	res, err := s.db.NamedExecContext(ctx, updateSQL, toRow(tx))
	if err != nil {
		return txflow.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return txflow.Transaction{}, storage.ErrNotFound
	}
	return tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (txflow.Transaction, error) {
	var row txRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM matrix_transactions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return txflow.Transaction{}, storage.ErrNotFound
	}
	if err != nil {
		return txflow.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return fromRow(row), nil
}

func (s *Store) ListTransactions(ctx context.Context, account common.Address, limit int) ([]txflow.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []txRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM matrix_transactions
		WHERE account = $1
		ORDER BY created_at DESC
		LIMIT $2`, account.Hex(), limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	out := make([]txflow.Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func (s *Store) ListUnresolved(ctx context.Context) ([]txflow.Transaction, error) {
	var rows []txRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM matrix_transactions
		WHERE state IN ('approving', 'executing', 'confirming')
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list unresolved: %w", err)
	}

	out := make([]txflow.Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}
