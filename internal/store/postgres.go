package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gruasrd/walletops/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every query
// method works identically inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements domain.Storage on PostgreSQL. Money columns are
// NUMERIC(12,2) and cross the wire as text to keep decimal precision.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{pool: pool, db: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// WithTx runs fn against a Store bound to a single transaction. Nested calls
// reuse the enclosing transaction.
func (s *Store) WithTx(ctx context.Context, fn func(domain.Storage) error) error {
	if s.pool == nil {
		return fn(s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Store{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

const walletColumns = `id, conductor_id, balance::text, total_debt::text, cash_services_blocked, created_at, updated_at`

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	var balance, debt string
	err := row.Scan(&w.ID, &w.ConductorID, &balance, &debt, &w.CashServicesBlocked, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, err
	}
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("bad balance for wallet %s: %w", w.ID, err)
	}
	if w.TotalDebt, err = decimal.NewFromString(debt); err != nil {
		return nil, fmt.Errorf("bad total_debt for wallet %s: %w", w.ID, err)
	}
	return &w, nil
}

func (s *Store) WalletByConductor(ctx context.Context, conductorID string) (*domain.Wallet, error) {
	return scanWallet(s.db.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE conductor_id = $1`, conductorID))
}

func (s *Store) WalletByID(ctx context.Context, walletID string) (*domain.Wallet, error) {
	return scanWallet(s.db.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletID))
}

// WalletByIDForUpdate serializes concurrent completions for one operator on
// the wallet row itself.
func (s *Store) WalletByIDForUpdate(ctx context.Context, walletID string) (*domain.Wallet, error) {
	return scanWallet(s.db.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, walletID))
}

func (s *Store) CreateWallet(ctx context.Context, conductorID string) (*domain.Wallet, error) {
	return scanWallet(s.db.QueryRow(ctx, `
		INSERT INTO wallets (id, conductor_id, balance, total_debt, cash_services_blocked)
		VALUES ($1, $2, 0, 0, false)
		RETURNING `+walletColumns,
		uuid.New().String(), conductorID))
}

func (s *Store) UpdateWallet(ctx context.Context, w *domain.Wallet) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE wallets
		SET balance = $2, total_debt = $3, cash_services_blocked = $4, updated_at = now()
		WHERE id = $1`,
		w.ID, w.Balance.StringFixed(2), w.TotalDebt.StringFixed(2), w.CashServicesBlocked)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWalletNotFound
	}
	return nil
}

const debtColumns = `id, wallet_id, servicio_id, original_amount::text, remaining_amount::text, due_date, status, paid_at, created_at`

func scanDebt(row pgx.Row) (*domain.Debt, error) {
	var d domain.Debt
	var original, remaining string
	err := row.Scan(&d.ID, &d.WalletID, &d.ServicioID, &original, &remaining, &d.DueDate, &d.Status, &d.PaidAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	if d.OriginalAmount, err = decimal.NewFromString(original); err != nil {
		return nil, fmt.Errorf("bad original_amount for debt %s: %w", d.ID, err)
	}
	if d.RemainingAmount, err = decimal.NewFromString(remaining); err != nil {
		return nil, fmt.Errorf("bad remaining_amount for debt %s: %w", d.ID, err)
	}
	return &d, nil
}

func (s *Store) queryDebts(ctx context.Context, sql string, args ...any) ([]domain.Debt, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var debts []domain.Debt
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, err
		}
		debts = append(debts, *d)
	}
	return debts, rows.Err()
}

func (s *Store) CreateDebt(ctx context.Context, d *domain.Debt) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO operator_debts (id, wallet_id, servicio_id, original_amount, remaining_amount, due_date, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.WalletID, d.ServicioID, d.OriginalAmount.StringFixed(2), d.RemainingAmount.StringFixed(2),
		d.DueDate, d.Status, d.CreatedAt)
	return err
}

func (s *Store) UpdateDebt(ctx context.Context, d *domain.Debt) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE operator_debts
		SET remaining_amount = $2, status = $3, paid_at = $4
		WHERE id = $1`,
		d.ID, d.RemainingAmount.StringFixed(2), d.Status, d.PaidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDebtNotFound
	}
	return nil
}

// OpenDebts locks the returned rows; payment application always runs inside
// WithTx and must not race a concurrent application on the same wallet.
func (s *Store) OpenDebts(ctx context.Context, walletID string) ([]domain.Debt, error) {
	return s.queryDebts(ctx, `
		SELECT `+debtColumns+` FROM operator_debts
		WHERE wallet_id = $1 AND status != 'paid' AND remaining_amount > 0
		ORDER BY due_date ASC
		FOR UPDATE`, walletID)
}

func (s *Store) PendingDebts(ctx context.Context, walletID string) ([]domain.Debt, error) {
	return s.queryDebts(ctx, `
		SELECT `+debtColumns+` FROM operator_debts
		WHERE wallet_id = $1 AND status != 'paid'
		ORDER BY due_date ASC`, walletID)
}

func (s *Store) OverdueCandidates(ctx context.Context, asOf time.Time) ([]domain.Debt, error) {
	return s.queryDebts(ctx, `
		SELECT `+debtColumns+` FROM operator_debts
		WHERE due_date < $1 AND status != 'paid'
		ORDER BY due_date ASC`, asOf)
}

func (s *Store) DebtsNearDue(ctx context.Context, asOf time.Time, withinDays int) ([]domain.Debt, error) {
	limit := asOf.AddDate(0, 0, withinDays)
	return s.queryDebts(ctx, `
		SELECT `+debtColumns+` FROM operator_debts
		WHERE status IN ('pending', 'partial') AND due_date > $1 AND due_date <= $2
		ORDER BY due_date ASC`, asOf, limit)
}

const txColumns = `id, wallet_id, servicio_id, type, amount::text, commission_amount::text, payment_intent_id, recorded_by_admin_id, evidence_url, notes, description, created_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var amount string
	var commission *string
	err := row.Scan(&t.ID, &t.WalletID, &t.ServicioID, &t.Type, &amount, &commission,
		&t.PaymentIntentID, &t.RecordedByAdminID, &t.EvidenceURL, &t.Notes, &t.Description, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("bad amount for transaction %s: %w", t.ID, err)
	}
	if commission != nil {
		c, err := decimal.NewFromString(*commission)
		if err != nil {
			return nil, fmt.Errorf("bad commission_amount for transaction %s: %w", t.ID, err)
		}
		t.CommissionAmount = &c
	}
	return &t, nil
}

func (s *Store) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	var commission *string
	if t.CommissionAmount != nil {
		c := t.CommissionAmount.StringFixed(2)
		commission = &c
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, servicio_id, type, amount, commission_amount,
			payment_intent_id, recorded_by_admin_id, evidence_url, notes, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.WalletID, t.ServicioID, t.Type, t.Amount.StringFixed(2), commission,
		t.PaymentIntentID, t.RecordedByAdminID, t.EvidenceURL, t.Notes, t.Description, t.CreatedAt)
	return err
}

// TransactionByPaymentIntent returns (nil, nil) when no transaction carries
// the intent id; callers use it as the webhook-retry idempotency probe.
func (s *Store) TransactionByPaymentIntent(ctx context.Context, paymentIntentID string) (*domain.Transaction, error) {
	t, err := scanTransaction(s.db.QueryRow(ctx,
		`SELECT `+txColumns+` FROM wallet_transactions WHERE payment_intent_id = $1`, paymentIntentID))
	if err != nil && errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *Store) queryTransactions(ctx context.Context, sql string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

func (s *Store) TransactionsByWallet(ctx context.Context, walletID string, limit int) ([]domain.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+txColumns+` FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, walletID, limit)
}

func (s *Store) TransactionsInPeriod(ctx context.Context, walletID string, from, to time.Time) ([]domain.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+txColumns+` FROM wallet_transactions
		WHERE wallet_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at ASC`, walletID, from, to)
}

// ServicioByIDForUpdate locks the service row so the commission_processed
// check and flip cannot race a duplicate completion event.
func (s *Store) ServicioByIDForUpdate(ctx context.Context, servicioID string) (*domain.Servicio, error) {
	var sv domain.Servicio
	var costo string
	err := s.db.QueryRow(ctx, `
		SELECT id, conductor_id, costo_total::text, metodo_pago, commission_processed
		FROM servicios WHERE id = $1
		FOR UPDATE`, servicioID).
		Scan(&sv.ID, &sv.ConductorID, &costo, &sv.MetodoPago, &sv.CommissionProcessed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrServicioNotFound
		}
		return nil, err
	}
	if sv.CostoTotal, err = decimal.NewFromString(costo); err != nil {
		return nil, fmt.Errorf("bad costo_total for servicio %s: %w", sv.ID, err)
	}
	return &sv, nil
}

func (s *Store) MarkCommissionProcessed(ctx context.Context, servicioID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE servicios SET commission_processed = true WHERE id = $1`, servicioID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrServicioNotFound
	}
	return nil
}

func (s *Store) CompletedServices(ctx context.Context, conductorID string, from, to time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM servicios
		WHERE conductor_id = $1 AND commission_processed = true
		  AND completed_at >= $2 AND completed_at <= $3`,
		conductorID, from, to).Scan(&count)
	return count, err
}

func (s *Store) ConductorByID(ctx context.Context, conductorID string) (*domain.Conductor, error) {
	var c domain.Conductor
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, bank_account FROM conductores WHERE id = $1`, conductorID).
		Scan(&c.ID, &c.UserID, &c.BankAccount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConductorNotFound
		}
		return nil, err
	}
	return &c, nil
}

// BeginSweep inserts a run row unless one is still marked running. A row
// stuck in running after a crash needs a manual status update to recover.
func (s *Store) BeginSweep(ctx context.Context) (string, error) {
	runID := uuid.New().String()
	tag, err := s.db.Exec(ctx, `
		INSERT INTO sweep_runs (id, status, started_at)
		SELECT $1, 'running', now()
		WHERE NOT EXISTS (SELECT 1 FROM sweep_runs WHERE status = 'running')`,
		runID)
	if err != nil {
		return "", err
	}
	if tag.RowsAffected() == 0 {
		return "", domain.ErrSweepRunning
	}
	return runID, nil
}

func (s *Store) FinishSweep(ctx context.Context, runID string, sweptDebts int, runErr error) error {
	status := "completed"
	var errText *string
	if runErr != nil {
		status = "failed"
		msg := runErr.Error()
		errText = &msg
	}
	_, err := s.db.Exec(ctx, `
		UPDATE sweep_runs
		SET status = $2, swept_debts = $3, error = $4, finished_at = now()
		WHERE id = $1`,
		runID, status, sweptDebts, errText)
	return err
}
