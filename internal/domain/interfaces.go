package domain

import (
	"context"
	"time"
)

// Storage is the persistence capability the ledger runs on. Implementations
// back it with a transactional relational store; WithTx runs fn against a
// Storage bound to one transaction, committing when fn returns nil and
// rolling everything back otherwise. Mutations to a wallet's balance or debt
// must happen inside WithTx with the wallet row locked.
type Storage interface {
	WithTx(ctx context.Context, fn func(Storage) error) error

	WalletByConductor(ctx context.Context, conductorID string) (*Wallet, error)
	WalletByID(ctx context.Context, walletID string) (*Wallet, error)
	// WalletByIDForUpdate locks the wallet row for the duration of the
	// enclosing transaction. Outside a transaction it behaves as WalletByID.
	WalletByIDForUpdate(ctx context.Context, walletID string) (*Wallet, error)
	CreateWallet(ctx context.Context, conductorID string) (*Wallet, error)
	UpdateWallet(ctx context.Context, w *Wallet) error

	CreateDebt(ctx context.Context, d *Debt) error
	UpdateDebt(ctx context.Context, d *Debt) error
	// OpenDebts returns the wallet's debts with status != paid and a
	// positive remaining amount, oldest due date first.
	OpenDebts(ctx context.Context, walletID string) ([]Debt, error)
	PendingDebts(ctx context.Context, walletID string) ([]Debt, error)
	OverdueCandidates(ctx context.Context, asOf time.Time) ([]Debt, error)
	DebtsNearDue(ctx context.Context, asOf time.Time, withinDays int) ([]Debt, error)

	CreateTransaction(ctx context.Context, t *Transaction) error
	TransactionByPaymentIntent(ctx context.Context, paymentIntentID string) (*Transaction, error)
	TransactionsByWallet(ctx context.Context, walletID string, limit int) ([]Transaction, error)
	TransactionsInPeriod(ctx context.Context, walletID string, from, to time.Time) ([]Transaction, error)

	// ServicioByIDForUpdate locks the service row so the commission-processed
	// check and flip are race free.
	ServicioByIDForUpdate(ctx context.Context, servicioID string) (*Servicio, error)
	MarkCommissionProcessed(ctx context.Context, servicioID string) error
	CompletedServices(ctx context.Context, conductorID string, from, to time.Time) (int, error)

	ConductorByID(ctx context.Context, conductorID string) (*Conductor, error)

	// BeginSweep records a sweep run, or returns ErrSweepRunning while a
	// previous run is still marked running.
	BeginSweep(ctx context.Context) (runID string, err error)
	FinishSweep(ctx context.Context, runID string, sweptDebts int, runErr error) error
}

// Notifier delivers a push notification to a user. Fire and forget: the
// ledger never fails a financial mutation because delivery failed.
type Notifier interface {
	Send(ctx context.Context, userID, title, body string, metadata map[string]string)
}
