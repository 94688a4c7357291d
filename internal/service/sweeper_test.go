package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gruasrd/walletops/internal/domain"
)

func newTestSweeper() (*Sweeper, *memStore, *recorderNotifier) {
	st := newMemStore()
	notifier := &recorderNotifier{}
	wallets := NewWalletService(st, notifier, zap.NewNop())
	return NewSweeper(st, wallets, notifier, zap.NewNop(), time.Hour), st, notifier
}

func TestSweepMarksOverdueAndBlocks(t *testing.T) {
	sweeper, st, notifier := newTestSweeper()
	ctx := context.Background()

	st.addConductor("cond-1", "user-1")
	st.addWallet(domain.Wallet{
		ID:          "w-1",
		ConductorID: "cond-1",
		Balance:     decimal.Zero,
		TotalDebt:   dec("200"),
	})
	st.addDebt(domain.Debt{
		ID:              "d-late",
		WalletID:        "w-1",
		OriginalAmount:  dec("200"),
		RemainingAmount: dec("200"),
		DueDate:         time.Now().AddDate(0, 0, -1),
		Status:          domain.DebtPending,
	})

	require.NoError(t, sweeper.RunOnce(ctx))

	assert.Equal(t, domain.DebtOverdue, st.debt("d-late").Status)
	assert.True(t, st.wallet("w-1").CashServicesBlocked)
	assert.Contains(t, notifier.titles(), "Servicios bloqueados")

	// A second sweep sees the debt already overdue and the wallet already
	// blocked: no state change, no repeat notification.
	require.NoError(t, sweeper.RunOnce(ctx))

	blockNotices := 0
	for _, title := range notifier.titles() {
		if title == "Servicios bloqueados" {
			blockNotices++
		}
	}
	assert.Equal(t, 1, blockNotices)
}

func TestSweepBlocksWalletOncePerRun(t *testing.T) {
	sweeper, st, notifier := newTestSweeper()
	ctx := context.Background()

	st.addConductor("cond-1", "user-1")
	st.addWallet(domain.Wallet{
		ID:          "w-1",
		ConductorID: "cond-1",
		Balance:     decimal.Zero,
		TotalDebt:   dec("300"),
	})
	for _, id := range []string{"d-1", "d-2", "d-3"} {
		st.addDebt(domain.Debt{
			ID:              id,
			WalletID:        "w-1",
			OriginalAmount:  dec("100"),
			RemainingAmount: dec("100"),
			DueDate:         time.Now().AddDate(0, 0, -2),
			Status:          domain.DebtPending,
		})
	}

	require.NoError(t, sweeper.RunOnce(ctx))

	for _, id := range []string{"d-1", "d-2", "d-3"} {
		assert.Equal(t, domain.DebtOverdue, st.debt(id).Status)
	}

	blockNotices := 0
	for _, title := range notifier.titles() {
		if title == "Servicios bloqueados" {
			blockNotices++
		}
	}
	assert.Equal(t, 1, blockNotices)
}

// vanishedDebtStore simulates a debt row that disappears between the
// candidate query and the update.
type vanishedDebtStore struct {
	*memStore
}

func (v *vanishedDebtStore) UpdateDebt(ctx context.Context, d *domain.Debt) error {
	return domain.ErrDebtNotFound
}

func TestSweepContinuesPastVanishedDebt(t *testing.T) {
	st := newMemStore()
	notifier := &recorderNotifier{}
	store := &vanishedDebtStore{memStore: st}
	wallets := NewWalletService(store, notifier, zap.NewNop())
	sweeper := NewSweeper(store, wallets, notifier, zap.NewNop(), time.Hour)
	ctx := context.Background()

	st.addConductor("cond-1", "user-1")
	st.addWallet(domain.Wallet{
		ID:          "w-1",
		ConductorID: "cond-1",
		Balance:     decimal.Zero,
		TotalDebt:   dec("200"),
	})
	st.addDebt(domain.Debt{
		ID:              "d-gone",
		WalletID:        "w-1",
		OriginalAmount:  dec("200"),
		RemainingAmount: dec("200"),
		DueDate:         time.Now().AddDate(0, 0, -1),
		Status:          domain.DebtPending,
	})

	require.NoError(t, sweeper.RunOnce(ctx))

	// The failed update is logged and skipped: the debt keeps its status and
	// the wallet is not blocked on the strength of a write that never landed.
	assert.Equal(t, domain.DebtPending, st.debt("d-gone").Status)
	assert.False(t, st.wallet("w-1").CashServicesBlocked)
}

func TestSweepSkipsWhenAlreadyRunning(t *testing.T) {
	sweeper, st, _ := newTestSweeper()
	ctx := context.Background()

	_, err := st.BeginSweep(ctx)
	require.NoError(t, err)

	err = sweeper.RunOnce(ctx)
	assert.ErrorIs(t, err, domain.ErrSweepRunning)
}

func TestNearDueWarnings(t *testing.T) {
	sweeper, st, notifier := newTestSweeper()
	ctx := context.Background()

	st.addConductor("cond-1", "user-1")
	st.addWallet(domain.Wallet{
		ID:          "w-1",
		ConductorID: "cond-1",
		Balance:     decimal.Zero,
		TotalDebt:   dec("300"),
	})

	now := time.Now()
	st.addDebt(domain.Debt{
		ID:              "d-tomorrow",
		WalletID:        "w-1",
		OriginalAmount:  dec("100"),
		RemainingAmount: dec("100"),
		DueDate:         now.Add(20 * time.Hour),
		Status:          domain.DebtPending,
	})
	st.addDebt(domain.Debt{
		ID:              "d-two-days",
		WalletID:        "w-1",
		OriginalAmount:  dec("100"),
		RemainingAmount: dec("100"),
		DueDate:         now.Add(44 * time.Hour),
		Status:          domain.DebtPartial,
	})
	st.addDebt(domain.Debt{
		ID:              "d-three-days",
		WalletID:        "w-1",
		OriginalAmount:  dec("100"),
		RemainingAmount: dec("100"),
		DueDate:         now.Add(68 * time.Hour),
		Status:          domain.DebtPending,
	})

	require.NoError(t, sweeper.RunOnce(ctx))

	titles := notifier.titles()
	assert.Contains(t, titles, "¡Último día!")
	assert.Contains(t, titles, "Deuda próxima a vencer")
	// The 2-day debt matches neither point check.
	assert.Len(t, titles, 2)
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 1, daysUntil(now, now.Add(20*time.Hour)))
	assert.Equal(t, 1, daysUntil(now, now.Add(24*time.Hour)))
	assert.Equal(t, 2, daysUntil(now, now.Add(44*time.Hour)))
	assert.Equal(t, 3, daysUntil(now, now.Add(68*time.Hour)))
}

func TestSweeperStartStop(t *testing.T) {
	sweeper, _, _ := newTestSweeper()

	sweeper.Start(context.Background())
	sweeper.Start(context.Background())
	sweeper.Stop()
	sweeper.Stop()
}

func TestSweeperStopImmediatelyAfterStart(t *testing.T) {
	sweeper, _, _ := newTestSweeper()

	// Stop may run before the loop goroutine is even scheduled; that must
	// never panic or leak the goroutine.
	for i := 0; i < 50; i++ {
		sweeper.Start(context.Background())
		sweeper.Stop()
	}
}
