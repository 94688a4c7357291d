package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gruasrd/walletops/internal/domain"
)

const sweeperInitialDelay = 30 * time.Second

// Sweeper periodically promotes past-due debts to overdue, blocks cash
// services for the affected wallets, and sends near-due warnings. It is
// owned by the composition root and started/stopped explicitly; there is no
// ambient global timer.
type Sweeper struct {
	store    domain.Storage
	wallets  *WalletService
	notifier domain.Notifier
	log      *zap.Logger
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(store domain.Storage, wallets *WalletService, notifier domain.Notifier, log *zap.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:    store,
		wallets:  wallets,
		notifier: notifier,
		log:      log,
		interval: interval,
	}
}

// Start launches the background loop: one run shortly after startup, then
// one per interval. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.log.Info("debt sweep job started", zap.Duration("interval", s.interval))

	// The goroutine must only touch locals: Stop nils the fields under the
	// mutex and could otherwise race the defer below.
	go func() {
		defer close(done)

		initial := time.NewTimer(sweeperInitialDelay)
		defer initial.Stop()
		select {
		case <-ctx.Done():
			return
		case <-initial.C:
			s.runGuarded(ctx)
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runGuarded(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight run to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("debt sweep job stopped")
}

func (s *Sweeper) runGuarded(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil && !errors.Is(err, domain.ErrSweepRunning) {
		s.log.Error("debt sweep failed", zap.Error(err))
	}
}

// RunOnce performs a single sweep. It returns domain.ErrSweepRunning when a
// previous run is still marked running; everything else that goes wrong with
// an individual debt or wallet is logged and skipped, never aborting the
// sweep.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	runID, err := s.store.BeginSweep(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrSweepRunning) {
			sweepRuns.WithLabelValues("skipped").Inc()
			s.log.Info("skipping debt sweep, previous run still in progress")
		}
		return err
	}

	swept, sweepErr := s.sweep(ctx)
	if finishErr := s.store.FinishSweep(ctx, runID, swept, sweepErr); finishErr != nil {
		s.log.Error("failed to finalize sweep run", zap.String("run_id", runID), zap.Error(finishErr))
	}
	if sweepErr != nil {
		sweepRuns.WithLabelValues("failed").Inc()
	} else {
		sweepRuns.WithLabelValues("completed").Inc()
	}
	return sweepErr
}

func (s *Sweeper) sweep(ctx context.Context) (int, error) {
	now := time.Now()

	overdue, err := s.store.OverdueCandidates(ctx, now)
	if err != nil {
		return 0, err
	}

	swept := 0
	if len(overdue) > 0 {
		s.log.Info("processing overdue debts", zap.Int("count", len(overdue)))

		blockedWallets := make(map[string]bool)
		for i := range overdue {
			debt := &overdue[i]
			if debt.Status == domain.DebtOverdue {
				continue
			}

			debt.Status = domain.DebtOverdue
			if err := s.store.UpdateDebt(ctx, debt); err != nil {
				s.log.Error("failed to mark debt overdue",
					zap.String("debt_id", debt.ID), zap.Error(err))
				continue
			}
			swept++
			debtsMarkedOverdue.Inc()

			if !blockedWallets[debt.WalletID] {
				if err := s.wallets.BlockCashServices(ctx, debt.WalletID); err != nil {
					s.log.Error("failed to block cash services",
						zap.String("wallet_id", debt.WalletID), zap.Error(err))
				}
				blockedWallets[debt.WalletID] = true
			}
		}
	}

	s.sendNearDueWarnings(ctx, now)
	return swept, nil
}

// sendNearDueWarnings notifies on exactly 3 days and exactly 1 day before
// the due date. Point checks, not ranges: a debt due in 2 days triggers
// neither.
func (s *Sweeper) sendNearDueWarnings(ctx context.Context, now time.Time) {
	nearDue, err := s.store.DebtsNearDue(ctx, now, NearDueWarningDays)
	if err != nil {
		s.log.Error("failed to load near-due debts", zap.Error(err))
		return
	}

	for i := range nearDue {
		debt := &nearDue[i]

		wallet, err := s.store.WalletByID(ctx, debt.WalletID)
		if err != nil {
			continue
		}
		conductor, err := s.store.ConductorByID(ctx, wallet.ConductorID)
		if err != nil {
			continue
		}

		switch daysUntil(now, debt.DueDate) {
		case 1:
			s.notifier.Send(ctx, conductor.UserID,
				"¡Último día!",
				"Tu deuda de RD$"+debt.RemainingAmount.StringFixed(2)+" vence hoy. Paga ahora para evitar bloqueos.",
				map[string]string{"type": "wallet_notification"})
		case NearDueWarningDays:
			s.notifier.Send(ctx, conductor.UserID,
				"Deuda próxima a vencer",
				"Tu deuda de RD$"+debt.RemainingAmount.StringFixed(2)+" vence en 3 días.",
				map[string]string{"type": "wallet_notification"})
		}
	}
}

// daysUntil counts whole days remaining, rounding partial days up, matching
// the due-date math used for statement pending debts.
func daysUntil(now, due time.Time) int {
	return int(math.Ceil(due.Sub(now).Hours() / 24))
}
