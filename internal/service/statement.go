package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gruasrd/walletops/internal/domain"
)

// OperatorStatement builds the read-only period view of an operator's
// wallet. The default period is the trailing 30 days. Returns nil when the
// operator has no wallet.
func (s *WalletService) OperatorStatement(ctx context.Context, conductorID string, from, to *time.Time) (*domain.Statement, error) {
	wallet, err := s.store.WalletByConductor(ctx, conductorID)
	if err != nil {
		if errors.Is(err, domain.ErrWalletNotFound) {
			return nil, nil
		}
		return nil, err
	}

	end := time.Now()
	if to != nil {
		end = *to
	}
	start := end.AddDate(0, 0, -defaultStatementDays)
	if from != nil {
		start = *from
	}

	txns, err := s.store.TransactionsInPeriod(ctx, wallet.ID, start, end)
	if err != nil {
		return nil, err
	}

	stmt := &domain.Statement{
		ConductorID:    conductorID,
		From:           start,
		To:             end,
		ClosingBalance: wallet.Balance,
		TotalCredits:   decimal.Zero,
		TotalDebits:    decimal.Zero,
		Credits:        []domain.Transaction{},
		Debits:         []domain.Transaction{},
		ManualPayouts:  []domain.Transaction{},
	}

	periodSum := decimal.Zero
	for _, txn := range txns {
		periodSum = periodSum.Add(txn.Amount)

		if isCredit(txn) {
			stmt.Credits = append(stmt.Credits, txn)
			stmt.TotalCredits = stmt.TotalCredits.Add(txn.Amount)
		} else {
			stmt.Debits = append(stmt.Debits, txn)
			stmt.TotalDebits = stmt.TotalDebits.Add(txn.Amount.Abs())
		}
		if txn.Type == domain.TxManualPayout {
			stmt.ManualPayouts = append(stmt.ManualPayouts, txn)
		}
	}
	stmt.OpeningBalance = wallet.Balance.Sub(periodSum)

	pending, err := s.store.PendingDebts(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	stmt.PendingDebts = make([]domain.PendingDebt, 0, len(pending))
	for _, d := range pending {
		stmt.PendingDebts = append(stmt.PendingDebts, domain.PendingDebt{
			Debt:          d,
			DaysRemaining: daysUntil(now, d.DueDate),
		})
	}

	stmt.CompletedServices, err = s.store.CompletedServices(ctx, conductorID, start, end)
	if err != nil {
		return nil, err
	}

	conductor, err := s.store.ConductorByID(ctx, conductorID)
	if err == nil && conductor.BankAccount != nil {
		stmt.BankAccount = maskBankAccount(*conductor.BankAccount)
	}

	return stmt, nil
}

// isCredit classifies by type: money toward the operator is a credit,
// commission charges and debt payments are debits. Adjustments follow their
// sign.
func isCredit(txn domain.Transaction) bool {
	switch txn.Type {
	case domain.TxCardPayment, domain.TxManualPayout:
		return true
	case domain.TxAdjustment:
		return txn.Amount.GreaterThanOrEqual(decimal.Zero)
	default:
		return false
	}
}

func maskBankAccount(account string) string {
	if len(account) <= 4 {
		return account
	}
	return "****" + account[len(account)-4:]
}
