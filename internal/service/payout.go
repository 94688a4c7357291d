package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gruasrd/walletops/internal/domain"
)

// RecordManualPayout registers an out-of-band payment (bank transfer, cash
// at the office) entered by an admin, applying it to outstanding debt
// exactly like a card payment. Debt rows, the transaction row and the wallet
// row commit together or not at all.
func (s *WalletService) RecordManualPayout(ctx context.Context, walletID string, amount decimal.Decimal, adminID string, notes, evidenceURL *string) (*domain.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidAmount
	}

	var (
		txn         *domain.Transaction
		conductorID string
		unblocked   bool
	)
	err := s.store.WithTx(ctx, func(st domain.Storage) error {
		wallet, err := st.WalletByIDForUpdate(ctx, walletID)
		if err != nil {
			return err
		}

		applied, err := applyToDebts(ctx, st, wallet.ID, amount, nil)
		if err != nil {
			return err
		}

		txn = &domain.Transaction{
			WalletID:          wallet.ID,
			Type:              domain.TxManualPayout,
			Amount:            amount,
			RecordedByAdminID: &adminID,
			EvidenceURL:       evidenceURL,
			Notes:             notes,
			Description:       "Pago manual registrado por administrador",
		}
		if err := st.CreateTransaction(ctx, txn); err != nil {
			return err
		}

		wallet.TotalDebt = decimal.Max(decimal.Zero, wallet.TotalDebt.Sub(applied))
		if wallet.TotalDebt.LessThanOrEqual(paidTolerance) && wallet.CashServicesBlocked {
			wallet.CashServicesBlocked = false
			unblocked = true
		}
		conductorID = wallet.ConductorID
		return st.UpdateWallet(ctx, wallet)
	})
	if err != nil {
		return nil, err
	}

	if unblocked {
		s.notifyOperator(ctx, s.store, conductorID,
			"¡Servicios reactivados!",
			"Tu deuda ha sido saldada. Los servicios en efectivo han sido reactivados.")
	}

	s.log.Info("manual payout recorded",
		zap.String("wallet_id", walletID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("admin_id", adminID))
	return txn, nil
}

// CreateDebtPaymentIntent validates and clamps a direct payoff request and
// hands back an opaque intent id for the payment gateway. The ledger stays
// untouched until CompleteDebtPayment confirms the capture.
func (s *WalletService) CreateDebtPaymentIntent(ctx context.Context, conductorID string, amount decimal.Decimal) (*domain.PaymentIntent, error) {
	wallet, err := s.store.WalletByConductor(ctx, conductorID)
	if err != nil {
		return nil, err
	}

	if wallet.TotalDebt.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrNoPendingDebt
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidAmount
	}
	if amount.GreaterThan(wallet.TotalDebt) {
		amount = wallet.TotalDebt
	}

	return &domain.PaymentIntent{
		Amount:          amount,
		WalletID:        wallet.ID,
		TotalDebt:       wallet.TotalDebt,
		PaymentIntentID: "pi_" + uuid.New().String(),
		Message:         fmt.Sprintf("Pago de RD$%s listo para procesar", amount.StringFixed(2)),
	}, nil
}

// CompleteDebtPayment settles a direct payoff after the gateway confirms
// capture. Callers handling webhook retries should probe
// TransactionByPaymentIntent first; the intent id recorded on the
// transaction is the idempotency handle.
func (s *WalletService) CompleteDebtPayment(ctx context.Context, walletID string, amount decimal.Decimal, paymentIntentID string) (*domain.DebtPaymentResult, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidAmount
	}

	var (
		result      *domain.DebtPaymentResult
		conductorID string
	)
	err := s.store.WithTx(ctx, func(st domain.Storage) error {
		wallet, err := st.WalletByIDForUpdate(ctx, walletID)
		if err != nil {
			return err
		}

		if wallet.TotalDebt.LessThanOrEqual(decimal.Zero) {
			return domain.ErrNoPendingDebt
		}

		capped := decimal.Min(amount, wallet.TotalDebt)
		applied, err := applyToDebts(ctx, st, wallet.ID, capped, nil)
		if err != nil {
			return err
		}

		if err := st.CreateTransaction(ctx, &domain.Transaction{
			WalletID:        wallet.ID,
			Type:            domain.TxDirectPayment,
			Amount:          applied,
			PaymentIntentID: &paymentIntentID,
			Description:     "Pago directo de deuda con tarjeta",
		}); err != nil {
			return err
		}

		wallet.TotalDebt = decimal.Max(decimal.Zero, wallet.TotalDebt.Sub(applied))
		if wallet.TotalDebt.LessThanOrEqual(paidTolerance) && wallet.CashServicesBlocked {
			wallet.CashServicesBlocked = false
		}
		if err := st.UpdateWallet(ctx, wallet); err != nil {
			return err
		}

		conductorID = wallet.ConductorID
		message := fmt.Sprintf("Pago procesado. Deuda restante: RD$%s", wallet.TotalDebt.StringFixed(2))
		if wallet.TotalDebt.LessThanOrEqual(decimal.Zero) {
			message = "¡Tu deuda ha sido saldada completamente!"
		}
		result = &domain.DebtPaymentResult{
			AmountPaid:    applied,
			RemainingDebt: wallet.TotalDebt,
			Message:       message,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.RemainingDebt.LessThanOrEqual(decimal.Zero) {
		s.notifyOperator(ctx, s.store, conductorID,
			"¡Deuda saldada!",
			"Tu deuda ha sido pagada completamente. Los servicios en efectivo están disponibles.")
	} else {
		s.notifyOperator(ctx, s.store, conductorID,
			"Pago recibido",
			fmt.Sprintf("Tu pago de RD$%s ha sido procesado. Deuda restante: RD$%s",
				result.AmountPaid.StringFixed(2), result.RemainingDebt.StringFixed(2)))
	}

	s.log.Info("direct debt payment completed",
		zap.String("wallet_id", walletID),
		zap.String("amount_paid", result.AmountPaid.StringFixed(2)),
		zap.String("remaining_debt", result.RemainingDebt.StringFixed(2)),
		zap.String("payment_intent_id", paymentIntentID))
	return result, nil
}

// TransactionByPaymentIntent exposes the idempotency probe for webhook
// handlers: a non-nil transaction means the intent was already applied.
func (s *WalletService) TransactionByPaymentIntent(ctx context.Context, paymentIntentID string) (*domain.Transaction, error) {
	return s.store.TransactionByPaymentIntent(ctx, paymentIntentID)
}
