package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gruasrd/walletops/internal/domain"
)

// WalletService owns every mutation of operator wallets: commission routing,
// debt creation and payoff, blocking state, and admin corrections. All
// multi-write sequences run inside one storage transaction with the wallet
// row locked.
type WalletService struct {
	store    domain.Storage
	notifier domain.Notifier
	log      *zap.Logger
}

func NewWalletService(store domain.Storage, notifier domain.Notifier, log *zap.Logger) *WalletService {
	return &WalletService{store: store, notifier: notifier, log: log}
}

// CreateWallet creates the wallet for an operator, returning the existing
// one if it was already created.
func (s *WalletService) CreateWallet(ctx context.Context, conductorID string) (*domain.Wallet, error) {
	wallet, err := s.store.WalletByConductor(ctx, conductorID)
	if err == nil {
		s.log.Warn("wallet already exists for conductor", zap.String("conductor_id", conductorID))
		return wallet, nil
	}
	if !errors.Is(err, domain.ErrWalletNotFound) {
		return nil, err
	}

	wallet, err = s.store.CreateWallet(ctx, conductorID)
	if err != nil {
		return nil, err
	}
	s.log.Info("operator wallet created",
		zap.String("wallet_id", wallet.ID),
		zap.String("conductor_id", conductorID))
	return wallet, nil
}

// GetWallet returns the operator's wallet, or nil when none exists.
func (s *WalletService) GetWallet(ctx context.Context, conductorID string) (*domain.Wallet, error) {
	wallet, err := s.store.WalletByConductor(ctx, conductorID)
	if errors.Is(err, domain.ErrWalletNotFound) {
		return nil, nil
	}
	return wallet, err
}

func ensureWallet(ctx context.Context, st domain.Storage, conductorID string) (*domain.Wallet, error) {
	wallet, err := st.WalletByConductor(ctx, conductorID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, domain.ErrWalletNotFound) {
		return nil, err
	}
	return st.CreateWallet(ctx, conductorID)
}

// ProcessServicePayment routes one completed service into the ledger. The
// commission_processed flag on the service row is the commit marker: a
// duplicate completion event gets a Success=false result and changes
// nothing. The whole routing runs in a single transaction, cash and card
// paths alike.
func (s *WalletService) ProcessServicePayment(ctx context.Context, servicioID string, method domain.PaymentMethod, amount decimal.Decimal) (*domain.PaymentResult, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("metodo de pago no soportado: %q", method)
	}

	var (
		result  *domain.PaymentResult
		notices []operatorNotice
	)
	err := s.store.WithTx(ctx, func(st domain.Storage) error {
		servicio, err := st.ServicioByIDForUpdate(ctx, servicioID)
		if err != nil {
			return err
		}

		if servicio.CommissionProcessed {
			s.log.Warn("commission already processed for service", zap.String("servicio_id", servicioID))
			result = &domain.PaymentResult{
				Success:          false,
				Commission:       decimal.Zero,
				OperatorEarnings: decimal.Zero,
				Message:          "La comisión ya fue procesada para este servicio",
			}
			return nil
		}

		if servicio.ConductorID == nil {
			return domain.ErrNoConductorAssigned
		}

		wallet, err := ensureWallet(ctx, st, *servicio.ConductorID)
		if err != nil {
			return err
		}
		wallet, err = st.WalletByIDForUpdate(ctx, wallet.ID)
		if err != nil {
			return err
		}

		commission := CalculateCommission(amount)
		earnings := amount.Sub(commission)

		switch method {
		case domain.PaymentCash:
			result, notices, err = s.processCashPayment(ctx, st, wallet, servicio, commission, earnings)
		case domain.PaymentCard:
			result, notices, err = s.processCardPayment(ctx, st, wallet, servicio, commission, earnings)
		}
		if err != nil {
			return err
		}

		return st.MarkCommissionProcessed(ctx, servicioID)
	})
	if err != nil {
		return nil, err
	}

	// Notifications go out only once the transaction has committed.
	for _, n := range notices {
		s.notifyOperator(ctx, s.store, n.conductorID, n.title, n.body)
	}

	if result.Success {
		paymentsProcessed.WithLabelValues(string(method)).Inc()
		s.log.Info("service payment processed",
			zap.String("servicio_id", servicioID),
			zap.String("payment_method", string(method)),
			zap.String("amount", amount.StringFixed(2)),
			zap.String("commission", result.Commission.StringFixed(2)),
			zap.String("operator_earnings", result.OperatorEarnings.StringFixed(2)))
	}
	return result, nil
}

// operatorNotice is a notification held back until the surrounding
// transaction commits.
type operatorNotice struct {
	conductorID string
	title       string
	body        string
}

// processCashPayment creates the commission debt: the operator collected the
// gross amount in cash and now owes the platform its cut.
func (s *WalletService) processCashPayment(ctx context.Context, st domain.Storage, wallet *domain.Wallet, servicio *domain.Servicio, commission, earnings decimal.Decimal) (*domain.PaymentResult, []operatorNotice, error) {
	now := time.Now()
	debt := &domain.Debt{
		WalletID:        wallet.ID,
		ServicioID:      &servicio.ID,
		OriginalAmount:  commission,
		RemainingAmount: commission,
		DueDate:         now.AddDate(0, 0, DebtDueDays),
		Status:          domain.DebtPending,
	}
	if err := st.CreateDebt(ctx, debt); err != nil {
		return nil, nil, err
	}

	if err := st.CreateTransaction(ctx, &domain.Transaction{
		WalletID:         wallet.ID,
		ServicioID:       &servicio.ID,
		Type:             domain.TxCashCommission,
		Amount:           commission,
		CommissionAmount: &commission,
		Description:      "Comisión por servicio en efectivo - " + shortID(servicio.ID),
	}); err != nil {
		return nil, nil, err
	}

	wallet.TotalDebt = wallet.TotalDebt.Add(commission)
	if err := st.UpdateWallet(ctx, wallet); err != nil {
		return nil, nil, err
	}
	debtsCreated.Inc()

	notices := []operatorNotice{{
		conductorID: wallet.ConductorID,
		title:       "Nueva comisión registrada",
		body: fmt.Sprintf("Se ha registrado una comisión de RD$%s. Tienes %d días para pagarla.",
			commission.StringFixed(2), DebtDueDays),
	}}

	return &domain.PaymentResult{
		Success:          true,
		Commission:       commission,
		OperatorEarnings: earnings,
		NewDebt:          &commission,
		Message: fmt.Sprintf("Servicio en efectivo procesado. Comisión: RD$%s, Ganancia neta: RD$%s",
			commission.StringFixed(2), earnings.StringFixed(2)),
	}, notices, nil
}

// processCardPayment credits the operator's net earnings, first applying
// them to outstanding debt, oldest due date first.
func (s *WalletService) processCardPayment(ctx context.Context, st domain.Storage, wallet *domain.Wallet, servicio *domain.Servicio, commission, earnings decimal.Decimal) (*domain.PaymentResult, []operatorNotice, error) {
	if err := st.CreateTransaction(ctx, &domain.Transaction{
		WalletID:         wallet.ID,
		ServicioID:       &servicio.ID,
		Type:             domain.TxCardPayment,
		Amount:           earnings,
		CommissionAmount: &commission,
		Description:      "Pago con tarjeta - " + shortID(servicio.ID),
	}); err != nil {
		return nil, nil, err
	}

	currentDebt := wallet.TotalDebt
	applied := decimal.Zero

	if currentDebt.GreaterThan(decimal.Zero) {
		var err error
		applied, err = applyToDebts(ctx, st, wallet.ID, earnings, func(d *domain.Debt, payment decimal.Decimal) error {
			return st.CreateTransaction(ctx, &domain.Transaction{
				WalletID:    wallet.ID,
				ServicioID:  &servicio.ID,
				Type:        domain.TxDebtPayment,
				Amount:      payment,
				Description: "Pago de deuda desde servicio con tarjeta",
			})
		})
		if err != nil {
			return nil, nil, err
		}
	}

	// Cap against drift: applied can never exceed what the wallet said it owed.
	debtPaid := decimal.Min(applied, currentDebt)
	remainingEarnings := earnings.Sub(applied)
	newDebt := decimal.Max(decimal.Zero, currentDebt.Sub(debtPaid))

	wallet.Balance = wallet.Balance.Add(remainingEarnings)
	wallet.TotalDebt = newDebt

	var notices []operatorNotice
	if newDebt.LessThanOrEqual(paidTolerance) && wallet.CashServicesBlocked {
		wallet.CashServicesBlocked = false
		notices = append(notices, operatorNotice{
			conductorID: wallet.ConductorID,
			title:       "¡Servicios reactivados!",
			body:        "Tu deuda ha sido saldada. Los servicios en efectivo han sido reactivados.",
		})
	}

	if err := st.UpdateWallet(ctx, wallet); err != nil {
		return nil, nil, err
	}

	message := fmt.Sprintf("Servicio con tarjeta procesado. Balance actualizado: RD$%s", wallet.Balance.StringFixed(2))
	if debtPaid.GreaterThan(decimal.Zero) {
		message = fmt.Sprintf("Servicio con tarjeta procesado. RD$%s aplicado a deuda. Balance: RD$%s",
			debtPaid.StringFixed(2), wallet.Balance.StringFixed(2))
	}

	return &domain.PaymentResult{
		Success:          true,
		Commission:       commission,
		OperatorEarnings: earnings,
		DebtPaid:         &debtPaid,
		Message:          message,
	}, notices, nil
}

// applyToDebts pays down the wallet's open debts oldest due date first.
// onPayment, when non-nil, runs once per touched debt with the amount
// applied to it. Returns the total applied.
func applyToDebts(ctx context.Context, st domain.Storage, walletID string, funds decimal.Decimal, onPayment func(*domain.Debt, decimal.Decimal) error) (decimal.Decimal, error) {
	debts, err := st.OpenDebts(ctx, walletID)
	if err != nil {
		return decimal.Zero, err
	}

	remaining := funds
	applied := decimal.Zero

	for i := range debts {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		debt := &debts[i]
		if debt.RemainingAmount.LessThanOrEqual(decimal.Zero) {
			continue
		}

		payment := decimal.Min(remaining, debt.RemainingAmount)
		debt.RemainingAmount = decimal.Max(decimal.Zero, debt.RemainingAmount.Sub(payment))

		if debt.RemainingAmount.LessThanOrEqual(paidTolerance) {
			debt.Status = domain.DebtPaid
			now := time.Now()
			debt.PaidAt = &now
		} else {
			debt.Status = domain.DebtPartial
		}

		if err := st.UpdateDebt(ctx, debt); err != nil {
			return applied, err
		}
		if onPayment != nil {
			if err := onPayment(debt, payment); err != nil {
				return applied, err
			}
		}

		remaining = remaining.Sub(payment)
		applied = applied.Add(payment)
	}

	return applied, nil
}

// BlockCashServices marks the wallet so the operator cannot take cash
// services. Idempotent: already-blocked wallets and missing wallets are
// no-ops, and the notification fires only on the actual transition.
func (s *WalletService) BlockCashServices(ctx context.Context, walletID string) error {
	var conductorID string
	blocked := false

	err := s.store.WithTx(ctx, func(st domain.Storage) error {
		wallet, err := st.WalletByIDForUpdate(ctx, walletID)
		if err != nil {
			if errors.Is(err, domain.ErrWalletNotFound) {
				return nil
			}
			return err
		}
		if wallet.CashServicesBlocked {
			return nil
		}
		wallet.CashServicesBlocked = true
		if err := st.UpdateWallet(ctx, wallet); err != nil {
			return err
		}
		conductorID = wallet.ConductorID
		blocked = true
		return nil
	})
	if err != nil || !blocked {
		return err
	}

	s.notifyOperator(ctx, s.store, conductorID,
		"Servicios bloqueados",
		"Tus servicios en efectivo han sido bloqueados por deuda vencida. Paga tu deuda para reactivarlos.")
	s.log.Warn("cash services blocked for operator",
		zap.String("wallet_id", walletID),
		zap.String("conductor_id", conductorID))
	return nil
}

// UnblockCashServices lifts the cash-service block. Idempotent, manual
// counterpart of the automatic unblock on full payoff.
func (s *WalletService) UnblockCashServices(ctx context.Context, walletID string) error {
	var conductorID string
	unblocked := false

	err := s.store.WithTx(ctx, func(st domain.Storage) error {
		wallet, err := st.WalletByIDForUpdate(ctx, walletID)
		if err != nil {
			if errors.Is(err, domain.ErrWalletNotFound) {
				return nil
			}
			return err
		}
		if !wallet.CashServicesBlocked {
			return nil
		}
		wallet.CashServicesBlocked = false
		if err := st.UpdateWallet(ctx, wallet); err != nil {
			return err
		}
		conductorID = wallet.ConductorID
		unblocked = true
		return nil
	})
	if err != nil || !unblocked {
		return err
	}

	s.notifyOperator(ctx, s.store, conductorID,
		"¡Servicios reactivados!",
		"Tus servicios en efectivo han sido reactivados.")
	s.log.Info("cash services unblocked for operator",
		zap.String("wallet_id", walletID),
		zap.String("conductor_id", conductorID))
	return nil
}

// CanAcceptCashService reports whether the operator may take a cash service.
// An operator without a wallet has never owed anything and can accept.
func (s *WalletService) CanAcceptCashService(ctx context.Context, conductorID string) (*domain.CashEligibility, error) {
	wallet, err := s.store.WalletByConductor(ctx, conductorID)
	if err != nil {
		if errors.Is(err, domain.ErrWalletNotFound) {
			return &domain.CashEligibility{CanAccept: true}, nil
		}
		return nil, err
	}

	if wallet.CashServicesBlocked {
		debt := wallet.TotalDebt
		return &domain.CashEligibility{
			CanAccept: false,
			Reason:    "Tienes servicios en efectivo bloqueados por deuda vencida",
			TotalDebt: &debt,
		}, nil
	}
	return &domain.CashEligibility{CanAccept: true}, nil
}

// TransactionHistory lists the operator's most recent ledger entries.
func (s *WalletService) TransactionHistory(ctx context.Context, conductorID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	wallet, err := s.store.WalletByConductor(ctx, conductorID)
	if err != nil {
		if errors.Is(err, domain.ErrWalletNotFound) {
			return []domain.Transaction{}, nil
		}
		return nil, err
	}
	return s.store.TransactionsByWallet(ctx, wallet.ID, limit)
}

// AdminAdjustment applies an unconditional correction to balance or debt,
// bypassing the debt-application order. It deliberately does not touch
// cash_services_blocked, even when it drives the debt to zero; unblocking
// after an adjustment is an explicit admin action.
func (s *WalletService) AdminAdjustment(ctx context.Context, walletID string, kind domain.AdjustmentKind, amount decimal.Decimal, reason, adminID string) (*domain.Wallet, error) {
	var updated *domain.Wallet
	err := s.store.WithTx(ctx, func(st domain.Storage) error {
		wallet, err := st.WalletByIDForUpdate(ctx, walletID)
		if err != nil {
			return err
		}

		switch kind {
		case domain.AdjustBalance:
			wallet.Balance = wallet.Balance.Add(amount)
		case domain.AdjustDebt:
			wallet.TotalDebt = decimal.Max(decimal.Zero, wallet.TotalDebt.Add(amount))
		default:
			return fmt.Errorf("tipo de ajuste no soportado: %q", kind)
		}

		if err := st.CreateTransaction(ctx, &domain.Transaction{
			WalletID:    wallet.ID,
			Type:        domain.TxAdjustment,
			Amount:      amount,
			Description: fmt.Sprintf("Ajuste admin: %s (por %s)", reason, adminID),
		}); err != nil {
			return err
		}

		if err := st.UpdateWallet(ctx, wallet); err != nil {
			return err
		}
		updated = wallet
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("admin wallet adjustment",
		zap.String("wallet_id", walletID),
		zap.String("kind", string(kind)),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("reason", reason),
		zap.String("admin_id", adminID))
	return updated, nil
}

func (s *WalletService) notifyOperator(ctx context.Context, st domain.Storage, conductorID, title, body string) {
	conductor, err := st.ConductorByID(ctx, conductorID)
	if err != nil {
		s.log.Warn("conductor lookup for notification failed",
			zap.String("conductor_id", conductorID), zap.Error(err))
		return
	}
	s.notifier.Send(ctx, conductor.UserID, title, body, map[string]string{"type": "wallet_notification"})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
