package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod distinguishes how the client paid for a service.
type PaymentMethod string

const (
	PaymentCash PaymentMethod = "efectivo"
	PaymentCard PaymentMethod = "tarjeta"
)

// Valid reports whether the method is one of the two supported variants.
func (m PaymentMethod) Valid() bool {
	return m == PaymentCash || m == PaymentCard
}

// DebtStatus is the lifecycle state of a commission debt.
type DebtStatus string

const (
	DebtPending DebtStatus = "pending"
	DebtPartial DebtStatus = "partial"
	DebtOverdue DebtStatus = "overdue"
	DebtPaid    DebtStatus = "paid"
)

// TransactionType classifies a ledger entry. The sign convention and the
// credit/debit classification in statements follow from the type.
type TransactionType string

const (
	TxCashCommission TransactionType = "cash_commission"
	TxCardPayment    TransactionType = "card_payment"
	TxDebtPayment    TransactionType = "debt_payment"
	TxDirectPayment  TransactionType = "direct_payment"
	TxAdjustment     TransactionType = "adjustment"
	TxManualPayout   TransactionType = "manual_payout"
	TxWithdrawal     TransactionType = "withdrawal"
)

// Wallet is the per-operator ledger aggregate. Balance is money owed to the
// operator; TotalDebt is money the operator owes the platform and is never
// negative.
type Wallet struct {
	ID                  string          `json:"id"`
	ConductorID         string          `json:"conductor_id"`
	Balance             decimal.Decimal `json:"balance"`
	TotalDebt           decimal.Decimal `json:"total_debt"`
	CashServicesBlocked bool            `json:"cash_services_blocked"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Debt is one commission obligation. RemainingAmount only decreases; rows
// are never deleted so the trail stays auditable.
type Debt struct {
	ID              string          `json:"id"`
	WalletID        string          `json:"wallet_id"`
	ServicioID      *string         `json:"servicio_id,omitempty"`
	OriginalAmount  decimal.Decimal `json:"original_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	DueDate         time.Time       `json:"due_date"`
	Status          DebtStatus      `json:"status"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Transaction is an append-only ledger entry.
type Transaction struct {
	ID                string           `json:"id"`
	WalletID          string           `json:"wallet_id"`
	ServicioID        *string          `json:"servicio_id,omitempty"`
	Type              TransactionType  `json:"type"`
	Amount            decimal.Decimal  `json:"amount"`
	CommissionAmount  *decimal.Decimal `json:"commission_amount,omitempty"`
	PaymentIntentID   *string          `json:"payment_intent_id,omitempty"`
	RecordedByAdminID *string          `json:"recorded_by_admin_id,omitempty"`
	EvidenceURL       *string          `json:"evidence_url,omitempty"`
	Notes             *string          `json:"notes,omitempty"`
	Description       string           `json:"description"`
	CreatedAt         time.Time        `json:"created_at"`
}

// Servicio is the read-mostly view of a completed service. The ledger only
// flips CommissionProcessed, exactly once per service.
type Servicio struct {
	ID                  string          `json:"id"`
	ConductorID         *string         `json:"conductor_id,omitempty"`
	CostoTotal          decimal.Decimal `json:"costo_total"`
	MetodoPago          PaymentMethod   `json:"metodo_pago"`
	CommissionProcessed bool            `json:"commission_processed"`
}

// Conductor is the operator as the ledger sees it: a notification target
// plus an optional bank account for statements.
type Conductor struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	BankAccount *string `json:"bank_account,omitempty"`
}

// PaymentResult describes the outcome of routing one completed service.
// Success=false with a message means the commission was already processed.
type PaymentResult struct {
	Success          bool             `json:"success"`
	Commission       decimal.Decimal  `json:"commission"`
	OperatorEarnings decimal.Decimal  `json:"operator_earnings"`
	DebtPaid         *decimal.Decimal `json:"debt_paid,omitempty"`
	NewDebt          *decimal.Decimal `json:"new_debt,omitempty"`
	Message          string           `json:"message"`
}

// PaymentIntent is the phase-1 descriptor for a direct debt payoff. Nothing
// in the ledger mutates until the gateway confirms capture.
type PaymentIntent struct {
	Amount          decimal.Decimal `json:"amount"`
	WalletID        string          `json:"wallet_id"`
	TotalDebt       decimal.Decimal `json:"total_debt"`
	PaymentIntentID string          `json:"payment_intent_id"`
	Message         string          `json:"message"`
}

// DebtPaymentResult is the phase-2 outcome of a direct debt payoff.
type DebtPaymentResult struct {
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	RemainingDebt decimal.Decimal `json:"remaining_debt"`
	Message       string          `json:"message"`
}

// CashEligibility answers whether an operator may take cash services.
type CashEligibility struct {
	CanAccept bool             `json:"can_accept"`
	Reason    string           `json:"reason,omitempty"`
	TotalDebt *decimal.Decimal `json:"total_debt,omitempty"`
}

// PendingDebt is a debt plus the whole days left before its due date
// (negative once overdue).
type PendingDebt struct {
	Debt
	DaysRemaining int `json:"days_remaining"`
}

// Statement is the period view of an operator's wallet.
type Statement struct {
	ConductorID       string          `json:"conductor_id"`
	From              time.Time       `json:"from"`
	To                time.Time       `json:"to"`
	OpeningBalance    decimal.Decimal `json:"opening_balance"`
	ClosingBalance    decimal.Decimal `json:"closing_balance"`
	TotalCredits      decimal.Decimal `json:"total_credits"`
	TotalDebits       decimal.Decimal `json:"total_debits"`
	Credits           []Transaction   `json:"credits"`
	Debits            []Transaction   `json:"debits"`
	PendingDebts      []PendingDebt   `json:"pending_debts"`
	CompletedServices int             `json:"completed_services"`
	ManualPayouts     []Transaction   `json:"manual_payouts"`
	BankAccount       string          `json:"bank_account,omitempty"`
}

// AdjustmentKind selects which wallet field an admin adjustment touches.
type AdjustmentKind string

const (
	AdjustBalance AdjustmentKind = "balance"
	AdjustDebt    AdjustmentKind = "debt"
)
