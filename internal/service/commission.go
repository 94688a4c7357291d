package service

import "github.com/shopspring/decimal"

const (
	// DebtDueDays is the grace period before a cash commission debt is due.
	DebtDueDays = 15
	// NearDueWarningDays is the advance-warning window checked by the sweeper.
	NearDueWarningDays = 3

	defaultStatementDays = 30
	defaultHistoryLimit  = 50
)

var (
	commissionRate = decimal.NewFromFloat(0.20)

	// paidTolerance treats sub-cent residue as fully paid. Production data
	// relies on this exact threshold; do not tighten it.
	paidTolerance = decimal.NewFromFloat(0.01)
)

// CalculateCommission returns the platform's cut of a gross service amount,
// rounded to the cent.
func CalculateCommission(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(commissionRate).Round(2)
}
