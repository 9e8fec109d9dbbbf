package expense

import (
	"github.com/shopspring/decimal"

	"github.com/expenseflow/expenseflow/internal/company"
)

// IsReceiptRequired reports whether an expense of the given amount must carry
// a receipt at submission time. Amounts above the company threshold require
// one; at or below the threshold receipts are optional.
func IsReceiptRequired(amount decimal.Decimal, settings company.Settings) bool {
	threshold := settings.ReceiptRequiredAbove
	if threshold.IsZero() {
		threshold = company.DefaultReceiptThreshold()
	}
	return amount.GreaterThan(threshold)
}
