package expense

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/expenseflow/expenseflow/internal/company"
)

func TestIsReceiptRequired(t *testing.T) {
	configured := company.Settings{ReceiptRequiredAbove: decimal.NewFromInt(50)}

	require.False(t, IsReceiptRequired(decimal.NewFromInt(50), configured), "equal to threshold needs no receipt")
	require.True(t, IsReceiptRequired(decimal.RequireFromString("50.01"), configured))
	require.False(t, IsReceiptRequired(decimal.NewFromInt(10), configured))
}

func TestIsReceiptRequiredDefaultThreshold(t *testing.T) {
	// unconfigured tenants fall back to the 25.00 default
	var unset company.Settings

	require.False(t, IsReceiptRequired(decimal.NewFromInt(25), unset))
	require.True(t, IsReceiptRequired(decimal.RequireFromString("25.01"), unset))
}
