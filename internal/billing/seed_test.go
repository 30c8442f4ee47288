package billing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSeedSandboxCommits(t *testing.T) {
	tx := &fakeTx{row: fakeRow{values: []any{int64(42)}}}
	id, err := NewStore(&fakeDB{tx: tx}).SeedSandbox(context.Background(), SandboxInvoice{
		Currency: "bdt",
		Email:    "payer@example.com",
		Amount:   decimal.RequireFromString("250"),
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.True(t, tx.committed)
}

func TestSeedSandboxValidates(t *testing.T) {
	store := NewStore(&fakeDB{tx: &fakeTx{}})
	_, err := store.SeedSandbox(context.Background(), SandboxInvoice{Email: "payer@example.com"})
	require.ErrorContains(t, err, "amount must be positive")
	_, err = store.SeedSandbox(context.Background(), SandboxInvoice{Amount: decimal.NewFromInt(1)})
	require.ErrorContains(t, err, "email is required")
}
