package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createCustomerBill(t *testing.T, env *testEnv, name, phone string) int64 {
	t.Helper()
	b := sampleBill(t)
	b.CustomerName = name
	b.CustomerPhone = phone
	created, err := env.bills.CreateBill(context.Background(), b)
	require.NoError(t, err)
	return created.ID
}

func TestSearchCustomersRejectsShortQuery(t *testing.T) {
	env := newTestEnv(t)
	before := len(env.h.Faults.Requests())

	for _, q := range []string{"", "ab", "  ab  ", "रा"} {
		_, err := env.customer.SearchCustomers(context.Background(), q)
		var validationErr *ValidationError
		assert.ErrorAs(t, err, &validationErr, q)
	}
	assert.Equal(t, before, len(env.h.Faults.Requests()))
}

func TestSearchCustomersReturnsLatestDetails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	createCustomerBill(t, env, "Rajesh Kumar", "1111111111")
	latest := createCustomerBill(t, env, "Rajesh Kumar", "2222222222")
	createCustomerBill(t, env, "Priya Sharma", "3333333333")

	got, err := env.customer.SearchCustomers(ctx, "RAJ")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Rajesh Kumar", got[0].CustomerName)
	assert.Equal(t, "2222222222", got[0].CustomerPhone)
	assert.Equal(t, latest, got[0].LastBillID)
	assert.Equal(t, "2025-07-06", got[0].LastInvoiceDate)

	got, err = env.customer.SearchCustomers(ctx, "sharma")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Priya Sharma", got[0].CustomerName)
}

func TestSearchCustomersOrdersAndLimits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	createCustomerBill(t, env, "gamma Traders", "1")
	createCustomerBill(t, env, "Beta Traders", "2")
	createCustomerBill(t, env, "alpha traders", "3")
	for i := 0; i < 10; i++ {
		createCustomerBill(t, env, fmt.Sprintf("Zeta Traders %02d", i), "4")
	}

	got, err := env.customer.SearchCustomers(ctx, "traders")
	require.NoError(t, err)
	require.Len(t, got, maxCustomerResults)
	assert.Equal(t, "alpha traders", got[0].CustomerName)
	assert.Equal(t, "Beta Traders", got[1].CustomerName)
	assert.Equal(t, "gamma Traders", got[2].CustomerName)
	assert.Equal(t, "Zeta Traders 00", got[3].CustomerName)
}

func TestSearchCustomersTreatsWildcardsLiterally(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	createCustomerBill(t, env, "Shah and Sons", "1")
	createCustomerBill(t, env, "Shah_and Sons", "2")

	got, err := env.customer.SearchCustomers(ctx, "shah_")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Shah_and Sons", got[0].CustomerName)

	got, err = env.customer.SearchCustomers(ctx, "100%")
	require.NoError(t, err)
	assert.Empty(t, got)
}
