package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/mealsub-system/internal/metrics"
)

func TestChargeOutcomesAreCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	insufficient := metrics.ChargesTotal.WithLabelValues(metrics.ChargeInitial, metrics.OutcomeInsufficient)
	success := metrics.ChargesTotal.WithLabelValues(metrics.ChargeInitial, metrics.OutcomeSuccess)
	failedBefore := testutil.ToFloat64(insufficient)
	okBefore := testutil.ToFloat64(success)

	poor := f.customer(t, "anna", "50")
	_, err := f.svc.CreateSubscription(ctx, poor, weekPlan())
	require.Error(t, err)

	rich := f.customer(t, "boris", "200")
	_, err = f.svc.CreateSubscription(ctx, rich, weekPlan())
	require.NoError(t, err)

	assert.Equal(t, failedBefore+1, testutil.ToFloat64(insufficient))
	assert.Equal(t, okBefore+1, testutil.ToFloat64(success))
}
