package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/mealsub-system/internal/model"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name    string
		from    model.SubscriptionStatus
		event   Event
		want    model.SubscriptionStatus
		wantErr bool
	}{
		{name: "pause active", from: model.SubscriptionActive, event: EventPause, want: model.SubscriptionPaused},
		{name: "pause paused", from: model.SubscriptionPaused, event: EventPause, wantErr: true},
		{name: "pause halted", from: model.SubscriptionHalted, event: EventPause, wantErr: true},
		{name: "resume paused", from: model.SubscriptionPaused, event: EventResume, want: model.SubscriptionActive},
		{name: "resume active", from: model.SubscriptionActive, event: EventResume, wantErr: true},
		{name: "resume halted is processor only", from: model.SubscriptionHalted, event: EventResume, wantErr: true},
		{name: "cancel active", from: model.SubscriptionActive, event: EventCancel, want: model.SubscriptionCancelled},
		{name: "cancel paused", from: model.SubscriptionPaused, event: EventCancel, want: model.SubscriptionCancelled},
		{name: "cancel halted", from: model.SubscriptionHalted, event: EventCancel, want: model.SubscriptionCancelled},
		{name: "cancel cancelled", from: model.SubscriptionCancelled, event: EventCancel, wantErr: true},
		{name: "halt active", from: model.SubscriptionActive, event: EventHalt, want: model.SubscriptionHalted},
		{name: "halt paused", from: model.SubscriptionPaused, event: EventHalt, wantErr: true},
		{name: "recover halted", from: model.SubscriptionHalted, event: EventRecover, want: model.SubscriptionActive},
		{name: "recover active", from: model.SubscriptionActive, event: EventRecover, wantErr: true},
		{name: "expire active", from: model.SubscriptionActive, event: EventExpire, want: model.SubscriptionExpired},
		{name: "expire paused", from: model.SubscriptionPaused, event: EventExpire, wantErr: true},
		{name: "edit halted keeps status", from: model.SubscriptionHalted, event: EventEdit, want: model.SubscriptionHalted},
		{name: "edit cancelled", from: model.SubscriptionCancelled, event: EventEdit, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.from, tt.event)
			if tt.wantErr {
				var te *TransitionError
				require.True(t, errors.As(err, &te), "expected TransitionError, got %v", err)
				assert.Equal(t, tt.from, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCancelledIsTerminal(t *testing.T) {
	for ev := range subscriptionTransitions {
		assert.False(t, CanApply(model.SubscriptionCancelled, ev), "event %s applied to cancelled", ev)
	}
}

func TestTransitionErrorNamesRequiredState(t *testing.T) {
	_, err := Next(model.SubscriptionPaused, EventPause)
	require.Error(t, err)
	assert.Equal(t, "cannot pause: status is paused, must be active", err.Error())
}

func TestNextOrderStatus(t *testing.T) {
	require.NoError(t, NextOrderStatus(model.OrderStatusPending, model.OrderStatusAccepted))
	require.NoError(t, NextOrderStatus(model.OrderStatusReady, model.OrderStatusCompleted))
	require.NoError(t, NextOrderStatus(model.OrderStatusCooking, model.OrderStatusCancelled))

	err := NextOrderStatus(model.OrderStatusPending, model.OrderStatusCompleted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be ready")

	assert.Error(t, NextOrderStatus(model.OrderStatusCompleted, model.OrderStatusCancelled))
	assert.Error(t, NextOrderStatus(model.OrderStatusCancelled, model.OrderStatusPending))
}
