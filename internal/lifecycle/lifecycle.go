// Package lifecycle содержит таблицы допустимых переходов состояний подписок и заказов.
package lifecycle

import (
	"fmt"
	"strings"

	"github.com/mmeshcher/mealsub-system/internal/model"
)

// Event — событие, меняющее состояние подписки.
type Event string

const (
	EventPause   Event = "pause"
	EventResume  Event = "resume"
	EventCancel  Event = "cancel"
	EventHalt    Event = "halt"
	EventRecover Event = "recover"
	EventExpire  Event = "expire"
	EventEdit    Event = "edit"
)

type transition struct {
	from []model.SubscriptionStatus
	to   model.SubscriptionStatus
}

// Halt и Recover выполняет только биллинг; Edit не меняет состояние.
var subscriptionTransitions = map[Event]transition{
	EventPause:   {from: []model.SubscriptionStatus{model.SubscriptionActive}, to: model.SubscriptionPaused},
	EventResume:  {from: []model.SubscriptionStatus{model.SubscriptionPaused}, to: model.SubscriptionActive},
	EventCancel:  {from: []model.SubscriptionStatus{model.SubscriptionActive, model.SubscriptionPaused, model.SubscriptionHalted}, to: model.SubscriptionCancelled},
	EventHalt:    {from: []model.SubscriptionStatus{model.SubscriptionActive}, to: model.SubscriptionHalted},
	EventRecover: {from: []model.SubscriptionStatus{model.SubscriptionHalted}, to: model.SubscriptionActive},
	EventExpire:  {from: []model.SubscriptionStatus{model.SubscriptionActive}, to: model.SubscriptionExpired},
	EventEdit: {from: []model.SubscriptionStatus{
		model.SubscriptionActive, model.SubscriptionPaused, model.SubscriptionHalted, model.SubscriptionExpired,
	}},
}

// TransitionError возвращается при недопустимом переходе.
type TransitionError struct {
	From     string
	Event    string
	Required []string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s: status is %s, must be %s", e.Event, e.From, strings.Join(e.Required, " or "))
}

// Next возвращает состояние подписки после события. Для EventEdit возвращается текущее состояние.
func Next(from model.SubscriptionStatus, ev Event) (model.SubscriptionStatus, error) {
	t, ok := subscriptionTransitions[ev]
	if !ok {
		return from, fmt.Errorf("unknown subscription event %q", ev)
	}

	for _, s := range t.from {
		if s == from {
			if t.to == "" {
				return from, nil
			}
			return t.to, nil
		}
	}

	required := make([]string, 0, len(t.from))
	for _, s := range t.from {
		required = append(required, string(s))
	}
	return from, &TransitionError{From: string(from), Event: string(ev), Required: required}
}

// CanApply сообщает, допустимо ли событие в текущем состоянии.
func CanApply(from model.SubscriptionStatus, ev Event) bool {
	_, err := Next(from, ev)
	return err == nil
}

// Billable сообщает, можно ли списывать средства за заказы подписки в этом состоянии.
func Billable(s model.SubscriptionStatus) bool {
	return s == model.SubscriptionActive || s == model.SubscriptionHalted
}

var orderTransitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderStatusPending:  {model.OrderStatusAccepted, model.OrderStatusCancelled},
	model.OrderStatusAccepted: {model.OrderStatusCooking, model.OrderStatusCancelled},
	model.OrderStatusCooking:  {model.OrderStatusReady, model.OrderStatusCancelled},
	model.OrderStatusReady:    {model.OrderStatusCompleted, model.OrderStatusCancelled},
}

// NextOrderStatus проверяет переход заказа из from в to.
func NextOrderStatus(from, to model.OrderStatus) error {
	for _, s := range orderTransitions[from] {
		if s == to {
			return nil
		}
	}

	var required []string
	for src, dst := range orderTransitions {
		for _, s := range dst {
			if s == to {
				required = append(required, string(src))
			}
		}
	}
	if len(required) == 0 {
		required = []string{"none"}
	}
	return &TransitionError{From: string(from), Event: "set order status " + string(to), Required: sortStatuses(required)}
}

// порядок статусов в сообщении не должен зависеть от обхода map
func sortStatuses(in []string) []string {
	order := []model.OrderStatus{
		model.OrderStatusPending, model.OrderStatusAccepted, model.OrderStatusCooking,
		model.OrderStatusReady, model.OrderStatusCompleted, model.OrderStatusCancelled,
	}
	out := make([]string, 0, len(in))
	for _, s := range order {
		for _, v := range in {
			if v == string(s) {
				out = append(out, v)
			}
		}
	}
	if len(out) == 0 {
		return in
	}
	return out
}
