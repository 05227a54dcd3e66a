// Package planner разворачивает недельный план подписки в датированные заказы.
package planner

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/mealsub-system/internal/model"
)

// DefaultDeliveryHour — час доставки заказов подписки.
const DefaultDeliveryHour = 12

// Window — последовательность календарных дней начиная с Start.
type Window struct {
	Start time.Time
	Days  int
}

// Dates возвращает полночь каждого дня окна в хронологическом порядке.
func (w Window) Dates() []time.Time {
	dates := make([]time.Time, 0, w.Days)
	for i := 0; i < w.Days; i++ {
		dates = append(dates, time.Date(w.Start.Year(), w.Start.Month(), w.Start.Day()+i, 0, 0, 0, 0, w.Start.Location()))
	}
	return dates
}

// End возвращает полночь дня, следующего за последним днём окна.
func (w Window) End() time.Time {
	return time.Date(w.Start.Year(), w.Start.Month(), w.Start.Day()+w.Days, 0, 0, 0, 0, w.Start.Location())
}

// StartOfDay возвращает полночь дня t в его часовом поясе.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// isoWeekday возвращает номер дня в ISO-неделе: понедельник 1, воскресенье 7.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// WeekStart возвращает полночь понедельника ISO-недели, содержащей t.
func WeekStart(t time.Time) time.Time {
	d := StartOfDay(t)
	return time.Date(d.Year(), d.Month(), d.Day()-(isoWeekday(d)-1), 0, 0, 0, 0, d.Location())
}

// RemainingWeek — окно от сегодняшнего дня до воскресенья текущей ISO-недели включительно.
func RemainingWeek(now time.Time) Window {
	return Window{Start: StartOfDay(now), Days: 7 - isoWeekday(now) + 1}
}

// NextWeek — полная ISO-неделя, следующая за неделей now.
func NextWeek(now time.Time) Window {
	ws := WeekStart(now)
	return Window{Start: time.Date(ws.Year(), ws.Month(), ws.Day()+7, 0, 0, 0, 0, ws.Location()), Days: 7}
}

// AnchorReached сообщает, наступил ли в ISO-неделе now день продления anchor.
// После этого дня продление на следующую неделю считается уже выполненным.
func AnchorReached(now time.Time, anchor time.Weekday) bool {
	a := int(anchor)
	if a == 0 {
		a = 7
	}
	return isoWeekday(now) >= a
}

// Coverage возвращает окна, которые нужно оплатить подписке, начинающей или
// возобновляющей работу в момент now: остаток текущей недели и, если день
// продления уже наступил, следующую неделю целиком.
func Coverage(now time.Time, anchor time.Weekday) []Window {
	windows := []Window{RemainingWeek(now)}
	if AnchorReached(now, anchor) {
		windows = append(windows, NextWeek(now))
	}
	return windows
}

// Plan — результат развёртывания: заказы по дням и общая сумма к списанию.
type Plan struct {
	Orders []model.Order
	Total  decimal.Decimal
}

// Empty сообщает, что в окне нет ни одного заказа.
func (p Plan) Empty() bool {
	return len(p.Orders) == 0
}

// Materialize строит по одному заказу на каждый день окна, для которого в плане есть строки.
// Все строки одного дня попадают в один заказ. Заказы считаются оплаченными заранее:
// сохранять их можно только вместе со списанием Plan.Total.
func Materialize(sub *model.Subscription, w Window, deliveryHour int) Plan {
	plan := Plan{Total: decimal.Zero}
	subID := sub.ID

	for _, date := range w.Dates() {
		day := model.WeekdayOf(date)

		var items []model.OrderItem
		for _, sel := range sub.MealSelections {
			if sel.Day != day {
				continue
			}
			items = append(items, model.OrderItem{
				ItemID:   sel.MenuItemID,
				Quantity: sel.Quantity,
				Price:    sel.PriceAtSelection,
				MealType: sel.MealType,
				Day:      sel.Day,
			})
		}
		if len(items) == 0 {
			continue
		}

		total := model.ItemsTotal(items)
		plan.Orders = append(plan.Orders, model.Order{
			ID:               uuid.New(),
			RestaurantID:     sub.RestaurantID,
			UserID:           sub.UserID,
			Items:            items,
			Total:            total,
			Status:           model.OrderStatusPending,
			DeliveryDateTime: time.Date(date.Year(), date.Month(), date.Day(), deliveryHour, 0, 0, 0, date.Location()),
			PaymentStatus:    model.PaymentStatusPaid,
			IsSubscription:   true,
			SubscriptionID:   &subID,
		})
		plan.Total = plan.Total.Add(total)
	}

	return plan
}
