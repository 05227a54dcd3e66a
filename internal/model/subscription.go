package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Weekday — день недели в плане подписки.
type Weekday string

const (
	Sunday    Weekday = "sun"
	Monday    Weekday = "mon"
	Tuesday   Weekday = "tue"
	Wednesday Weekday = "wed"
	Thursday  Weekday = "thu"
	Friday    Weekday = "fri"
	Saturday  Weekday = "sat"
)

var weekdays = [...]Weekday{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

// WeekdayOf возвращает день недели для даты.
func WeekdayOf(t time.Time) Weekday {
	return weekdays[t.Weekday()]
}

// ParseWeekday разбирает короткое или полное английское название дня.
func ParseWeekday(s string) (Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 3 {
		return "", false
	}
	for i, d := range weekdays {
		if s == string(d) || s == strings.ToLower(time.Weekday(i).String()) {
			return d, true
		}
	}
	return "", false
}

// TimeWeekday переводит день плана в time.Weekday.
func (d Weekday) TimeWeekday() time.Weekday {
	for i, w := range weekdays {
		if w == d {
			return time.Weekday(i)
		}
	}
	return time.Sunday
}

// Valid сообщает, является ли значение днём недели.
func (d Weekday) Valid() bool {
	for _, w := range weekdays {
		if w == d {
			return true
		}
	}
	return false
}

// MealType — приём пищи.
type MealType string

const (
	MealTypeLunch  MealType = "lunch"
	MealTypeDinner MealType = "dinner"
)

// Valid сообщает, является ли значение известным приёмом пищи.
func (m MealType) Valid() bool {
	return m == MealTypeLunch || m == MealTypeDinner
}

// MealSelection — одна строка недельного плана. PriceAtSelection фиксируется при выборе
// и меняется только при явном редактировании этой строки.
type MealSelection struct {
	MenuItemID       int64           `json:"menuItemId"`
	Day              Weekday         `json:"day"`
	MealType         MealType        `json:"mealType"`
	Quantity         int             `json:"quantity"`
	PriceAtSelection decimal.Decimal `json:"priceAtSelection"`
	PaymentStatus    PaymentStatus   `json:"paymentStatus"`
}

// Key идентифицирует строку плана: день, приём пищи и блюдо.
func (s MealSelection) Key() SlotKey {
	return SlotKey{Day: s.Day, MealType: s.MealType, MenuItemID: s.MenuItemID}
}

// Total возвращает стоимость строки плана.
func (s MealSelection) Total() decimal.Decimal {
	return s.PriceAtSelection.Mul(decimal.NewFromInt(int64(s.Quantity)))
}

// SlotKey — ключ строки плана.
type SlotKey struct {
	Day        Weekday
	MealType   MealType
	MenuItemID int64
}

// SubscriptionStatus — состояние подписки.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPaused    SubscriptionStatus = "paused"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionHalted    SubscriptionStatus = "halted"
)

// Subscription — регулярный недельный план клиента у одного ресторана.
// EndDate равен nil тогда и только тогда, когда IsRepeating.
type Subscription struct {
	ID             uuid.UUID
	UserID         int64
	RestaurantID   int64
	PlanType       string
	StartDate      time.Time
	EndDate        *time.Time
	Status         SubscriptionStatus
	IsRepeating    bool
	MealSelections []MealSelection
	MealsPerWeek   int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WeeklyTotal возвращает стоимость всех строк плана за неделю.
func (s *Subscription) WeeklyTotal() decimal.Decimal {
	total := decimal.Zero
	for _, sel := range s.MealSelections {
		total = total.Add(sel.Total())
	}
	return total
}

// CountMeals возвращает число блюд в неделю по плану.
func CountMeals(selections []MealSelection) int {
	n := 0
	for _, sel := range selections {
		n += sel.Quantity
	}
	return n
}
