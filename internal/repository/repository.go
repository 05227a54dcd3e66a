// Package repository содержит реализации хранилища данных: PostgreSQL и in-memory.
package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/mealsub-system/internal/model"
)

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrSubscriptionNotFound возвращается, если подписка не найдена.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrMenuItemNotFound возвращается, если позиция меню не найдена в каталоге.
	ErrMenuItemNotFound = errors.New("menu item not found")
	// ErrRestaurantNotFound возвращается, если ресторан не найден в каталоге.
	ErrRestaurantNotFound = errors.New("restaurant not found")
	// ErrStatusConflict возвращается, если состояние записи изменилось с момента чтения.
	ErrStatusConflict = errors.New("status changed concurrently")
	// ErrCycleAlreadyBilled возвращается при повторной оплате недели подписки.
	ErrCycleAlreadyBilled = errors.New("billing cycle already charged")
	// ErrOrderAlreadySettled возвращается, если заказ уже оплачен или больше не ожидает оплаты.
	ErrOrderAlreadySettled = errors.New("order already settled")
	// ErrPaymentExists возвращается при повторной записи платежа с тем же Reference.
	ErrPaymentExists = errors.New("payment with this reference already exists")
)

// InsufficientFundsError описывает нехватку средств: сколько требуется и сколько доступно.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %s, available %s", e.Required.StringFixed(2), e.Available.StringFixed(2))
}

// Shortfall возвращает недостающую сумму.
func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Available)
}

// Is позволяет сравнивать ошибку с ErrInsufficientBalance через errors.Is.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// Charge описывает одно атомарное списание за одну или несколько недель подписки:
// заказы, запись платежа и ключи периодов (понедельники оплачиваемых недель).
// Если хотя бы одна неделя уже оплачена, списание целиком отклоняется.
// Подписка должна находиться в FromStatus и после списания переходит в ToStatus.
type Charge struct {
	Orders     []model.Order
	Payment    model.Payment
	Periods    []time.Time
	FromStatus model.SubscriptionStatus
	ToStatus   model.SubscriptionStatus
}
