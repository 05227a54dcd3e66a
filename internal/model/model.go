// Package model содержит доменные сущности сервиса подписок на питание.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role описывает роль пользователя.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleRestaurant Role = "restaurant"
	RoleAdmin      Role = "admin"
)

// Valid сообщает, является ли роль известной.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleRestaurant, RoleAdmin:
		return true
	}
	return false
}

// User представляет зарегистрированного пользователя вместе с балансом кошелька.
// RestaurantID задан только у сотрудников ресторана.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         Role
	ReferredBy   *int64
	RestaurantID *int64
	Balance      decimal.Decimal
	CreatedAt    time.Time
}

// Restaurant описывает кухню из внешнего каталога.
type Restaurant struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// MenuItem описывает позицию меню из внешнего каталога.
type MenuItem struct {
	ID           int64           `json:"id"`
	RestaurantID int64           `json:"restaurantId"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Available    bool            `json:"available"`
}

// PaymentStatus описывает статус оплаты заказа или позиции плана.
type PaymentStatus string

const (
	PaymentStatusPaid   PaymentStatus = "paid"
	PaymentStatusUnpaid PaymentStatus = "unpaid"
)

// OrderStatus описывает статус приготовления и доставки заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusCooking   OrderStatus = "cooking"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderItem описывает одну позицию заказа с ценой на момент создания.
type OrderItem struct {
	ItemID   int64           `json:"itemId"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	MealType MealType        `json:"mealType,omitempty"`
	Day      Weekday         `json:"day,omitempty"`
}

// Order описывает заказ с датой доставки.
type Order struct {
	ID               uuid.UUID
	RestaurantID     int64
	UserID           int64
	Items            []OrderItem
	Total            decimal.Decimal
	Status           OrderStatus
	DeliveryDateTime time.Time
	PaymentStatus    PaymentStatus
	IsSubscription   bool
	SubscriptionID   *uuid.UUID
	CreatedAt        time.Time
}

// ItemsTotal возвращает сумму price × quantity по позициям.
func ItemsTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// PaymentType описывает тип записи в журнале платежей.
type PaymentType string

const (
	PaymentTypeOrder          PaymentType = "order_payment"
	PaymentTypeWalletRecharge PaymentType = "wallet_recharge"
	PaymentTypeRefund         PaymentType = "refund"
	PaymentTypeReward         PaymentType = "reward"
	PaymentTypeReferralReward PaymentType = "referral_reward"
)

// PaymentMethod описывает способ оплаты.
type PaymentMethod string

const (
	PaymentMethodWallet   PaymentMethod = "wallet"
	PaymentMethodDemo     PaymentMethod = "demo"
	PaymentMethodCard     PaymentMethod = "card"
	PaymentMethodLocalApp PaymentMethod = "local_app"
)

// PaymentRecordStatus описывает статус записи журнала.
type PaymentRecordStatus string

const (
	PaymentRecordPending PaymentRecordStatus = "pending"
	PaymentRecordSuccess PaymentRecordStatus = "success"
)

// Payment — неизменяемая запись журнала движения средств.
// Reference, если задан, уникален в пределах пользователя и типа.
type Payment struct {
	ID        uuid.UUID
	UserID    int64
	OrderID   *uuid.UUID
	Amount    decimal.Decimal
	Type      PaymentType
	Method    PaymentMethod
	Status    PaymentRecordStatus
	Reference string
	Metadata  map[string]string
	CreatedAt time.Time
}
