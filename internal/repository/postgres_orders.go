package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/mealsub-system/internal/model"
)

const orderColumns = `id, restaurant_id, user_id, items, total, status, delivery_at, payment_status,
	is_subscription, subscription_id, created_at`

func insertOrder(ctx context.Context, tx pgx.Tx, o *model.Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO orders (id, restaurant_id, user_id, items, total, status, delivery_at, payment_status,
		                     is_subscription, subscription_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at`,
		o.ID, o.RestaurantID, o.UserID, o.Items, o.Total, string(o.Status), o.DeliveryDateTime,
		string(o.PaymentStatus), o.IsSubscription, o.SubscriptionID,
	).Scan(&o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o                     model.Order
		status, paymentStatus string
	)
	err := row.Scan(&o.ID, &o.RestaurantID, &o.UserID, &o.Items, &o.Total, &status, &o.DeliveryDateTime,
		&paymentStatus, &o.IsSubscription, &o.SubscriptionID, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	o.PaymentStatus = model.PaymentStatus(paymentStatus)
	return &o, nil
}

func (r *PostgresRepository) queryOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateOrder сохраняет разовый заказ вместе с записью платежа. Успешный платёж
// кошельком списывается в той же транзакции.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *model.Order, payment *model.Payment) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if payment.Method == model.PaymentMethodWallet && payment.Status == model.PaymentRecordSuccess {
			if err := debit(ctx, tx, order.UserID, payment.Amount); err != nil {
				return err
			}
		}

		if err := insertOrder(ctx, tx, order); err != nil {
			return err
		}

		payment.OrderID = &order.ID
		return insertPayment(ctx, tx, payment)
	})
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// ListOrdersByUser возвращает заказы пользователя по дате доставки.
func (r *PostgresRepository) ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY delivery_at DESC`,
		userID,
	)
}

// ListOrdersBySubscription возвращает заказы подписки в хронологическом порядке.
func (r *PostgresRepository) ListOrdersBySubscription(ctx context.Context, subID uuid.UUID) ([]model.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE subscription_id = $1 ORDER BY delivery_at`,
		subID,
	)
}

// ListDueSubscriptionOrders возвращает неоплаченные ожидающие заказы подписок
// с доставкой в интервале [from, to).
func (r *PostgresRepository) ListDueSubscriptionOrders(ctx context.Context, from, to time.Time) ([]model.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE is_subscription AND payment_status = $1 AND status = $2
		   AND delivery_at >= $3 AND delivery_at < $4
		 ORDER BY delivery_at`,
		string(model.PaymentStatusUnpaid), string(model.OrderStatusPending), from, to,
	)
}

// SettleOrder списывает сумму неоплаченного заказа подписки и помечает его оплаченным.
// Остановленная подписка в той же транзакции возвращается в active.
// Возвращает true, если подписка была возобновлена.
func (r *PostgresRepository) SettleOrder(ctx context.Context, orderID uuid.UUID, payment *model.Payment) (bool, error) {
	var recovered bool
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		recovered = false

		o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}
		if o.PaymentStatus != model.PaymentStatusUnpaid || o.Status != model.OrderStatusPending {
			return ErrOrderAlreadySettled
		}

		if err := debit(ctx, tx, o.UserID, o.Total); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `UPDATE orders SET payment_status = $2 WHERE id = $1`, orderID, string(model.PaymentStatusPaid))
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}

		payment.OrderID = &o.ID
		if err := insertPayment(ctx, tx, payment); err != nil {
			return err
		}

		if o.SubscriptionID == nil {
			return nil
		}
		tag, err := tx.Exec(ctx,
			`UPDATE subscriptions SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
			*o.SubscriptionID, string(model.SubscriptionHalted), string(model.SubscriptionActive),
		)
		if err != nil {
			return fmt.Errorf("recover subscription: %w", err)
		}
		recovered = tag.RowsAffected() == 1
		return nil
	})
	return recovered, err
}

// CancelUnpaidOrder отменяет заказ, только если он всё ещё ожидает оплаты.
func (r *PostgresRepository) CancelUnpaidOrder(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1 AND status = $3 AND payment_status = $4`,
		id, string(model.OrderStatusCancelled), string(model.OrderStatusPending), string(model.PaymentStatusUnpaid),
	)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderAlreadySettled
	}
	return nil
}

// UpdateOrderStatus переводит заказ из from в to.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to model.OrderStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetOrder(ctx, id); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	return nil
}

// RefundOrder отменяет оплаченный заказ и возвращает его сумму на кошелёк одной транзакцией.
func (r *PostgresRepository) RefundOrder(ctx context.Context, id uuid.UUID, from model.OrderStatus, refund *model.Payment) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE orders SET status = $3 WHERE id = $1 AND status = $2 AND payment_status = $4`,
			id, string(from), string(model.OrderStatusCancelled), string(model.PaymentStatusPaid),
		)
		if err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrStatusConflict
		}

		if err := credit(ctx, tx, refund.UserID, refund.Amount); err != nil {
			return err
		}

		refund.OrderID = &id
		return insertPayment(ctx, tx, refund)
	})
}
