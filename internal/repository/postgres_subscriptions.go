package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/mealsub-system/internal/model"
)

const subscriptionColumns = `id, user_id, restaurant_id, plan_type, start_date, end_date, status,
	is_repeating, meal_selections, meals_per_week, created_at, updated_at`

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var (
		s      model.Subscription
		status string
	)
	err := row.Scan(&s.ID, &s.UserID, &s.RestaurantID, &s.PlanType, &s.StartDate, &s.EndDate, &status,
		&s.IsRepeating, &s.MealSelections, &s.MealsPerWeek, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = model.SubscriptionStatus(status)
	return &s, nil
}

func (r *PostgresRepository) querySubscriptions(ctx context.Context, query string, args ...any) ([]model.Subscription, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select subscriptions: %w", err)
	}
	defer rows.Close()

	var res []model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		res = append(res, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateSubscription сохраняет подписку и в той же транзакции выполняет первое списание.
// При нехватке средств не сохраняется ничего.
func (r *PostgresRepository) CreateSubscription(ctx context.Context, sub *model.Subscription, charge *Charge) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO subscriptions (id, user_id, restaurant_id, plan_type, start_date, end_date, status,
			                            is_repeating, meal_selections, meals_per_week)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING created_at, updated_at`,
			sub.ID, sub.UserID, sub.RestaurantID, sub.PlanType, sub.StartDate, sub.EndDate, string(sub.Status),
			sub.IsRepeating, sub.MealSelections, sub.MealsPerWeek,
		).Scan(&sub.CreatedAt, &sub.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}

		if charge == nil {
			return nil
		}
		return applyCharge(ctx, tx, sub.ID, sub.UserID, charge)
	})
}

// ChargeSubscription выполняет списание за неделю для существующей подписки.
func (r *PostgresRepository) ChargeSubscription(ctx context.Context, subID uuid.UUID, charge *Charge) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		var (
			userID int64
			status string
		)
		err := tx.QueryRow(ctx,
			`SELECT user_id, status FROM subscriptions WHERE id = $1 FOR UPDATE`,
			subID,
		).Scan(&userID, &status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrSubscriptionNotFound
			}
			return fmt.Errorf("lock subscription: %w", err)
		}

		if model.SubscriptionStatus(status) != charge.FromStatus {
			return ErrStatusConflict
		}

		if err := applyCharge(ctx, tx, subID, userID, charge); err != nil {
			return err
		}

		if charge.ToStatus != charge.FromStatus {
			_, err = tx.Exec(ctx,
				`UPDATE subscriptions SET status = $2, updated_at = now() WHERE id = $1`,
				subID, string(charge.ToStatus),
			)
			if err != nil {
				return fmt.Errorf("update subscription status: %w", err)
			}
		}
		return nil
	})
}

func applyCharge(ctx context.Context, tx pgx.Tx, subID uuid.UUID, userID int64, charge *Charge) error {
	var paymentID *uuid.UUID
	if charge.Payment.Amount.IsPositive() {
		if charge.Payment.ID == uuid.Nil {
			charge.Payment.ID = uuid.New()
		}
		paymentID = &charge.Payment.ID
	}

	for _, period := range charge.Periods {
		tag, err := tx.Exec(ctx,
			`INSERT INTO billing_cycles (subscription_id, period_start, payment_id) VALUES ($1, $2, $3)
			 ON CONFLICT (subscription_id, period_start) DO NOTHING`,
			subID, period, paymentID,
		)
		if err != nil {
			return fmt.Errorf("insert billing cycle: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrCycleAlreadyBilled
		}
	}

	if err := debit(ctx, tx, userID, charge.Payment.Amount); err != nil {
		return err
	}

	for i := range charge.Orders {
		if err := insertOrder(ctx, tx, &charge.Orders[i]); err != nil {
			return err
		}
	}

	if !charge.Payment.Amount.IsPositive() {
		return nil
	}
	return insertPayment(ctx, tx, &charge.Payment)
}

// GetSubscription возвращает подписку по идентификатору.
func (r *PostgresRepository) GetSubscription(ctx context.Context, id uuid.UUID) (*model.Subscription, error) {
	s, err := scanSubscription(r.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return s, nil
}

// ListSubscriptionsByUser возвращает подписки пользователя, новые первыми.
func (r *PostgresRepository) ListSubscriptionsByUser(ctx context.Context, userID int64) ([]model.Subscription, error) {
	return r.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
}

// ListSubscriptionsByStatus возвращает все подписки в указанном состоянии.
func (r *PostgresRepository) ListSubscriptionsByStatus(ctx context.Context, status model.SubscriptionStatus) ([]model.Subscription, error) {
	return r.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE status = $1 ORDER BY created_at`,
		string(status),
	)
}

// UpdateSubscriptionPlan сохраняет план подписки, если её состояние не изменилось с момента чтения.
func (r *PostgresRepository) UpdateSubscriptionPlan(ctx context.Context, sub *model.Subscription) error {
	err := r.pool.QueryRow(ctx,
		`UPDATE subscriptions
		 SET plan_type = $3, end_date = $4, is_repeating = $5, meal_selections = $6, meals_per_week = $7, updated_at = now()
		 WHERE id = $1 AND status = $2
		 RETURNING updated_at`,
		sub.ID, string(sub.Status), sub.PlanType, sub.EndDate, sub.IsRepeating, sub.MealSelections, sub.MealsPerWeek,
	).Scan(&sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.conflictOrNotFound(ctx, sub.ID)
		}
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

// SetSubscriptionStatus переводит подписку из from в to.
func (r *PostgresRepository) SetSubscriptionStatus(ctx context.Context, id uuid.UUID, from, to model.SubscriptionStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE subscriptions SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("update subscription status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.conflictOrNotFound(ctx, id)
	}
	return nil
}

// CancelSubscription отменяет подписку и в той же транзакции отменяет её неоплаченные
// ожидающие заказы. Возвращает число отменённых заказов.
func (r *PostgresRepository) CancelSubscription(ctx context.Context, id uuid.UUID, from model.SubscriptionStatus) (int, error) {
	var cancelled int
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE subscriptions SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
			id, string(from), string(model.SubscriptionCancelled),
		)
		if err != nil {
			return fmt.Errorf("cancel subscription: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return r.conflictOrNotFound(ctx, id)
		}

		tag, err = tx.Exec(ctx,
			`UPDATE orders SET status = $2
			 WHERE subscription_id = $1 AND payment_status = $3 AND status = $4`,
			id, string(model.OrderStatusCancelled), string(model.PaymentStatusUnpaid), string(model.OrderStatusPending),
		)
		if err != nil {
			return fmt.Errorf("cancel subscription orders: %w", err)
		}
		cancelled = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cancelled, nil
}

// ChargeSelections одним списанием оплачивает строки планов активных подписок пользователя
// и помечает их оплаченными.
func (r *PostgresRepository) ChargeSelections(ctx context.Context, userID int64, subIDs []uuid.UUID, payment *model.Payment) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := debit(ctx, tx, userID, payment.Amount); err != nil {
			return err
		}

		for _, id := range subIDs {
			var selections []model.MealSelection
			err := tx.QueryRow(ctx,
				`SELECT meal_selections FROM subscriptions
				 WHERE id = $1 AND user_id = $2 AND status = $3
				 FOR UPDATE`,
				id, userID, string(model.SubscriptionActive),
			).Scan(&selections)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrStatusConflict
				}
				return fmt.Errorf("lock subscription: %w", err)
			}

			for i := range selections {
				selections[i].PaymentStatus = model.PaymentStatusPaid
			}

			_, err = tx.Exec(ctx,
				`UPDATE subscriptions SET meal_selections = $2, updated_at = now() WHERE id = $1`,
				id, selections,
			)
			if err != nil {
				return fmt.Errorf("update selections: %w", err)
			}
		}

		return insertPayment(ctx, tx, payment)
	})
}

func (r *PostgresRepository) conflictOrNotFound(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check subscription: %w", err)
	}
	if !exists {
		return ErrSubscriptionNotFound
	}
	return ErrStatusConflict
}
