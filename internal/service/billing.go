package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/mealsub-system/internal/lifecycle"
	"github.com/mmeshcher/mealsub-system/internal/metrics"
	"github.com/mmeshcher/mealsub-system/internal/model"
	"github.com/mmeshcher/mealsub-system/internal/planner"
	"github.com/mmeshcher/mealsub-system/internal/repository"
)

// DailyResult — итог ежедневного прогона биллинга.
type DailyResult struct {
	Processed int      `json:"processed"`
	Paid      int      `json:"paid"`
	Halted    int      `json:"halted"`
	Cancelled int      `json:"cancelled"`
	Renewed   int      `json:"renewed"`
	Expired   int      `json:"expired"`
	Errors    []string `json:"errors"`
}

func newDailyResult() DailyResult {
	return DailyResult{Errors: []string{}}
}

func (r *DailyResult) add(o DailyResult) {
	r.Processed += o.Processed
	r.Paid += o.Paid
	r.Halted += o.Halted
	r.Cancelled += o.Cancelled
	r.Renewed += o.Renewed
	r.Expired += o.Expired
	r.Errors = append(r.Errors, o.Errors...)
}

func (r *DailyResult) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// ProcessDaily выполняет ежедневный прогон: истечение разовых подписок, сверку заказов
// на сегодня и, в день продления, продление повторяющихся подписок на следующую неделю.
// Повторный запуск в тот же день не списывает средства повторно.
func (s *Service) ProcessDaily(ctx context.Context) DailyResult {
	started := time.Now()
	defer func() {
		metrics.DailyRunDuration.Observe(time.Since(started).Seconds())
	}()

	now := s.today()
	res := newDailyResult()

	res.add(s.RunExpiry(ctx, now))
	res.add(s.RunReconciliation(ctx, now))
	if model.WeekdayOf(now) == s.opts.RenewalWeekday {
		res.add(s.RunRenewal(ctx, now))
	}

	s.logger.Info("daily billing finished",
		zap.Int("processed", res.Processed),
		zap.Int("paid", res.Paid),
		zap.Int("halted", res.Halted),
		zap.Int("cancelled", res.Cancelled),
		zap.Int("renewed", res.Renewed),
		zap.Int("expired", res.Expired),
		zap.Int("errors", len(res.Errors)),
	)
	return res
}

// RunReconciliation оплачивает неоплаченные заказы подписок с доставкой в день now.
// Заказы неактивных подписок отменяются; при нехватке средств подписка останавливается,
// а заказ остаётся неоплаченным.
func (s *Service) RunReconciliation(ctx context.Context, now time.Time) DailyResult {
	res := newDailyResult()

	from := planner.StartOfDay(now)
	orders, err := s.repo.ListDueSubscriptionOrders(ctx, from, from.AddDate(0, 0, 1))
	if err != nil {
		s.logger.Error("list due orders error", zap.Error(err))
		res.fail("list due orders: %v", err)
		return res
	}

	subs := make(map[uuid.UUID]*model.Subscription)

	for _, o := range orders {
		if o.SubscriptionID == nil {
			continue
		}
		res.Processed++

		log := s.logger.With(
			zap.String("order_id", o.ID.String()),
			zap.String("subscription_id", o.SubscriptionID.String()),
		)

		sub, ok := subs[*o.SubscriptionID]
		if !ok {
			sub, err = s.repo.GetSubscription(ctx, *o.SubscriptionID)
			if err != nil {
				log.Error("get subscription error", zap.Error(err))
				res.fail("order %s: %v", o.ID, err)
				continue
			}
			subs[sub.ID] = sub
		}

		if !lifecycle.Billable(sub.Status) {
			err := s.repo.CancelUnpaidOrder(ctx, o.ID)
			switch {
			case err == nil:
				res.Cancelled++
				metrics.ReconciledOrdersTotal.WithLabelValues("cancelled").Inc()
			case errors.Is(err, repository.ErrOrderAlreadySettled):
			default:
				log.Error("cancel order error", zap.Error(err))
				res.fail("order %s: %v", o.ID, err)
			}
			continue
		}

		payment := &model.Payment{
			UserID:    o.UserID,
			Amount:    o.Total,
			Type:      model.PaymentTypeOrder,
			Method:    model.PaymentMethodWallet,
			Status:    model.PaymentRecordSuccess,
			Reference: "order:" + o.ID.String(),
			Metadata: map[string]string{
				"kind":            metrics.ChargeReconciliation,
				"subscription_id": sub.ID.String(),
			},
		}

		recovered, err := s.repo.SettleOrder(ctx, o.ID, payment)
		observeCharge(metrics.ChargeReconciliation, err)
		switch {
		case err == nil:
			res.Paid++
			metrics.ReconciledOrdersTotal.WithLabelValues("paid").Inc()
			if recovered {
				sub.Status = model.SubscriptionActive
				metrics.SubscriptionTransitionsTotal.WithLabelValues(string(model.SubscriptionActive)).Inc()
				log.Info("subscription recovered by settled order")
			}
		case errors.Is(err, repository.ErrOrderAlreadySettled), errors.Is(err, repository.ErrPaymentExists):
		case errors.Is(err, repository.ErrInsufficientBalance):
			metrics.ReconciledOrdersTotal.WithLabelValues("insufficient_funds").Inc()
			if lifecycle.CanApply(sub.Status, lifecycle.EventHalt) {
				if err := s.apply(ctx, sub, lifecycle.EventHalt); err != nil {
					log.Error("halt subscription error", zap.Error(err))
					res.fail("subscription %s: %v", sub.ID, err)
					continue
				}
				res.Halted++
			}
		default:
			log.Error("settle order error", zap.Error(err))
			res.fail("order %s: %v", o.ID, err)
		}
	}

	return res
}

// RunRenewal списывает стоимость следующей недели для каждой активной повторяющейся
// подписки и создаёт её заказы. При нехватке средств подписка останавливается без заказов.
func (s *Service) RunRenewal(ctx context.Context, now time.Time) DailyResult {
	res := newDailyResult()

	subs, err := s.repo.ListSubscriptionsByStatus(ctx, model.SubscriptionActive)
	if err != nil {
		s.logger.Error("list active subscriptions error", zap.Error(err))
		res.fail("list active subscriptions: %v", err)
		return res
	}

	windows := []planner.Window{planner.NextWeek(now)}

	for i := range subs {
		sub := &subs[i]
		if !sub.IsRepeating {
			continue
		}
		res.Processed++

		log := s.logger.With(zap.String("subscription_id", sub.ID.String()))

		err := s.chargeWeeks(ctx, sub, windows, metrics.ChargeRenewal, model.SubscriptionActive)
		switch {
		case err == nil:
			res.Renewed++
		case errors.Is(err, repository.ErrCycleAlreadyBilled), errors.Is(err, repository.ErrStatusConflict):
		case errors.Is(err, repository.ErrInsufficientBalance):
			log.Info("renewal declined, halting subscription", zap.Error(err))
			if err := s.apply(ctx, sub, lifecycle.EventHalt); err != nil {
				log.Error("halt subscription error", zap.Error(err))
				res.fail("subscription %s: %v", sub.ID, err)
				continue
			}
			res.Halted++
		default:
			log.Error("renewal error", zap.Error(err))
			res.fail("subscription %s: %v", sub.ID, err)
		}
	}

	return res
}

// RunExpiry переводит активные разовые подписки с прошедшей датой окончания в expired.
func (s *Service) RunExpiry(ctx context.Context, now time.Time) DailyResult {
	res := newDailyResult()

	subs, err := s.repo.ListSubscriptionsByStatus(ctx, model.SubscriptionActive)
	if err != nil {
		s.logger.Error("list active subscriptions error", zap.Error(err))
		res.fail("list active subscriptions: %v", err)
		return res
	}

	for i := range subs {
		sub := &subs[i]
		if sub.IsRepeating || sub.EndDate == nil || !now.After(*sub.EndDate) {
			continue
		}
		res.Processed++

		if err := s.apply(ctx, sub, lifecycle.EventExpire); err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				continue
			}
			s.logger.Error("expire subscription error", zap.String("subscription_id", sub.ID.String()), zap.Error(err))
			res.fail("subscription %s: %v", sub.ID, err)
			continue
		}
		res.Expired++
	}

	return res
}

// TriggerPayment одним платежом списывает суммарную недельную стоимость всех активных
// подписок пользователя и помечает их строки плана оплаченными.
func (s *Service) TriggerPayment(ctx context.Context, userID int64) (*model.Payment, error) {
	subs, err := s.repo.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	var ids []uuid.UUID
	for i := range subs {
		if subs[i].Status != model.SubscriptionActive {
			continue
		}
		ids = append(ids, subs[i].ID)
		total = total.Add(subs[i].WeeklyTotal())
	}
	if len(ids) == 0 {
		return nil, invalid("no active subscriptions to pay for")
	}

	payment := &model.Payment{
		UserID: userID,
		Amount: total,
		Type:   model.PaymentTypeOrder,
		Method: model.PaymentMethodWallet,
		Status: model.PaymentRecordSuccess,
		Metadata: map[string]string{
			"kind":          metrics.ChargeLump,
			"subscriptions": strconv.Itoa(len(ids)),
		},
	}

	err = s.repo.ChargeSelections(ctx, userID, ids, payment)
	observeCharge(metrics.ChargeLump, err)
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// StartDailyBilling запускает фоновый ежедневный прогон с указанным интервалом.
// Нулевой интервал отключает запуск; прогон тогда вызывается извне.
func (s *Service) StartDailyBilling(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ProcessDaily(ctx)
			}
		}
	}()
}
