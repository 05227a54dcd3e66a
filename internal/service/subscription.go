package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/mealsub-system/internal/lifecycle"
	"github.com/mmeshcher/mealsub-system/internal/metrics"
	"github.com/mmeshcher/mealsub-system/internal/model"
	"github.com/mmeshcher/mealsub-system/internal/planner"
	"github.com/mmeshcher/mealsub-system/internal/repository"
	"github.com/mmeshcher/mealsub-system/internal/validation"
)

const defaultPlanType = "weekly"

// SubscriptionRequest — параметры новой подписки.
type SubscriptionRequest struct {
	RestaurantID   int64
	PlanType       string
	IsRepeating    bool
	MealSelections []model.MealSelection
}

// SubscriptionUpdate — изменения подписки. Поля со значением nil не меняются.
type SubscriptionUpdate struct {
	PlanType       *string
	IsRepeating    *bool
	MealSelections []model.MealSelection
}

// SubscriptionDetails — подписка вместе с данными каталога. Restaurant и позиции
// MenuItems могут отсутствовать, если каталог недоступен.
type SubscriptionDetails struct {
	model.Subscription
	Restaurant *model.Restaurant
	MenuItems  map[int64]model.MenuItem
}

// CreateSubscription создаёт подписку и списывает стоимость оставшихся дней текущей недели.
// Повторяющаяся подписка, созданная в день продления или позже, сразу оплачивает и
// следующую неделю: ближайшее продление её уже не застанет.
// Подписка, заказы и платёж сохраняются вместе или не сохраняются вовсе; при нехватке
// средств возвращается *repository.InsufficientFundsError.
func (s *Service) CreateSubscription(ctx context.Context, userID int64, req SubscriptionRequest) (*SubscriptionDetails, error) {
	if req.RestaurantID <= 0 {
		return nil, invalid("restaurantId is required")
	}
	if err := validation.MealSelections(req.MealSelections); err != nil {
		return nil, invalid("%s", err.Error())
	}

	if _, err := s.catalog.GetRestaurant(ctx, req.RestaurantID); err != nil {
		return nil, err
	}

	selections, err := s.priceSelections(ctx, req.RestaurantID, req.MealSelections, nil)
	if err != nil {
		return nil, err
	}

	now := s.today()
	planType := strings.TrimSpace(req.PlanType)
	if planType == "" {
		planType = defaultPlanType
	}

	sub := &model.Subscription{
		ID:             uuid.New(),
		UserID:         userID,
		RestaurantID:   req.RestaurantID,
		PlanType:       planType,
		StartDate:      now,
		Status:         model.SubscriptionActive,
		IsRepeating:    req.IsRepeating,
		MealSelections: selections,
		MealsPerWeek:   model.CountMeals(selections),
	}
	if !sub.IsRepeating {
		end := now.AddDate(0, 0, 7)
		sub.EndDate = &end
	}

	windows := []planner.Window{planner.RemainingWeek(now)}
	if sub.IsRepeating {
		windows = planner.Coverage(now, s.renewalAnchor())
	}
	charge, plan := s.newCharge(sub, windows, metrics.ChargeInitial, model.SubscriptionActive)

	err = s.repo.CreateSubscription(ctx, sub, charge)
	observeCharge(metrics.ChargeInitial, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscription created",
		zap.String("subscription_id", sub.ID.String()),
		zap.Int64("user_id", userID),
		zap.Int("orders", len(plan.Orders)),
		zap.String("charged", plan.Total.StringFixed(2)),
	)

	return s.describe(ctx, sub), nil
}

// priceSelections фиксирует цены строк плана по каталогу. Строка, совпадающая с prev по
// ключу и количеству, сохраняет прежнюю цену и статус оплаты.
func (s *Service) priceSelections(ctx context.Context, restaurantID int64, in, prev []model.MealSelection) ([]model.MealSelection, error) {
	kept := make(map[model.SlotKey]model.MealSelection, len(prev))
	for _, sel := range prev {
		kept[sel.Key()] = sel
	}

	items := make(map[int64]*model.MenuItem)
	out := make([]model.MealSelection, 0, len(in))

	for _, sel := range in {
		if old, ok := kept[sel.Key()]; ok && old.Quantity == sel.Quantity {
			out = append(out, old)
			continue
		}

		item, ok := items[sel.MenuItemID]
		if !ok {
			var err error
			item, err = s.catalog.GetMenuItem(ctx, sel.MenuItemID)
			if err != nil {
				return nil, fmt.Errorf("menu item %d: %w", sel.MenuItemID, err)
			}
			items[sel.MenuItemID] = item
		}
		if item.RestaurantID != restaurantID {
			return nil, invalid("menu item %d does not belong to restaurant %d", item.ID, restaurantID)
		}
		if !item.Available {
			return nil, invalid("menu item %d is not available", item.ID)
		}

		out = append(out, model.MealSelection{
			MenuItemID:       sel.MenuItemID,
			Day:              sel.Day,
			MealType:         sel.MealType,
			Quantity:         sel.Quantity,
			PriceAtSelection: item.Price,
			PaymentStatus:    model.PaymentStatusUnpaid,
		})
	}

	return out, nil
}

func (s *Service) describe(ctx context.Context, sub *model.Subscription) *SubscriptionDetails {
	d := &SubscriptionDetails{
		Subscription: *sub,
		MenuItems:    make(map[int64]model.MenuItem),
	}

	r, err := s.catalog.GetRestaurant(ctx, sub.RestaurantID)
	if err != nil {
		s.logger.Warn("restaurant lookup failed", zap.Int64("restaurant_id", sub.RestaurantID), zap.Error(err))
	} else {
		d.Restaurant = r
	}

	for _, sel := range sub.MealSelections {
		if _, ok := d.MenuItems[sel.MenuItemID]; ok {
			continue
		}
		item, err := s.catalog.GetMenuItem(ctx, sel.MenuItemID)
		if err != nil {
			s.logger.Warn("menu item lookup failed", zap.Int64("menu_item_id", sel.MenuItemID), zap.Error(err))
			continue
		}
		d.MenuItems[sel.MenuItemID] = *item
	}

	return d
}

// ListSubscriptions возвращает подписки пользователя с названием ресторана и блюдами.
func (s *Service) ListSubscriptions(ctx context.Context, userID int64) ([]SubscriptionDetails, error) {
	subs, err := s.repo.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := make([]SubscriptionDetails, 0, len(subs))
	for i := range subs {
		res = append(res, *s.describe(ctx, &subs[i]))
	}
	return res, nil
}

// ListSubscriptionOrders возвращает заказы подписки пользователя в порядке доставки.
func (s *Service) ListSubscriptionOrders(ctx context.Context, userID int64, id uuid.UUID) ([]model.Order, error) {
	sub, err := s.getOwned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return s.repo.ListOrdersBySubscription(ctx, sub.ID)
}

// getOwned возвращает подписку пользователя. Чужая подписка неотличима от отсутствующей.
func (s *Service) getOwned(ctx context.Context, userID int64, id uuid.UUID) (*model.Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, repository.ErrSubscriptionNotFound
	}
	return sub, nil
}

// apply переводит подписку по событию ev и сохраняет новое состояние.
func (s *Service) apply(ctx context.Context, sub *model.Subscription, ev lifecycle.Event) error {
	to, err := lifecycle.Next(sub.Status, ev)
	if err != nil {
		return err
	}
	if err := s.repo.SetSubscriptionStatus(ctx, sub.ID, sub.Status, to); err != nil {
		return err
	}

	metrics.SubscriptionTransitionsTotal.WithLabelValues(string(to)).Inc()
	s.logger.Info("subscription status changed",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("from", string(sub.Status)),
		zap.String("to", string(to)),
	)
	sub.Status = to
	return nil
}

// PauseSubscription приостанавливает активную подписку. Уже созданные заказы не меняются:
// ежедневная сверка отменит неоплаченные заказы приостановленной подписки.
func (s *Service) PauseSubscription(ctx context.Context, userID int64, id uuid.UUID) (*model.Subscription, error) {
	sub, err := s.getOwned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, sub, lifecycle.EventPause); err != nil {
		return nil, err
	}
	return sub, nil
}

// ResumeSubscription возобновляет приостановленную подписку. Остановленная из-за нехватки
// средств подписка возобновляется только после успешного списания за неделю.
// Повторяющаяся подписка после возобновления доплачивает недели, пропущенные на паузе.
func (s *Service) ResumeSubscription(ctx context.Context, userID int64, id uuid.UUID) (*model.Subscription, error) {
	sub, err := s.getOwned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if sub.Status == model.SubscriptionHalted {
		if err := s.recoverHalted(ctx, sub); err != nil {
			return nil, err
		}
		return sub, nil
	}

	if err := s.apply(ctx, sub, lifecycle.EventResume); err != nil {
		return nil, err
	}
	if err := s.catchUp(ctx, sub, metrics.ChargeResume); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) renewalAnchor() time.Weekday {
	return s.opts.RenewalWeekday.TimeWeekday()
}

// recoverHalted оплачивает первую неоплаченную неделю: остаток текущей или следующую целиком.
// После дня продления остаток недели оплачивается вместе со следующей неделей.
func (s *Service) recoverHalted(ctx context.Context, sub *model.Subscription) error {
	to, err := lifecycle.Next(sub.Status, lifecycle.EventRecover)
	if err != nil {
		return err
	}

	now := s.today()
	attempts := [][]planner.Window{
		planner.Coverage(now, s.renewalAnchor()),
		{planner.NextWeek(now)},
	}
	for _, windows := range attempts {
		err := s.chargeWeeks(ctx, sub, windows, metrics.ChargeResume, to)
		if errors.Is(err, repository.ErrCycleAlreadyBilled) {
			continue
		}
		if err != nil {
			return err
		}
		metrics.SubscriptionTransitionsTotal.WithLabelValues(string(to)).Inc()
		sub.Status = to
		return nil
	}

	return s.apply(ctx, sub, lifecycle.EventRecover)
}

// catchUp оплачивает по отдельности каждую неоплаченную неделю, которую активная
// повторяющаяся подписка должна покрывать сейчас. При нехватке средств подписка
// останавливается, как при продлении.
func (s *Service) catchUp(ctx context.Context, sub *model.Subscription, kind string) error {
	if sub.Status != model.SubscriptionActive || !sub.IsRepeating {
		return nil
	}

	for _, w := range planner.Coverage(s.today(), s.renewalAnchor()) {
		err := s.chargeWeeks(ctx, sub, []planner.Window{w}, kind, model.SubscriptionActive)
		switch {
		case err == nil, errors.Is(err, repository.ErrCycleAlreadyBilled):
		case errors.Is(err, repository.ErrInsufficientBalance):
			s.logger.Info("catch-up charge declined, halting subscription",
				zap.String("subscription_id", sub.ID.String()),
				zap.Error(err),
			)
			return s.apply(ctx, sub, lifecycle.EventHalt)
		default:
			return err
		}
	}
	return nil
}

// newCharge разворачивает план в окнах windows и собирает одно списание за все эти недели.
func (s *Service) newCharge(sub *model.Subscription, windows []planner.Window, kind string, to model.SubscriptionStatus) (*repository.Charge, planner.Plan) {
	plan := planner.Plan{Total: decimal.Zero}
	periods := make([]time.Time, 0, len(windows))
	for _, w := range windows {
		p := planner.Materialize(sub, w, s.opts.DeliveryHour)
		plan.Orders = append(plan.Orders, p.Orders...)
		plan.Total = plan.Total.Add(p.Total)
		periods = append(periods, planner.WeekStart(w.Start))
	}

	return &repository.Charge{
		Orders:     plan.Orders,
		Payment:    chargePayment(sub, plan.Total, kind, windows),
		Periods:    periods,
		FromStatus: sub.Status,
		ToStatus:   to,
	}, plan
}

// chargeWeeks списывает стоимость недель windows одной операцией.
func (s *Service) chargeWeeks(ctx context.Context, sub *model.Subscription, windows []planner.Window, kind string, to model.SubscriptionStatus) error {
	charge, _ := s.newCharge(sub, windows, kind, to)
	err := s.repo.ChargeSubscription(ctx, sub.ID, charge)
	observeCharge(kind, err)
	return err
}

func chargePayment(sub *model.Subscription, amount decimal.Decimal, kind string, windows []planner.Window) model.Payment {
	first, last := windows[0], windows[len(windows)-1]
	return model.Payment{
		UserID: sub.UserID,
		Amount: amount,
		Type:   model.PaymentTypeOrder,
		Method: model.PaymentMethodWallet,
		Status: model.PaymentRecordSuccess,
		Metadata: map[string]string{
			"kind":            kind,
			"subscription_id": sub.ID.String(),
			"period_start":    first.Start.Format(time.DateOnly),
			"period_end":      last.End().AddDate(0, 0, -1).Format(time.DateOnly),
		},
	}
}

func observeCharge(kind string, err error) {
	switch {
	case err == nil:
		metrics.ChargesTotal.WithLabelValues(kind, metrics.OutcomeSuccess).Inc()
	case errors.Is(err, repository.ErrInsufficientBalance):
		metrics.ChargesTotal.WithLabelValues(kind, metrics.OutcomeInsufficient).Inc()
	case errors.Is(err, repository.ErrCycleAlreadyBilled), errors.Is(err, repository.ErrOrderAlreadySettled):
	default:
		metrics.ChargesTotal.WithLabelValues(kind, metrics.OutcomeError).Inc()
	}
}

// CancelSubscription отменяет подписку и её неоплаченные ожидающие заказы.
// Возвращает число отменённых заказов.
func (s *Service) CancelSubscription(ctx context.Context, userID int64, id uuid.UUID) (int, error) {
	sub, err := s.getOwned(ctx, userID, id)
	if err != nil {
		return 0, err
	}

	if _, err := lifecycle.Next(sub.Status, lifecycle.EventCancel); err != nil {
		return 0, err
	}

	n, err := s.repo.CancelSubscription(ctx, sub.ID, sub.Status)
	if err != nil {
		return 0, err
	}

	metrics.SubscriptionTransitionsTotal.WithLabelValues(string(model.SubscriptionCancelled)).Inc()
	s.logger.Info("subscription cancelled",
		zap.String("subscription_id", sub.ID.String()),
		zap.Int("cancelled_orders", n),
	)
	return n, nil
}

// EditSubscription меняет план подписки. Цены пересчитываются только для изменённых
// и новых строк; отключение повторения устанавливает дату окончания через неделю.
// Включение повторения после дня продления сразу оплачивает следующую неделю.
func (s *Service) EditSubscription(ctx context.Context, userID int64, id uuid.UUID, upd SubscriptionUpdate) (*SubscriptionDetails, error) {
	sub, err := s.getOwned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if _, err := lifecycle.Next(sub.Status, lifecycle.EventEdit); err != nil {
		return nil, err
	}

	if upd.PlanType != nil && strings.TrimSpace(*upd.PlanType) != "" {
		sub.PlanType = strings.TrimSpace(*upd.PlanType)
	}

	if upd.MealSelections != nil {
		if err := validation.MealSelections(upd.MealSelections); err != nil {
			return nil, invalid("%s", err.Error())
		}
		selections, err := s.priceSelections(ctx, sub.RestaurantID, upd.MealSelections, sub.MealSelections)
		if err != nil {
			return nil, err
		}
		sub.MealSelections = selections
		sub.MealsPerWeek = model.CountMeals(selections)
	}

	becameRepeating := false
	if upd.IsRepeating != nil && *upd.IsRepeating != sub.IsRepeating {
		sub.IsRepeating = *upd.IsRepeating
		becameRepeating = sub.IsRepeating
		if sub.IsRepeating {
			sub.EndDate = nil
		} else {
			end := s.today().AddDate(0, 0, 7)
			sub.EndDate = &end
		}
	}

	if err := s.repo.UpdateSubscriptionPlan(ctx, sub); err != nil {
		return nil, err
	}
	if becameRepeating {
		if err := s.catchUp(ctx, sub, metrics.ChargeRenewal); err != nil {
			return nil, err
		}
	}
	return s.describe(ctx, sub), nil
}
