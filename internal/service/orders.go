package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/mealsub-system/internal/lifecycle"
	"github.com/mmeshcher/mealsub-system/internal/metrics"
	"github.com/mmeshcher/mealsub-system/internal/model"
	"github.com/mmeshcher/mealsub-system/internal/repository"
)

// CheckoutItem — позиция разового заказа.
type CheckoutItem struct {
	MenuItemID int64
	Quantity   int
}

// CheckoutRequest — параметры разового заказа.
type CheckoutRequest struct {
	RestaurantID     int64
	Items            []CheckoutItem
	PaymentMethod    model.PaymentMethod
	DeliveryDateTime *time.Time
}

// Actor — пользователь, выполняющий операцию.
type Actor struct {
	ID   int64
	Role model.Role
}

// Checkout создаёт разовый заказ по текущим ценам каталога. Оплата кошельком
// списывается вместе с созданием заказа; остальные способы оставляют заказ неоплаченным.
func (s *Service) Checkout(ctx context.Context, userID int64, req CheckoutRequest) (*model.Order, error) {
	if req.RestaurantID <= 0 {
		return nil, invalid("restaurantId is required")
	}
	if len(req.Items) == 0 {
		return nil, invalid("items must not be empty")
	}

	switch req.PaymentMethod {
	case "":
		req.PaymentMethod = model.PaymentMethodWallet
	case model.PaymentMethodWallet, model.PaymentMethodCard, model.PaymentMethodLocalApp:
	default:
		return nil, invalid("unsupported payment method %q", req.PaymentMethod)
	}

	if _, err := s.catalog.GetRestaurant(ctx, req.RestaurantID); err != nil {
		return nil, err
	}

	items := make([]model.OrderItem, 0, len(req.Items))
	for i, it := range req.Items {
		if it.MenuItemID <= 0 || it.Quantity < 1 {
			return nil, invalid("items[%d]: menuItemId and a positive quantity are required", i)
		}
		mi, err := s.catalog.GetMenuItem(ctx, it.MenuItemID)
		if err != nil {
			return nil, fmt.Errorf("menu item %d: %w", it.MenuItemID, err)
		}
		if mi.RestaurantID != req.RestaurantID {
			return nil, invalid("menu item %d does not belong to restaurant %d", mi.ID, req.RestaurantID)
		}
		if !mi.Available {
			return nil, invalid("menu item %d is not available", mi.ID)
		}
		items = append(items, model.OrderItem{ItemID: mi.ID, Quantity: it.Quantity, Price: mi.Price})
	}

	delivery := s.today()
	if req.DeliveryDateTime != nil {
		delivery = req.DeliveryDateTime.In(s.opts.Location)
	}

	order := &model.Order{
		ID:               uuid.New(),
		RestaurantID:     req.RestaurantID,
		UserID:           userID,
		Items:            items,
		Total:            model.ItemsTotal(items),
		Status:           model.OrderStatusPending,
		DeliveryDateTime: delivery,
		PaymentStatus:    model.PaymentStatusUnpaid,
	}

	payment := &model.Payment{
		UserID:   userID,
		Amount:   order.Total,
		Type:     model.PaymentTypeOrder,
		Method:   req.PaymentMethod,
		Status:   model.PaymentRecordPending,
		Metadata: map[string]string{"kind": metrics.ChargeCheckout},
	}
	if req.PaymentMethod == model.PaymentMethodWallet {
		order.PaymentStatus = model.PaymentStatusPaid
		payment.Status = model.PaymentRecordSuccess
	}

	err := s.repo.CreateOrder(ctx, order, payment)
	if req.PaymentMethod == model.PaymentMethodWallet {
		observeCharge(metrics.ChargeCheckout, err)
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders возвращает заказы пользователя.
func (s *Service) ListOrders(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.ListOrdersByUser(ctx, userID)
}

// UpdateOrderStatus меняет статус заказа. Администратор и сотрудник ресторана, которому
// принадлежит заказ, могут выполнить любой допустимый переход; клиент может только
// отменить свой ожидающий заказ. Отмена оплаченного заказа возвращает его сумму
// на кошелёк, завершение начисляет награды.
func (s *Service) UpdateOrderStatus(ctx context.Context, actor Actor, orderID uuid.UUID, to model.OrderStatus) (*model.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case model.RoleAdmin:
	case model.RoleRestaurant:
		staff, err := s.repo.GetUser(ctx, actor.ID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return nil, ErrForbidden
			}
			return nil, err
		}
		if staff.RestaurantID == nil || *staff.RestaurantID != order.RestaurantID {
			return nil, repository.ErrOrderNotFound
		}
	default:
		if order.UserID != actor.ID {
			return nil, repository.ErrOrderNotFound
		}
		if to != model.OrderStatusCancelled || order.Status != model.OrderStatusPending {
			return nil, ErrForbidden
		}
	}

	if err := lifecycle.NextOrderStatus(order.Status, to); err != nil {
		return nil, err
	}

	from := order.Status
	if to == model.OrderStatusCancelled && order.PaymentStatus == model.PaymentStatusPaid {
		refund := &model.Payment{
			UserID:    order.UserID,
			Amount:    order.Total,
			Type:      model.PaymentTypeRefund,
			Method:    model.PaymentMethodWallet,
			Status:    model.PaymentRecordSuccess,
			Reference: "refund:" + order.ID.String(),
		}
		if err := s.repo.RefundOrder(ctx, order.ID, from, refund); err != nil {
			return nil, err
		}
		metrics.CreditsTotal.WithLabelValues(string(model.PaymentTypeRefund)).Inc()
	} else if err := s.repo.UpdateOrderStatus(ctx, order.ID, from, to); err != nil {
		return nil, err
	}
	order.Status = to

	if to == model.OrderStatusCompleted {
		s.grantRewards(ctx, order.UserID)
	}

	return order, nil
}

// grantRewards начисляет награду за лояльность и реферальную награду. Ошибки не прерывают
// завершение заказа и только логируются.
func (s *Service) grantRewards(ctx context.Context, userID int64) {
	log := s.logger.With(zap.Int64("user_id", userID))

	if s.opts.LoyaltyMilestone > 0 && s.opts.LoyaltyReward.IsPositive() {
		s.grantLoyalty(ctx, log, userID)
	}

	if !s.opts.ReferralReward.IsPositive() {
		return
	}
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		log.Error("get user error", zap.Error(err))
		return
	}
	if u.ReferredBy == nil {
		return
	}
	s.credit(ctx, log, &model.Payment{
		UserID:    *u.ReferredBy,
		Amount:    s.opts.ReferralReward,
		Type:      model.PaymentTypeReferralReward,
		Method:    model.PaymentMethodWallet,
		Status:    model.PaymentRecordSuccess,
		Reference: "referral:" + strconv.FormatInt(userID, 10),
		Metadata:  map[string]string{"referee_id": strconv.FormatInt(userID, 10)},
	})
}

// grantLoyalty начисляет награду за каждый достигнутый, но ещё не оплаченный рубеж
// числа оплаченных заказов. Рубеж, пройденный без завершения заказа, не теряется.
func (s *Service) grantLoyalty(ctx context.Context, log *zap.Logger, userID int64) {
	n, err := s.repo.CountPayments(ctx, userID, model.PaymentTypeOrder, model.PaymentRecordSuccess)
	if err != nil {
		log.Error("count payments error", zap.Error(err))
		return
	}
	granted, err := s.repo.CountPayments(ctx, userID, model.PaymentTypeReward, model.PaymentRecordSuccess)
	if err != nil {
		log.Error("count rewards error", zap.Error(err))
		return
	}

	step := s.opts.LoyaltyMilestone
	for milestone := (granted + 1) * step; milestone <= n; milestone += step {
		s.credit(ctx, log, &model.Payment{
			UserID:    userID,
			Amount:    s.opts.LoyaltyReward,
			Type:      model.PaymentTypeReward,
			Method:    model.PaymentMethodWallet,
			Status:    model.PaymentRecordSuccess,
			Reference: "loyalty:" + strconv.Itoa(milestone),
			Metadata:  map[string]string{"milestone": strconv.Itoa(milestone)},
		})
	}
}

func (s *Service) credit(ctx context.Context, log *zap.Logger, p *model.Payment) {
	err := s.repo.Credit(ctx, p)
	switch {
	case err == nil:
		metrics.CreditsTotal.WithLabelValues(string(p.Type)).Inc()
		log.Info("reward credited",
			zap.String("type", string(p.Type)),
			zap.Int64("recipient_id", p.UserID),
			zap.String("amount", p.Amount.StringFixed(2)),
		)
	case errors.Is(err, repository.ErrPaymentExists):
	default:
		log.Error("credit reward error", zap.String("reference", p.Reference), zap.Error(err))
	}
}
