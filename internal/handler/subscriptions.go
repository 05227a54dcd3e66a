package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/mealsub-system/internal/model"
	"github.com/mmeshcher/mealsub-system/internal/service"
)

type selectionResponse struct {
	model.MealSelection
	MenuItemName string `json:"menuItemName,omitempty"`
}

type subscriptionResponse struct {
	ID             string              `json:"id"`
	UserID         int64               `json:"userId"`
	RestaurantID   int64               `json:"restaurantId"`
	Restaurant     *model.Restaurant   `json:"restaurant,omitempty"`
	PlanType       string              `json:"planType"`
	StartDate      string              `json:"startDate"`
	EndDate        *string             `json:"endDate"`
	Status         string              `json:"status"`
	IsRepeating    bool                `json:"isRepeating"`
	MealSelections []selectionResponse `json:"mealSelections"`
	MealsPerWeek   int                 `json:"mealsPerWeek"`
	WeeklyTotal    decimal.Decimal     `json:"weeklyTotal"`
	CreatedAt      string              `json:"createdAt"`
	UpdatedAt      string              `json:"updatedAt"`
}

func newSubscriptionResponse(sub model.Subscription, restaurant *model.Restaurant, items map[int64]model.MenuItem) subscriptionResponse {
	resp := subscriptionResponse{
		ID:             sub.ID.String(),
		UserID:         sub.UserID,
		RestaurantID:   sub.RestaurantID,
		Restaurant:     restaurant,
		PlanType:       sub.PlanType,
		StartDate:      formatTime(sub.StartDate),
		Status:         string(sub.Status),
		IsRepeating:    sub.IsRepeating,
		MealSelections: make([]selectionResponse, 0, len(sub.MealSelections)),
		MealsPerWeek:   sub.MealsPerWeek,
		WeeklyTotal:    sub.WeeklyTotal(),
		CreatedAt:      formatTime(sub.CreatedAt),
		UpdatedAt:      formatTime(sub.UpdatedAt),
	}
	if sub.EndDate != nil {
		end := formatTime(*sub.EndDate)
		resp.EndDate = &end
	}
	for _, sel := range sub.MealSelections {
		resp.MealSelections = append(resp.MealSelections, selectionResponse{
			MealSelection: sel,
			MenuItemName:  items[sel.MenuItemID].Name,
		})
	}
	return resp
}

func newDetailsResponse(d service.SubscriptionDetails) subscriptionResponse {
	return newSubscriptionResponse(d.Subscription, d.Restaurant, d.MenuItems)
}

type subscriptionRequest struct {
	RestaurantID   int64                 `json:"restaurantId"`
	PlanType       string                `json:"planType"`
	IsRepeating    bool                  `json:"isRepeating"`
	MealSelections []model.MealSelection `json:"mealSelections"`
}

// CreateSubscription создаёт подписку и списывает оплату за остаток текущей недели.
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req subscriptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	details, err := h.service.CreateSubscription(r.Context(), user.ID, service.SubscriptionRequest{
		RestaurantID:   req.RestaurantID,
		PlanType:       req.PlanType,
		IsRepeating:    req.IsRepeating,
		MealSelections: req.MealSelections,
	})
	if err != nil {
		h.writeError(w, err, "create subscription error", zap.Int64("userID", user.ID))
		return
	}

	writeJSON(w, http.StatusCreated, newDetailsResponse(*details))
}

// GetSubscriptions возвращает подписки текущего пользователя.
func (h *Handler) GetSubscriptions(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	subs, err := h.service.ListSubscriptions(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, err, "list subscriptions error", zap.Int64("userID", user.ID))
		return
	}

	resp := make([]subscriptionResponse, 0, len(subs))
	for _, d := range subs {
		resp = append(resp, newDetailsResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// PauseSubscription приостанавливает подписку.
func (h *Handler) PauseSubscription(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	sub, err := h.service.PauseSubscription(r.Context(), user.ID, id)
	if err != nil {
		h.writeError(w, err, "pause subscription error", zap.String("subscription", id.String()))
		return
	}

	writeJSON(w, http.StatusOK, newSubscriptionResponse(*sub, nil, nil))
}

// ResumeSubscription возобновляет подписку.
func (h *Handler) ResumeSubscription(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	sub, err := h.service.ResumeSubscription(r.Context(), user.ID, id)
	if err != nil {
		h.writeError(w, err, "resume subscription error", zap.String("subscription", id.String()))
		return
	}

	writeJSON(w, http.StatusOK, newSubscriptionResponse(*sub, nil, nil))
}

// GetSubscriptionOrders возвращает заказы подписки текущего пользователя.
func (h *Handler) GetSubscriptionOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListSubscriptionOrders(r.Context(), user.ID, id)
	if err != nil {
		h.writeError(w, err, "list subscription orders error", zap.String("subscription", id.String()))
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, newOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

type cancelResponse struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	CancelledOrders int    `json:"cancelledOrders"`
}

// CancelSubscription отменяет подписку вместе с неоплаченными заказами.
func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	n, err := h.service.CancelSubscription(r.Context(), user.ID, id)
	if err != nil {
		h.writeError(w, err, "cancel subscription error", zap.String("subscription", id.String()))
		return
	}

	writeJSON(w, http.StatusOK, cancelResponse{
		ID:              id.String(),
		Status:          string(model.SubscriptionCancelled),
		CancelledOrders: n,
	})
}

type subscriptionUpdateRequest struct {
	PlanType       *string               `json:"planType"`
	IsRepeating    *bool                 `json:"isRepeating"`
	MealSelections []model.MealSelection `json:"mealSelections"`
}

// EditSubscription изменяет план подписки.
func (h *Handler) EditSubscription(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req subscriptionUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	details, err := h.service.EditSubscription(r.Context(), user.ID, id, service.SubscriptionUpdate{
		PlanType:       req.PlanType,
		IsRepeating:    req.IsRepeating,
		MealSelections: req.MealSelections,
	})
	if err != nil {
		h.writeError(w, err, "edit subscription error", zap.String("subscription", id.String()))
		return
	}

	writeJSON(w, http.StatusOK, newDetailsResponse(*details))
}

// ProcessDaily запускает ежедневный прогон биллинга.
func (h *Handler) ProcessDaily(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	res := h.service.ProcessDaily(r.Context())

	h.logger.Info("daily billing triggered over http",
		zap.Int("processed", res.Processed),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("duration", time.Since(started)),
	)
	writeJSON(w, http.StatusOK, res)
}

// TriggerPayment списывает суммарную стоимость активных подписок пользователя.
func (h *Handler) TriggerPayment(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	payment, err := h.service.TriggerPayment(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, err, "trigger payment error", zap.Int64("userID", user.ID))
		return
	}

	writeJSON(w, http.StatusOK, newPaymentResponse(*payment))
}
