package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/mealsub-system/internal/model"
	"github.com/mmeshcher/mealsub-system/internal/service"
)

type orderResponse struct {
	ID               string            `json:"id"`
	RestaurantID     int64             `json:"restaurantId"`
	UserID           int64             `json:"userId"`
	Items            []model.OrderItem `json:"items"`
	Total            decimal.Decimal   `json:"total"`
	Status           string            `json:"status"`
	DeliveryDateTime string            `json:"deliveryDateTime"`
	PaymentStatus    string            `json:"paymentStatus"`
	IsSubscription   bool              `json:"isSubscription"`
	SubscriptionID   *string           `json:"subscriptionId,omitempty"`
	CreatedAt        string            `json:"createdAt"`
}

func newOrderResponse(o model.Order) orderResponse {
	resp := orderResponse{
		ID:               o.ID.String(),
		RestaurantID:     o.RestaurantID,
		UserID:           o.UserID,
		Items:            o.Items,
		Total:            o.Total,
		Status:           string(o.Status),
		DeliveryDateTime: formatTime(o.DeliveryDateTime),
		PaymentStatus:    string(o.PaymentStatus),
		IsSubscription:   o.IsSubscription,
		CreatedAt:        formatTime(o.CreatedAt),
	}
	if o.SubscriptionID != nil {
		id := o.SubscriptionID.String()
		resp.SubscriptionID = &id
	}
	return resp
}

type checkoutRequest struct {
	RestaurantID int64 `json:"restaurantId"`
	Items        []struct {
		MenuItemID int64 `json:"menuItemId"`
		Quantity   int   `json:"quantity"`
	} `json:"items"`
	PaymentMethod    model.PaymentMethod `json:"paymentMethod"`
	DeliveryDateTime *time.Time          `json:"deliveryDateTime"`
}

// CreateOrder оформляет разовый заказ текущего пользователя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := service.CheckoutRequest{
		RestaurantID:     req.RestaurantID,
		Items:            make([]service.CheckoutItem, 0, len(req.Items)),
		PaymentMethod:    req.PaymentMethod,
		DeliveryDateTime: req.DeliveryDateTime,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, service.CheckoutItem{MenuItemID: it.MenuItemID, Quantity: it.Quantity})
	}

	order, err := h.service.Checkout(r.Context(), user.ID, in)
	if err != nil {
		h.writeError(w, err, "checkout error", zap.Int64("userID", user.ID))
		return
	}

	writeJSON(w, http.StatusCreated, newOrderResponse(*order))
}

// GetOrders возвращает список заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListOrders(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, err, "get orders error", zap.Int64("userID", user.ID))
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, newOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

type orderStatusRequest struct {
	Status model.OrderStatus `json:"status"`
}

// UpdateOrderStatus меняет статус заказа.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req orderStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := h.service.UpdateOrderStatus(r.Context(), service.Actor{ID: user.ID, Role: user.Role}, id, req.Status)
	if err != nil {
		h.writeError(w, err, "update order status error", zap.String("order", id.String()))
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(*order))
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}
