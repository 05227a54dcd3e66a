package handler

import (
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/mealsub-system/internal/model"
)

type balanceResponse struct {
	Current decimal.Decimal `json:"current"`
}

// GetBalance возвращает баланс кошелька текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, err, "get balance error", zap.Int64("userID", user.ID))
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Current: balance})
}

type rechargeRequest struct {
	Amount decimal.Decimal     `json:"amount"`
	Method model.PaymentMethod `json:"method"`
}

// Recharge пополняет кошелёк текущего пользователя.
func (h *Handler) Recharge(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req rechargeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Method == "" {
		req.Method = model.PaymentMethodDemo
	}

	payment, err := h.service.Recharge(r.Context(), user.ID, req.Amount, req.Method)
	if err != nil {
		h.writeError(w, err, "recharge error", zap.Int64("userID", user.ID))
		return
	}

	writeJSON(w, http.StatusCreated, newPaymentResponse(*payment))
}

type paymentResponse struct {
	ID        string            `json:"id"`
	OrderID   *string           `json:"orderId,omitempty"`
	Amount    decimal.Decimal   `json:"amount"`
	Type      string            `json:"type"`
	Method    string            `json:"method"`
	Status    string            `json:"status"`
	Reference string            `json:"reference,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt string            `json:"createdAt"`
}

func newPaymentResponse(p model.Payment) paymentResponse {
	resp := paymentResponse{
		ID:        p.ID.String(),
		Amount:    p.Amount,
		Type:      string(p.Type),
		Method:    string(p.Method),
		Status:    string(p.Status),
		Reference: p.Reference,
		Metadata:  p.Metadata,
		CreatedAt: formatTime(p.CreatedAt),
	}
	if p.OrderID != nil {
		id := p.OrderID.String()
		resp.OrderID = &id
	}
	return resp
}

// GetPayments возвращает журнал платежей текущего пользователя.
func (h *Handler) GetPayments(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	payments, err := h.service.ListPayments(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, err, "list payments error", zap.Int64("userID", user.ID))
		return
	}

	if len(payments) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		resp = append(resp, newPaymentResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}
