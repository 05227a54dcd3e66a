// Package handler содержит HTTP-обработчики API сервиса подписок на питание.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/mealsub-system/internal/lifecycle"
	"github.com/mmeshcher/mealsub-system/internal/middleware"
	"github.com/mmeshcher/mealsub-system/internal/model"
	"github.com/mmeshcher/mealsub-system/internal/repository"
	"github.com/mmeshcher/mealsub-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password, referrer string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)
	CreateUser(ctx context.Context, actor service.Actor, req service.NewUser) (int64, error)

	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	ListPayments(ctx context.Context, userID int64) ([]model.Payment, error)
	Recharge(ctx context.Context, userID int64, amount decimal.Decimal, method model.PaymentMethod) (*model.Payment, error)

	Checkout(ctx context.Context, userID int64, req service.CheckoutRequest) (*model.Order, error)
	ListOrders(ctx context.Context, userID int64) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, actor service.Actor, orderID uuid.UUID, to model.OrderStatus) (*model.Order, error)

	CreateSubscription(ctx context.Context, userID int64, req service.SubscriptionRequest) (*service.SubscriptionDetails, error)
	ListSubscriptions(ctx context.Context, userID int64) ([]service.SubscriptionDetails, error)
	PauseSubscription(ctx context.Context, userID int64, id uuid.UUID) (*model.Subscription, error)
	ResumeSubscription(ctx context.Context, userID int64, id uuid.UUID) (*model.Subscription, error)
	CancelSubscription(ctx context.Context, userID int64, id uuid.UUID) (int, error)
	EditSubscription(ctx context.Context, userID int64, id uuid.UUID, upd service.SubscriptionUpdate) (*service.SubscriptionDetails, error)
	ListSubscriptionOrders(ctx context.Context, userID int64, id uuid.UUID) ([]model.Order, error)
	ProcessDaily(ctx context.Context) service.DailyResult
	TriggerPayment(ctx context.Context, userID int64) (*model.Payment, error)
}

// Handler реализует HTTP-обработчики API сервиса подписок.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type insufficientFundsResponse struct {
	Error     string          `json:"error"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит ошибку сервиса в HTTP-ответ. Неожиданные ошибки логируются
// и отдаются как 500.
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	var (
		insufficient *repository.InsufficientFundsError
		verr         *service.ValidationError
		terr         *lifecycle.TransitionError
	)

	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusBadRequest, insufficientFundsResponse{
			Error:     repository.ErrInsufficientBalance.Error(),
			Required:  insufficient.Required,
			Available: insufficient.Available,
			Shortfall: insufficient.Shortfall(),
		})
	case errors.As(err, &verr), errors.As(err, &terr),
		errors.Is(err, repository.ErrInsufficientBalance),
		errors.Is(err, repository.ErrMenuItemNotFound),
		errors.Is(err, repository.ErrRestaurantNotFound):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, repository.ErrSubscriptionNotFound),
		errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	case errors.Is(err, service.ErrForbidden):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, repository.ErrUserExists),
		errors.Is(err, repository.ErrStatusConflict),
		errors.Is(err, repository.ErrCycleAlreadyBilled):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func currentUser(w http.ResponseWriter, r *http.Request) (middleware.User, bool) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return user, ok
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Referrer string `json:"referrer"`
}

// Register регистрирует нового клиента. Роль из тела запроса не принимается.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, req.Referrer)
	if err != nil {
		h.writeError(w, err, "register user error", zap.String("login", req.Login))
		return
	}

	h.authMiddleware.SetAuthCookie(w, middleware.User{ID: userID, Role: model.RoleCustomer})
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, err, "login user error", zap.String("login", req.Login))
		return
	}

	h.authMiddleware.SetAuthCookie(w, middleware.User{ID: user.ID, Role: user.Role})
	w.WriteHeader(http.StatusOK)
}
