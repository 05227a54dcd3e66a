package handler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/mealsub-system/internal/lifecycle"
	"github.com/mmeshcher/mealsub-system/internal/middleware"
	"github.com/mmeshcher/mealsub-system/internal/model"
	"github.com/mmeshcher/mealsub-system/internal/repository"
	"github.com/mmeshcher/mealsub-system/internal/service"
)

type stubService struct {
	registerUserID int64
	registerErr    error
	referrer       string

	newUser       service.NewUser
	createdBy     service.Actor
	createUserErr error

	authUser *model.User
	authErr  error

	balance    decimal.Decimal
	payments   []model.Payment
	payment    *model.Payment
	paymentErr error

	order       *model.Order
	orders      []model.Order
	orderErr    error
	statusActor service.Actor
	checkoutReq service.CheckoutRequest

	details      *service.SubscriptionDetails
	subs         []service.SubscriptionDetails
	sub          *model.Subscription
	subErr       error
	cancelled    int
	createReq    service.SubscriptionRequest
	updateReq    service.SubscriptionUpdate
	daily        service.DailyResult
	dailyCalls   int
	triggeredFor int64
	subOrders    []model.Order
	subOrdersOf  uuid.UUID
}

func (s *stubService) RegisterUser(_ context.Context, _, _, referrer string) (int64, error) {
	s.referrer = referrer
	return s.registerUserID, s.registerErr
}

func (s *stubService) CreateUser(_ context.Context, actor service.Actor, req service.NewUser) (int64, error) {
	s.createdBy, s.newUser = actor, req
	return 77, s.createUserErr
}

func (s *stubService) ListSubscriptionOrders(_ context.Context, _ int64, id uuid.UUID) ([]model.Order, error) {
	s.subOrdersOf = id
	return s.subOrders, s.subErr
}

func (s *stubService) AuthenticateUser(context.Context, string, string) (*model.User, error) {
	return s.authUser, s.authErr
}

func (s *stubService) GetBalance(context.Context, int64) (decimal.Decimal, error) {
	return s.balance, nil
}

func (s *stubService) ListPayments(context.Context, int64) ([]model.Payment, error) {
	return s.payments, nil
}

func (s *stubService) Recharge(context.Context, int64, decimal.Decimal, model.PaymentMethod) (*model.Payment, error) {
	return s.payment, s.paymentErr
}

func (s *stubService) Checkout(_ context.Context, _ int64, req service.CheckoutRequest) (*model.Order, error) {
	s.checkoutReq = req
	return s.order, s.orderErr
}

func (s *stubService) ListOrders(context.Context, int64) ([]model.Order, error) {
	return s.orders, nil
}

func (s *stubService) UpdateOrderStatus(_ context.Context, actor service.Actor, _ uuid.UUID, _ model.OrderStatus) (*model.Order, error) {
	s.statusActor = actor
	return s.order, s.orderErr
}

func (s *stubService) CreateSubscription(_ context.Context, _ int64, req service.SubscriptionRequest) (*service.SubscriptionDetails, error) {
	s.createReq = req
	return s.details, s.subErr
}

func (s *stubService) ListSubscriptions(context.Context, int64) ([]service.SubscriptionDetails, error) {
	return s.subs, s.subErr
}

func (s *stubService) PauseSubscription(context.Context, int64, uuid.UUID) (*model.Subscription, error) {
	return s.sub, s.subErr
}

func (s *stubService) ResumeSubscription(context.Context, int64, uuid.UUID) (*model.Subscription, error) {
	return s.sub, s.subErr
}

func (s *stubService) CancelSubscription(context.Context, int64, uuid.UUID) (int, error) {
	return s.cancelled, s.subErr
}

func (s *stubService) EditSubscription(_ context.Context, _ int64, _ uuid.UUID, upd service.SubscriptionUpdate) (*service.SubscriptionDetails, error) {
	s.updateReq = upd
	return s.details, s.subErr
}

func (s *stubService) ProcessDaily(context.Context) service.DailyResult {
	s.dailyCalls++
	return s.daily
}

func (s *stubService) TriggerPayment(_ context.Context, userID int64) (*model.Payment, error) {
	s.triggeredFor = userID
	return s.payment, s.paymentErr
}

var (
	customer = middleware.User{ID: 7, Role: model.RoleCustomer}
	kitchen  = middleware.User{ID: 8, Role: model.RoleRestaurant}
	admin    = middleware.User{ID: 9, Role: model.RoleAdmin}
)

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	auth := middleware.NewAuthMiddleware("test-secret")
	return NewHandler(svc, zap.NewNop(), auth)
}

func do(t *testing.T, h *Handler, method, path string, body any, user *middleware.User) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		rec := httptest.NewRecorder()
		h.authMiddleware.SetAuthCookie(rec, *user)
		for _, c := range rec.Result().Cookies() {
			req.AddCookie(c)
		}
	}

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec
}

func testSubscription() model.Subscription {
	return model.Subscription{
		ID:           uuid.New(),
		UserID:       customer.ID,
		RestaurantID: 1,
		PlanType:     "weekly",
		Status:       model.SubscriptionActive,
		IsRepeating:  true,
		MealSelections: []model.MealSelection{{
			MenuItemID:       10,
			Day:              model.Monday,
			MealType:         model.MealTypeLunch,
			Quantity:         2,
			PriceAtSelection: decimal.NewFromInt(10),
			PaymentStatus:    model.PaymentStatusUnpaid,
		}},
		MealsPerWeek: 2,
	}
}

func TestRegisterSetsCookie(t *testing.T) {
	svc := &stubService{registerUserID: 42}
	h := newTestHandler(t, svc)

	rec := do(t, h, http.MethodPost, "/api/user/register", credentialsRequest{Login: "anna", Password: "pw", Referrer: "boris"}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "boris", svc.referrer)
	require.NotEmpty(t, rec.Result().Cookies())
}

func TestRegisterIgnoresRequestedRole(t *testing.T) {
	h := newTestHandler(t, &stubService{registerUserID: 42})
	router := h.SetupRouter()

	body := bytes.NewBufferString(`{"login":"mallory","password":"x","role":"admin"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/user/register", body))
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	for _, path := range []string{"/subscriptions/process-daily", "/api/admin/users"} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{"login":"eve","password":"x","role":"admin"}`))
		for _, c := range cookies {
			req.AddCookie(c)
		}
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code, "registered session must not carry the admin role: %s", path)
	}
}

func TestAdminCreatesUsers(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	body := createUserRequest{Login: "cook", Password: "pw", Role: model.RoleRestaurant, RestaurantID: 3}

	for _, u := range []*middleware.User{nil, &customer, &kitchen} {
		rec := do(t, h, http.MethodPost, "/api/admin/users", body, u)
		assert.Contains(t, []int{http.StatusUnauthorized, http.StatusForbidden}, rec.Code)
	}
	assert.Empty(t, svc.newUser.Login, "service must not be reached without the admin role")

	rec := do(t, h, http.MethodPost, "/api/admin/users", body, &admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp createUserResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(77), resp.ID)
	assert.Equal(t, "restaurant", resp.Role)
	assert.Equal(t, service.Actor{ID: admin.ID, Role: model.RoleAdmin}, svc.createdBy)
	assert.Equal(t, service.NewUser{Login: "cook", Password: "pw", Role: model.RoleRestaurant, RestaurantID: 3}, svc.newUser)

	svc.createUserErr = &service.ValidationError{Msg: "restaurantId is required for restaurant staff"}
	rec = do(t, h, http.MethodPost, "/api/admin/users", body, &admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterConflict(t *testing.T) {
	h := newTestHandler(t, &stubService{registerErr: repository.ErrUserExists})

	rec := do(t, h, http.MethodPost, "/api/user/register", credentialsRequest{Login: "anna", Password: "pw"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := newTestHandler(t, &stubService{authErr: service.ErrInvalidCredentials})

	rec := do(t, h, http.MethodPost, "/api/user/login", credentialsRequest{Login: "anna", Password: "bad"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/user/login", credentialsRequest{Login: "anna"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedRoutesRequireCookie(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	for _, path := range []string{"/wallet", "/orders", "/subscriptions"} {
		rec := do(t, h, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestCreateSubscription(t *testing.T) {
	sub := testSubscription()
	svc := &stubService{details: &service.SubscriptionDetails{
		Subscription: sub,
		Restaurant:   &model.Restaurant{ID: 1, Name: "Curry House"},
		MenuItems:    map[int64]model.MenuItem{10: {ID: 10, Name: "Dal"}},
	}}
	h := newTestHandler(t, svc)

	body := subscriptionRequest{
		RestaurantID:   1,
		IsRepeating:    true,
		MealSelections: sub.MealSelections,
	}
	rec := do(t, h, http.MethodPost, "/subscriptions", body, &customer)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp subscriptionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, sub.ID.String(), resp.ID)
	assert.Equal(t, "20", resp.WeeklyTotal.String())
	require.Len(t, resp.MealSelections, 1)
	assert.Equal(t, "Dal", resp.MealSelections[0].MenuItemName)
	assert.Nil(t, resp.EndDate)

	assert.Equal(t, int64(1), svc.createReq.RestaurantID)
	assert.Len(t, svc.createReq.MealSelections, 1)
}

func TestCreateSubscriptionGzipRoundTrip(t *testing.T) {
	sub := testSubscription()
	svc := &stubService{details: &service.SubscriptionDetails{Subscription: sub}}
	h := newTestHandler(t, svc)

	var body bytes.Buffer
	zw := gzip.NewWriter(&body)
	require.NoError(t, json.NewEncoder(zw).Encode(subscriptionRequest{
		RestaurantID:   1,
		PlanType:       "weekly",
		IsRepeating:    true,
		MealSelections: sub.MealSelections,
	}))
	require.NoError(t, zw.Close())

	req := httptest.NewRequest(http.MethodPost, "/subscriptions", &body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Accept-Encoding", "gzip")
	cookies := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(cookies, customer)
	for _, c := range cookies.Result().Cookies() {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "weekly", svc.createReq.PlanType)
	assert.Len(t, svc.createReq.MealSelections, 1)

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	defer zr.Close()

	var resp subscriptionResponse
	require.NoError(t, json.NewDecoder(zr).Decode(&resp))
	assert.Equal(t, sub.ID.String(), resp.ID)
}

func TestCreateSubscriptionInsufficientFunds(t *testing.T) {
	h := newTestHandler(t, &stubService{subErr: &repository.InsufficientFundsError{
		Required:  decimal.NewFromInt(100),
		Available: decimal.NewFromInt(50),
	}})

	rec := do(t, h, http.MethodPost, "/subscriptions", subscriptionRequest{RestaurantID: 1}, &customer)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp insufficientFundsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "100", resp.Required.String())
	assert.Equal(t, "50", resp.Available.String())
	assert.Equal(t, "50", resp.Shortfall.String())
}

func TestSubscriptionRoutesRequireCustomer(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := do(t, h, http.MethodGet, "/subscriptions", nil, &kitchen)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubscriptionErrorMapping(t *testing.T) {
	id := uuid.New().String()

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{
			name:   "illegal transition",
			err:    &lifecycle.TransitionError{From: "active", Event: "resume", Required: []string{"paused"}},
			status: http.StatusBadRequest,
		},
		{name: "not found", err: repository.ErrSubscriptionNotFound, status: http.StatusNotFound},
		{name: "concurrent change", err: repository.ErrStatusConflict, status: http.StatusConflict},
		{name: "unexpected", err: assert.AnError, status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{subErr: tt.err})

			rec := do(t, h, http.MethodPatch, "/subscriptions/"+id+"/resume", nil, &customer)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestPauseAndCancelSubscription(t *testing.T) {
	sub := testSubscription()
	sub.Status = model.SubscriptionPaused
	h := newTestHandler(t, &stubService{sub: &sub, cancelled: 3})

	rec := do(t, h, http.MethodPatch, "/subscriptions/"+sub.ID.String()+"/pause", nil, &customer)
	require.Equal(t, http.StatusOK, rec.Code)

	var paused subscriptionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&paused))
	assert.Equal(t, "paused", paused.Status)

	rec = do(t, h, http.MethodDelete, "/subscriptions/"+sub.ID.String(), nil, &customer)
	require.Equal(t, http.StatusOK, rec.Code)

	var cancelled cancelResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cancelled))
	assert.Equal(t, 3, cancelled.CancelledOrders)
	assert.Equal(t, "cancelled", cancelled.Status)
}

func TestInvalidSubscriptionID(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := do(t, h, http.MethodPatch, "/subscriptions/not-a-uuid/pause", nil, &customer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEditSubscriptionPassesOptionalFields(t *testing.T) {
	sub := testSubscription()
	svc := &stubService{details: &service.SubscriptionDetails{Subscription: sub}}
	h := newTestHandler(t, svc)

	rec := do(t, h, http.MethodPatch, "/subscriptions/"+sub.ID.String(), map[string]any{"isRepeating": false}, &customer)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, svc.updateReq.IsRepeating)
	assert.False(t, *svc.updateReq.IsRepeating)
	assert.Nil(t, svc.updateReq.PlanType)
	assert.Nil(t, svc.updateReq.MealSelections)
}

func TestProcessDailyIsAdminOnly(t *testing.T) {
	svc := &stubService{daily: service.DailyResult{Processed: 4, Paid: 3, Halted: 1, Errors: []string{}}}
	h := newTestHandler(t, svc)

	rec := do(t, h, http.MethodPost, "/subscriptions/process-daily", nil, &customer)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, svc.dailyCalls)

	rec = do(t, h, http.MethodPost, "/subscriptions/process-daily", nil, &admin)
	require.Equal(t, http.StatusOK, rec.Code)

	var res service.DailyResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 1, res.Halted)
	assert.Equal(t, 1, svc.dailyCalls)
}

func TestTriggerPayment(t *testing.T) {
	svc := &stubService{payment: &model.Payment{
		ID:     uuid.New(),
		UserID: customer.ID,
		Amount: decimal.NewFromInt(300),
		Type:   model.PaymentTypeOrder,
		Method: model.PaymentMethodWallet,
		Status: model.PaymentRecordSuccess,
	}}
	h := newTestHandler(t, svc)

	rec := do(t, h, http.MethodPost, "/subscriptions/trigger-payment", nil, &customer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, customer.ID, svc.triggeredFor)

	var resp paymentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "order_payment", resp.Type)
	assert.Equal(t, "300", resp.Amount.String())
}

func TestWalletEndpoints(t *testing.T) {
	svc := &stubService{
		balance: decimal.RequireFromString("12.50"),
		payment: &model.Payment{ID: uuid.New(), Amount: decimal.NewFromInt(10), Type: model.PaymentTypeWalletRecharge},
	}
	h := newTestHandler(t, svc)

	rec := do(t, h, http.MethodGet, "/wallet", nil, &customer)
	require.Equal(t, http.StatusOK, rec.Code)

	var bal balanceResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&bal))
	assert.Equal(t, "12.5", bal.Current.String())

	rec = do(t, h, http.MethodPost, "/wallet/recharge", map[string]any{"amount": "10", "method": "demo"}, &customer)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/wallet/payments", nil, &customer)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRechargeValidationError(t *testing.T) {
	h := newTestHandler(t, &stubService{paymentErr: &service.ValidationError{Msg: "amount must be positive"}})

	rec := do(t, h, http.MethodPost, "/wallet/recharge", map[string]any{"amount": "-1"}, &customer)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "amount must be positive", resp.Error)
}

func TestCreateOrder(t *testing.T) {
	svc := &stubService{order: &model.Order{
		ID:            uuid.New(),
		RestaurantID:  1,
		UserID:        customer.ID,
		Total:         decimal.NewFromInt(30),
		Status:        model.OrderStatusPending,
		PaymentStatus: model.PaymentStatusPaid,
	}}
	h := newTestHandler(t, svc)

	body := map[string]any{
		"restaurantId":  1,
		"items":         []map[string]any{{"menuItemId": 10, "quantity": 3}},
		"paymentMethod": "wallet",
	}
	rec := do(t, h, http.MethodPost, "/orders", body, &customer)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Len(t, svc.checkoutReq.Items, 1)
	assert.Equal(t, 3, svc.checkoutReq.Items[0].Quantity)
	assert.Equal(t, model.PaymentMethodWallet, svc.checkoutReq.PaymentMethod)

	rec = do(t, h, http.MethodPost, "/orders", body, &kitchen)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUpdateOrderStatusPassesActor(t *testing.T) {
	svc := &stubService{order: &model.Order{ID: uuid.New(), Status: model.OrderStatusAccepted}}
	h := newTestHandler(t, svc)

	rec := do(t, h, http.MethodPatch, "/orders/"+svc.order.ID.String()+"/status", orderStatusRequest{Status: model.OrderStatusAccepted}, &kitchen)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.Actor{ID: kitchen.ID, Role: model.RoleRestaurant}, svc.statusActor)

	svc.orderErr = service.ErrForbidden
	rec = do(t, h, http.MethodPatch, "/orders/"+svc.order.ID.String()+"/status", orderStatusRequest{Status: model.OrderStatusAccepted}, &customer)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetSubscriptionOrders(t *testing.T) {
	subID := uuid.New()
	svc := &stubService{subOrders: []model.Order{
		{ID: uuid.New(), RestaurantID: 1, Total: decimal.NewFromInt(50), Status: model.OrderStatusPending, IsSubscription: true, SubscriptionID: &subID},
	}}
	h := newTestHandler(t, svc)

	rec := do(t, h, http.MethodGet, "/subscriptions/"+subID.String()+"/orders", nil, &customer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, subID, svc.subOrdersOf)

	var resp []orderResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 1)
	require.NotNil(t, resp[0].SubscriptionID)
	assert.Equal(t, subID.String(), *resp[0].SubscriptionID)

	svc.subErr = repository.ErrSubscriptionNotFound
	rec = do(t, h, http.MethodGet, "/subscriptions/"+subID.String()+"/orders", nil, &customer)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/subscriptions/"+subID.String()+"/orders", nil, &kitchen)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := do(t, h, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
