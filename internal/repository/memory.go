package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/mealsub-system/internal/model"
)

type cycleKey struct {
	subID  uuid.UUID
	period string
}

type paymentKey struct {
	userID    int64
	typ       model.PaymentType
	reference string
}

// MemoryRepository хранит данные в памяти процесса. Все операции выполняются под одним
// мьютексом, поэтому каждая из них атомарна так же, как транзакция в PostgresRepository.
type MemoryRepository struct {
	mu sync.Mutex

	nextUserID  int64
	users       map[int64]*model.User
	logins      map[string]int64
	restaurants map[int64]model.Restaurant
	menu        map[int64]model.MenuItem

	subs      map[uuid.UUID]*model.Subscription
	subsOrder []uuid.UUID
	orders    map[uuid.UUID]*model.Order
	payments  []model.Payment
	refs      map[paymentKey]struct{}
	cycles    map[cycleKey]struct{}
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:       make(map[int64]*model.User),
		logins:      make(map[string]int64),
		restaurants: make(map[int64]model.Restaurant),
		menu:        make(map[int64]model.MenuItem),
		subs:        make(map[uuid.UUID]*model.Subscription),
		orders:      make(map[uuid.UUID]*model.Order),
		refs:        make(map[paymentKey]struct{}),
		cycles:      make(map[cycleKey]struct{}),
	}
}

// Close ничего не делает.
func (m *MemoryRepository) Close() error { return nil }

// SeedRestaurant добавляет ресторан в каталог.
func (m *MemoryRepository) SeedRestaurant(r model.Restaurant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restaurants[r.ID] = r
}

// SeedMenuItem добавляет или заменяет позицию меню в каталоге.
func (m *MemoryRepository) SeedMenuItem(it model.MenuItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.menu[it.ID] = it
}

// SeedOrder сохраняет заказ как есть, в обход списаний. Используется для заказов,
// созданных внешними системами.
func (m *MemoryRepository) SeedOrder(o *model.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendOrder(o)
}

func cloneSubscription(s *model.Subscription) *model.Subscription {
	c := *s
	c.MealSelections = append([]model.MealSelection(nil), s.MealSelections...)
	if s.EndDate != nil {
		end := *s.EndDate
		c.EndDate = &end
	}
	return &c
}

func cloneOrder(o *model.Order) *model.Order {
	c := *o
	c.Items = append([]model.OrderItem(nil), o.Items...)
	if o.SubscriptionID != nil {
		id := *o.SubscriptionID
		c.SubscriptionID = &id
	}
	return &c
}

func clonePayment(p model.Payment) model.Payment {
	if p.Metadata != nil {
		md := make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			md[k] = v
		}
		p.Metadata = md
	}
	if p.OrderID != nil {
		id := *p.OrderID
		p.OrderID = &id
	}
	return p
}

// CreateUser создаёт нового пользователя с нулевым балансом.
func (m *MemoryRepository) CreateUser(_ context.Context, u *model.User) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.logins[u.Login]; ok {
		return 0, fmt.Errorf("%w: %s", ErrUserExists, u.Login)
	}

	m.nextUserID++
	c := *u
	c.ID = m.nextUserID
	c.Balance = decimal.Zero
	c.CreatedAt = time.Now()
	m.users[c.ID] = &c
	m.logins[c.Login] = c.ID
	return c.ID, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (m *MemoryRepository) GetUserByLogin(_ context.Context, login string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.logins[login]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := *m.users[id]
	return &u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (m *MemoryRepository) GetUser(_ context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *u
	return &c, nil
}

// GetBalance возвращает текущий баланс кошелька пользователя.
func (m *MemoryRepository) GetBalance(_ context.Context, userID int64) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return decimal.Zero, ErrUserNotFound
	}
	return u.Balance, nil
}

// checkDebit проверяет, что списание возможно. Вызывается под мьютексом до любых изменений.
func (m *MemoryRepository) checkDebit(userID int64, amount decimal.Decimal) error {
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if amount.IsPositive() && u.Balance.LessThan(amount) {
		return &InsufficientFundsError{Required: amount, Available: u.Balance}
	}
	return nil
}

func (m *MemoryRepository) checkPayment(p *model.Payment) error {
	if p.Reference == "" {
		return nil
	}
	if _, ok := m.refs[paymentKey{p.UserID, p.Type, p.Reference}]; ok {
		return ErrPaymentExists
	}
	return nil
}

func (m *MemoryRepository) appendPayment(p *model.Payment) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now()
	if p.Reference != "" {
		m.refs[paymentKey{p.UserID, p.Type, p.Reference}] = struct{}{}
	}
	m.payments = append(m.payments, clonePayment(*p))
}

func (m *MemoryRepository) appendOrder(o *model.Order) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.CreatedAt = time.Now()
	m.orders[o.ID] = cloneOrder(o)
}

// Credit зачисляет сумму успешного платежа на кошелёк и записывает платёж в журнал.
func (m *MemoryRepository) Credit(_ context.Context, p *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[p.UserID]
	if !ok {
		return ErrUserNotFound
	}
	if err := m.checkPayment(p); err != nil {
		return err
	}

	if p.Status == model.PaymentRecordSuccess {
		u.Balance = u.Balance.Add(p.Amount)
	}
	m.appendPayment(p)
	return nil
}

// ListPayments возвращает журнал платежей пользователя, новые первыми.
func (m *MemoryRepository) ListPayments(_ context.Context, userID int64) ([]model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Payment
	for i := len(m.payments) - 1; i >= 0; i-- {
		if m.payments[i].UserID == userID {
			res = append(res, clonePayment(m.payments[i]))
		}
	}
	return res, nil
}

// CountPayments возвращает число платежей пользователя указанного типа и статуса.
func (m *MemoryRepository) CountPayments(_ context.Context, userID int64, typ model.PaymentType, status model.PaymentRecordStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, p := range m.payments {
		if p.UserID == userID && p.Type == typ && p.Status == status {
			n++
		}
	}
	return n, nil
}

// GetMenuItem возвращает позицию меню из каталога.
func (m *MemoryRepository) GetMenuItem(_ context.Context, id int64) (*model.MenuItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.menu[id]
	if !ok {
		return nil, ErrMenuItemNotFound
	}
	return &it, nil
}

// GetRestaurant возвращает ресторан из каталога.
func (m *MemoryRepository) GetRestaurant(_ context.Context, id int64) (*model.Restaurant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.restaurants[id]
	if !ok {
		return nil, ErrRestaurantNotFound
	}
	return &r, nil
}

// CreateSubscription сохраняет подписку и выполняет первое списание. При нехватке средств
// не сохраняется ничего.
func (m *MemoryRepository) CreateSubscription(_ context.Context, sub *model.Subscription, charge *Charge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if charge != nil {
		if err := m.checkCharge(sub.ID, sub.UserID, charge); err != nil {
			return err
		}
	}

	now := time.Now()
	sub.CreatedAt, sub.UpdatedAt = now, now
	m.subs[sub.ID] = cloneSubscription(sub)
	m.subsOrder = append(m.subsOrder, sub.ID)

	if charge != nil {
		m.applyCharge(sub.ID, sub.UserID, charge)
	}
	return nil
}

func (m *MemoryRepository) checkCharge(subID uuid.UUID, userID int64, charge *Charge) error {
	for _, period := range charge.Periods {
		if _, ok := m.cycles[cycleKey{subID, period.Format(time.DateOnly)}]; ok {
			return ErrCycleAlreadyBilled
		}
	}
	if err := m.checkDebit(userID, charge.Payment.Amount); err != nil {
		return err
	}
	if charge.Payment.Amount.IsPositive() {
		return m.checkPayment(&charge.Payment)
	}
	return nil
}

func (m *MemoryRepository) applyCharge(subID uuid.UUID, userID int64, charge *Charge) {
	for _, period := range charge.Periods {
		m.cycles[cycleKey{subID, period.Format(time.DateOnly)}] = struct{}{}
	}

	u := m.users[userID]
	u.Balance = u.Balance.Sub(charge.Payment.Amount)

	for i := range charge.Orders {
		m.appendOrder(&charge.Orders[i])
	}
	if charge.Payment.Amount.IsPositive() {
		m.appendPayment(&charge.Payment)
	}
}

// ChargeSubscription выполняет списание за неделю для существующей подписки.
func (m *MemoryRepository) ChargeSubscription(_ context.Context, subID uuid.UUID, charge *Charge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[subID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if s.Status != charge.FromStatus {
		return ErrStatusConflict
	}
	if err := m.checkCharge(subID, s.UserID, charge); err != nil {
		return err
	}

	m.applyCharge(subID, s.UserID, charge)
	if charge.ToStatus != charge.FromStatus {
		s.Status = charge.ToStatus
		s.UpdatedAt = time.Now()
	}
	return nil
}

// GetSubscription возвращает подписку по идентификатору.
func (m *MemoryRepository) GetSubscription(_ context.Context, id uuid.UUID) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return cloneSubscription(s), nil
}

func (m *MemoryRepository) filterSubscriptions(newestFirst bool, keep func(*model.Subscription) bool) []model.Subscription {
	var res []model.Subscription
	for i := range m.subsOrder {
		idx := i
		if newestFirst {
			idx = len(m.subsOrder) - 1 - i
		}
		s := m.subs[m.subsOrder[idx]]
		if keep(s) {
			res = append(res, *cloneSubscription(s))
		}
	}
	return res
}

// ListSubscriptionsByUser возвращает подписки пользователя, новые первыми.
func (m *MemoryRepository) ListSubscriptionsByUser(_ context.Context, userID int64) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.filterSubscriptions(true, func(s *model.Subscription) bool { return s.UserID == userID }), nil
}

// ListSubscriptionsByStatus возвращает все подписки в указанном состоянии.
func (m *MemoryRepository) ListSubscriptionsByStatus(_ context.Context, status model.SubscriptionStatus) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.filterSubscriptions(false, func(s *model.Subscription) bool { return s.Status == status }), nil
}

// UpdateSubscriptionPlan сохраняет план подписки, если её состояние не изменилось с момента чтения.
func (m *MemoryRepository) UpdateSubscriptionPlan(_ context.Context, sub *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[sub.ID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if s.Status != sub.Status {
		return ErrStatusConflict
	}

	sub.UpdatedAt = time.Now()
	c := cloneSubscription(sub)
	c.CreatedAt = s.CreatedAt
	m.subs[sub.ID] = c
	return nil
}

// SetSubscriptionStatus переводит подписку из from в to.
func (m *MemoryRepository) SetSubscriptionStatus(_ context.Context, id uuid.UUID, from, to model.SubscriptionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[id]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if s.Status != from {
		return ErrStatusConflict
	}
	s.Status = to
	s.UpdatedAt = time.Now()
	return nil
}

// CancelSubscription отменяет подписку и её неоплаченные ожидающие заказы.
func (m *MemoryRepository) CancelSubscription(_ context.Context, id uuid.UUID, from model.SubscriptionStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[id]
	if !ok {
		return 0, ErrSubscriptionNotFound
	}
	if s.Status != from {
		return 0, ErrStatusConflict
	}
	s.Status = model.SubscriptionCancelled
	s.UpdatedAt = time.Now()

	cancelled := 0
	for _, o := range m.orders {
		if o.SubscriptionID != nil && *o.SubscriptionID == id &&
			o.PaymentStatus == model.PaymentStatusUnpaid && o.Status == model.OrderStatusPending {
			o.Status = model.OrderStatusCancelled
			cancelled++
		}
	}
	return cancelled, nil
}

// ChargeSelections одним списанием оплачивает строки планов активных подписок пользователя.
func (m *MemoryRepository) ChargeSelections(_ context.Context, userID int64, subIDs []uuid.UUID, payment *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range subIDs {
		s, ok := m.subs[id]
		if !ok || s.UserID != userID || s.Status != model.SubscriptionActive {
			return ErrStatusConflict
		}
	}
	if err := m.checkDebit(userID, payment.Amount); err != nil {
		return err
	}
	if err := m.checkPayment(payment); err != nil {
		return err
	}

	u := m.users[userID]
	u.Balance = u.Balance.Sub(payment.Amount)
	for _, id := range subIDs {
		s := m.subs[id]
		for i := range s.MealSelections {
			s.MealSelections[i].PaymentStatus = model.PaymentStatusPaid
		}
		s.UpdatedAt = time.Now()
	}
	m.appendPayment(payment)
	return nil
}

// CreateOrder сохраняет разовый заказ вместе с записью платежа.
func (m *MemoryRepository) CreateOrder(_ context.Context, order *model.Order, payment *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	walletPaid := payment.Method == model.PaymentMethodWallet && payment.Status == model.PaymentRecordSuccess
	if walletPaid {
		if err := m.checkDebit(order.UserID, payment.Amount); err != nil {
			return err
		}
	} else if _, ok := m.users[order.UserID]; !ok {
		return ErrUserNotFound
	}
	if err := m.checkPayment(payment); err != nil {
		return err
	}

	if walletPaid {
		u := m.users[order.UserID]
		u.Balance = u.Balance.Sub(payment.Amount)
	}
	m.appendOrder(order)
	payment.OrderID = &order.ID
	m.appendPayment(payment)
	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (m *MemoryRepository) GetOrder(_ context.Context, id uuid.UUID) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (m *MemoryRepository) filterOrders(keep func(*model.Order) bool) []model.Order {
	var res []model.Order
	for _, o := range m.orders {
		if keep(o) {
			res = append(res, *cloneOrder(o))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].DeliveryDateTime.Before(res[j].DeliveryDateTime)
	})
	return res
}

// ListOrdersByUser возвращает заказы пользователя, поздние первыми.
func (m *MemoryRepository) ListOrdersByUser(_ context.Context, userID int64) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := m.filterOrders(func(o *model.Order) bool { return o.UserID == userID })
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

// ListOrdersBySubscription возвращает заказы подписки в хронологическом порядке.
func (m *MemoryRepository) ListOrdersBySubscription(_ context.Context, subID uuid.UUID) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.filterOrders(func(o *model.Order) bool {
		return o.SubscriptionID != nil && *o.SubscriptionID == subID
	}), nil
}

// ListDueSubscriptionOrders возвращает неоплаченные ожидающие заказы подписок
// с доставкой в интервале [from, to).
func (m *MemoryRepository) ListDueSubscriptionOrders(_ context.Context, from, to time.Time) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.filterOrders(func(o *model.Order) bool {
		return o.IsSubscription &&
			o.PaymentStatus == model.PaymentStatusUnpaid &&
			o.Status == model.OrderStatusPending &&
			!o.DeliveryDateTime.Before(from) &&
			o.DeliveryDateTime.Before(to)
	}), nil
}

// SettleOrder списывает сумму неоплаченного заказа подписки и помечает его оплаченным.
func (m *MemoryRepository) SettleOrder(_ context.Context, orderID uuid.UUID, payment *model.Payment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return false, ErrOrderNotFound
	}
	if o.PaymentStatus != model.PaymentStatusUnpaid || o.Status != model.OrderStatusPending {
		return false, ErrOrderAlreadySettled
	}
	if err := m.checkDebit(o.UserID, o.Total); err != nil {
		return false, err
	}
	if err := m.checkPayment(payment); err != nil {
		return false, err
	}

	u := m.users[o.UserID]
	u.Balance = u.Balance.Sub(o.Total)
	o.PaymentStatus = model.PaymentStatusPaid
	payment.OrderID = &o.ID
	m.appendPayment(payment)

	if o.SubscriptionID == nil {
		return false, nil
	}
	s, ok := m.subs[*o.SubscriptionID]
	if ok && s.Status == model.SubscriptionHalted {
		s.Status = model.SubscriptionActive
		s.UpdatedAt = time.Now()
		return true, nil
	}
	return false, nil
}

// CancelUnpaidOrder отменяет заказ, только если он всё ещё ожидает оплаты.
func (m *MemoryRepository) CancelUnpaidOrder(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok || o.Status != model.OrderStatusPending || o.PaymentStatus != model.PaymentStatusUnpaid {
		return ErrOrderAlreadySettled
	}
	o.Status = model.OrderStatusCancelled
	return nil
}

// UpdateOrderStatus переводит заказ из from в to.
func (m *MemoryRepository) UpdateOrderStatus(_ context.Context, id uuid.UUID, from, to model.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status != from {
		return ErrStatusConflict
	}
	o.Status = to
	return nil
}

// RefundOrder отменяет оплаченный заказ и возвращает его сумму на кошелёк.
func (m *MemoryRepository) RefundOrder(_ context.Context, id uuid.UUID, from model.OrderStatus, refund *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok || o.Status != from || o.PaymentStatus != model.PaymentStatusPaid {
		return ErrStatusConflict
	}
	u, ok := m.users[refund.UserID]
	if !ok {
		return ErrUserNotFound
	}
	if err := m.checkPayment(refund); err != nil {
		return err
	}

	o.Status = model.OrderStatusCancelled
	u.Balance = u.Balance.Add(refund.Amount)
	refund.OrderID = &id
	m.appendPayment(refund)
	return nil
}
