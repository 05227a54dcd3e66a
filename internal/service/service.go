// Package service реализует бизнес-логику сервиса подписок на питание.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/mealsub-system/internal/model"
	"github.com/mmeshcher/mealsub-system/internal/planner"
	"github.com/mmeshcher/mealsub-system/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, u *model.User) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)

	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	Credit(ctx context.Context, p *model.Payment) error
	ListPayments(ctx context.Context, userID int64) ([]model.Payment, error)
	CountPayments(ctx context.Context, userID int64, typ model.PaymentType, status model.PaymentRecordStatus) (int, error)

	CreateSubscription(ctx context.Context, sub *model.Subscription, charge *repository.Charge) error
	ChargeSubscription(ctx context.Context, subID uuid.UUID, charge *repository.Charge) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*model.Subscription, error)
	ListSubscriptionsByUser(ctx context.Context, userID int64) ([]model.Subscription, error)
	ListSubscriptionsByStatus(ctx context.Context, status model.SubscriptionStatus) ([]model.Subscription, error)
	UpdateSubscriptionPlan(ctx context.Context, sub *model.Subscription) error
	SetSubscriptionStatus(ctx context.Context, id uuid.UUID, from, to model.SubscriptionStatus) error
	CancelSubscription(ctx context.Context, id uuid.UUID, from model.SubscriptionStatus) (int, error)
	ChargeSelections(ctx context.Context, userID int64, subIDs []uuid.UUID, payment *model.Payment) error

	CreateOrder(ctx context.Context, order *model.Order, payment *model.Payment) error
	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	ListOrdersBySubscription(ctx context.Context, subID uuid.UUID) ([]model.Order, error)
	ListDueSubscriptionOrders(ctx context.Context, from, to time.Time) ([]model.Order, error)
	SettleOrder(ctx context.Context, orderID uuid.UUID, payment *model.Payment) (bool, error)
	CancelUnpaidOrder(ctx context.Context, id uuid.UUID) error
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to model.OrderStatus) error
	RefundOrder(ctx context.Context, id uuid.UUID, from model.OrderStatus, refund *model.Payment) error
}

// Catalog описывает каталог меню: цены и рестораны.
type Catalog interface {
	GetMenuItem(ctx context.Context, id int64) (*model.MenuItem, error)
	GetRestaurant(ctx context.Context, id int64) (*model.Restaurant, error)
}

var (
	// ErrInvalidCredentials возвращается при неверном логине или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden возвращается, если у пользователя нет прав на операцию.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError описывает некорректный запрос клиента.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Options задаёт параметры биллинга и наград.
type Options struct {
	Location         *time.Location
	RenewalWeekday   model.Weekday
	DeliveryHour     int
	LoyaltyMilestone int
	LoyaltyReward    decimal.Decimal
	ReferralReward   decimal.Decimal
}

// DefaultOptions возвращает параметры по умолчанию.
func DefaultOptions() Options {
	return Options{
		Location:         time.UTC,
		RenewalWeekday:   model.Sunday,
		DeliveryHour:     planner.DefaultDeliveryHour,
		LoyaltyMilestone: 10,
		LoyaltyReward:    decimal.NewFromInt(50),
		ReferralReward:   decimal.NewFromInt(100),
	}
}

// Service содержит бизнес-логику сервиса подписок.
type Service struct {
	repo    Repository
	catalog Catalog
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием и каталогом меню.
func NewService(repo Repository, catalog Catalog, logger *zap.Logger, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if !opts.RenewalWeekday.Valid() {
		opts.RenewalWeekday = model.Sunday
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		catalog: catalog,
		opts:    opts,
		logger:  logger.Named("service"),
		now:     time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// today возвращает текущий момент в часовом поясе биллинга.
func (s *Service) today() time.Time {
	return s.now().In(s.opts.Location)
}

// RegisterUser регистрирует нового клиента. referrer — необязательный логин
// пригласившего пользователя. Другие роли выдаёт только администратор через CreateUser.
func (s *Service) RegisterUser(ctx context.Context, login, password, referrer string) (int64, error) {
	if strings.TrimSpace(login) == "" || password == "" {
		return 0, invalid("login and password are required")
	}

	u := &model.User{
		Login:        login,
		PasswordHash: hashPassword(login, password),
		Role:         model.RoleCustomer,
	}

	if referrer != "" {
		ref, err := s.repo.GetUserByLogin(ctx, referrer)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return 0, invalid("unknown referrer %q", referrer)
			}
			return 0, err
		}
		u.ReferredBy = &ref.ID
	}

	return s.createUser(ctx, u)
}

// NewUser — учётная запись, создаваемая администратором.
type NewUser struct {
	Login        string
	Password     string
	Role         model.Role
	RestaurantID int64
}

// CreateUser создаёт пользователя с любой ролью. Доступно только администратору.
// Сотрудник ресторана привязывается к существующему ресторану каталога.
func (s *Service) CreateUser(ctx context.Context, actor Actor, req NewUser) (int64, error) {
	if actor.Role != model.RoleAdmin {
		return 0, ErrForbidden
	}
	if strings.TrimSpace(req.Login) == "" || req.Password == "" {
		return 0, invalid("login and password are required")
	}
	if !req.Role.Valid() {
		return 0, invalid("unknown role %q", req.Role)
	}

	u := &model.User{
		Login:        req.Login,
		PasswordHash: hashPassword(req.Login, req.Password),
		Role:         req.Role,
	}

	switch {
	case req.Role == model.RoleRestaurant:
		if req.RestaurantID <= 0 {
			return 0, invalid("restaurantId is required for restaurant staff")
		}
		if _, err := s.catalog.GetRestaurant(ctx, req.RestaurantID); err != nil {
			return 0, err
		}
		restaurantID := req.RestaurantID
		u.RestaurantID = &restaurantID
	case req.RestaurantID != 0:
		return 0, invalid("restaurantId is only allowed for restaurant staff")
	}

	id, err := s.createUser(ctx, u)
	if err != nil {
		return 0, err
	}

	s.logger.Info("user created by admin",
		zap.Int64("admin_id", actor.ID),
		zap.Int64("user_id", id),
		zap.String("role", string(u.Role)),
	)
	return id, nil
}

// EnsureAdmin создаёт администратора с указанным логином, если его ещё нет.
// Существующая учётная запись с тем же логином должна быть администратором.
func (s *Service) EnsureAdmin(ctx context.Context, login, password string) error {
	u, err := s.repo.GetUserByLogin(ctx, login)
	switch {
	case err == nil:
		if u.Role != model.RoleAdmin {
			return fmt.Errorf("user %q exists with role %s", login, u.Role)
		}
		return nil
	case !errors.Is(err, repository.ErrUserNotFound):
		return err
	}

	_, err = s.CreateUser(ctx, Actor{Role: model.RoleAdmin}, NewUser{Login: login, Password: password, Role: model.RoleAdmin})
	if errors.Is(err, repository.ErrUserExists) {
		return nil
	}
	return err
}

func (s *Service) createUser(ctx context.Context, u *model.User) (int64, error) {
	id, err := s.repo.CreateUser(ctx, u)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if subtle.ConstantTimeCompare(hashPassword(login, password), u.PasswordHash) != 1 {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}
