package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/mealsub-system/internal/metrics"
	"github.com/mmeshcher/mealsub-system/internal/model"
	"github.com/mmeshcher/mealsub-system/internal/validation"
)

// GetBalance возвращает баланс кошелька пользователя.
func (s *Service) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return s.repo.GetBalance(ctx, userID)
}

// ListPayments возвращает журнал платежей пользователя.
func (s *Service) ListPayments(ctx context.Context, userID int64) ([]model.Payment, error) {
	return s.repo.ListPayments(ctx, userID)
}

// Recharge пополняет кошелёк. Способ demo зачисляет сумму сразу; card и local_app
// только фиксируют ожидающий платёж, баланс не меняется.
func (s *Service) Recharge(ctx context.Context, userID int64, amount decimal.Decimal, method model.PaymentMethod) (*model.Payment, error) {
	if err := validation.Amount(amount); err != nil {
		return nil, invalid("%s", err.Error())
	}

	p := &model.Payment{
		UserID: userID,
		Amount: amount,
		Type:   model.PaymentTypeWalletRecharge,
		Method: method,
	}

	switch method {
	case model.PaymentMethodDemo:
		p.Status = model.PaymentRecordSuccess
	case model.PaymentMethodCard, model.PaymentMethodLocalApp:
		p.Status = model.PaymentRecordPending
	default:
		return nil, invalid("unsupported recharge method %q", method)
	}

	if err := s.repo.Credit(ctx, p); err != nil {
		return nil, err
	}

	if p.Status == model.PaymentRecordSuccess {
		metrics.CreditsTotal.WithLabelValues(string(model.PaymentTypeWalletRecharge)).Inc()
	}
	return p, nil
}
