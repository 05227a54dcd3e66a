// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/mealsub-system/internal/model"
)

// MealSelection проверяет одну строку плана подписки в том виде, в котором она пришла
// от клиента: блюдо, день, приём пищи и количество.
func MealSelection(sel model.MealSelection) error {
	if sel.MenuItemID <= 0 {
		return errors.New("menuItemId is required")
	}
	if !sel.Day.Valid() {
		return fmt.Errorf("invalid day %q", sel.Day)
	}
	if !sel.MealType.Valid() {
		return fmt.Errorf("invalid mealType %q", sel.MealType)
	}
	if sel.Quantity < 1 {
		return fmt.Errorf("quantity must be at least 1, got %d", sel.Quantity)
	}
	return nil
}

// MealSelections проверяет план целиком. Пустой план недопустим, как и повтор
// одной и той же строки (день, приём пищи, блюдо).
func MealSelections(selections []model.MealSelection) error {
	if len(selections) == 0 {
		return errors.New("mealSelections must not be empty")
	}

	seen := make(map[model.SlotKey]struct{}, len(selections))
	for i, sel := range selections {
		if err := MealSelection(sel); err != nil {
			return fmt.Errorf("mealSelections[%d]: %w", i, err)
		}
		if _, ok := seen[sel.Key()]; ok {
			return fmt.Errorf("mealSelections[%d]: duplicate %s %s item %d", i, sel.Day, sel.MealType, sel.MenuItemID)
		}
		seen[sel.Key()] = struct{}{}
	}
	return nil
}

// Amount проверяет денежную сумму: положительная, не более двух знаков после запятой.
func Amount(v decimal.Decimal) error {
	if !v.IsPositive() {
		return errors.New("amount must be positive")
	}
	if !v.Equal(v.Round(2)) {
		return errors.New("amount must have at most two decimal places")
	}
	return nil
}
