package validation

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/mealsub-system/internal/model"
)

func TestMealSelection(t *testing.T) {
	valid := model.MealSelection{MenuItemID: 1, Day: model.Monday, MealType: model.MealTypeLunch, Quantity: 1}

	tests := []struct {
		name  string
		sel   func(model.MealSelection) model.MealSelection
		valid bool
	}{
		{
			name:  "valid",
			sel:   func(s model.MealSelection) model.MealSelection { return s },
			valid: true,
		},
		{
			name:  "missing menu item",
			sel:   func(s model.MealSelection) model.MealSelection { s.MenuItemID = 0; return s },
			valid: false,
		},
		{
			name:  "unknown day",
			sel:   func(s model.MealSelection) model.MealSelection { s.Day = "funday"; return s },
			valid: false,
		},
		{
			name:  "breakfast is not a meal type",
			sel:   func(s model.MealSelection) model.MealSelection { s.MealType = "breakfast"; return s },
			valid: false,
		},
		{
			name:  "zero quantity",
			sel:   func(s model.MealSelection) model.MealSelection { s.Quantity = 0; return s },
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MealSelection(tt.sel(valid))
			if (err == nil) != tt.valid {
				t.Fatalf("MealSelection() error = %v, want valid %v", err, tt.valid)
			}
		})
	}
}

func TestMealSelectionsRejectsEmptyAndDuplicates(t *testing.T) {
	if err := MealSelections(nil); err == nil {
		t.Fatalf("expected error for empty plan")
	}

	sel := model.MealSelection{MenuItemID: 1, Day: model.Monday, MealType: model.MealTypeLunch, Quantity: 1}
	if err := MealSelections([]model.MealSelection{sel, sel}); err == nil {
		t.Fatalf("expected error for duplicate row")
	}

	dinner := sel
	dinner.MealType = model.MealTypeDinner
	if err := MealSelections([]model.MealSelection{sel, dinner}); err != nil {
		t.Fatalf("lunch and dinner on one day must be allowed: %v", err)
	}
}

func TestAmount(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"10", true},
		{"10.25", true},
		{"0", false},
		{"-5", false},
		{"1.001", false},
	}

	for _, tt := range tests {
		err := Amount(decimal.RequireFromString(tt.in))
		if (err == nil) != tt.valid {
			t.Fatalf("Amount(%s) error = %v, want valid %v", tt.in, err, tt.valid)
		}
	}
}
