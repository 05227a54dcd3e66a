// Package config содержит логику чтения конфигурации сервиса подписок.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/mealsub-system/internal/model"
)

// Config содержит параметры конфигурации сервиса подписок.
type Config struct {
	RunAddress         string `env:"RUN_ADDRESS"`
	DatabaseURI        string `env:"DATABASE_URI"`
	MenuCatalogAddress string `env:"MENU_CATALOG_ADDRESS"`

	AuthSecret string `env:"AUTH_SECRET" envDefault:"mealsub-secret"`

	AdminLogin    string `env:"ADMIN_LOGIN"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	BillingTimezone      string        `env:"BILLING_TIMEZONE" envDefault:"UTC"`
	RenewalWeekday       string        `env:"RENEWAL_WEEKDAY" envDefault:"sunday"`
	DeliveryHour         int           `env:"DELIVERY_HOUR" envDefault:"12"`
	DailyBillingInterval time.Duration `env:"DAILY_BILLING_INTERVAL" envDefault:"0s"`

	LoyaltyMilestone int             `env:"LOYALTY_MILESTONE" envDefault:"10"`
	LoyaltyReward    decimal.Decimal `env:"LOYALTY_REWARD" envDefault:"50"`
	ReferralReward   decimal.Decimal `env:"REFERRAL_REWARD" envDefault:"100"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envCatalogAddress := cfg.MenuCatalogAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory storage when empty")
	flag.StringVar(&cfg.MenuCatalogAddress, "m", "", "menu catalog address, database catalog when empty")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envCatalogAddress != "" {
		cfg.MenuCatalogAddress = envCatalogAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.RenewalDay(); err != nil {
		return err
	}
	if (c.AdminLogin == "") != (c.AdminPassword == "") {
		return errors.New("ADMIN_LOGIN and ADMIN_PASSWORD must be set together")
	}
	if c.DeliveryHour < 0 || c.DeliveryHour > 23 {
		return fmt.Errorf("DELIVERY_HOUR must be within 0..23, got %d", c.DeliveryHour)
	}
	if c.DailyBillingInterval < 0 {
		return errors.New("DAILY_BILLING_INTERVAL must not be negative")
	}
	if c.LoyaltyMilestone < 0 {
		return errors.New("LOYALTY_MILESTONE must not be negative")
	}
	if c.LoyaltyReward.IsNegative() || c.ReferralReward.IsNegative() {
		return errors.New("reward amounts must not be negative")
	}
	return nil
}

// Location возвращает часовой пояс, в котором считаются даты биллинга и доставки.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.BillingTimezone)
	if err != nil {
		return nil, fmt.Errorf("BILLING_TIMEZONE: %w", err)
	}
	return loc, nil
}

// RenewalDay возвращает день недели, в который продлеваются подписки.
func (c *Config) RenewalDay() (model.Weekday, error) {
	d, ok := model.ParseWeekday(c.RenewalWeekday)
	if !ok {
		return "", fmt.Errorf("RENEWAL_WEEKDAY: unknown weekday %q", c.RenewalWeekday)
	}
	return d, nil
}
