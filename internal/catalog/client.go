// Package catalog предоставляет клиент внешнего каталога меню.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/mealsub-system/internal/model"
	"github.com/mmeshcher/mealsub-system/internal/repository"
)

// maxAttempts ограничивает число запросов при ответах 429.
const maxAttempts = 3

// RateLimitError возвращается, если каталог продолжает отвечать 429 после всех попыток.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("catalog rate limited, retry after %s", e.RetryAfter)
}

// Client инкапсулирует HTTP-взаимодействие с каталогом меню.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент для обращения к каталогу по указанному адресу.
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// GetMenuItem запрашивает позицию меню с текущей ценой.
func (c *Client) GetMenuItem(ctx context.Context, id int64) (*model.MenuItem, error) {
	var item model.MenuItem
	if err := c.get(ctx, fmt.Sprintf("/api/menu-items/%d", id), &item); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, repository.ErrMenuItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

// GetRestaurant запрашивает ресторан.
func (c *Client) GetRestaurant(ctx context.Context, id int64) (*model.Restaurant, error) {
	var r model.Restaurant
	if err := c.get(ctx, fmt.Sprintf("/api/restaurants/%d", id), &r); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, repository.ErrRestaurantNotFound
		}
		return nil, err
	}
	return &r, nil
}

var errNotFound = errors.New("not found")

func (c *Client) get(ctx context.Context, path string, dst any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("catalog client not configured")
	}

	for attempt := 1; ; attempt++ {
		retryAfter, err := c.do(ctx, c.baseURL+path, dst)
		if err == nil {
			return nil
		}

		var rl *RateLimitError
		if !errors.As(err, &rl) || attempt == maxAttempts {
			return err
		}

		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) do(ctx context.Context, url string, dst any) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return 0, errNotFound
	case http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return retryAfter, &RateLimitError{RetryAfter: retryAfter}
	default:
		return 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return 0, nil
}
