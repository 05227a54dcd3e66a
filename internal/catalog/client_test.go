package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmeshcher/mealsub-system/internal/repository"
)

func TestGetMenuItem_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/api/menu-items/7" {
			t.Fatalf("path = %s, want /api/menu-items/7", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":7,"restaurantId":2,"name":"Paneer bowl","price":"12.50","available":true}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	item, err := client.GetMenuItem(ctx, 7)
	if err != nil {
		t.Fatalf("GetMenuItem error: %v", err)
	}
	if item.ID != 7 || item.RestaurantID != 2 || item.Price.StringFixed(2) != "12.50" {
		t.Fatalf("unexpected item: %+v", item)
	}
}

func TestGetMenuItem_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).GetMenuItem(context.Background(), 1)
	if !errors.Is(err, repository.ErrMenuItemNotFound) {
		t.Fatalf("err = %v, want ErrMenuItemNotFound", err)
	}
}

func TestGetRestaurant_RetriesAfterTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"id":3,"name":"Curry House"}`))
	}))
	defer ts.Close()

	r, err := NewClient(ts.URL).GetRestaurant(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetRestaurant error: %v", err)
	}
	if r.Name != "Curry House" {
		t.Fatalf("name = %q, want Curry House", r.Name)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestGetRestaurant_RateLimitedGivesUp(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).GetRestaurant(context.Background(), 3)
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
}

func TestClientNotConfigured(t *testing.T) {
	if _, err := NewClient("").GetMenuItem(context.Background(), 1); err == nil {
		t.Fatalf("expected error for empty base URL")
	}
}
