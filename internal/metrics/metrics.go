// Package metrics содержит счётчики Prometheus сервиса подписок.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Виды списаний.
const (
	ChargeInitial        = "initial"
	ChargeRenewal        = "renewal"
	ChargeReconciliation = "reconciliation"
	ChargeResume         = "resume"
	ChargeLump           = "lump"
	ChargeCheckout       = "checkout"
)

// Исходы списаний.
const (
	OutcomeSuccess      = "success"
	OutcomeInsufficient = "insufficient_funds"
	OutcomeError        = "error"
)

// ChargesTotal считает списания с кошелька по виду и исходу.
var ChargesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mealsub",
	Subsystem: "billing",
	Name:      "charges_total",
	Help:      "Wallet charges by kind and outcome",
}, []string{"kind", "outcome"})

// SubscriptionTransitionsTotal считает переходы подписок по целевому статусу.
var SubscriptionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mealsub",
	Subsystem: "billing",
	Name:      "subscription_transitions_total",
	Help:      "Subscription status transitions by target status",
}, []string{"to"})

// ReconciledOrdersTotal считает заказы, обработанные ежедневной сверкой.
var ReconciledOrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mealsub",
	Subsystem: "billing",
	Name:      "reconciled_orders_total",
	Help:      "Orders handled by the daily reconciliation pass",
}, []string{"outcome"})

// CreditsTotal считает зачисления на кошелёк: возвраты и награды.
var CreditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mealsub",
	Subsystem: "wallet",
	Name:      "credits_total",
	Help:      "Wallet credits by payment type",
}, []string{"type"})

// DailyRunDuration — длительность ежедневного прогона биллинга.
var DailyRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "mealsub",
	Subsystem: "billing",
	Name:      "daily_run_duration_seconds",
	Help:      "Duration of the daily billing run",
	Buckets:   prometheus.DefBuckets,
})

// Handler отдаёт метрики в формате Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}
