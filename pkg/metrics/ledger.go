package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// LedgerMetrics counts money movements. A nil receiver records nothing.
type LedgerMetrics struct {
	fulfilled     *prometheus.CounterVec
	refused       *prometheus.CounterVec
	currency      *prometheus.CounterVec
	pledgeCents   *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger counters on reg.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	m := &LedgerMetrics{
		fulfilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_fulfilled_total",
			Help:      "Transactions fulfilled, by vendor.",
		}, []string{"vendor"}),
		refused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "charges_refused_total",
			Help:      "Vendor charges that were refused, by vendor.",
		}, []string{"vendor"}),
		currency: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_currency_credited_total",
			Help:      "Account currency credited to balances, by vendor.",
		}, []string{"vendor"}),
		pledgeCents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pledge_cents_rewarded_total",
			Help:      "Pledge cents converted into reward transactions, by campaign.",
		}, []string{"campaign"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reward_notifications_total",
			Help:      "Reward notifications relayed, by sink and outcome.",
		}, []string{"sink", "outcome"}),
	}
	reg.MustRegister(m.fulfilled, m.refused, m.currency, m.pledgeCents, m.notifications)
	return m
}

// TransactionFulfilled records a fulfilled transaction and the currency it credited.
func (m *LedgerMetrics) TransactionFulfilled(vendor string, credited decimal.Decimal) {
	if m == nil || m.fulfilled == nil {
		return
	}
	label := normalizeLabel(vendor)
	m.fulfilled.WithLabelValues(label).Inc()
	m.currency.WithLabelValues(label).Add(credited.InexactFloat64())
}

// ChargeRefused records a declined vendor charge.
func (m *LedgerMetrics) ChargeRefused(vendor string) {
	if m == nil || m.refused == nil {
		return
	}
	m.refused.WithLabelValues(normalizeLabel(vendor)).Inc()
}

// PledgeRewarded records cents turned into a reward for campaign.
func (m *LedgerMetrics) PledgeRewarded(campaign string, cents int64) {
	if m == nil || m.pledgeCents == nil || cents <= 0 {
		return
	}
	m.pledgeCents.WithLabelValues(normalizeLabel(campaign)).Add(float64(cents))
}

// NotificationRelayed records a relay attempt outcome ("published" or "failed").
func (m *LedgerMetrics) NotificationRelayed(sink, outcome string) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.WithLabelValues(normalizeLabel(sink), normalizeLabel(outcome)).Inc()
}
