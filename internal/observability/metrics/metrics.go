package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts pipeline outcomes for the order-to-provisioning flow.
type Metrics struct {
	OrdersCreated        *prometheus.CounterVec
	PaymentsReconciled   *prometheus.CounterVec
	WalletTransactions   *prometheus.CounterVec
	ProvisioningOutcomes *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vyom_orders_created_total",
			Help: "Orders created, labelled by billing cycle.",
		}, []string{"cycle"}),
		PaymentsReconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vyom_payments_reconciled_total",
			Help: "Gateway callbacks reconciled, labelled by mapped status.",
		}, []string{"status"}),
		WalletTransactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vyom_wallet_transactions_total",
			Help: "Wallet ledger entries, labelled by type and source.",
		}, []string{"type", "source"}),
		ProvisioningOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vyom_provisioning_outcomes_total",
			Help: "Provisioning attempts, labelled by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.OrdersCreated,
		m.PaymentsReconciled,
		m.WalletTransactions,
		m.ProvisioningOutcomes,
	)
	return m
}

func (m *Metrics) RecordOrderCreated(cycle string) {
	if m == nil {
		return
	}
	m.OrdersCreated.WithLabelValues(cycle).Inc()
}

func (m *Metrics) RecordPaymentReconciled(status string) {
	if m == nil {
		return
	}
	m.PaymentsReconciled.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordWalletTransaction(txType, source string) {
	if m == nil {
		return
	}
	m.WalletTransactions.WithLabelValues(txType, source).Inc()
}

func (m *Metrics) RecordProvisioningOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ProvisioningOutcomes.WithLabelValues(outcome).Inc()
}
