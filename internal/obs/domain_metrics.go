package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// TransactionsCreatedTotal counts committed transactions by purchase
	// category.
	TransactionsCreatedTotal *prometheus.CounterVec
	// VoucherRejectionsTotal counts voucher resolution failures by reason.
	VoucherRejectionsTotal *prometheus.CounterVec
	// SettlementCodeRetriesTotal counts transaction insert retries caused
	// by settlement-code conflicts.
	SettlementCodeRetriesTotal prometheus.Counter
	// BookkeepingFailuresTotal counts post-commit bookkeeping steps that
	// failed and were only logged, by step.
	BookkeepingFailuresTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers the engine's domain
// collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		TransactionsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_created_total",
			Help:      "Count of transactions committed by purchase category.",
		}, []string{"category"})
		VoucherRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voucher_rejections_total",
			Help:      "Count of rejected voucher codes by rejection reason.",
		}, []string{"reason"})
		SettlementCodeRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_code_retries_total",
			Help:      "Transaction inserts retried after a settlement code conflict.",
		})
		BookkeepingFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookkeeping_failures_total",
			Help:      "Post-commit bookkeeping failures that were logged but not surfaced.",
		}, []string{"step"})

		registerOrReuse(reg, TransactionsCreatedTotal, func(c prometheus.Collector) {
			if v, ok := c.(*prometheus.CounterVec); ok {
				TransactionsCreatedTotal = v
			}
		})
		registerOrReuse(reg, VoucherRejectionsTotal, func(c prometheus.Collector) {
			if v, ok := c.(*prometheus.CounterVec); ok {
				VoucherRejectionsTotal = v
			}
		})
		registerOrReuse(reg, SettlementCodeRetriesTotal, func(c prometheus.Collector) {
			if v, ok := c.(prometheus.Counter); ok {
				SettlementCodeRetriesTotal = v
			}
		})
		registerOrReuse(reg, BookkeepingFailuresTotal, func(c prometheus.Collector) {
			if v, ok := c.(*prometheus.CounterVec); ok {
				BookkeepingFailuresTotal = v
			}
		})
	})
}
