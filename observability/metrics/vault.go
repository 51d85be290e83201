package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics exposes accounting gauges and operation counters for vaults.
type VaultMetrics struct {
	totalIdle     *prometheus.GaugeVec
	totalDebt     *prometheus.GaugeVec
	totalSupply   *prometheus.GaugeVec
	pricePerShare *prometheus.GaugeVec
	lockedShares  *prometheus.GaugeVec
	operations    *prometheus.CounterVec
	reports       *prometheus.CounterVec
	reportedGain  *prometheus.CounterVec
	reportedLoss  *prometheus.CounterVec
	withdrawLoss  *prometheus.CounterVec
	keeperRuns    *prometheus.CounterVec
}

var (
	vaultOnce     sync.Once
	vaultRegistry *VaultMetrics
)

// Vault returns the process wide vault metrics registry.
func Vault() *VaultMetrics {
	vaultOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			totalIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "vault_total_idle",
				Help: "Assets held idle by the vault.",
			}, []string{"vault"}),
			totalDebt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "vault_total_debt",
				Help: "Assets recorded as lent to strategies.",
			}, []string{"vault"}),
			totalSupply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "vault_total_supply",
				Help: "Circulating vault shares excluding unlocked profit shares.",
			}, []string{"vault"}),
			pricePerShare: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "vault_price_per_share",
				Help: "Assets per whole share scaled by the asset decimals.",
			}, []string{"vault"}),
			lockedShares: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "vault_locked_profit_shares",
				Help: "Profit shares held by the vault awaiting unlock.",
			}, []string{"vault"}),
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_operations_total",
				Help: "Vault entry point calls by operation and result.",
			}, []string{"vault", "operation", "result"}),
			reports: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_strategy_reports_total",
				Help: "Processed strategy reports by outcome.",
			}, []string{"vault", "strategy", "outcome"}),
			reportedGain: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_strategy_reported_gain",
				Help: "Cumulative gain recognised per strategy.",
			}, []string{"vault", "strategy"}),
			reportedLoss: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_strategy_reported_loss",
				Help: "Cumulative loss recognised per strategy.",
			}, []string{"vault", "strategy"}),
			withdrawLoss: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_withdraw_realised_loss",
				Help: "Cumulative loss absorbed by withdrawers.",
			}, []string{"vault"}),
			keeperRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_keeper_runs_total",
				Help: "Report keeper executions by result.",
			}, []string{"vault", "result"}),
		}
		prometheus.MustRegister(
			vaultRegistry.totalIdle,
			vaultRegistry.totalDebt,
			vaultRegistry.totalSupply,
			vaultRegistry.pricePerShare,
			vaultRegistry.lockedShares,
			vaultRegistry.operations,
			vaultRegistry.reports,
			vaultRegistry.reportedGain,
			vaultRegistry.reportedLoss,
			vaultRegistry.withdrawLoss,
			vaultRegistry.keeperRuns,
		)
	})
	return vaultRegistry
}

// VaultTotals is a float snapshot of the vault ledger for gauges.
type VaultTotals struct {
	Idle          float64
	Debt          float64
	Supply        float64
	PricePerShare float64
	LockedShares  float64
}

func (m *VaultMetrics) SetTotals(vault string, totals VaultTotals) {
	if m == nil {
		return
	}
	m.totalIdle.WithLabelValues(vault).Set(totals.Idle)
	m.totalDebt.WithLabelValues(vault).Set(totals.Debt)
	m.totalSupply.WithLabelValues(vault).Set(totals.Supply)
	m.pricePerShare.WithLabelValues(vault).Set(totals.PricePerShare)
	m.lockedShares.WithLabelValues(vault).Set(totals.LockedShares)
}

func (m *VaultMetrics) ObserveOperation(vault, operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(vault, operation, result).Inc()
}

func (m *VaultMetrics) ObserveReport(vault, strategy string, gain, loss float64) {
	if m == nil {
		return
	}
	outcome := "flat"
	switch {
	case gain > 0:
		outcome = "gain"
		m.reportedGain.WithLabelValues(vault, strategy).Add(gain)
	case loss > 0:
		outcome = "loss"
		m.reportedLoss.WithLabelValues(vault, strategy).Add(loss)
	}
	m.reports.WithLabelValues(vault, strategy, outcome).Inc()
}

func (m *VaultMetrics) ObserveWithdrawLoss(vault string, loss float64) {
	if m == nil || loss <= 0 {
		return
	}
	m.withdrawLoss.WithLabelValues(vault).Add(loss)
}

func (m *VaultMetrics) ObserveKeeperRun(vault string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.keeperRuns.WithLabelValues(vault, result).Inc()
}
