// Package metrics exposes Prometheus instrumentation for the stock core.
// 在庫コアのPrometheus計装を提供
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sajaadasyntax/ma3mora-stock-core/pkg/stockcore"
)

// Metrics counts core events. It subscribes to the core as an
// EventPublisher so instrumentation stays out of business code.
// コアイベントを計数する。EventPublisherとしてコアを購読するため、
// 業務コードに計装が混ざらない。
type Metrics struct {
	mutations      *prometheus.CounterVec // 確定した在庫変更
	retries        *prometheus.CounterVec // 競合再試行
	mismatches     *prometheus.CounterVec // 照合不一致
	reportDuration prometheus.Histogram   // レポート計算時間
}

var _ stockcore.EventPublisher = (*Metrics)(nil)

// New registers the collectors on a registerer
// コレクタをレジストラに登録
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stockcore_mutations_total",
			Help: "Committed stock mutations by kind",
		}, []string{"kind"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stockcore_conflict_retries_total",
			Help: "Optimistic lock conflict retries by operation",
		}, []string{"operation"}),
		mismatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stockcore_reconciliation_mismatches_total",
			Help: "Reconciliation mismatches by inventory",
		}, []string{"inventory_id"}),
		reportDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockcore_report_computation_seconds",
			Help:    "Daily movement report computation time",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// PublishStockMutation counts a committed mutation
// 確定した在庫変更を計数
func (m *Metrics) PublishStockMutation(ctx context.Context, event stockcore.StockMutationEvent) error {
	m.mutations.WithLabelValues(event.Kind).Inc()
	return nil
}

// PublishConflictRetry counts an optimistic-lock retry
// 楽観的ロック再試行を計数
func (m *Metrics) PublishConflictRetry(ctx context.Context, event stockcore.ConflictRetryEvent) error {
	m.retries.WithLabelValues(event.Operation).Inc()
	return nil
}

// PublishReconciliationMismatch counts a detected stock drift
// 検出した在庫乖離を計数
func (m *Metrics) PublishReconciliationMismatch(ctx context.Context, event stockcore.ReconciliationMismatchEvent) error {
	m.mismatches.WithLabelValues(event.InventoryID).Inc()
	return nil
}

// PublishReportComputed observes a report computation duration
// レポート計算時間を観測
func (m *Metrics) PublishReportComputed(ctx context.Context, event stockcore.ReportComputedEvent) error {
	m.reportDuration.Observe(event.Duration.Seconds())
	return nil
}
