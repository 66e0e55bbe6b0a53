package stockcore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReportCache materializes movement reports and invalidates them by
// generation counter. Every stock mutation bumps the generation of the
// touched inventories; a cached report built under an older generation
// is recomputed on the next read. The cache subscribes to mutations as
// an EventPublisher, so writers stay unaware of it.
// 在庫移動レポートを実体化し、世代カウンタで無効化する。在庫変更の
// たびに対象倉庫の世代が進み、古い世代で作られたレポートは次の読取で
// 再計算される。キャッシュはEventPublisherとして変更を購読するため、
// 書込側はキャッシュの存在を意識しない。
type ReportCache struct {
	reconciler *Reconciler
	logger     *zap.Logger

	mu          sync.RWMutex
	generations map[string]uint64         // 倉庫ID別の世代
	entries     map[reportKey]cachedReport // 実体化済みレポート
}

type reportKey struct {
	inventoryID string
	itemID      string
	start       time.Time
	end         time.Time
}

type cachedReport struct {
	report     *StockMovementReport
	generation uint64
}

// NewReportCache creates a report cache over a reconciler
// 照合エンジンの上にレポートキャッシュを作成
func NewReportCache(reconciler *Reconciler, logger *zap.Logger) *ReportCache {
	return &ReportCache{
		reconciler:  reconciler,
		logger:      logger,
		generations: make(map[string]uint64),
		entries:     make(map[reportKey]cachedReport),
	}
}

var _ EventPublisher = (*ReportCache)(nil)

// Get returns the movement report for the range, recomputing it only
// when the inventory changed since the cached copy was built
// 指定期間のレポートを返す。キャッシュ作成後に倉庫が変更された場合のみ
// 再計算する
func (c *ReportCache) Get(ctx context.Context, inventoryID, itemID string, start, end time.Time) (*StockMovementReport, error) {
	key := reportKey{
		inventoryID: inventoryID,
		itemID:      itemID,
		start:       dayStartUTC(start),
		end:         dayStartUTC(end),
	}

	c.mu.RLock()
	gen := c.generations[inventoryID]
	cached, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && cached.generation == gen {
		return cached.report, nil
	}

	// 再計算中の変更を取りこぼさないよう、計算前の世代で保存する
	report, err := c.reconciler.StockMovementReport(ctx, inventoryID, itemID, start, end)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cachedReport{report: report, generation: gen}
	c.mu.Unlock()
	return report, nil
}

// EnsureUpToDate recomputes every stale materialized report of an
// inventory. A no-op when nothing changed since the last build.
// 倉庫の古くなった実体化レポートをすべて再計算する。前回構築以降に
// 変更がなければ何もしない。
func (c *ReportCache) EnsureUpToDate(ctx context.Context, inventoryID string) error {
	c.mu.RLock()
	gen := c.generations[inventoryID]
	var stale []reportKey
	for key, cached := range c.entries {
		if key.inventoryID == inventoryID && cached.generation != gen {
			stale = append(stale, key)
		}
	}
	c.mu.RUnlock()

	for _, key := range stale {
		if _, err := c.Get(ctx, key.inventoryID, key.itemID, key.start, key.end); err != nil {
			return err
		}
	}
	if len(stale) > 0 {
		c.logger.Info("実体化レポートを再構築しました",
			zap.String("inventory_id", inventoryID),
			zap.Int("reports", len(stale)),
		)
	}
	return nil
}

// PublishStockMutation bumps the generation of every touched inventory
// 変更対象の全倉庫の世代を進める
func (c *ReportCache) PublishStockMutation(ctx context.Context, event StockMutationEvent) error {
	c.mu.Lock()
	for _, invID := range event.InventoryIDs {
		c.generations[invID]++
	}
	c.mu.Unlock()
	return nil
}

// PublishConflictRetry is a no-op; retries do not change stock
// 再試行は在庫を変えないため何もしない
func (c *ReportCache) PublishConflictRetry(ctx context.Context, event ConflictRetryEvent) error {
	return nil
}

// PublishReconciliationMismatch is a no-op for the cache
// キャッシュでは何もしない
func (c *ReportCache) PublishReconciliationMismatch(ctx context.Context, event ReconciliationMismatchEvent) error {
	return nil
}

// PublishReportComputed is a no-op; computation itself does not
// invalidate anything
// 計算完了は無効化対象ではないため何もしない
func (c *ReportCache) PublishReportComputed(ctx context.Context, event ReportComputedEvent) error {
	return nil
}
