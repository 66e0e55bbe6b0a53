package stockcore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sajaadasyntax/ma3mora-stock-core/pkg/stockcore"
	"github.com/sajaadasyntax/ma3mora-stock-core/pkg/stockcore/storage"
)

// recordingPublisher captures published events for assertions
// 発行イベントを記録するテスト用パブリッシャー
type recordingPublisher struct {
	mu         sync.Mutex
	mutations  []stockcore.StockMutationEvent
	retries    []stockcore.ConflictRetryEvent
	mismatches []stockcore.ReconciliationMismatchEvent
	computed   []stockcore.ReportComputedEvent
}

func (p *recordingPublisher) PublishStockMutation(ctx context.Context, event stockcore.StockMutationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mutations = append(p.mutations, event)
	return nil
}

func (p *recordingPublisher) PublishConflictRetry(ctx context.Context, event stockcore.ConflictRetryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries = append(p.retries, event)
	return nil
}

func (p *recordingPublisher) PublishReconciliationMismatch(ctx context.Context, event stockcore.ReconciliationMismatchEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mismatches = append(p.mismatches, event)
	return nil
}

func (p *recordingPublisher) PublishReportComputed(ctx context.Context, event stockcore.ReportComputedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.computed = append(p.computed, event)
	return nil
}

// testCore bundles a fully wired core over the in-memory store
// インメモリストア上に組み立てたコア一式
type testCore struct {
	store       *storage.MemoryStorage
	publisher   *recordingPublisher
	ledger      *stockcore.Ledger
	planner     *stockcore.Planner
	fulfiller   *stockcore.Fulfiller
	transferrer *stockcore.Transferrer
	reader      *stockcore.StockReader
	reconciler  *stockcore.Reconciler
	reports     *stockcore.ReportCache
}

func newTestCore(t testing.TB) *testCore {
	t.Helper()
	return newTestCoreWith(t, storage.NewMemoryStorage(), nil)
}

// newTestCoreWith wires the core over an arbitrary Storage. fulfillStore,
// when non-nil, backs the fulfiller alone (used to inject failures).
// Executors publish through the report cache as in production wiring.
// 任意のStorage上にコアを組み立てる。fulfillStoreを指定すると
// 出荷実行部のみそちらを使う（障害注入用）。実行部は本番同様
// レポートキャッシュへもイベントを配信する。
func newTestCoreWith(t testing.TB, store *storage.MemoryStorage, fulfillStore stockcore.Storage) *testCore {
	t.Helper()
	logger := zap.NewNop()
	config := stockcore.DefaultConfig()
	config.MaxConflictRetries = 2

	publisher := &recordingPublisher{}
	// 照合エンジンには発行者なしの読取専用台帳を渡して構築循環を断つ
	readLedger := stockcore.NewLedger(store, nil, logger, config)
	reconciler := stockcore.NewReconciler(store, readLedger, publisher, logger, config)
	reports := stockcore.NewReportCache(reconciler, logger)
	fanout := stockcore.MultiPublisher{publisher, reports}
	ledger := stockcore.NewLedger(store, fanout, logger, config)
	planner := stockcore.NewPlanner(ledger)

	var fs stockcore.Storage = store
	if fulfillStore != nil {
		fs = fulfillStore
	}
	return &testCore{
		store:       store,
		publisher:   publisher,
		ledger:      ledger,
		planner:     planner,
		fulfiller:   stockcore.NewFulfiller(fs, ledger, planner, fanout, logger, config),
		transferrer: stockcore.NewTransferrer(store, ledger, fanout, logger, config),
		reader:      stockcore.NewStockReader(store, ledger, logger, config),
		reconciler:  reconciler,
		reports:     reports,
	}
}

func (c *testCore) seedItem(t testing.TB, id, section string) {
	t.Helper()
	err := c.store.CreateItem(context.Background(), &stockcore.Item{
		ID:        id,
		Name:      "テスト商品 " + id,
		Section:   section,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
}

func (c *testCore) seedInventory(t testing.TB, id string) {
	t.Helper()
	err := c.store.CreateInventory(context.Background(), &stockcore.Inventory{
		ID:        id,
		Name:      "テスト倉庫 " + id,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
}

// seedBatch receives stock through the ledger so the journal stays
// consistent with batch quantities
// 仕訳とバッチ数量が一致するよう台帳経由で入荷
func (c *testCore) seedBatch(t testing.TB, itemID, inventoryID string, qty int64, expiry *time.Time) *stockcore.Batch {
	t.Helper()
	batch, err := c.ledger.CreateBatch(context.Background(), stockcore.CreateBatchRequest{
		ItemID:      itemID,
		InventoryID: inventoryID,
		Quantity:    decimal.NewFromInt(qty),
		ExpiryDate:  expiry,
	})
	require.NoError(t, err)
	return batch
}

// seedSalesOrder creates a payment-confirmed sales order with one line
// 支払確認済みの1明細受注を作成
func (c *testCore) seedSalesOrder(t testing.TB, id, inventoryID, itemID string, ordered, gift int64) *stockcore.Order {
	t.Helper()
	now := time.Now()
	order := &stockcore.Order{
		ID:          id,
		Kind:        stockcore.OrderKindSales,
		InventoryID: inventoryID,
		Lines: []stockcore.OrderLine{{
			ItemID:     itemID,
			OrderedQty: decimal.NewFromInt(ordered),
			GiftQty:    decimal.NewFromInt(gift),
		}},
		Status:           stockcore.OrderStatusCreated,
		PaymentConfirmed: true,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, c.store.CreateOrder(context.Background(), order))
	return order
}

func daysFromNow(d int) *time.Time {
	t := time.Now().AddDate(0, 0, d)
	return &t
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
