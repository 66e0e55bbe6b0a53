// Package storage provides persistence backends for the stock core.
// 在庫コア向けの永続化バックエンドを提供
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sajaadasyntax/ma3mora-stock-core/pkg/stockcore"
)

// MemoryStorage is an in-memory Storage backend guarded by one mutex.
// Atomic commits hold the lock for their whole duration, so every commit
// is all-or-nothing by construction. Intended for tests and examples.
// 単一ミューテックスで保護されたインメモリのStorage実装。アトミック
// コミットは全区間でロックを保持するため、構造上すべて全か無かになる。
// テストとサンプル用途を想定。
type MemoryStorage struct {
	mu            sync.RWMutex
	items         map[string]stockcore.Item
	inventories   map[string]stockcore.Inventory
	orders        map[string]stockcore.Order
	batches       map[string]stockcore.Batch
	allocations   map[string][]stockcore.Allocation // 注文ID別
	movements     []stockcore.MovementEntry
	operationKeys map[string]bool // 冪等性キー
}

var _ stockcore.Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty in-memory store
// 空のインメモリストアを作成
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		items:         make(map[string]stockcore.Item),
		inventories:   make(map[string]stockcore.Inventory),
		orders:        make(map[string]stockcore.Order),
		batches:       make(map[string]stockcore.Batch),
		allocations:   make(map[string][]stockcore.Allocation),
		operationKeys: make(map[string]bool),
	}
}

// CreateItem stores a new item
// 新しい商品を保存
func (m *MemoryStorage) CreateItem(ctx context.Context, item *stockcore.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; ok {
		return stockcore.NewStorageError("create_item", "商品IDが既に存在します", nil)
	}
	m.items[item.ID] = *item
	return nil
}

// GetItem retrieves an item by id
// IDで商品を取得
func (m *MemoryStorage) GetItem(ctx context.Context, itemID string) (*stockcore.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[itemID]
	if !ok {
		return nil, stockcore.ErrItemNotFound
	}
	return &item, nil
}

// ListItems lists items, optionally filtered by section
// 商品を一覧（部門での絞り込み可）
func (m *MemoryStorage) ListItems(ctx context.Context, section string) ([]stockcore.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var items []stockcore.Item
	for _, item := range m.items {
		if section != "" && item.Section != section {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// CreateInventory stores a new inventory
// 新しい倉庫を保存
func (m *MemoryStorage) CreateInventory(ctx context.Context, inv *stockcore.Inventory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inventories[inv.ID]; ok {
		return stockcore.NewStorageError("create_inventory", "倉庫IDが既に存在します", nil)
	}
	m.inventories[inv.ID] = *inv
	return nil
}

// GetInventory retrieves an inventory by id
// IDで倉庫を取得
func (m *MemoryStorage) GetInventory(ctx context.Context, inventoryID string) (*stockcore.Inventory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.inventories[inventoryID]
	if !ok {
		return nil, stockcore.ErrInventoryNotFound
	}
	return &inv, nil
}

// CreateOrder stores a new order
// 新しい注文を保存
func (m *MemoryStorage) CreateOrder(ctx context.Context, order *stockcore.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; ok {
		return stockcore.NewStorageError("create_order", "注文IDが既に存在します", nil)
	}
	m.orders[order.ID] = copyOrder(order)
	return nil
}

// GetOrder retrieves an order by id
// IDで注文を取得
func (m *MemoryStorage) GetOrder(ctx context.Context, orderID string) (*stockcore.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil, stockcore.ErrOrderNotFound
	}
	out := copyOrder(&order)
	return &out, nil
}

// UpdateOrder replaces an order under optimistic locking
// 楽観的ロック下で注文を置換
func (m *MemoryStorage) UpdateOrder(ctx context.Context, order *stockcore.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateOrderLocked(order)
}

func (m *MemoryStorage) updateOrderLocked(order *stockcore.Order) error {
	stored, ok := m.orders[order.ID]
	if !ok {
		return stockcore.ErrOrderNotFound
	}
	if stored.Version != order.Version-1 {
		return stockcore.ErrConcurrentModification
	}
	m.orders[order.ID] = copyOrder(order)
	return nil
}

// ListOpenOrdersByInventory lists non-terminal orders of an inventory
// 倉庫の未完了注文を一覧
func (m *MemoryStorage) ListOpenOrdersByInventory(ctx context.Context, inventoryID string) ([]stockcore.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var orders []stockcore.Order
	for _, order := range m.orders {
		if order.InventoryID != inventoryID || order.Status.IsTerminal() {
			continue
		}
		orders = append(orders, copyOrder(&order))
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders, nil
}

// GetBatch retrieves a batch by id
// IDでバッチを取得
func (m *MemoryStorage) GetBatch(ctx context.Context, batchID string) (*stockcore.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	batch, ok := m.batches[batchID]
	if !ok {
		return nil, stockcore.ErrBatchNotFound
	}
	return &batch, nil
}

// ListBatches lists the batches of one item at one inventory
// 1商品・1倉庫のバッチを一覧
func (m *MemoryStorage) ListBatches(ctx context.Context, itemID, inventoryID string) ([]stockcore.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var batches []stockcore.Batch
	for _, b := range m.batches {
		if b.ItemID == itemID && b.InventoryID == inventoryID {
			batches = append(batches, b)
		}
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].ID < batches[j].ID })
	return batches, nil
}

// ListBatchesByInventory lists every batch held at an inventory
// 倉庫が保有する全バッチを一覧
func (m *MemoryStorage) ListBatchesByInventory(ctx context.Context, inventoryID string) ([]stockcore.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var batches []stockcore.Batch
	for _, b := range m.batches {
		if b.InventoryID == inventoryID {
			batches = append(batches, b)
		}
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].ID < batches[j].ID })
	return batches, nil
}

// ListAllocationsByOrder lists the committed allocations of an order
// 注文の確定済み引当を一覧
func (m *MemoryStorage) ListAllocationsByOrder(ctx context.Context, orderID string) ([]stockcore.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	allocs := make([]stockcore.Allocation, len(m.allocations[orderID]))
	copy(allocs, m.allocations[orderID])
	return allocs, nil
}

// ListMovements lists journal entries of an inventory in occurrence
// order. itemID narrows when non-empty; from is inclusive, to exclusive,
// zero times unbound.
// 倉庫の仕訳を発生順に一覧。itemID指定で絞り込み。fromは含み、toは
// 含まない。ゼロ値は無制限。
func (m *MemoryStorage) ListMovements(ctx context.Context, inventoryID, itemID string, from, to time.Time) ([]stockcore.MovementEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []stockcore.MovementEntry
	for _, e := range m.movements {
		if e.InventoryID != inventoryID {
			continue
		}
		if itemID != "" && e.ItemID != itemID {
			continue
		}
		if !from.IsZero() && e.OccurredAt.Before(from) {
			continue
		}
		if !to.IsZero() && !e.OccurredAt.Before(to) {
			continue
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].OccurredAt.Before(entries[j].OccurredAt) })
	return entries, nil
}

// ApplyReceipt commits a stock receipt atomically
// 入荷をアトミックに確定
func (m *MemoryStorage) ApplyReceipt(ctx context.Context, commit *stockcore.ReceiptCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if commit.Order != nil {
		if err := m.updateOrderLocked(commit.Order); err != nil {
			return err
		}
	}
	for _, b := range commit.Batches {
		m.batches[b.ID] = b
	}
	m.movements = append(m.movements, commit.Movements...)
	return nil
}

// ApplyFulfillment commits a fulfillment atomically. The operation key
// is claimed inside the same critical section as the decrements, so a
// replay can never double-consume.
// 出荷をアトミックに確定。冪等性キーの確保と減算は同一クリティカル
// セクション内で行うため、再送で二重消費は起こらない。
func (m *MemoryStorage) ApplyFulfillment(ctx context.Context, commit *stockcore.FulfillmentCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.operationKeys[commit.OperationID] {
		return stockcore.ErrDuplicateOperation
	}
	if err := m.checkDecrementsLocked(commit.Decrements); err != nil {
		return err
	}
	if err := m.updateOrderLocked(commit.Order); err != nil {
		return err
	}

	m.applyDecrementsLocked(commit.Decrements)
	m.allocations[commit.Order.ID] = append(m.allocations[commit.Order.ID], commit.Allocations...)
	m.movements = append(m.movements, commit.Movements...)
	m.operationKeys[commit.OperationID] = true
	return nil
}

// ApplyTransfer commits an inter-inventory transfer atomically
// 倉庫間振替をアトミックに確定
func (m *MemoryStorage) ApplyTransfer(ctx context.Context, commit *stockcore.TransferCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkDecrementsLocked(commit.Decrements); err != nil {
		return err
	}
	m.applyDecrementsLocked(commit.Decrements)
	for _, b := range commit.NewBatches {
		m.batches[b.ID] = b
	}
	m.movements = append(m.movements, commit.Movements...)
	return nil
}

// checkDecrementsLocked validates every decrement before any is applied
// 適用前に全減算を検証
func (m *MemoryStorage) checkDecrementsLocked(decrements []stockcore.BatchDecrement) error {
	for _, d := range decrements {
		batch, ok := m.batches[d.BatchID]
		if !ok {
			return stockcore.ErrBatchNotFound
		}
		if batch.Version != d.ExpectedVersion {
			return stockcore.ErrConcurrentModification
		}
		if d.Quantity.GreaterThan(batch.Quantity) {
			return stockcore.ErrInsufficientBatchQuantity
		}
	}
	return nil
}

func (m *MemoryStorage) applyDecrementsLocked(decrements []stockcore.BatchDecrement) {
	for _, d := range decrements {
		batch := m.batches[d.BatchID]
		batch.Quantity = batch.Quantity.Sub(d.Quantity)
		batch.Version++
		m.batches[d.BatchID] = batch
	}
}

// Ping always succeeds for the in-memory store
// インメモリストアでは常に成功
func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store
// インメモリストアでは何もしない
func (m *MemoryStorage) Close() error {
	return nil
}

// copyOrder deep-copies an order so callers cannot mutate stored state
// 呼び出し元が保存状態を書き換えないよう注文を深いコピー
func copyOrder(order *stockcore.Order) stockcore.Order {
	out := *order
	out.Lines = make([]stockcore.OrderLine, len(order.Lines))
	copy(out.Lines, order.Lines)
	return out
}
