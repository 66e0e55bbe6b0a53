package stockcore

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BatchDecrement is one version-checked batch quantity reduction inside
// an atomic commit. Storage must reject the whole commit with
// ErrConcurrentModification when the stored version differs.
// アトミックコミット内のバージョン検査付きバッチ減算。保存済みバージョンが
// 異なる場合、ストレージはコミット全体をErrConcurrentModificationで拒否する。
type BatchDecrement struct {
	BatchID         string
	Quantity        decimal.Decimal
	ExpectedVersion int64
}

// FulfillmentCommit is the all-or-nothing unit of a fulfillment call:
// batch decrements, allocation records, movement journal entries and the
// order status transition commit together or not at all. OperationID is
// the idempotency key; a replay fails with ErrDuplicateOperation.
// 出荷呼び出しの全か無かの単位。バッチ減算・引当記録・仕訳・注文遷移は
// 一括で確定するか全く確定しない。OperationIDは冪等性キーで、再送は
// ErrDuplicateOperationで失敗する。
type FulfillmentCommit struct {
	OperationID string
	Order       *Order // 更新後の注文（Versionは加算済み）
	Decrements  []BatchDecrement
	Allocations []Allocation
	Movements   []MovementEntry
}

// TransferCommit is the all-or-nothing unit of an inter-inventory
// transfer: source decrements and destination batches commit together.
// 倉庫間振替の全か無かの単位。移動元減算と移動先バッチ作成を一括確定する。
type TransferCommit struct {
	TransferID string
	Decrements []BatchDecrement
	NewBatches []Batch
	Movements  []MovementEntry
}

// ReceiptCommit is the all-or-nothing unit of a stock receipt: new
// batches, their journal entries and an optional procurement order
// transition.
// 入荷の全か無かの単位。新規バッチ・仕訳・任意の発注遷移を一括確定する。
type ReceiptCommit struct {
	Batches   []Batch
	Order     *Order // 発注入荷の場合のみ（Versionは加算済み）
	Movements []MovementEntry
}

// Storage defines the interface for the data persistence layer. Reads
// are granular; mutations that must be atomic are aggregate commits so
// each backend owns its own transaction boundary.
// データ永続化層のインターフェースを定義。読取は個別、原子性が必要な
// 変更は集約コミットとし、トランザクション境界は各バックエンドが持つ。
type Storage interface {
	// Item / inventory master data
	CreateItem(ctx context.Context, item *Item) error
	GetItem(ctx context.Context, itemID string) (*Item, error)
	ListItems(ctx context.Context, section string) ([]Item, error)
	CreateInventory(ctx context.Context, inv *Inventory) error
	GetInventory(ctx context.Context, inventoryID string) (*Inventory, error)

	// Orders
	CreateOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	UpdateOrder(ctx context.Context, order *Order) error
	ListOpenOrdersByInventory(ctx context.Context, inventoryID string) ([]Order, error)

	// Batches
	GetBatch(ctx context.Context, batchID string) (*Batch, error)
	ListBatches(ctx context.Context, itemID, inventoryID string) ([]Batch, error)
	ListBatchesByInventory(ctx context.Context, inventoryID string) ([]Batch, error)

	// Allocations
	ListAllocationsByOrder(ctx context.Context, orderID string) ([]Allocation, error)

	// Movement journal. itemID narrows when non-empty; from is inclusive,
	// to is exclusive, a zero time leaves that side unbounded.
	ListMovements(ctx context.Context, inventoryID, itemID string, from, to time.Time) ([]MovementEntry, error)

	// Atomic commits
	ApplyReceipt(ctx context.Context, commit *ReceiptCommit) error
	ApplyFulfillment(ctx context.Context, commit *FulfillmentCommit) error
	ApplyTransfer(ctx context.Context, commit *TransferCommit) error

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// StockMutationEvent describes one committed mutation of the ledger
// 台帳への確定済み変更1件を記述
type StockMutationEvent struct {
	InventoryIDs []string  `json:"inventory_ids"` // 影響を受けた倉庫
	ItemIDs      []string  `json:"item_ids"`      // 影響を受けた商品
	Kind         string    `json:"kind"`          // receipt / fulfillment / transfer
	Reference    string    `json:"reference"`     // 注文ID・振替IDなど
	OccurredAt   time.Time `json:"occurred_at"`   // 発生日時
}

// ConflictRetryEvent describes one optimistic-lock retry
// 楽観的ロック競合による再試行1回を記述
type ConflictRetryEvent struct {
	Operation string    `json:"operation"` // 操作名
	Resource  string    `json:"resource"`  // 競合したリソース
	Attempt   int       `json:"attempt"`   // 何回目の試行か
	Timestamp time.Time `json:"timestamp"`
}

// ReconciliationMismatchEvent describes a detected drift between the
// movement journal and live stock
// 仕訳と実在庫の乖離検知を記述
type ReconciliationMismatchEvent struct {
	InventoryID string    `json:"inventory_id"`
	ItemID      string    `json:"item_id"`
	Computed    decimal.Decimal `json:"computed"`  // 計算上の期末残高
	Live        decimal.Decimal `json:"live"`      // 実在庫
	Timestamp   time.Time `json:"timestamp"`
}

// ReportComputedEvent describes one completed report computation
// レポート計算1回の完了を記述
type ReportComputedEvent struct {
	InventoryID string        `json:"inventory_id"`
	ItemCount   int           `json:"item_count"` // 計算対象の商品数
	Duration    time.Duration `json:"duration"`   // 計算所要時間
	Timestamp   time.Time     `json:"timestamp"`
}

// EventPublisher defines interface for publishing core events. The
// report cache and the metrics layer subscribe through it.
// コアイベント発行のインターフェースを定義。レポートキャッシュと
// メトリクス層がこれを購読する。
type EventPublisher interface {
	PublishStockMutation(ctx context.Context, event StockMutationEvent) error
	PublishConflictRetry(ctx context.Context, event ConflictRetryEvent) error
	PublishReconciliationMismatch(ctx context.Context, event ReconciliationMismatchEvent) error
	PublishReportComputed(ctx context.Context, event ReportComputedEvent) error
}

// MultiPublisher fans events out to several publishers
// 複数の発行先へイベントを配信
type MultiPublisher []EventPublisher

func (m MultiPublisher) PublishStockMutation(ctx context.Context, event StockMutationEvent) error {
	for _, p := range m {
		if err := p.PublishStockMutation(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiPublisher) PublishConflictRetry(ctx context.Context, event ConflictRetryEvent) error {
	for _, p := range m {
		if err := p.PublishConflictRetry(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiPublisher) PublishReconciliationMismatch(ctx context.Context, event ReconciliationMismatchEvent) error {
	for _, p := range m {
		if err := p.PublishReconciliationMismatch(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiPublisher) PublishReportComputed(ctx context.Context, event ReportComputedEvent) error {
	for _, p := range m {
		if err := p.PublishReportComputed(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
