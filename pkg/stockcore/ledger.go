package stockcore

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger owns per-(item, inventory) batches. All consumption anywhere in
// the core goes through the canonical FEFO order this component defines.
// Invariant: sum of batch quantities == available quantity at all times.
// (商品, 倉庫) ごとのバッチを管理する。コア内のすべての消費はこの
// コンポーネントが定義する正準FEFO順に従う。
// 不変条件: バッチ数量の合計 == 利用可能数量（常時）。
type Ledger struct {
	storage   Storage        // ストレージ層
	publisher EventPublisher // イベント発行者
	logger    *zap.Logger    // ログ
	config    *Config        // 設定
}

// Config holds configuration for the fulfillment core
// 出荷コアの設定を保持
type Config struct {
	ExpiringSoonWindow time.Duration   `yaml:"expiring_soon_window"` // 期限間近とみなす期間
	ReconcileEpsilon   decimal.Decimal `yaml:"-"`                    // 照合許容誤差
	MaxConflictRetries int             `yaml:"max_conflict_retries"` // 競合再試行の上限
}

// DefaultConfig returns the default core configuration
// コアのデフォルト設定を返す
func DefaultConfig() *Config {
	return &Config{
		ExpiringSoonWindow: 30 * 24 * time.Hour,
		ReconcileEpsilon:   decimal.RequireFromString("0.001"),
		MaxConflictRetries: 3,
	}
}

// NewLedger creates a new lot ledger
// 新しいロット台帳を作成
func NewLedger(storage Storage, publisher EventPublisher, logger *zap.Logger, config *Config) *Ledger {
	if config == nil {
		config = DefaultConfig()
	}
	return &Ledger{
		storage:   storage,
		publisher: publisher,
		logger:    logger,
		config:    config,
	}
}

// CreateBatchRequest carries the inputs of a batch creation
// バッチ作成の入力を保持
type CreateBatchRequest struct {
	ItemID      string          `json:"item_id"`
	InventoryID string          `json:"inventory_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	ExpiryDate  *time.Time      `json:"expiry_date"`
	Provenance  string          `json:"provenance"`
	Notes       string          `json:"notes"`
	Gift        bool            `json:"gift"` // ギフト入庫として仕訳する
}

// CreateBatch creates a batch and journals the incoming movement
// atomically. Fails InvalidQuantity when quantity is not positive.
// バッチを作成し入庫仕訳と同時に確定する。数量が正でなければ
// InvalidQuantityで失敗する。
func (lg *Ledger) CreateBatch(ctx context.Context, req CreateBatchRequest) (*Batch, error) {
	if err := ValidatePositiveQuantity(req.Quantity); err != nil {
		return nil, err
	}
	if err := ValidateNotes(req.Notes); err != nil {
		return nil, err
	}
	if err := lg.validateItemAndInventory(ctx, req.ItemID, req.InventoryID); err != nil {
		return nil, err
	}

	now := time.Now()
	batch := Batch{
		ID:          NewID(),
		ItemID:      req.ItemID,
		InventoryID: req.InventoryID,
		Quantity:    req.Quantity,
		ReceivedAt:  now,
		ExpiryDate:  req.ExpiryDate,
		Provenance:  req.Provenance,
		Notes:       req.Notes,
		Version:     1,
	}

	kind := MovementIncoming
	variant := GiftVariantNone
	if req.Gift {
		kind = MovementIncomingGift
		variant = GiftVariantSeparateItem
	}
	commit := &ReceiptCommit{
		Batches: []Batch{batch},
		Movements: []MovementEntry{{
			ID:          NewID(),
			ItemID:      req.ItemID,
			InventoryID: req.InventoryID,
			Kind:        kind,
			GiftVariant: variant,
			Quantity:    req.Quantity,
			Reference:   req.Provenance,
			OccurredAt:  now,
		}},
	}

	if err := lg.storage.ApplyReceipt(ctx, commit); err != nil {
		return nil, NewStorageError("apply_receipt", "バッチ作成に失敗しました", err)
	}

	lg.publishMutation(ctx, StockMutationEvent{
		InventoryIDs: []string{req.InventoryID},
		ItemIDs:      []string{req.ItemID},
		Kind:         "receipt",
		Reference:    req.Provenance,
		OccurredAt:   now,
	})

	lg.logger.Info("バッチ作成完了",
		zap.String("batch_id", batch.ID),
		zap.String("item_id", req.ItemID),
		zap.String("inventory_id", req.InventoryID),
		zap.String("quantity", req.Quantity.String()),
		zap.String("provenance", req.Provenance),
	)

	return &batch, nil
}

// AvailableQuantity returns the sum of live batch quantities
// 生存バッチ数量の合計を返す
func (lg *Ledger) AvailableQuantity(ctx context.Context, itemID, inventoryID string) (decimal.Decimal, error) {
	batches, err := lg.storage.ListBatches(ctx, itemID, inventoryID)
	if err != nil {
		return decimal.Zero, NewStorageError("list_batches", "バッチ取得に失敗しました", err)
	}
	total := decimal.Zero
	for _, b := range batches {
		total = total.Add(b.Quantity)
	}
	return total, nil
}

// ListBatchesForConsumption returns batches in the canonical FEFO order:
// expiry date ascending, nil-expiry batches last, ties broken by
// receivedAt ascending. Zero-quantity batches are excluded.
// 正準FEFO順でバッチを返す：有効期限昇順、期限なしは最後、
// 同着は入荷日時昇順。数量0のバッチは除外する。
func (lg *Ledger) ListBatchesForConsumption(ctx context.Context, itemID, inventoryID string) ([]Batch, error) {
	batches, err := lg.storage.ListBatches(ctx, itemID, inventoryID)
	if err != nil {
		return nil, NewStorageError("list_batches", "バッチ取得に失敗しました", err)
	}

	live := make([]Batch, 0, len(batches))
	for _, b := range batches {
		if b.Quantity.IsPositive() {
			live = append(live, b)
		}
	}
	SortFEFO(live)
	return live, nil
}

// SortFEFO sorts batches in place into the canonical consumption order
// バッチを正準消費順にその場でソート
func SortFEFO(batches []Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		switch {
		case a.ExpiryDate == nil && b.ExpiryDate == nil:
			return a.ReceivedAt.Before(b.ReceivedAt)
		case a.ExpiryDate == nil:
			return false // 期限なしは最後
		case b.ExpiryDate == nil:
			return true
		case !a.ExpiryDate.Equal(*b.ExpiryDate):
			return a.ExpiryDate.Before(*b.ExpiryDate)
		default:
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
	})
}

// ExpirySummary summarizes expiry state across FEFO-ordered batches
// FEFO順バッチ群の期限状態を要約
func (lg *Ledger) ExpirySummary(batches []Batch, now time.Time) ExpiryInfo {
	info := ExpiryInfo{}
	for i := range batches {
		b := &batches[i]
		if b.ExpiryDate == nil {
			continue
		}
		if info.EarliestExpiry == nil || b.ExpiryDate.Before(*info.EarliestExpiry) {
			d := *b.ExpiryDate
			info.EarliestExpiry = &d
		}
		if b.IsExpired(now) {
			info.HasExpired = true
		} else if b.IsExpiringSoon(now, lg.config.ExpiringSoonWindow) {
			info.ExpiringSoon = true
		}
	}
	return info
}

// validateItemAndInventory validates that item and inventory exist
// 商品と倉庫の存在を確認
func (lg *Ledger) validateItemAndInventory(ctx context.Context, itemID, inventoryID string) error {
	if err := ValidateItemID(itemID); err != nil {
		return err
	}
	if err := ValidateInventoryID(inventoryID); err != nil {
		return err
	}
	if _, err := lg.storage.GetItem(ctx, itemID); err != nil {
		if err == ErrItemNotFound {
			return ErrItemNotFound
		}
		return NewStorageError("get_item", "商品取得に失敗しました", err)
	}
	if _, err := lg.storage.GetInventory(ctx, inventoryID); err != nil {
		if err == ErrInventoryNotFound {
			return ErrInventoryNotFound
		}
		return NewStorageError("get_inventory", "倉庫取得に失敗しました", err)
	}
	return nil
}

// publishMutation publishes a mutation event when a publisher is wired
// 発行者が設定されていれば変更イベントを発行
func (lg *Ledger) publishMutation(ctx context.Context, event StockMutationEvent) {
	if lg.publisher == nil {
		return
	}
	if err := lg.publisher.PublishStockMutation(ctx, event); err != nil {
		lg.logger.Error("イベント発行に失敗しました", zap.Error(err))
	}
}
