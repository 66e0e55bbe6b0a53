package stockcore

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Transferrer moves stock between inventories. Source batches are
// consumed FEFO and every consumed portion becomes its own destination
// batch carrying forward the source expiry date, so lot traceability
// survives the move.
// 倉庫間で在庫を移動する。移動元バッチはFEFO順に消費され、消費分ごとに
// 移動元の期限を引き継いだ移動先バッチが作られるため、ロット追跡性は
// 移動後も保たれる。
type Transferrer struct {
	storage   Storage        // ストレージ層
	ledger    *Ledger        // ロット台帳
	publisher EventPublisher // イベント発行者
	logger    *zap.Logger    // ログ
	config    *Config        // 設定
}

// NewTransferrer creates a new stock transferrer
// 新しい在庫移動部を作成
func NewTransferrer(storage Storage, ledger *Ledger, publisher EventPublisher, logger *zap.Logger, config *Config) *Transferrer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Transferrer{
		storage:   storage,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger,
		config:    config,
	}
}

// TransferRequest carries the inputs of an inventory transfer
// 倉庫間移動の入力を保持
type TransferRequest struct {
	ItemID          string          `json:"item_id"`
	FromInventoryID string          `json:"from_inventory_id"`
	ToInventoryID   string          `json:"to_inventory_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	Notes           string          `json:"notes"`
	Actor           Role            `json:"actor"`
}

// Transfer moves a quantity of one item between two inventories in a
// single atomic commit. Total quantity is conserved: the sum removed
// from the source equals the sum created at the destination.
// 1商品の数量を2倉庫間で単一のアトミックコミットで移動する。総量は
// 保存される：移動元から除かれた合計は移動先で作られた合計に等しい。
func (t *Transferrer) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if err := requireCapability(req.Actor, CapTransferStock); err != nil {
		return nil, err
	}
	if err := ValidateItemID(req.ItemID); err != nil {
		return nil, err
	}
	if err := ValidateInventoryID(req.FromInventoryID); err != nil {
		return nil, err
	}
	if err := ValidateInventoryID(req.ToInventoryID); err != nil {
		return nil, err
	}
	if req.FromInventoryID == req.ToInventoryID {
		return nil, NewBusinessRuleError(ErrSameInventory, CodeSameInventory, "inventory="+req.FromInventoryID)
	}
	if err := ValidatePositiveQuantity(req.Quantity); err != nil {
		return nil, err
	}
	if err := ValidateNotes(req.Notes); err != nil {
		return nil, err
	}
	if _, err := t.storage.GetItem(ctx, req.ItemID); err != nil {
		if err == ErrItemNotFound {
			return nil, ErrItemNotFound
		}
		return nil, NewStorageError("get_item", "商品取得に失敗しました", err)
	}
	for _, invID := range []string{req.FromInventoryID, req.ToInventoryID} {
		if _, err := t.storage.GetInventory(ctx, invID); err != nil {
			if err == ErrInventoryNotFound {
				return nil, ErrInventoryNotFound
			}
			return nil, NewStorageError("get_inventory", "倉庫取得に失敗しました", err)
		}
	}

	transferID := NewID()
	var result *TransferResult
	err := t.withConflictRetry(ctx, "transfer", req.ItemID, func() error {
		batches, err := t.ledger.ListBatchesForConsumption(ctx, req.ItemID, req.FromInventoryID)
		if err != nil {
			return err
		}

		now := time.Now()
		commit := &TransferCommit{TransferID: transferID}
		var consumed []PlannedConsumption
		remaining := req.Quantity
		for i := range batches {
			if !remaining.IsPositive() {
				break
			}
			src := &batches[i]
			take := decimal.Min(src.Quantity, remaining)
			commit.Decrements = append(commit.Decrements, BatchDecrement{
				BatchID:         src.ID,
				Quantity:        take,
				ExpectedVersion: src.Version,
			})
			consumed = append(consumed, PlannedConsumption{BatchID: src.ID, Quantity: take})
			commit.NewBatches = append(commit.NewBatches, Batch{
				ID:          NewID(),
				ItemID:      req.ItemID,
				InventoryID: req.ToInventoryID,
				Quantity:    take,
				ReceivedAt:  now,
				ExpiryDate:  src.ExpiryDate, // 期限は移動元から引き継ぐ
				Provenance:  transferID,
				Notes:       req.Notes,
				Version:     1,
			})
			remaining = remaining.Sub(take)
		}
		if remaining.IsPositive() {
			return NewBusinessRuleError(ErrInsufficientStock, CodeInsufficientStock,
				fmt.Sprintf("商品 %s の倉庫 %s での不足数量: %s", req.ItemID, req.FromInventoryID, remaining.String()))
		}

		commit.Movements = []MovementEntry{
			{
				ID:          NewID(),
				ItemID:      req.ItemID,
				InventoryID: req.FromInventoryID,
				Kind:        MovementOutgoing,
				Quantity:    req.Quantity,
				Reference:   transferID,
				OccurredAt:  now,
			},
			{
				ID:          NewID(),
				ItemID:      req.ItemID,
				InventoryID: req.ToInventoryID,
				Kind:        MovementIncoming,
				Quantity:    req.Quantity,
				Reference:   transferID,
				OccurredAt:  now,
			},
		}

		if err := t.storage.ApplyTransfer(ctx, commit); err != nil {
			return err
		}

		if t.publisher != nil {
			if err := t.publisher.PublishStockMutation(ctx, StockMutationEvent{
				InventoryIDs: []string{req.FromInventoryID, req.ToInventoryID},
				ItemIDs:      []string{req.ItemID},
				Kind:         "transfer",
				Reference:    transferID,
				OccurredAt:   now,
			}); err != nil {
				t.logger.Error("イベント発行に失敗しました", zap.Error(err))
			}
		}

		result = &TransferResult{
			TransferID:      transferID,
			ItemID:          req.ItemID,
			FromInventoryID: req.FromInventoryID,
			ToInventoryID:   req.ToInventoryID,
			Quantity:        req.Quantity,
			Consumed:        consumed,
			CreatedBatches:  commit.NewBatches,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("倉庫間移動完了",
		zap.String("transfer_id", transferID),
		zap.String("item_id", req.ItemID),
		zap.String("from", req.FromInventoryID),
		zap.String("to", req.ToInventoryID),
		zap.String("quantity", req.Quantity.String()),
		zap.Int("created_batches", len(result.CreatedBatches)),
	)
	return result, nil
}

// withConflictRetry runs fn under the shared optimistic-lock retry loop
// 共通の楽観的ロック再試行ループでfnを実行
func (t *Transferrer) withConflictRetry(ctx context.Context, operation, resource string, fn func() error) error {
	return runWithConflictRetry(ctx, t.logger, t.publisher, t.config, operation, resource, fn)
}
