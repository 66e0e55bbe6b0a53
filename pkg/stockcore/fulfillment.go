package stockcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Fulfiller applies allocation decisions to orders and transitions
// their status. Batch decrements, allocation records and the status
// transition are one all-or-nothing unit; conflicts are retried a
// bounded number of times before RetryExhausted surfaces.
// 引当判断を注文に適用しステータスを遷移させる。バッチ減算・引当記録・
// ステータス遷移は全か無かの単位であり、競合は上限付きで再試行した後に
// RetryExhaustedを返す。
type Fulfiller struct {
	storage   Storage        // ストレージ層
	ledger    *Ledger        // ロット台帳
	planner   *Planner       // 引当プランナー
	publisher EventPublisher // イベント発行者
	logger    *zap.Logger    // ログ
	config    *Config        // 設定
}

// NewFulfiller creates a new fulfillment executor
// 新しい出荷実行部を作成
func NewFulfiller(storage Storage, ledger *Ledger, planner *Planner, publisher EventPublisher, logger *zap.Logger, config *Config) *Fulfiller {
	if config == nil {
		config = DefaultConfig()
	}
	return &Fulfiller{
		storage:   storage,
		ledger:    ledger,
		planner:   planner,
		publisher: publisher,
		logger:    logger,
		config:    config,
	}
}

// DeliverRequest carries the inputs of a full delivery
// 全量出荷の入力を保持
type DeliverRequest struct {
	OrderID     string `json:"order_id"`
	OperationID string `json:"operation_id"` // 冪等性キー（空なら自動採番）
	Actor       Role   `json:"actor"`
}

// ItemAllocations is a caller-supplied allocation set for one item
// 呼び出し元指定の商品別引当
type ItemAllocations struct {
	ItemID      string               `json:"item_id"`
	Allocations []PlannedConsumption `json:"allocations"`
}

// PartialDeliverRequest carries the inputs of a partial delivery
// 一部出荷の入力を保持
type PartialDeliverRequest struct {
	OrderID     string            `json:"order_id"`
	OperationID string            `json:"operation_id"` // 冪等性キー（空なら自動採番）
	Actor       Role              `json:"actor"`
	Notes       string            `json:"notes"`
	Items       []ItemAllocations `json:"items"`
}

// DeliverFull plans FEFO allocations for every undelivered line,
// decrements the planned batches, records one Allocation per batch
// consumed and marks the order DELIVERED.
// 未出荷の全明細に対してFEFO引当を計画し、計画どおりバッチを減算、
// 消費バッチごとにAllocationを記録して注文をDELIVEREDにする。
func (f *Fulfiller) DeliverFull(ctx context.Context, req DeliverRequest) (*OrderResult, error) {
	if err := requireCapability(req.Actor, CapReceiveDelivery); err != nil {
		return nil, err
	}
	if err := ValidateOrderID(req.OrderID); err != nil {
		return nil, err
	}
	opID := req.OperationID
	if opID == "" {
		opID = NewID()
	}

	var result *OrderResult
	err := f.withConflictRetry(ctx, "deliver_full", req.OrderID, func() error {
		order, err := f.loadDeliverableOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}

		var plans []ItemAllocations
		for i := range order.Lines {
			line := &order.Lines[i]
			remaining := line.RemainingQty()
			if !remaining.IsPositive() {
				continue
			}
			plan, err := f.planner.PlanFEFO(ctx, line.ItemID, order.InventoryID, remaining)
			if err != nil {
				return err
			}
			plans = append(plans, ItemAllocations{ItemID: line.ItemID, Allocations: plan})
		}
		if len(plans) == 0 {
			return NewBusinessRuleError(ErrOrderAlreadyDelivered, CodeOrderAlreadyDelivered, "order="+req.OrderID)
		}

		result, err = f.commitDelivery(ctx, order, opID, plans)
		return err
	})
	if err != nil {
		return nil, err
	}

	f.logger.Info("全量出荷完了",
		zap.String("order_id", req.OrderID),
		zap.String("operation_id", opID),
		zap.String("status", string(result.Status)),
		zap.Int("allocations", len(result.Allocations)),
	)
	return result, nil
}

// DeliverPartial validates every caller-supplied allocation set before
// any mutation, then commits through the same decrement-and-record path
// as DeliverFull. Any single line failing validation aborts the whole
// call; nothing is partially applied across lines.
// 呼び出し元指定の引当をすべて変更前に検証し、DeliverFullと同じ
// 減算・記録経路で確定する。1行でも検証に失敗すれば呼び出し全体を
// 中止し、行間で部分適用は起こらない。
func (f *Fulfiller) DeliverPartial(ctx context.Context, req PartialDeliverRequest) (*OrderResult, error) {
	if err := requireCapability(req.Actor, CapReceiveDelivery); err != nil {
		return nil, err
	}
	if err := ValidateOrderID(req.OrderID); err != nil {
		return nil, err
	}
	if err := ValidateNotes(req.Notes); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, NewValidationError("items", "出荷対象の明細がありません", "")
	}
	// 同一商品の重複明細は行別検証をすり抜けて二重減算になるため拒否する
	seen := make(map[string]bool, len(req.Items))
	for _, item := range req.Items {
		if seen[item.ItemID] {
			return nil, NewValidationError("items", "同一商品の明細が重複しています", item.ItemID)
		}
		seen[item.ItemID] = true
	}
	opID := req.OperationID
	if opID == "" {
		opID = NewID()
	}

	var result *OrderResult
	err := f.withConflictRetry(ctx, "deliver_partial", req.OrderID, func() error {
		order, err := f.loadDeliverableOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}

		// すべての行を変更前に検証する
		for _, item := range req.Items {
			if err := f.planner.ValidateManualAllocation(ctx, order, item.ItemID, item.Allocations); err != nil {
				return err
			}
		}

		result, err = f.commitDelivery(ctx, order, opID, req.Items)
		return err
	})
	if err != nil {
		return nil, err
	}

	f.logger.Info("一部出荷完了",
		zap.String("order_id", req.OrderID),
		zap.String("operation_id", opID),
		zap.String("status", string(result.Status)),
		zap.Int("allocations", len(result.Allocations)),
	)
	return result, nil
}

// ReceiptLine names the expiry and notes of one received line
// 入荷1行の期限と備考を指定
type ReceiptLine struct {
	ItemID     string     `json:"item_id"`
	ExpiryDate *time.Time `json:"expiry_date"`
	Notes      string     `json:"notes"`
}

// ReceiveRequest carries the inputs of a procurement receipt
// 発注入荷の入力を保持
type ReceiveRequest struct {
	OrderID string        `json:"order_id"`
	Actor   Role          `json:"actor"`
	Lines   []ReceiptLine `json:"lines"` // 期限・備考の行別指定（任意）
}

// ReceiveOrder creates one batch per undelivered procurement line
// (provenance = order id) and marks the order RECEIVED.
// 発注の未入荷明細ごとにバッチを作成し（出所=注文ID）、注文を
// RECEIVEDにする。
func (f *Fulfiller) ReceiveOrder(ctx context.Context, req ReceiveRequest) (*OrderResult, error) {
	if err := requireCapability(req.Actor, CapReceiveDelivery); err != nil {
		return nil, err
	}
	if err := ValidateOrderID(req.OrderID); err != nil {
		return nil, err
	}

	lineMeta := make(map[string]ReceiptLine, len(req.Lines))
	for _, l := range req.Lines {
		lineMeta[l.ItemID] = l
	}

	var result *OrderResult
	err := f.withConflictRetry(ctx, "receive_order", req.OrderID, func() error {
		order, err := f.storage.GetOrder(ctx, req.OrderID)
		if err != nil {
			if err == ErrOrderNotFound {
				return ErrOrderNotFound
			}
			return NewStorageError("get_order", "注文取得に失敗しました", err)
		}
		if order.Kind != OrderKindProcurement {
			return NewValidationError("order_id", "発注ではない注文は入荷できません", req.OrderID)
		}
		if err := f.guardNotTerminal(order); err != nil {
			return err
		}

		now := time.Now()
		commit := &ReceiptCommit{}
		var itemIDs []string
		for i := range order.Lines {
			line := &order.Lines[i]
			remaining := line.RemainingQty()
			if !remaining.IsPositive() {
				continue
			}
			meta := lineMeta[line.ItemID]
			commit.Batches = append(commit.Batches, Batch{
				ID:          NewID(),
				ItemID:      line.ItemID,
				InventoryID: order.InventoryID,
				Quantity:    remaining,
				ReceivedAt:  now,
				ExpiryDate:  meta.ExpiryDate,
				Provenance:  order.ID,
				Notes:       meta.Notes,
				Version:     1,
			})
			commit.Movements = append(commit.Movements, movementSplit(line, remaining, order, MovementIncoming, MovementIncomingGift, now)...)
			line.DeliveredQty = line.DeliveredQty.Add(remaining)
			itemIDs = append(itemIDs, line.ItemID)
		}
		if len(commit.Batches) == 0 {
			return NewBusinessRuleError(ErrOrderAlreadyDelivered, CodeOrderAlreadyDelivered, "order="+req.OrderID)
		}

		order.RecomputeStatus()
		order.Version++
		order.UpdatedAt = now
		commit.Order = order

		if err := f.storage.ApplyReceipt(ctx, commit); err != nil {
			return err
		}

		f.publishMutation(ctx, StockMutationEvent{
			InventoryIDs: []string{order.InventoryID},
			ItemIDs:      itemIDs,
			Kind:         "receipt",
			Reference:    order.ID,
			OccurredAt:   now,
		})

		result = &OrderResult{
			OrderID: order.ID,
			Status:  order.Status,
			Lines:   order.Lines,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	f.logger.Info("発注入荷完了",
		zap.String("order_id", req.OrderID),
		zap.String("status", string(result.Status)),
	)
	return result, nil
}

// CancelOrder marks an order CANCELLED. Committed allocations are never
// reversed; cancellation only blocks further fulfillment.
// 注文をCANCELLEDにする。確定済み引当は巻き戻さず、以後の出荷のみ
// 遮断する。
func (f *Fulfiller) CancelOrder(ctx context.Context, orderID string, actor Role) (*OrderResult, error) {
	if err := requireCapability(actor, CapCancelOrder); err != nil {
		return nil, err
	}
	if err := ValidateOrderID(orderID); err != nil {
		return nil, err
	}

	var result *OrderResult
	err := f.withConflictRetry(ctx, "cancel_order", orderID, func() error {
		order, err := f.storage.GetOrder(ctx, orderID)
		if err != nil {
			if err == ErrOrderNotFound {
				return ErrOrderNotFound
			}
			return NewStorageError("get_order", "注文取得に失敗しました", err)
		}
		if err := f.guardNotTerminal(order); err != nil {
			return err
		}

		now := time.Now()
		order.Status = OrderStatusCancelled
		order.Version++
		order.UpdatedAt = now
		if err := f.storage.UpdateOrder(ctx, order); err != nil {
			return err
		}

		// キャンセルは在庫を動かさないが、未出荷数量（出荷予定）が消えるため
		// レポート購読者への通知が必要
		itemIDs := make([]string, 0, len(order.Lines))
		for i := range order.Lines {
			itemIDs = append(itemIDs, order.Lines[i].ItemID)
		}
		f.publishMutation(ctx, StockMutationEvent{
			InventoryIDs: []string{order.InventoryID},
			ItemIDs:      itemIDs,
			Kind:         "cancel",
			Reference:    order.ID,
			OccurredAt:   now,
		})

		result = &OrderResult{OrderID: order.ID, Status: order.Status, Lines: order.Lines}
		return nil
	})
	if err != nil {
		return nil, err
	}

	f.logger.Info("注文キャンセル完了", zap.String("order_id", orderID))
	return result, nil
}

// ConfirmPayment marks an order's payment as confirmed. The payment
// workflow itself lives outside the core; this is its hand-off point.
// 注文の支払を確認済みにする。支払ワークフロー自体はコア外にあり、
// ここはその受け渡し点である。
func (f *Fulfiller) ConfirmPayment(ctx context.Context, orderID string, actor Role) error {
	if err := requireCapability(actor, CapConfirmPayment); err != nil {
		return err
	}
	return f.withConflictRetry(ctx, "confirm_payment", orderID, func() error {
		order, err := f.storage.GetOrder(ctx, orderID)
		if err != nil {
			if err == ErrOrderNotFound {
				return ErrOrderNotFound
			}
			return NewStorageError("get_order", "注文取得に失敗しました", err)
		}
		if order.PaymentConfirmed {
			return nil
		}
		order.PaymentConfirmed = true
		order.Version++
		order.UpdatedAt = time.Now()
		return f.storage.UpdateOrder(ctx, order)
	})
}

// commitDelivery builds and applies the atomic fulfillment commit for a
// validated allocation set
// 検証済み引当からアトミックな出荷コミットを構築・適用
func (f *Fulfiller) commitDelivery(ctx context.Context, order *Order, opID string, items []ItemAllocations) (*OrderResult, error) {
	now := time.Now()
	commit := &FulfillmentCommit{OperationID: opID}
	var itemIDs []string

	for _, item := range items {
		line := order.Line(item.ItemID)
		if line == nil {
			return nil, NewValidationError("item_id", "注文に存在しない商品です", item.ItemID)
		}

		delivered := decimal.Zero
		for _, alloc := range item.Allocations {
			batch, err := f.storage.GetBatch(ctx, alloc.BatchID)
			if err != nil {
				if err == ErrBatchNotFound {
					return nil, NewBusinessRuleError(ErrBatchNotFound, CodeNotFound, "batch="+alloc.BatchID)
				}
				return nil, NewStorageError("get_batch", "バッチ取得に失敗しました", err)
			}
			if alloc.Quantity.GreaterThan(batch.Quantity) {
				return nil, NewBusinessRuleError(ErrInsufficientBatchQuantity, CodeInsufficientBatchQuantity,
					fmt.Sprintf("バッチ %s の残数量は %s、要求は %s", batch.ID, batch.Quantity.String(), alloc.Quantity.String()))
			}
			commit.Decrements = append(commit.Decrements, BatchDecrement{
				BatchID:         batch.ID,
				Quantity:        alloc.Quantity,
				ExpectedVersion: batch.Version,
			})
			commit.Allocations = append(commit.Allocations, Allocation{
				ID:          NewID(),
				OrderID:     order.ID,
				ItemID:      item.ItemID,
				BatchID:     batch.ID,
				Quantity:    alloc.Quantity,
				OperationID: opID,
				CommittedAt: now,
			})
			delivered = delivered.Add(alloc.Quantity)
		}

		commit.Movements = append(commit.Movements, movementSplit(line, delivered, order, MovementOutgoing, MovementOutgoingGift, now)...)
		line.DeliveredQty = line.DeliveredQty.Add(delivered)
		itemIDs = append(itemIDs, item.ItemID)
	}

	order.RecomputeStatus()
	order.Version++
	order.UpdatedAt = now
	commit.Order = order

	if err := f.storage.ApplyFulfillment(ctx, commit); err != nil {
		if errors.Is(err, ErrDuplicateOperation) {
			return nil, NewBusinessRuleError(ErrDuplicateOperation, CodeDuplicateOperation, "operation="+opID)
		}
		return nil, err
	}

	f.publishMutation(ctx, StockMutationEvent{
		InventoryIDs: []string{order.InventoryID},
		ItemIDs:      itemIDs,
		Kind:         "fulfillment",
		Reference:    order.ID,
		OccurredAt:   now,
	})

	return &OrderResult{
		OrderID:     order.ID,
		Status:      order.Status,
		Lines:       order.Lines,
		Allocations: commit.Allocations,
		OperationID: opID,
	}, nil
}

// movementSplit journals a delivered quantity, attributing ordered units
// first and legacy same-item gift units last. Separate-gift-item lines
// are journaled entirely as gifts.
// 出荷数量を仕訳する。注文分を先に、旧方式の同一商品ギフト分を最後に
// 割り当てる。独立ギフト商品行は全量をギフトとして仕訳する。
func movementSplit(line *OrderLine, qty decimal.Decimal, order *Order, normal, gift MovementKind, now time.Time) []MovementEntry {
	entry := func(kind MovementKind, variant GiftVariant, q decimal.Decimal) MovementEntry {
		return MovementEntry{
			ID:          NewID(),
			ItemID:      line.ItemID,
			InventoryID: order.InventoryID,
			Kind:        kind,
			GiftVariant: variant,
			Quantity:    q,
			Reference:   order.ID,
			OccurredAt:  now,
		}
	}

	if line.IsGiftItem {
		return []MovementEntry{entry(gift, GiftVariantSeparateItem, qty)}
	}

	// 旧方式ギフトは注文数量を満たした後の超過分
	before := line.DeliveredQty
	after := before.Add(qty)
	giftBefore := decimal.Max(decimal.Zero, before.Sub(line.OrderedQty))
	giftAfter := decimal.Max(decimal.Zero, after.Sub(line.OrderedQty))
	giftQty := giftAfter.Sub(giftBefore)
	normalQty := qty.Sub(giftQty)

	var entries []MovementEntry
	if normalQty.IsPositive() {
		entries = append(entries, entry(normal, GiftVariantNone, normalQty))
	}
	if giftQty.IsPositive() {
		entries = append(entries, entry(gift, GiftVariantSameItem, giftQty))
	}
	return entries
}

// loadDeliverableOrder loads an order and applies the payment gate and
// terminal-state guard
// 注文を読み込み、支払ゲートと終端状態ガードを適用
func (f *Fulfiller) loadDeliverableOrder(ctx context.Context, orderID string) (*Order, error) {
	order, err := f.storage.GetOrder(ctx, orderID)
	if err != nil {
		if err == ErrOrderNotFound {
			return nil, ErrOrderNotFound
		}
		return nil, NewStorageError("get_order", "注文取得に失敗しました", err)
	}
	if order.Kind != OrderKindSales {
		return nil, NewValidationError("order_id", "受注ではない注文は出荷できません", orderID)
	}
	if err := f.guardNotTerminal(order); err != nil {
		return nil, err
	}
	if !order.PaymentConfirmed {
		return nil, NewBusinessRuleError(ErrPaymentNotConfirmed, CodePaymentNotConfirmed, "order="+orderID)
	}
	return order, nil
}

// guardNotTerminal rejects orders in a terminal state
// 終端状態の注文を拒否
func (f *Fulfiller) guardNotTerminal(order *Order) error {
	switch order.Status {
	case OrderStatusDelivered, OrderStatusReceived:
		return NewBusinessRuleError(ErrOrderAlreadyDelivered, CodeOrderAlreadyDelivered, "order="+order.ID)
	case OrderStatusCancelled:
		return NewBusinessRuleError(ErrOrderCancelled, CodeOrderCancelled, "order="+order.ID)
	}
	return nil
}

// withConflictRetry runs fn under the shared optimistic-lock retry loop
// 共通の楽観的ロック再試行ループでfnを実行
func (f *Fulfiller) withConflictRetry(ctx context.Context, operation, resource string, fn func() error) error {
	return runWithConflictRetry(ctx, f.logger, f.publisher, f.config, operation, resource, fn)
}

// publishMutation publishes a mutation event when a publisher is wired
// 発行者が設定されていれば変更イベントを発行
func (f *Fulfiller) publishMutation(ctx context.Context, event StockMutationEvent) {
	if f.publisher == nil {
		return
	}
	if err := f.publisher.PublishStockMutation(ctx, event); err != nil {
		f.logger.Error("イベント発行に失敗しました", zap.Error(err))
	}
}
