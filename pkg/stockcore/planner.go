package stockcore

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Planner computes or validates which batches satisfy a required
// quantity. It is a pure decision function: it never mutates state.
// 要求数量を満たすバッチの組み合わせを計算・検証する。純粋な判断関数で
// あり状態を変更しない。
type Planner struct {
	ledger *Ledger // ロット台帳
}

// NewPlanner creates a new allocation planner
// 新しい引当プランナーを作成
func NewPlanner(ledger *Ledger) *Planner {
	return &Planner{ledger: ledger}
}

// PlanFEFO walks batches in canonical FEFO order, greedily consuming
// each batch's full remaining quantity until the requirement is met.
// Fails InsufficientStock when total available falls short; no partial
// plan is returned.
// 正準FEFO順にバッチを走査し、要求数量に達するまで各バッチの残数量を
// 貪欲に消費する計画を返す。利用可能合計が不足する場合は
// InsufficientStockで失敗し、部分計画は返さない。
func (p *Planner) PlanFEFO(ctx context.Context, itemID, inventoryID string, requiredQty decimal.Decimal) ([]PlannedConsumption, error) {
	if err := ValidatePositiveQuantity(requiredQty); err != nil {
		return nil, err
	}

	batches, err := p.ledger.ListBatchesForConsumption(ctx, itemID, inventoryID)
	if err != nil {
		return nil, err
	}

	var plan []PlannedConsumption
	remaining := requiredQty
	for _, b := range batches {
		if !remaining.IsPositive() {
			break
		}
		take := b.Quantity
		if take.GreaterThan(remaining) {
			take = remaining
		}
		plan = append(plan, PlannedConsumption{BatchID: b.ID, Quantity: take})
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		return nil, NewBusinessRuleError(ErrInsufficientStock, CodeInsufficientStock,
			fmt.Sprintf("商品 %s の倉庫 %s での不足数量: %s", itemID, inventoryID, remaining.String()))
	}
	return plan, nil
}

// ValidateManualAllocation verifies a caller-supplied allocation set for
// one order line: each quantity must fit its batch, the sum must not
// exceed the line's remaining quantity, and every batch must belong to
// the order's designated inventory.
// 呼び出し元指定の引当を検証する：各数量はバッチ残数量以内、合計は
// 明細の残数量以内、すべてのバッチは注文の対象倉庫に属すること。
func (p *Planner) ValidateManualAllocation(ctx context.Context, order *Order, itemID string, allocations []PlannedConsumption) error {
	line := order.Line(itemID)
	if line == nil {
		return NewValidationError("item_id", "注文に存在しない商品です", itemID)
	}
	if len(allocations) == 0 {
		return NewValidationError("allocations", "引当が指定されていません", itemID)
	}

	total := decimal.Zero
	seen := make(map[string]bool, len(allocations))
	for _, a := range allocations {
		if err := ValidatePositiveQuantity(a.Quantity); err != nil {
			return err
		}
		if seen[a.BatchID] {
			return NewValidationError("allocations", "同一バッチへの引当が重複しています", a.BatchID)
		}
		seen[a.BatchID] = true

		batch, err := p.ledger.storage.GetBatch(ctx, a.BatchID)
		if err != nil {
			if err == ErrBatchNotFound {
				return NewBusinessRuleError(ErrBatchNotFound, CodeNotFound, "batch="+a.BatchID)
			}
			return NewStorageError("get_batch", "バッチ取得に失敗しました", err)
		}
		if batch.ItemID != itemID {
			return NewValidationError("allocations", "バッチの商品が明細と一致しません", a.BatchID)
		}
		if batch.InventoryID != order.InventoryID {
			return NewValidationError("allocations", "バッチが注文の対象倉庫に属していません", a.BatchID)
		}
		if a.Quantity.GreaterThan(batch.Quantity) {
			return NewBusinessRuleError(ErrInsufficientBatchQuantity, CodeInsufficientBatchQuantity,
				fmt.Sprintf("バッチ %s の残数量は %s、要求は %s", a.BatchID, batch.Quantity.String(), a.Quantity.String()))
		}
		total = total.Add(a.Quantity)
	}

	if total.GreaterThan(line.RemainingQty()) {
		return NewBusinessRuleError(ErrOverAllocation, CodeOverAllocation,
			fmt.Sprintf("商品 %s の残数量は %s、引当合計は %s", itemID, line.RemainingQty().String(), total.String()))
	}
	return nil
}
