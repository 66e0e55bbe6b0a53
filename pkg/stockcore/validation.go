package stockcore

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// 英数字、ハイフン、アンダースコアのみ許可
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateItemID 商品IDの形式をバリデーション
func ValidateItemID(itemID string) error {
	if itemID == "" {
		return NewValidationError("item_id", "商品IDが空です", itemID)
	}
	if len(itemID) > 255 {
		return NewValidationError("item_id", "商品IDが長すぎます", itemID)
	}
	if !idPattern.MatchString(itemID) {
		return NewValidationError("item_id", "商品IDに無効な文字が含まれています", itemID)
	}
	return nil
}

// ValidateInventoryID 倉庫IDの形式をバリデーション
func ValidateInventoryID(inventoryID string) error {
	if inventoryID == "" {
		return NewValidationError("inventory_id", "倉庫IDが空です", inventoryID)
	}
	if len(inventoryID) > 255 {
		return NewValidationError("inventory_id", "倉庫IDが長すぎます", inventoryID)
	}
	if !idPattern.MatchString(inventoryID) {
		return NewValidationError("inventory_id", "倉庫IDに無効な文字が含まれています", inventoryID)
	}
	return nil
}

// ValidateOrderID 注文IDの形式をバリデーション
func ValidateOrderID(orderID string) error {
	if orderID == "" {
		return NewValidationError("order_id", "注文IDが空です", orderID)
	}
	if len(orderID) > 255 {
		return NewValidationError("order_id", "注文IDが長すぎます", orderID)
	}
	return nil
}

// ValidatePositiveQuantity 数量が正であることをバリデーション
func ValidatePositiveQuantity(quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return NewBusinessRuleError(ErrInvalidQuantity, CodeInvalidQuantity,
			"quantity="+quantity.String())
	}
	return nil
}

// ValidateNotes 備考の形式をバリデーション
func ValidateNotes(notes string) error {
	if notes == "" {
		return nil // 備考は任意
	}
	if len(notes) > 2000 {
		return NewValidationError("notes", "備考が長すぎます", notes)
	}
	return nil
}

// ValidateDateRange 日付範囲をバリデーション
func ValidateDateRange(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return NewValidationError("date_range", "開始日と終了日が必要です", "")
	}
	if from.After(to) {
		return NewValidationError("date_range", "開始日が終了日より後になっています",
			from.Format("2006-01-02")+" > "+to.Format("2006-01-02"))
	}
	return nil
}

// ValidateItem 商品全体をバリデーション
func ValidateItem(item *Item) error {
	if item == nil {
		return NewValidationError("item", "商品が指定されていません", "nil")
	}
	if err := ValidateItemID(item.ID); err != nil {
		return err
	}
	if strings.TrimSpace(item.Name) == "" {
		return NewValidationError("name", "商品名が空です", item.Name)
	}
	if len(item.Name) > 500 {
		return NewValidationError("name", "商品名が長すぎます", item.Name)
	}
	return nil
}

// ValidateInventory 倉庫全体をバリデーション
func ValidateInventory(inv *Inventory) error {
	if inv == nil {
		return NewValidationError("inventory", "倉庫が指定されていません", "nil")
	}
	if err := ValidateInventoryID(inv.ID); err != nil {
		return err
	}
	if strings.TrimSpace(inv.Name) == "" {
		return NewValidationError("name", "倉庫名が空です", inv.Name)
	}
	return nil
}

// ValidateOrder 注文全体をバリデーション
func ValidateOrder(order *Order) error {
	if order == nil {
		return NewValidationError("order", "注文が指定されていません", "nil")
	}
	if err := ValidateOrderID(order.ID); err != nil {
		return err
	}
	if err := ValidateInventoryID(order.InventoryID); err != nil {
		return err
	}
	if order.Kind != OrderKindSales && order.Kind != OrderKindProcurement {
		return NewValidationError("kind", "無効な注文種別です", string(order.Kind))
	}
	if len(order.Lines) == 0 {
		return NewValidationError("lines", "明細行がありません", "")
	}
	seen := make(map[string]bool, len(order.Lines))
	for _, line := range order.Lines {
		if err := ValidateItemID(line.ItemID); err != nil {
			return err
		}
		if seen[line.ItemID] {
			return NewValidationError("lines", "同一商品の明細行が重複しています", line.ItemID)
		}
		seen[line.ItemID] = true
		if line.OrderedQty.IsNegative() || line.GiftQty.IsNegative() {
			return NewValidationError("lines", "明細数量が負です", line.ItemID)
		}
		if !line.TotalQty().IsPositive() {
			return NewValidationError("lines", "明細の合計数量が正ではありません", line.ItemID)
		}
	}
	return nil
}
