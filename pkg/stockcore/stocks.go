package stockcore

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StockReader serves the read models of the dashboard: per-inventory
// stock listings with expiry summaries and the delivery picking view of
// an order. Pure reads; nothing here mutates stock.
// ダッシュボード向けリードモデルを提供する：期限要約付きの倉庫別在庫
// 一覧と注文の出荷ピッキングビュー。読取専用であり在庫を変更しない。
type StockReader struct {
	storage Storage     // ストレージ層
	ledger  *Ledger     // ロット台帳
	logger  *zap.Logger // ログ
	config  *Config     // 設定
}

// NewStockReader creates a new stock read model
// 新しい在庫リードモデルを作成
func NewStockReader(storage Storage, ledger *Ledger, logger *zap.Logger, config *Config) *StockReader {
	if config == nil {
		config = DefaultConfig()
	}
	return &StockReader{
		storage: storage,
		ledger:  ledger,
		logger:  logger,
		config:  config,
	}
}

// GetStocks lists the stock of every item held at an inventory, batches
// in FEFO order, optionally filtered by item section. Items whose
// batches all reached zero still appear with zero quantity.
// 倉庫が保有する全商品の在庫をFEFO順のバッチ付きで一覧する。部門で
// 絞り込み可能。全バッチが0になった商品も数量0で表示する。
func (s *StockReader) GetStocks(ctx context.Context, inventoryID, section string) ([]ItemStock, error) {
	if err := ValidateInventoryID(inventoryID); err != nil {
		return nil, err
	}
	if _, err := s.storage.GetInventory(ctx, inventoryID); err != nil {
		if err == ErrInventoryNotFound {
			return nil, ErrInventoryNotFound
		}
		return nil, NewStorageError("get_inventory", "倉庫取得に失敗しました", err)
	}

	batches, err := s.storage.ListBatchesByInventory(ctx, inventoryID)
	if err != nil {
		return nil, NewStorageError("list_batches", "バッチ取得に失敗しました", err)
	}

	byItem := make(map[string][]Batch)
	for _, b := range batches {
		byItem[b.ItemID] = append(byItem[b.ItemID], b)
	}

	now := time.Now()
	var stocks []ItemStock
	for itemID, itemBatches := range byItem {
		item, err := s.storage.GetItem(ctx, itemID)
		if err != nil {
			if err == ErrItemNotFound {
				return nil, ErrItemNotFound
			}
			return nil, NewStorageError("get_item", "商品取得に失敗しました", err)
		}
		if section != "" && item.Section != section {
			continue
		}

		SortFEFO(itemBatches)
		total := decimal.Zero
		for _, b := range itemBatches {
			total = total.Add(b.Quantity)
		}
		stocks = append(stocks, ItemStock{
			ItemID:     item.ID,
			ItemName:   item.Name,
			Section:    item.Section,
			Quantity:   total,
			Batches:    itemBatches,
			ExpiryInfo: s.ledger.ExpirySummary(itemBatches, now),
		})
	}

	sort.Slice(stocks, func(i, j int) bool { return stocks[i].ItemID < stocks[j].ItemID })
	return stocks, nil
}

// GetDeliveryBatches builds the picking view of an order: per line, the
// remaining quantity and the consumable batches grouped by expiry date
// in FEFO order. Zero-quantity and fully delivered lines yield empty
// groups rather than being dropped.
// 注文のピッキングビューを構築する：明細行ごとの残数量と、有効期限別に
// まとめたFEFO順の消費可能バッチ。数量0・出荷完了の行も除外せず空の
// グループとして返す。
func (s *StockReader) GetDeliveryBatches(ctx context.Context, orderID string) ([]DeliveryLineBatches, error) {
	if err := ValidateOrderID(orderID); err != nil {
		return nil, err
	}
	order, err := s.storage.GetOrder(ctx, orderID)
	if err != nil {
		if err == ErrOrderNotFound {
			return nil, ErrOrderNotFound
		}
		return nil, NewStorageError("get_order", "注文取得に失敗しました", err)
	}

	var lines []DeliveryLineBatches
	for i := range order.Lines {
		line := &order.Lines[i]
		view := DeliveryLineBatches{
			ItemID:       line.ItemID,
			TotalOrdered: line.TotalQty(),
			Delivered:    line.DeliveredQty,
			Remaining:    line.RemainingQty(),
		}
		if view.Remaining.IsPositive() {
			batches, err := s.ledger.ListBatchesForConsumption(ctx, line.ItemID, order.InventoryID)
			if err != nil {
				return nil, err
			}
			view.ExpiryGroups = groupByExpiry(batches)
		}
		lines = append(lines, view)
	}
	return lines, nil
}

// groupByExpiry folds FEFO-sorted batches into per-expiry groups,
// preserving the FEFO order of the groups themselves
// FEFO順のバッチを有効期限別グループへ畳み込む。グループ自体の
// FEFO順も保たれる
func groupByExpiry(batches []Batch) []ExpiryGroup {
	var groups []ExpiryGroup
	for _, b := range batches {
		if n := len(groups); n > 0 && sameExpiry(groups[n-1].ExpiryDate, b.ExpiryDate) {
			groups[n-1].TotalQuantity = groups[n-1].TotalQuantity.Add(b.Quantity)
			groups[n-1].Batches = append(groups[n-1].Batches, b)
			continue
		}
		groups = append(groups, ExpiryGroup{
			ExpiryDate:    b.ExpiryDate,
			TotalQuantity: b.Quantity,
			Batches:       []Batch{b},
		})
	}
	return groups
}

// sameExpiry compares two optional expiry dates
// 任意指定の有効期限2つを比較
func sameExpiry(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
