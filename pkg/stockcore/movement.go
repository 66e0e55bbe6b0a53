package stockcore

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Reconciler derives the daily stock movement ledger from the
// append-only movement journal and checks it against live batch
// quantities. A mismatch is reported as a diagnostic flag and event,
// never as a failure: the report always renders.
// 追記専用の移動仕訳から日次在庫台帳を導出し、バッチの実数量と照合する。
// 不一致は診断フラグとイベントで報告し、処理は失敗させない。レポートは
// 常に出力される。
type Reconciler struct {
	storage   Storage        // ストレージ層
	ledger    *Ledger        // ロット台帳
	publisher EventPublisher // イベント発行者
	logger    *zap.Logger    // ログ
	config    *Config        // 設定
}

// NewReconciler creates a new movement reconciler
// 新しい照合エンジンを作成
func NewReconciler(storage Storage, ledger *Ledger, publisher EventPublisher, logger *zap.Logger, config *Config) *Reconciler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Reconciler{
		storage:   storage,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger,
		config:    config,
	}
}

// StockMovementReport computes the daily ledger of every item that has
// stock or journal activity in the inventory. itemID narrows the report
// to one item when non-empty.
// 倉庫内で在庫または仕訳のあるすべての商品の日次台帳を計算する。
// itemIDを指定すると1商品に絞り込む。
func (r *Reconciler) StockMovementReport(ctx context.Context, inventoryID, itemID string, start, end time.Time) (*StockMovementReport, error) {
	if err := ValidateInventoryID(inventoryID); err != nil {
		return nil, err
	}
	if itemID != "" {
		if err := ValidateItemID(itemID); err != nil {
			return nil, err
		}
	}
	if err := ValidateDateRange(start, end); err != nil {
		return nil, err
	}
	if _, err := r.storage.GetInventory(ctx, inventoryID); err != nil {
		if err == ErrInventoryNotFound {
			return nil, ErrInventoryNotFound
		}
		return nil, NewStorageError("get_inventory", "倉庫取得に失敗しました", err)
	}

	itemIDs, err := r.reportItems(ctx, inventoryID, itemID, end)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	report := &StockMovementReport{
		InventoryID: inventoryID,
		StartDate:   dayStartUTC(start),
		EndDate:     dayStartUTC(end),
		ComputedAt:  started,
	}
	for _, id := range itemIDs {
		item, err := r.itemMovements(ctx, inventoryID, id, start, end)
		if err != nil {
			return nil, err
		}
		report.Items = append(report.Items, *item)
		if item.Mismatch {
			report.Mismatch = true
		}
	}

	if r.publisher != nil {
		_ = r.publisher.PublishReportComputed(ctx, ReportComputedEvent{
			InventoryID: inventoryID,
			ItemCount:   len(report.Items),
			Duration:    time.Since(started),
			Timestamp:   time.Now(),
		})
	}
	return report, nil
}

// itemMovements builds the daily ledger of one item and reconciles the
// final closing balance against the live batch sum
// 1商品の日次台帳を構築し、最終期末残高をバッチ実数量と照合
func (r *Reconciler) itemMovements(ctx context.Context, inventoryID, itemID string, start, end time.Time) (*ItemMovements, error) {
	startDay := dayStartUTC(start)
	endDay := dayStartUTC(end)

	// 期首残高を求めるため期間前の仕訳もすべて読む
	entries, err := r.storage.ListMovements(ctx, inventoryID, itemID, time.Time{}, endDay.AddDate(0, 0, 1))
	if err != nil {
		return nil, NewStorageError("list_movements", "仕訳取得に失敗しました", err)
	}

	opening := decimal.Zero
	byDay := make(map[time.Time][]MovementEntry)
	for _, e := range entries {
		day := dayStartUTC(e.OccurredAt)
		if day.Before(startDay) {
			opening = opening.Add(signedQuantity(e))
			continue
		}
		byDay[day] = append(byDay[day], e)
	}

	pending, err := r.pendingOutgoing(ctx, inventoryID, itemID)
	if err != nil {
		return nil, err
	}

	result := &ItemMovements{ItemID: itemID}
	balance := opening
	for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
		row := StockMovementDay{
			Date:            day,
			ItemID:          itemID,
			InventoryID:     inventoryID,
			OpeningBalance:  balance,
			Incoming:        decimal.Zero,
			Outgoing:        decimal.Zero,
			IncomingGifts:   decimal.Zero,
			OutgoingGifts:   decimal.Zero,
			PendingOutgoing: pending,
		}
		for _, e := range byDay[day] {
			switch e.Kind {
			case MovementIncoming:
				row.Incoming = row.Incoming.Add(e.Quantity)
			case MovementOutgoing:
				row.Outgoing = row.Outgoing.Add(e.Quantity)
			case MovementIncomingGift:
				row.IncomingGifts = row.IncomingGifts.Add(e.Quantity)
			case MovementOutgoingGift:
				row.OutgoingGifts = row.OutgoingGifts.Add(e.Quantity)
			}
		}
		balance = balance.Add(row.Incoming).Add(row.IncomingGifts).Sub(row.Outgoing).Sub(row.OutgoingGifts)
		row.ClosingBalance = balance
		result.Movements = append(result.Movements, row)
	}

	live, err := r.ledger.AvailableQuantity(ctx, itemID, inventoryID)
	if err != nil {
		return nil, err
	}
	result.CurrentStock = live

	// 期間がジャーナル全体を覆う場合のみ最終期末と実在庫を照合できる
	if !endDay.Before(dayStartUTC(time.Now())) {
		diff := balance.Sub(live).Abs()
		if diff.GreaterThan(r.config.ReconcileEpsilon) {
			result.Mismatch = true
			r.logger.Warn("在庫照合の不一致を検出しました",
				zap.String("inventory_id", inventoryID),
				zap.String("item_id", itemID),
				zap.String("computed", balance.String()),
				zap.String("live", live.String()),
			)
			if r.publisher != nil {
				_ = r.publisher.PublishReconciliationMismatch(ctx, ReconciliationMismatchEvent{
					InventoryID: inventoryID,
					ItemID:      itemID,
					Computed:    balance,
					Live:        live,
					Timestamp:   time.Now(),
				})
			}
		}
	}
	return result, nil
}

// pendingOutgoing sums the undelivered quantity of open sales orders for
// one item at one inventory. The figure describes present commitments and
// is repeated on every day row rather than backdated.
// 1商品・1倉庫の未完了受注の未出荷数量を合計する。現在の引当予定を表す
// 値であり、過去日に遡及させず全日行に同じ値を載せる。
func (r *Reconciler) pendingOutgoing(ctx context.Context, inventoryID, itemID string) (decimal.Decimal, error) {
	orders, err := r.storage.ListOpenOrdersByInventory(ctx, inventoryID)
	if err != nil {
		return decimal.Zero, NewStorageError("list_open_orders", "未完了注文の取得に失敗しました", err)
	}
	pending := decimal.Zero
	for _, o := range orders {
		if o.Kind != OrderKindSales {
			continue
		}
		if line := o.Line(itemID); line != nil {
			remaining := line.RemainingQty()
			if remaining.IsPositive() {
				pending = pending.Add(remaining)
			}
		}
	}
	return pending, nil
}

// reportItems enumerates the item ids covered by a report
// レポート対象の商品IDを列挙
func (r *Reconciler) reportItems(ctx context.Context, inventoryID, itemID string, end time.Time) ([]string, error) {
	if itemID != "" {
		return []string{itemID}, nil
	}

	seen := make(map[string]bool)
	var ids []string
	batches, err := r.storage.ListBatchesByInventory(ctx, inventoryID)
	if err != nil {
		return nil, NewStorageError("list_batches", "バッチ取得に失敗しました", err)
	}
	for _, b := range batches {
		if !seen[b.ItemID] {
			seen[b.ItemID] = true
			ids = append(ids, b.ItemID)
		}
	}
	// 在庫が尽きた商品も仕訳があればレポートに含める
	entries, err := r.storage.ListMovements(ctx, inventoryID, "", time.Time{}, dayStartUTC(end).AddDate(0, 0, 1))
	if err != nil {
		return nil, NewStorageError("list_movements", "仕訳取得に失敗しました", err)
	}
	for _, e := range entries {
		if !seen[e.ItemID] {
			seen[e.ItemID] = true
			ids = append(ids, e.ItemID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// signedQuantity maps a journal entry to its balance contribution
// 仕訳1行の残高への寄与を符号付きで返す
func signedQuantity(e MovementEntry) decimal.Decimal {
	switch e.Kind {
	case MovementIncoming, MovementIncomingGift:
		return e.Quantity
	default:
		return e.Quantity.Neg()
	}
}

// dayStartUTC truncates a timestamp to its UTC day boundary
// タイムスタンプをUTCの日境界へ切り捨て
func dayStartUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
