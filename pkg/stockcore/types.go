// Package stockcore provides the lot-tracked fulfillment and
// stock-movement reconciliation core.
// ロット追跡型の出荷・在庫移動照合コアを提供
package stockcore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Item represents a product handled by the business
// 取扱商品を表現
type Item struct {
	ID        string    `json:"id" db:"id"`                 // 商品ID
	Name      string    `json:"name" db:"name"`             // 商品名
	Section   string    `json:"section" db:"section"`       // 部門（食品、雑貨など）
	CreatedAt time.Time `json:"created_at" db:"created_at"` // 作成日時
}

// Inventory represents a physical stock location
// 物理的な在庫拠点を表現
type Inventory struct {
	ID        string    `json:"id" db:"id"`                 // 倉庫ID
	Name      string    `json:"name" db:"name"`             // 倉庫名
	CreatedAt time.Time `json:"created_at" db:"created_at"` // 作成日時
}

// Batch is a lot of one item received at one time at one inventory.
// Quantity is the remaining quantity and never goes below zero. Batches
// are kept at zero quantity to preserve audit lineage.
// 1回の入荷で受け入れた1商品のロット。Quantityは残数量で負にはならない。
// 監査系譜を保持するため数量0でも削除しない。
type Batch struct {
	ID          string          `json:"id" db:"id"`                   // バッチID
	ItemID      string          `json:"item_id" db:"item_id"`         // 商品ID
	InventoryID string          `json:"inventory_id" db:"inventory_id"` // 倉庫ID
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`       // 残数量
	ReceivedAt  time.Time       `json:"received_at" db:"received_at"` // 入荷日時
	ExpiryDate  *time.Time      `json:"expiry_date" db:"expiry_date"` // 有効期限（任意）
	Provenance  string          `json:"provenance" db:"provenance"`   // 出所（発注ID・振替IDなど）
	Notes       string          `json:"notes" db:"notes"`             // 備考
	Version     int64           `json:"version" db:"version"`         // 楽観的ロック用バージョン
}

// IsExpired checks if a batch has expired
// バッチが期限切れかチェック
func (b *Batch) IsExpired(now time.Time) bool {
	if b.ExpiryDate == nil {
		return false
	}
	return now.After(*b.ExpiryDate)
}

// IsExpiringSoon checks if a batch expires within the given duration
// バッチが指定期間内に期限切れになるかチェック
func (b *Batch) IsExpiringSoon(now time.Time, within time.Duration) bool {
	if b.ExpiryDate == nil {
		return false
	}
	return now.Add(within).After(*b.ExpiryDate)
}

// OrderKind distinguishes sales orders from procurement orders
// 受注と発注を区別
type OrderKind string

const (
	OrderKindSales       OrderKind = "sales"       // 受注（販売）
	OrderKindProcurement OrderKind = "procurement" // 発注（仕入）
)

// OrderStatus defines the order state machine.
// CREATED → PARTIAL → DELIVERED/RECEIVED、CREATED/PARTIAL → CANCELLED。
// CANCELLEDは終端で、確定済みAllocationを巻き戻さない。
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "CREATED"   // 作成済み
	OrderStatusPartial   OrderStatus = "PARTIAL"   // 一部出荷済み
	OrderStatusDelivered OrderStatus = "DELIVERED" // 全量出荷済み（受注）
	OrderStatusReceived  OrderStatus = "RECEIVED"  // 全量入荷済み（発注）
	OrderStatusCancelled OrderStatus = "CANCELLED" // キャンセル（終端）
)

// IsTerminal reports whether no further fulfillment is allowed
// これ以上の出荷操作を許可しない状態かを返す
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusReceived || s == OrderStatusCancelled
}

// OrderLine is one item line of an order. Two gift mechanisms coexist:
// GiftQty is the legacy same-item gift quantity bundled with the line,
// IsGiftItem marks the newer separate-gift-item line. Both are preserved.
// 注文の1商品行。ギフト機構は2系統が併存する：GiftQtyは旧来の同一商品
// おまけ数量、IsGiftItemは新しい独立ギフト商品行。両方を保持する。
type OrderLine struct {
	ItemID       string          `json:"item_id" db:"item_id"`             // 商品ID
	OrderedQty   decimal.Decimal `json:"ordered_qty" db:"ordered_qty"`     // 注文数量
	GiftQty      decimal.Decimal `json:"gift_qty" db:"gift_qty"`           // 同一商品ギフト数量（旧方式）
	IsGiftItem   bool            `json:"is_gift_item" db:"is_gift_item"`   // 独立ギフト商品行（新方式）
	DeliveredQty decimal.Decimal `json:"delivered_qty" db:"delivered_qty"` // 出荷済み数量
}

// TotalQty returns ordered plus legacy gift quantity
// 注文数量と旧方式ギフト数量の合計を返す
func (l *OrderLine) TotalQty() decimal.Decimal {
	return l.OrderedQty.Add(l.GiftQty)
}

// RemainingQty returns the undelivered quantity of the line
// 未出荷数量を返す
func (l *OrderLine) RemainingQty() decimal.Decimal {
	return l.TotalQty().Sub(l.DeliveredQty)
}

// Order represents a sales or procurement order
// 受注または発注を表現
type Order struct {
	ID               string      `json:"id" db:"id"`                             // 注文ID
	Kind             OrderKind   `json:"kind" db:"kind"`                         // 種別
	InventoryID      string      `json:"inventory_id" db:"inventory_id"`         // 対象倉庫ID
	Lines            []OrderLine `json:"lines"`                                  // 明細行
	Status           OrderStatus `json:"status" db:"status"`                     // ステータス
	PaymentConfirmed bool        `json:"payment_confirmed" db:"payment_confirmed"` // 支払確認済み
	Version          int64       `json:"version" db:"version"`                   // 楽観的ロック用バージョン
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`             // 作成日時
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`             // 更新日時
}

// Line returns the line for an item, or nil
// 指定商品の明細行を返す（存在しなければnil）
func (o *Order) Line(itemID string) *OrderLine {
	for i := range o.Lines {
		if o.Lines[i].ItemID == itemID {
			return &o.Lines[i]
		}
	}
	return nil
}

// RecomputeStatus derives the status from line delivery progress.
// CANCELLEDからは遷移しない。
func (o *Order) RecomputeStatus() {
	if o.Status == OrderStatusCancelled {
		return
	}
	allDone := true
	anyDone := false
	for i := range o.Lines {
		if o.Lines[i].RemainingQty().IsPositive() {
			allDone = false
		}
		if o.Lines[i].DeliveredQty.IsPositive() {
			anyDone = true
		}
	}
	switch {
	case allDone:
		if o.Kind == OrderKindProcurement {
			o.Status = OrderStatusReceived
		} else {
			o.Status = OrderStatusDelivered
		}
	case anyDone:
		o.Status = OrderStatusPartial
	default:
		o.Status = OrderStatusCreated
	}
}

// GiftVariant identifies which gift mechanism a movement belongs to
// 在庫移動がどちらのギフト機構に属するかを識別
type GiftVariant string

const (
	GiftVariantNone         GiftVariant = ""              // ギフトではない
	GiftVariantSameItem     GiftVariant = "same_item"     // 同一商品ギフト（旧方式）
	GiftVariantSeparateItem GiftVariant = "separate_item" // 独立ギフト商品（新方式）
)

// Allocation is the immutable record that a quantity of a batch was
// committed to an order. Never mutated or deleted.
// バッチの数量を注文に確定した不変の記録。更新も削除もされない。
type Allocation struct {
	ID          string          `json:"id" db:"id"`                   // 引当ID
	OrderID     string          `json:"order_id" db:"order_id"`       // 注文ID
	ItemID      string          `json:"item_id" db:"item_id"`         // 商品ID
	BatchID     string          `json:"batch_id" db:"batch_id"`       // バッチID
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`       // 確定数量
	OperationID string          `json:"operation_id" db:"operation_id"` // 操作ID（冪等性キー）
	CommittedAt time.Time       `json:"committed_at" db:"committed_at"` // 確定日時
}

// MovementKind defines the direction and gift classification of a
// journal entry
// 在庫移動仕訳の方向とギフト分類を定義
type MovementKind string

const (
	MovementIncoming     MovementKind = "incoming"      // 入庫
	MovementOutgoing     MovementKind = "outgoing"      // 出庫
	MovementIncomingGift MovementKind = "incoming_gift" // ギフト入庫
	MovementOutgoingGift MovementKind = "outgoing_gift" // ギフト出庫
)

// MovementEntry is one row of the append-only stock movement journal.
// The reconciler derives the daily ledger from these entries.
// 追記専用の在庫移動仕訳の1行。照合エンジンはここから日次台帳を導出する。
type MovementEntry struct {
	ID          string          `json:"id" db:"id"`                     // 仕訳ID
	ItemID      string          `json:"item_id" db:"item_id"`           // 商品ID
	InventoryID string          `json:"inventory_id" db:"inventory_id"` // 倉庫ID
	Kind        MovementKind    `json:"kind" db:"kind"`                 // 種別
	GiftVariant GiftVariant     `json:"gift_variant" db:"gift_variant"` // ギフト機構
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`         // 数量（常に正）
	Reference   string          `json:"reference" db:"reference"`       // 参照（注文ID・振替IDなど）
	OccurredAt  time.Time       `json:"occurred_at" db:"occurred_at"`   // 発生日時
}

// StockMovementDay is one derived day of the balance ledger. Not stored
// authoritatively; recomputed from the movement journal.
// 導出された日次残高台帳の1日分。正本としては保存せず仕訳から再計算する。
type StockMovementDay struct {
	Date            time.Time       `json:"date"`             // 日付（UTC、日単位）
	ItemID          string          `json:"item_id"`          // 商品ID
	InventoryID     string          `json:"inventory_id"`     // 倉庫ID
	OpeningBalance  decimal.Decimal `json:"opening_balance"`  // 期首残高
	Incoming        decimal.Decimal `json:"incoming"`         // 入庫
	Outgoing        decimal.Decimal `json:"outgoing"`         // 出庫
	IncomingGifts   decimal.Decimal `json:"incoming_gifts"`   // ギフト入庫
	OutgoingGifts   decimal.Decimal `json:"outgoing_gifts"`   // ギフト出庫
	PendingOutgoing decimal.Decimal `json:"pending_outgoing"` // 未出荷引当
	ClosingBalance  decimal.Decimal `json:"closing_balance"`  // 期末残高
}

// ItemMovements bundles the daily ledger of one item with its live stock
// 1商品の日次台帳と現在在庫をまとめる
type ItemMovements struct {
	ItemID       string             `json:"item_id"`       // 商品ID
	Movements    []StockMovementDay `json:"movements"`     // 日次台帳
	CurrentStock decimal.Decimal    `json:"current_stock"` // 現在在庫
	Mismatch     bool               `json:"mismatch"`      // 照合不一致フラグ
}

// StockMovementReport is the full daily movement report for a range.
// Mismatch is a diagnostic signal, never a hard failure.
// 指定期間の日次在庫移動レポート。Mismatchは診断用であり読取を妨げない。
type StockMovementReport struct {
	InventoryID string          `json:"inventory_id"`  // 倉庫ID
	StartDate   time.Time       `json:"start_date"`    // 開始日
	EndDate     time.Time       `json:"end_date"`      // 終了日
	Items       []ItemMovements `json:"items"`         // 商品別台帳
	Mismatch    bool            `json:"mismatch"`      // いずれかの商品で不一致
	ComputedAt  time.Time       `json:"computed_at"`   // 計算日時
}

// ExpiryInfo summarizes expiry state across the batches of one item
// 1商品のバッチ群の期限状態を要約
type ExpiryInfo struct {
	EarliestExpiry *time.Time `json:"earliest_expiry"` // 最も早い有効期限
	ExpiringSoon   bool       `json:"expiring_soon"`   // 期限間近バッチあり
	HasExpired     bool       `json:"has_expired"`     // 期限切れバッチあり
}

// ItemStock is one row of the GetStocks read model
// 在庫照会リードモデルの1行
type ItemStock struct {
	ItemID     string          `json:"item_id"`     // 商品ID
	ItemName   string          `json:"item_name"`   // 商品名
	Section    string          `json:"section"`     // 部門
	Quantity   decimal.Decimal `json:"quantity"`    // 合計在庫
	Batches    []Batch         `json:"batches"`     // FEFO順バッチ一覧
	ExpiryInfo ExpiryInfo      `json:"expiry_info"` // 期限要約
}

// ExpiryGroup groups delivery candidate batches sharing an expiry date
// 同一有効期限の出荷候補バッチをまとめる
type ExpiryGroup struct {
	ExpiryDate    *time.Time      `json:"expiry_date"`    // 有効期限（nilは期限なし）
	TotalQuantity decimal.Decimal `json:"total_quantity"` // グループ合計数量
	Batches       []Batch         `json:"batches"`        // FEFO順バッチ
}

// DeliveryLineBatches is the delivery picking view of one order line
// 注文明細1行の出荷ピッキングビュー
type DeliveryLineBatches struct {
	ItemID       string          `json:"item_id"`       // 商品ID
	TotalOrdered decimal.Decimal `json:"total_ordered"` // 総注文数量（ギフト含む）
	Delivered    decimal.Decimal `json:"delivered"`     // 出荷済み
	Remaining    decimal.Decimal `json:"remaining"`     // 残数量
	ExpiryGroups []ExpiryGroup   `json:"expiry_groups"` // 期限別グループ
}

// PlannedConsumption is one step of an allocation plan
// 引当計画の1ステップ
type PlannedConsumption struct {
	BatchID  string          `json:"batch_id"` // バッチID
	Quantity decimal.Decimal `json:"quantity"` // 消費数量
}

// OrderResult is returned by fulfillment and cancellation operations
// 出荷・キャンセル操作の結果
type OrderResult struct {
	OrderID     string       `json:"order_id"`     // 注文ID
	Status      OrderStatus  `json:"status"`       // 遷移後ステータス
	Lines       []OrderLine  `json:"lines"`        // 更新後明細
	Allocations []Allocation `json:"allocations"`  // 今回確定した引当
	OperationID string       `json:"operation_id"` // 操作ID
}

// TransferResult is returned by inter-inventory transfers
// 倉庫間振替の結果
type TransferResult struct {
	TransferID      string               `json:"transfer_id"`      // 振替ID
	FromInventoryID string               `json:"from_inventory_id"` // 移動元倉庫
	ToInventoryID   string               `json:"to_inventory_id"`  // 移動先倉庫
	ItemID          string               `json:"item_id"`          // 商品ID
	Quantity        decimal.Decimal      `json:"quantity"`         // 振替数量
	Consumed        []PlannedConsumption `json:"consumed"`         // 消費した移動元バッチ
	CreatedBatches  []Batch              `json:"created_batches"`  // 作成した移動先バッチ
}

// NewID generates a new record id
// 新しいレコードIDを生成
func NewID() string {
	return uuid.New().String()
}
