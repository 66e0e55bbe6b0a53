package stockcore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajaadasyntax/ma3mora-stock-core/pkg/stockcore"
	"github.com/sajaadasyntax/ma3mora-stock-core/pkg/stockcore/storage"
)

// TestFulfiller_DeliverFull は全量出荷とギフト分割仕訳のテスト
func TestFulfiller_DeliverFull(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	ctx := context.Background()

	early := core.seedBatch(t, "rice", "main", 10, daysFromNow(10))
	late := core.seedBatch(t, "rice", "main", 5, daysFromNow(40))
	core.seedSalesOrder(t, "ord-1", "main", "rice", 10, 2)

	result, err := core.fulfiller.DeliverFull(ctx, stockcore.DeliverRequest{OrderID: "ord-1"})
	require.NoError(t, err)
	assert.Equal(t, stockcore.OrderStatusDelivered, result.Status)
	require.Len(t, result.Allocations, 2)

	// FEFO順に消費される
	assert.Equal(t, early.ID, result.Allocations[0].BatchID)
	assert.True(t, result.Allocations[0].Quantity.Equal(dec(10)))
	assert.Equal(t, late.ID, result.Allocations[1].BatchID)
	assert.True(t, result.Allocations[1].Quantity.Equal(dec(2)))

	gotEarly, err := core.store.GetBatch(ctx, early.ID)
	require.NoError(t, err)
	assert.True(t, gotEarly.Quantity.IsZero())
	gotLate, err := core.store.GetBatch(ctx, late.ID)
	require.NoError(t, err)
	assert.True(t, gotLate.Quantity.Equal(dec(3)))

	// 注文分とギフト分が別の仕訳になる
	entries, err := core.store.ListMovements(ctx, "main", "rice", time.Time{}, time.Time{})
	require.NoError(t, err)
	var outgoing, gift int
	for _, e := range entries {
		switch e.Kind {
		case stockcore.MovementOutgoing:
			outgoing++
			assert.True(t, e.Quantity.Equal(dec(10)))
		case stockcore.MovementOutgoingGift:
			gift++
			assert.True(t, e.Quantity.Equal(dec(2)))
			assert.Equal(t, stockcore.GiftVariantSameItem, e.GiftVariant)
		}
	}
	assert.Equal(t, 1, outgoing)
	assert.Equal(t, 1, gift)
}

// TestFulfiller_PaymentGate は支払確認前の出荷拒否テスト
func TestFulfiller_PaymentGate(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	core.seedBatch(t, "rice", "main", 10, nil)

	order := core.seedSalesOrder(t, "ord-1", "main", "rice", 5, 0)
	order.PaymentConfirmed = false
	order.Version++
	require.NoError(t, core.store.UpdateOrder(context.Background(), order))

	_, err := core.fulfiller.DeliverFull(context.Background(), stockcore.DeliverRequest{OrderID: "ord-1"})
	require.Error(t, err)
	assert.Equal(t, stockcore.CodePaymentNotConfirmed, stockcore.CodeOf(err))
}

// TestFulfiller_DeliverPartial_AllOrNothing は一部出荷の全行検証テスト：
// 1行でも不正なら他の行も適用されない
func TestFulfiller_DeliverPartial_AllOrNothing(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedItem(t, "oil", "food")
	core.seedInventory(t, "main")
	ctx := context.Background()

	riceBatch := core.seedBatch(t, "rice", "main", 10, daysFromNow(30))
	oilBatch := core.seedBatch(t, "oil", "main", 2, daysFromNow(30))

	now := time.Now()
	order := &stockcore.Order{
		ID:          "ord-1",
		Kind:        stockcore.OrderKindSales,
		InventoryID: "main",
		Lines: []stockcore.OrderLine{
			{ItemID: "rice", OrderedQty: dec(5)},
			{ItemID: "oil", OrderedQty: dec(5)},
		},
		Status:           stockcore.OrderStatusCreated,
		PaymentConfirmed: true,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, core.store.CreateOrder(ctx, order))

	// 2行目がバッチ残数量を超える
	_, err := core.fulfiller.DeliverPartial(ctx, stockcore.PartialDeliverRequest{
		OrderID: "ord-1",
		Items: []stockcore.ItemAllocations{
			{ItemID: "rice", Allocations: []stockcore.PlannedConsumption{{BatchID: riceBatch.ID, Quantity: dec(5)}}},
			{ItemID: "oil", Allocations: []stockcore.PlannedConsumption{{BatchID: oilBatch.ID, Quantity: dec(5)}}},
		},
	})
	require.Error(t, err)
	assert.Equal(t, stockcore.CodeInsufficientBatchQuantity, stockcore.CodeOf(err))

	// どの行も適用されていない
	gotRice, err := core.store.GetBatch(ctx, riceBatch.ID)
	require.NoError(t, err)
	assert.True(t, gotRice.Quantity.Equal(dec(10)))
	gotOrder, err := core.store.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, stockcore.OrderStatusCreated, gotOrder.Status)
}

// TestFulfiller_DeliverPartial_DuplicateItemLines は重複明細の拒否テスト：
// 同一商品を複数明細に分けても注文超過とバッチの二重減算は起こらない
func TestFulfiller_DeliverPartial_DuplicateItemLines(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	ctx := context.Background()

	batch := core.seedBatch(t, "rice", "main", 8, daysFromNow(30))
	core.seedSalesOrder(t, "ord-1", "main", "rice", 5, 0)

	// 各明細は単独なら妥当な数量で、同じ商品と同じバッチを重ねて要求する
	_, err := core.fulfiller.DeliverPartial(ctx, stockcore.PartialDeliverRequest{
		OrderID: "ord-1",
		Items: []stockcore.ItemAllocations{
			{ItemID: "rice", Allocations: []stockcore.PlannedConsumption{{BatchID: batch.ID, Quantity: dec(5)}}},
			{ItemID: "rice", Allocations: []stockcore.PlannedConsumption{{BatchID: batch.ID, Quantity: dec(5)}}},
		},
	})
	require.Error(t, err)
	assert.Equal(t, stockcore.CodeValidation, stockcore.CodeOf(err))

	// バッチも注文も変化しない
	gotBatch, err := core.store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, gotBatch.Quantity.Equal(dec(8)))
	gotOrder, err := core.store.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, stockcore.OrderStatusCreated, gotOrder.Status)
	assert.True(t, gotOrder.Lines[0].DeliveredQty.IsZero())
}

// TestFulfiller_DeliverPartial_Replay は操作ID再送の拒否テスト
func TestFulfiller_DeliverPartial_Replay(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	ctx := context.Background()

	batch := core.seedBatch(t, "rice", "main", 10, daysFromNow(30))
	core.seedSalesOrder(t, "ord-1", "main", "rice", 10, 0)

	req := stockcore.PartialDeliverRequest{
		OrderID:     "ord-1",
		OperationID: "op-1",
		Items: []stockcore.ItemAllocations{
			{ItemID: "rice", Allocations: []stockcore.PlannedConsumption{{BatchID: batch.ID, Quantity: dec(4)}}},
		},
	}
	result, err := core.fulfiller.DeliverPartial(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, stockcore.OrderStatusPartial, result.Status)

	// 同じ操作IDの再送は黙殺せず拒否
	_, err = core.fulfiller.DeliverPartial(ctx, req)
	require.Error(t, err)
	assert.Equal(t, stockcore.CodeDuplicateOperation, stockcore.CodeOf(err))

	// 引当は最初の1回分のみ
	allocs, err := core.store.ListAllocationsByOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Len(t, allocs, 1)
	got, err := core.store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, got.Quantity.Equal(dec(6)))
}

// TestFulfiller_CancelBlocksDelivery はキャンセル済み注文の出荷拒否テスト
func TestFulfiller_CancelBlocksDelivery(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	core.seedBatch(t, "rice", "main", 10, nil)
	core.seedSalesOrder(t, "ord-1", "main", "rice", 5, 0)
	ctx := context.Background()

	result, err := core.fulfiller.CancelOrder(ctx, "ord-1", "")
	require.NoError(t, err)
	assert.Equal(t, stockcore.OrderStatusCancelled, result.Status)

	_, err = core.fulfiller.DeliverFull(ctx, stockcore.DeliverRequest{OrderID: "ord-1"})
	require.Error(t, err)
	assert.Equal(t, stockcore.CodeOrderCancelled, stockcore.CodeOf(err))
}

// failingStore always rejects fulfillment commits with a version conflict
// 常にバージョン競合で出荷コミットを拒否するストア
type failingStore struct {
	*storage.MemoryStorage
}

func (f *failingStore) ApplyFulfillment(ctx context.Context, commit *stockcore.FulfillmentCommit) error {
	return stockcore.ErrConcurrentModification
}

// TestFulfiller_RetryExhausted は競合再試行の上限超過テスト
func TestFulfiller_RetryExhausted(t *testing.T) {
	mem := storage.NewMemoryStorage()
	core := newTestCoreWith(t, mem, &failingStore{MemoryStorage: mem})
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	core.seedBatch(t, "rice", "main", 10, nil)
	core.seedSalesOrder(t, "ord-1", "main", "rice", 5, 0)

	_, err := core.fulfiller.DeliverFull(context.Background(), stockcore.DeliverRequest{OrderID: "ord-1"})
	require.Error(t, err)
	assert.Equal(t, stockcore.CodeRetryExhausted, stockcore.CodeOf(err))

	// MaxConflictRetries=2 なので3回試行される
	assert.Len(t, core.publisher.retries, 3)
}

// TestFulfiller_ReceiveOrder は発注入荷のテスト
func TestFulfiller_ReceiveOrder(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	ctx := context.Background()

	now := time.Now()
	order := &stockcore.Order{
		ID:          "po-1",
		Kind:        stockcore.OrderKindProcurement,
		InventoryID: "main",
		Lines: []stockcore.OrderLine{
			{ItemID: "rice", OrderedQty: dec(20)},
		},
		Status:    stockcore.OrderStatusCreated,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, core.store.CreateOrder(ctx, order))

	expiry := daysFromNow(180)
	result, err := core.fulfiller.ReceiveOrder(ctx, stockcore.ReceiveRequest{
		OrderID: "po-1",
		Lines:   []stockcore.ReceiptLine{{ItemID: "rice", ExpiryDate: expiry}},
	})
	require.NoError(t, err)
	assert.Equal(t, stockcore.OrderStatusReceived, result.Status)

	// 明細残数量ぶんのバッチが発注IDを出所として作られる
	batches, err := core.store.ListBatches(ctx, "rice", "main")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.True(t, batches[0].Quantity.Equal(dec(20)))
	assert.Equal(t, "po-1", batches[0].Provenance)
	require.NotNil(t, batches[0].ExpiryDate)
	assert.True(t, batches[0].ExpiryDate.Equal(*expiry))

	// 受注の出荷経路では発注を扱えない
	_, err = core.fulfiller.DeliverFull(ctx, stockcore.DeliverRequest{OrderID: "po-1"})
	require.Error(t, err)
}
