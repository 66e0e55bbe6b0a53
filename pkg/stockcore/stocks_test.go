package stockcore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajaadasyntax/ma3mora-stock-core/pkg/stockcore"
)

// TestStockReader_GetStocks は倉庫別在庫一覧と部門絞り込みのテスト
func TestStockReader_GetStocks(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedItem(t, "soap", "household")
	core.seedInventory(t, "main")
	ctx := context.Background()

	core.seedBatch(t, "rice", "main", 10, daysFromNow(10))
	core.seedBatch(t, "rice", "main", 5, daysFromNow(5))
	core.seedBatch(t, "soap", "main", 3, nil)

	stocks, err := core.reader.GetStocks(ctx, "main", "")
	require.NoError(t, err)
	require.Len(t, stocks, 2)

	// 商品ID順で返り、バッチはFEFO順
	assert.Equal(t, "rice", stocks[0].ItemID)
	assert.True(t, stocks[0].Quantity.Equal(dec(15)))
	require.Len(t, stocks[0].Batches, 2)
	assert.True(t, stocks[0].Batches[0].ExpiryDate.Before(*stocks[0].Batches[1].ExpiryDate))
	assert.Equal(t, "soap", stocks[1].ItemID)

	// 部門絞り込み
	food, err := core.reader.GetStocks(ctx, "main", "food")
	require.NoError(t, err)
	require.Len(t, food, 1)
	assert.Equal(t, "rice", food[0].ItemID)
}

// TestStockReader_GetDeliveryBatches はピッキングビューの期限別
// グループ化テスト
func TestStockReader_GetDeliveryBatches(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	ctx := context.Background()

	sharedExpiry := daysFromNow(10)
	core.seedBatch(t, "rice", "main", 4, sharedExpiry)
	core.seedBatch(t, "rice", "main", 6, sharedExpiry)
	core.seedBatch(t, "rice", "main", 8, daysFromNow(30))
	core.seedSalesOrder(t, "ord-1", "main", "rice", 12, 0)

	lines, err := core.reader.GetDeliveryBatches(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, lines, 1)

	line := lines[0]
	assert.True(t, line.TotalOrdered.Equal(dec(12)))
	assert.True(t, line.Remaining.Equal(dec(12)))

	// 同一期限のバッチは1グループにまとまる
	require.Len(t, line.ExpiryGroups, 2)
	assert.True(t, line.ExpiryGroups[0].TotalQuantity.Equal(dec(10)))
	require.Len(t, line.ExpiryGroups[0].Batches, 2)
	assert.True(t, line.ExpiryGroups[1].TotalQuantity.Equal(dec(8)))
}

// TestStockReader_GetDeliveryBatches_DeliveredLine は出荷完了行が
// 空グループで返ることのテスト
func TestStockReader_GetDeliveryBatches_DeliveredLine(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	ctx := context.Background()

	core.seedBatch(t, "rice", "main", 10, daysFromNow(10))
	core.seedSalesOrder(t, "ord-1", "main", "rice", 5, 0)

	_, err := core.fulfiller.DeliverFull(ctx, stockcore.DeliverRequest{OrderID: "ord-1"})
	require.NoError(t, err)

	lines, err := core.reader.GetDeliveryBatches(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].Remaining.IsZero())
	assert.Empty(t, lines[0].ExpiryGroups)
}
