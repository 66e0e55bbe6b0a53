package stockcore_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajaadasyntax/ma3mora-stock-core/pkg/stockcore"
)

// TestTransferrer_Transfer は複数バッチにまたがる倉庫間移動のテスト：
// 総量保存と期限引き継ぎ
func TestTransferrer_Transfer(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	core.seedInventory(t, "store")
	ctx := context.Background()

	early := core.seedBatch(t, "rice", "main", 10, daysFromNow(10))
	late := core.seedBatch(t, "rice", "main", 10, daysFromNow(40))

	result, err := core.transferrer.Transfer(ctx, stockcore.TransferRequest{
		ItemID:          "rice",
		FromInventoryID: "main",
		ToInventoryID:   "store",
		Quantity:        dec(15),
	})
	require.NoError(t, err)
	require.Len(t, result.Consumed, 2)
	require.Len(t, result.CreatedBatches, 2)

	// FEFO順の消費
	assert.Equal(t, early.ID, result.Consumed[0].BatchID)
	assert.True(t, result.Consumed[0].Quantity.Equal(dec(10)))
	assert.Equal(t, late.ID, result.Consumed[1].BatchID)
	assert.True(t, result.Consumed[1].Quantity.Equal(dec(5)))

	// 消費分ごとの移動先バッチが期限を引き継ぐ
	assert.True(t, result.CreatedBatches[0].ExpiryDate.Equal(*early.ExpiryDate))
	assert.True(t, result.CreatedBatches[1].ExpiryDate.Equal(*late.ExpiryDate))

	// 総量は保存される
	fromQty, err := core.ledger.AvailableQuantity(ctx, "rice", "main")
	require.NoError(t, err)
	toQty, err := core.ledger.AvailableQuantity(ctx, "rice", "store")
	require.NoError(t, err)
	assert.True(t, fromQty.Equal(dec(5)))
	assert.True(t, toQty.Equal(dec(15)))
	assert.True(t, fromQty.Add(toQty).Equal(dec(20)))
}

// TestTransferrer_SameInventory は同一倉庫間の移動拒否テスト
func TestTransferrer_SameInventory(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")

	_, err := core.transferrer.Transfer(context.Background(), stockcore.TransferRequest{
		ItemID:          "rice",
		FromInventoryID: "main",
		ToInventoryID:   "main",
		Quantity:        dec(1),
	})
	require.Error(t, err)
	assert.Equal(t, stockcore.CodeSameInventory, stockcore.CodeOf(err))
}

// TestTransferrer_InsufficientStock は在庫不足時に何も移動しない
// ことのテスト
func TestTransferrer_InsufficientStock(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	core.seedInventory(t, "store")
	ctx := context.Background()

	batch := core.seedBatch(t, "rice", "main", 5, daysFromNow(30))

	_, err := core.transferrer.Transfer(ctx, stockcore.TransferRequest{
		ItemID:          "rice",
		FromInventoryID: "main",
		ToInventoryID:   "store",
		Quantity:        dec(8),
	})
	require.Error(t, err)
	assert.Equal(t, stockcore.CodeInsufficientStock, stockcore.CodeOf(err))

	got, err := core.store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, got.Quantity.Equal(dec(5)))
	toQty, err := core.ledger.AvailableQuantity(ctx, "rice", "store")
	require.NoError(t, err)
	assert.True(t, toQty.Equal(decimal.Zero))
}

// TestTransferrer_InvalidQuantity は非正数量の移動拒否テスト
func TestTransferrer_InvalidQuantity(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	core.seedInventory(t, "store")

	_, err := core.transferrer.Transfer(context.Background(), stockcore.TransferRequest{
		ItemID:          "rice",
		FromInventoryID: "main",
		ToInventoryID:   "store",
		Quantity:        dec(-1),
	})
	require.Error(t, err)
	assert.Equal(t, stockcore.CodeInvalidQuantity, stockcore.CodeOf(err))
}
