package stockcore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajaadasyntax/ma3mora-stock-core/pkg/stockcore"
)

// TestCapabilities はロール権限表のテスト
func TestCapabilities(t *testing.T) {
	assert.True(t, stockcore.Can(stockcore.RoleInventory, stockcore.CapReceiveDelivery))
	assert.True(t, stockcore.Can(stockcore.RoleManager, stockcore.CapTransferStock))
	assert.False(t, stockcore.Can(stockcore.RoleSales, stockcore.CapReceiveDelivery))
	assert.False(t, stockcore.Can(stockcore.RoleAccounting, stockcore.CapTransferStock))
	assert.False(t, stockcore.Can(stockcore.Role("unknown"), stockcore.CapViewReports))
}

// TestFulfiller_CapabilityDenied は権限のないロールによる出荷拒否テスト
func TestFulfiller_CapabilityDenied(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	core.seedBatch(t, "rice", "main", 10, nil)
	core.seedSalesOrder(t, "ord-1", "main", "rice", 5, 0)

	// 販売担当は出荷権限を持たない
	_, err := core.fulfiller.DeliverFull(context.Background(), stockcore.DeliverRequest{
		OrderID: "ord-1",
		Actor:   stockcore.RoleSales,
	})
	require.Error(t, err)
	assert.Equal(t, stockcore.CodeCapabilityDenied, stockcore.CodeOf(err))

	// 在庫担当は許可される
	_, err = core.fulfiller.DeliverFull(context.Background(), stockcore.DeliverRequest{
		OrderID: "ord-1",
		Actor:   stockcore.RoleInventory,
	})
	require.NoError(t, err)
}

// TestTransferrer_CapabilityDenied は権限のないロールによる振替拒否テスト
func TestTransferrer_CapabilityDenied(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	core.seedInventory(t, "store")
	core.seedBatch(t, "rice", "main", 10, nil)

	_, err := core.transferrer.Transfer(context.Background(), stockcore.TransferRequest{
		ItemID:          "rice",
		FromInventoryID: "main",
		ToInventoryID:   "store",
		Quantity:        dec(1),
		Actor:           stockcore.RoleAccounting,
	})
	require.Error(t, err)
	assert.Equal(t, stockcore.CodeCapabilityDenied, stockcore.CodeOf(err))
}
