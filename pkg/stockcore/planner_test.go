package stockcore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajaadasyntax/ma3mora-stock-core/pkg/stockcore"
)

// TestPlanner_PlanFEFO は複数バッチにまたがるFEFO引当のテスト
func TestPlanner_PlanFEFO(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "oil", "food")
	core.seedInventory(t, "main")
	ctx := context.Background()

	early := core.seedBatch(t, "oil", "main", 10, daysFromNow(10))
	late := core.seedBatch(t, "oil", "main", 10, daysFromNow(40))

	plan, err := core.planner.PlanFEFO(ctx, "oil", "main", dec(12))
	require.NoError(t, err)
	require.Len(t, plan, 2)

	// 期限の早いバッチから使い切り、残りを次のバッチへ
	assert.Equal(t, early.ID, plan[0].BatchID)
	assert.True(t, plan[0].Quantity.Equal(dec(10)))
	assert.Equal(t, late.ID, plan[1].BatchID)
	assert.True(t, plan[1].Quantity.Equal(dec(2)))
}

// TestPlanner_PlanFEFO_InsufficientStock は在庫不足時に部分計画を
// 返さないことのテスト
func TestPlanner_PlanFEFO_InsufficientStock(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "oil", "food")
	core.seedInventory(t, "main")
	core.seedBatch(t, "oil", "main", 5, daysFromNow(10))

	plan, err := core.planner.PlanFEFO(context.Background(), "oil", "main", dec(8))
	require.Error(t, err)
	assert.Equal(t, stockcore.CodeInsufficientStock, stockcore.CodeOf(err))
	assert.Nil(t, plan)
}

// TestPlanner_ValidateManualAllocation_InsufficientBatch はバッチ残数量
// 超過の手動引当拒否テスト
func TestPlanner_ValidateManualAllocation_InsufficientBatch(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "oil", "food")
	core.seedInventory(t, "main")
	ctx := context.Background()

	batch := core.seedBatch(t, "oil", "main", 5, daysFromNow(10))
	order := core.seedSalesOrder(t, "ord-1", "main", "oil", 10, 0)

	err := core.planner.ValidateManualAllocation(ctx, order, "oil", []stockcore.PlannedConsumption{
		{BatchID: batch.ID, Quantity: dec(8)},
	})
	require.Error(t, err)
	assert.Equal(t, stockcore.CodeInsufficientBatchQuantity, stockcore.CodeOf(err))

	// 検証のみで状態は変わらない
	got, getErr := core.store.GetBatch(ctx, batch.ID)
	require.NoError(t, getErr)
	assert.True(t, got.Quantity.Equal(dec(5)))
}

// TestPlanner_ValidateManualAllocation_OverAllocation は明細残数量
// 超過の拒否テスト
func TestPlanner_ValidateManualAllocation_OverAllocation(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "oil", "food")
	core.seedInventory(t, "main")

	b1 := core.seedBatch(t, "oil", "main", 10, daysFromNow(10))
	b2 := core.seedBatch(t, "oil", "main", 10, daysFromNow(20))
	order := core.seedSalesOrder(t, "ord-1", "main", "oil", 5, 0)

	err := core.planner.ValidateManualAllocation(context.Background(), order, "oil", []stockcore.PlannedConsumption{
		{BatchID: b1.ID, Quantity: dec(4)},
		{BatchID: b2.ID, Quantity: dec(4)},
	})
	require.Error(t, err)
	assert.Equal(t, stockcore.CodeOverAllocation, stockcore.CodeOf(err))
}

// TestPlanner_ValidateManualAllocation_WrongInventory は注文倉庫外の
// バッチ引当拒否テスト
func TestPlanner_ValidateManualAllocation_WrongInventory(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "oil", "food")
	core.seedInventory(t, "main")
	core.seedInventory(t, "store")

	other := core.seedBatch(t, "oil", "store", 10, daysFromNow(10))
	order := core.seedSalesOrder(t, "ord-1", "main", "oil", 5, 0)

	err := core.planner.ValidateManualAllocation(context.Background(), order, "oil", []stockcore.PlannedConsumption{
		{BatchID: other.ID, Quantity: dec(5)},
	})
	require.Error(t, err)
}

// BenchmarkPlanFEFO は多数バッチに対するFEFO引当計画のベンチマーク
func BenchmarkPlanFEFO(b *testing.B) {
	core := newTestCore(b)
	core.seedItem(b, "oil", "food")
	core.seedInventory(b, "main")
	for i := 0; i < 100; i++ {
		core.seedBatch(b, "oil", "main", 10, daysFromNow(i+1))
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := core.planner.PlanFEFO(ctx, "oil", "main", dec(500)); err != nil {
			b.Fatal(err)
		}
	}
}
