package stockcore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajaadasyntax/ma3mora-stock-core/pkg/stockcore"
)

// seedJournal fabricates a backdated journal with a matching live batch:
// 3日前に入庫10、2日前に出庫3、1日前にギフト入庫5（残高12）
func seedJournal(t *testing.T, core *testCore) {
	t.Helper()
	day := func(offset int) time.Time { return time.Now().AddDate(0, 0, offset) }
	commit := &stockcore.ReceiptCommit{
		Batches: []stockcore.Batch{{
			ID:          stockcore.NewID(),
			ItemID:      "rice",
			InventoryID: "main",
			Quantity:    dec(12),
			ReceivedAt:  day(-3),
			Version:     1,
		}},
		Movements: []stockcore.MovementEntry{
			{ID: stockcore.NewID(), ItemID: "rice", InventoryID: "main", Kind: stockcore.MovementIncoming, Quantity: dec(10), OccurredAt: day(-3)},
			{ID: stockcore.NewID(), ItemID: "rice", InventoryID: "main", Kind: stockcore.MovementOutgoing, Quantity: dec(3), OccurredAt: day(-2)},
			{ID: stockcore.NewID(), ItemID: "rice", InventoryID: "main", Kind: stockcore.MovementIncomingGift, GiftVariant: stockcore.GiftVariantSameItem, Quantity: dec(5), OccurredAt: day(-1)},
		},
	}
	require.NoError(t, core.store.ApplyReceipt(context.Background(), commit))
}

// TestReconciler_DailyLedger は日次台帳の導出テスト：期首期末の連鎖、
// ギフト列の分離、照合一致
func TestReconciler_DailyLedger(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	seedJournal(t, core)
	ctx := context.Background()

	report, err := core.reconciler.StockMovementReport(ctx, "main", "rice",
		time.Now().AddDate(0, 0, -3), time.Now())
	require.NoError(t, err)
	require.Len(t, report.Items, 1)

	item := report.Items[0]
	require.Len(t, item.Movements, 4) // 3日前〜今日

	// 期首0 → 入庫10
	assert.True(t, item.Movements[0].OpeningBalance.IsZero())
	assert.True(t, item.Movements[0].Incoming.Equal(dec(10)))
	assert.True(t, item.Movements[0].ClosingBalance.Equal(dec(10)))

	// 前日の期末が翌日の期首になる
	assert.True(t, item.Movements[1].OpeningBalance.Equal(dec(10)))
	assert.True(t, item.Movements[1].Outgoing.Equal(dec(3)))
	assert.True(t, item.Movements[1].ClosingBalance.Equal(dec(7)))

	// ギフトは通常の入出庫と別列
	assert.True(t, item.Movements[2].IncomingGifts.Equal(dec(5)))
	assert.True(t, item.Movements[2].Incoming.IsZero())
	assert.True(t, item.Movements[2].ClosingBalance.Equal(dec(12)))

	// 仕訳のない日も行として現れる
	assert.True(t, item.Movements[3].Incoming.IsZero())
	assert.True(t, item.Movements[3].ClosingBalance.Equal(dec(12)))

	// 期末残高と実在庫が一致する
	assert.True(t, item.CurrentStock.Equal(dec(12)))
	assert.False(t, item.Mismatch)
	assert.False(t, report.Mismatch)
}

// TestReconciler_OpeningSeededFromHistory は期間前仕訳からの
// 期首残高算出テスト
func TestReconciler_OpeningSeededFromHistory(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	seedJournal(t, core)

	report, err := core.reconciler.StockMovementReport(context.Background(), "main", "rice",
		time.Now().AddDate(0, 0, -1), time.Now())
	require.NoError(t, err)
	require.Len(t, report.Items, 1)

	// 期間前の入庫10・出庫3が期首に畳み込まれる
	item := report.Items[0]
	require.NotEmpty(t, item.Movements)
	assert.True(t, item.Movements[0].OpeningBalance.Equal(dec(7)))
}

// TestReconciler_PendingOutgoing は未完了受注の未出荷数量が全日行に
// 同じ値で載ることのテスト
func TestReconciler_PendingOutgoing(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	seedJournal(t, core)
	core.seedSalesOrder(t, "ord-1", "main", "rice", 4, 0)

	report, err := core.reconciler.StockMovementReport(context.Background(), "main", "rice",
		time.Now().AddDate(0, 0, -3), time.Now())
	require.NoError(t, err)
	require.Len(t, report.Items, 1)

	for _, row := range report.Items[0].Movements {
		assert.True(t, row.PendingOutgoing.Equal(dec(4)))
	}
}

// TestReconciler_Mismatch は仕訳と実在庫の乖離検知テスト：
// レポートは失敗せず診断フラグとイベントで報告する
func TestReconciler_Mismatch(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	ctx := context.Background()

	// 仕訳なしでバッチだけが存在する（乖離状態）
	commit := &stockcore.ReceiptCommit{
		Batches: []stockcore.Batch{{
			ID:          stockcore.NewID(),
			ItemID:      "rice",
			InventoryID: "main",
			Quantity:    dec(10),
			ReceivedAt:  time.Now().AddDate(0, 0, -1),
			Version:     1,
		}},
	}
	require.NoError(t, core.store.ApplyReceipt(ctx, commit))

	report, err := core.reconciler.StockMovementReport(ctx, "main", "rice",
		time.Now().AddDate(0, 0, -1), time.Now())
	require.NoError(t, err)
	require.Len(t, report.Items, 1)

	assert.True(t, report.Items[0].Mismatch)
	assert.True(t, report.Mismatch)
	assert.True(t, report.Items[0].CurrentStock.Equal(dec(10)))

	// 乖離イベントが発行される
	require.Len(t, core.publisher.mismatches, 1)
	assert.Equal(t, "rice", core.publisher.mismatches[0].ItemID)
}

// TestReportCache_Invalidation は世代カウンタによるキャッシュ無効化テスト
func TestReportCache_Invalidation(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	seedJournal(t, core)
	ctx := context.Background()

	start := time.Now().AddDate(0, 0, -3)
	end := time.Now()

	first, err := core.reports.Get(ctx, "main", "rice", start, end)
	require.NoError(t, err)

	// 変更がなければ同じ実体が返る
	cached, err := core.reports.Get(ctx, "main", "rice", start, end)
	require.NoError(t, err)
	assert.Same(t, first, cached)

	// 変更イベントで世代が進み、次の読取で再計算される
	require.NoError(t, core.reports.PublishStockMutation(ctx, stockcore.StockMutationEvent{
		InventoryIDs: []string{"main"},
	}))
	rebuilt, err := core.reports.Get(ctx, "main", "rice", start, end)
	require.NoError(t, err)
	assert.NotSame(t, first, rebuilt)

	// EnsureUpToDateは再構築後の再呼び出しで何もしない
	require.NoError(t, core.reports.EnsureUpToDate(ctx, "main"))
}

// TestReportCache_CancelRefreshesPending は注文ライフサイクルによる
// 無効化テスト：キャンセル後のレポートは出荷予定を持たない
func TestReportCache_CancelRefreshesPending(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	core.seedBatch(t, "rice", "main", 10, daysFromNow(30))
	core.seedSalesOrder(t, "ord-1", "main", "rice", 4, 0)
	ctx := context.Background()

	start := time.Now().AddDate(0, 0, -1)
	end := time.Now()

	before, err := core.reports.Get(ctx, "main", "rice", start, end)
	require.NoError(t, err)
	require.NotEmpty(t, before.Items)
	rows := before.Items[0].Movements
	assert.True(t, rows[len(rows)-1].PendingOutgoing.Equal(dec(4)))

	_, err = core.fulfiller.CancelOrder(ctx, "ord-1", stockcore.RoleManager)
	require.NoError(t, err)

	// キャンセルで世代が進み、キャッシュ済みレポートは再計算される
	after, err := core.reports.Get(ctx, "main", "rice", start, end)
	require.NoError(t, err)
	assert.NotSame(t, before, after)
	rows = after.Items[0].Movements
	assert.True(t, rows[len(rows)-1].PendingOutgoing.IsZero())
}

// TestReconciler_PublishesComputation はレポート計算イベントの発行テスト：
// 計算時間の観測はイベント購読側（メトリクス層）が担う
func TestReconciler_PublishesComputation(t *testing.T) {
	core := newTestCore(t)
	core.seedItem(t, "rice", "food")
	core.seedInventory(t, "main")
	core.seedBatch(t, "rice", "main", 10, daysFromNow(30))
	ctx := context.Background()

	_, err := core.reconciler.StockMovementReport(ctx, "main", "rice", time.Now().AddDate(0, 0, -1), time.Now())
	require.NoError(t, err)

	require.Len(t, core.publisher.computed, 1)
	event := core.publisher.computed[0]
	assert.Equal(t, "main", event.InventoryID)
	assert.Equal(t, 1, event.ItemCount)
	assert.GreaterOrEqual(t, event.Duration, time.Duration(0))
}
