package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/sajaadasyntax/ma3mora-stock-core/pkg/stockcore"
)

// PostgresStorage implements the Storage interface over PostgreSQL.
// Aggregate commits run in one database transaction; batch decrements
// carry a version predicate so concurrent writers lose cleanly with
// ErrConcurrentModification instead of double-consuming.
// PostgreSQL上のStorage実装。集約コミットは単一トランザクションで
// 実行し、バッチ減算はバージョン述語付きのため、並行書込は二重消費
// せずErrConcurrentModificationで敗退する。
type PostgresStorage struct {
	db *sql.DB // データベース接続
}

var _ stockcore.Storage = (*PostgresStorage)(nil)

// NewPostgresStorage opens a connection pool and verifies it
// 接続プールを開いて疎通確認
func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, stockcore.NewStorageError("connect", "データベース接続に失敗しました", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, stockcore.NewStorageError("ping", "データベース疎通確認に失敗しました", err)
	}
	return &PostgresStorage{db: db}, nil
}

// isUniqueViolation reports whether an error is a unique constraint hit
// 一意制約違反かを判定
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

// CreateItem stores a new item
// 新しい商品を保存
func (p *PostgresStorage) CreateItem(ctx context.Context, item *stockcore.Item) error {
	query := `
		INSERT INTO items (id, name, section, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := p.db.ExecContext(ctx, query, item.ID, item.Name, item.Section, item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return stockcore.NewStorageError("create_item", "商品IDが既に存在します", err)
		}
		return stockcore.NewStorageError("create_item", "商品の保存に失敗しました", err)
	}
	return nil
}

// GetItem retrieves an item by id
// IDで商品を取得
func (p *PostgresStorage) GetItem(ctx context.Context, itemID string) (*stockcore.Item, error) {
	query := `
		SELECT id, name, section, created_at
		FROM items
		WHERE id = $1`
	var item stockcore.Item
	err := p.db.QueryRowContext(ctx, query, itemID).Scan(&item.ID, &item.Name, &item.Section, &item.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, stockcore.ErrItemNotFound
	}
	if err != nil {
		return nil, stockcore.NewStorageError("get_item", "商品の取得に失敗しました", err)
	}
	return &item, nil
}

// ListItems lists items, optionally filtered by section
// 商品を一覧（部門での絞り込み可）
func (p *PostgresStorage) ListItems(ctx context.Context, section string) ([]stockcore.Item, error) {
	query := `
		SELECT id, name, section, created_at
		FROM items
		WHERE ($1 = '' OR section = $1)
		ORDER BY id`
	rows, err := p.db.QueryContext(ctx, query, section)
	if err != nil {
		return nil, stockcore.NewStorageError("list_items", "商品一覧の取得に失敗しました", err)
	}
	defer rows.Close()

	var items []stockcore.Item
	for rows.Next() {
		var item stockcore.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Section, &item.CreatedAt); err != nil {
			return nil, stockcore.NewStorageError("list_items", "商品行の読取に失敗しました", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CreateInventory stores a new inventory
// 新しい倉庫を保存
func (p *PostgresStorage) CreateInventory(ctx context.Context, inv *stockcore.Inventory) error {
	query := `
		INSERT INTO inventories (id, name, created_at)
		VALUES ($1, $2, $3)`
	_, err := p.db.ExecContext(ctx, query, inv.ID, inv.Name, inv.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return stockcore.NewStorageError("create_inventory", "倉庫IDが既に存在します", err)
		}
		return stockcore.NewStorageError("create_inventory", "倉庫の保存に失敗しました", err)
	}
	return nil
}

// GetInventory retrieves an inventory by id
// IDで倉庫を取得
func (p *PostgresStorage) GetInventory(ctx context.Context, inventoryID string) (*stockcore.Inventory, error) {
	query := `
		SELECT id, name, created_at
		FROM inventories
		WHERE id = $1`
	var inv stockcore.Inventory
	err := p.db.QueryRowContext(ctx, query, inventoryID).Scan(&inv.ID, &inv.Name, &inv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, stockcore.ErrInventoryNotFound
	}
	if err != nil {
		return nil, stockcore.NewStorageError("get_inventory", "倉庫の取得に失敗しました", err)
	}
	return &inv, nil
}

// CreateOrder stores a new order with its lines
// 注文と明細を保存
func (p *PostgresStorage) CreateOrder(ctx context.Context, order *stockcore.Order) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return stockcore.NewStorageError("create_order", "トランザクション開始に失敗しました", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (id, kind, inventory_id, status, payment_confirmed, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = tx.ExecContext(ctx, query,
		order.ID, order.Kind, order.InventoryID, order.Status,
		order.PaymentConfirmed, order.Version, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return stockcore.NewStorageError("create_order", "注文IDが既に存在します", err)
		}
		return stockcore.NewStorageError("create_order", "注文の保存に失敗しました", err)
	}
	if err := insertOrderLines(ctx, tx, order); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return stockcore.NewStorageError("create_order", "コミットに失敗しました", err)
	}
	return nil
}

// GetOrder retrieves an order with its lines
// 注文を明細付きで取得
func (p *PostgresStorage) GetOrder(ctx context.Context, orderID string) (*stockcore.Order, error) {
	query := `
		SELECT id, kind, inventory_id, status, payment_confirmed, version, created_at, updated_at
		FROM orders
		WHERE id = $1`
	var order stockcore.Order
	err := p.db.QueryRowContext(ctx, query, orderID).Scan(
		&order.ID, &order.Kind, &order.InventoryID, &order.Status,
		&order.PaymentConfirmed, &order.Version, &order.CreatedAt, &order.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, stockcore.ErrOrderNotFound
	}
	if err != nil {
		return nil, stockcore.NewStorageError("get_order", "注文の取得に失敗しました", err)
	}

	lines, err := p.orderLines(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Lines = lines
	return &order, nil
}

// orderLines loads the lines of one order
// 注文の明細を読み込み
func (p *PostgresStorage) orderLines(ctx context.Context, orderID string) ([]stockcore.OrderLine, error) {
	query := `
		SELECT item_id, ordered_qty, gift_qty, is_gift_item, delivered_qty
		FROM order_lines
		WHERE order_id = $1
		ORDER BY line_no`
	rows, err := p.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, stockcore.NewStorageError("get_order", "明細の取得に失敗しました", err)
	}
	defer rows.Close()

	var lines []stockcore.OrderLine
	for rows.Next() {
		var line stockcore.OrderLine
		if err := rows.Scan(&line.ItemID, &line.OrderedQty, &line.GiftQty, &line.IsGiftItem, &line.DeliveredQty); err != nil {
			return nil, stockcore.NewStorageError("get_order", "明細行の読取に失敗しました", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// UpdateOrder replaces an order under optimistic locking
// 楽観的ロック下で注文を置換
func (p *PostgresStorage) UpdateOrder(ctx context.Context, order *stockcore.Order) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return stockcore.NewStorageError("update_order", "トランザクション開始に失敗しました", err)
	}
	defer tx.Rollback()

	if err := updateOrderTx(ctx, tx, order); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return stockcore.NewStorageError("update_order", "コミットに失敗しました", err)
	}
	return nil
}

// updateOrderTx applies the version-checked order update inside tx
// トランザクション内でバージョン検査付きの注文更新を適用
func updateOrderTx(ctx context.Context, tx *sql.Tx, order *stockcore.Order) error {
	query := `
		UPDATE orders
		SET status = $1, payment_confirmed = $2, version = $3, updated_at = $4
		WHERE id = $5 AND version = $6`
	result, err := tx.ExecContext(ctx, query,
		order.Status, order.PaymentConfirmed, order.Version, order.UpdatedAt,
		order.ID, order.Version-1)
	if err != nil {
		return stockcore.NewStorageError("update_order", "注文の更新に失敗しました", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return stockcore.NewStorageError("update_order", "更新結果の確認に失敗しました", err)
	}
	if rows == 0 {
		// バージョン不一致か注文自体の不在
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
			return stockcore.NewStorageError("update_order", "注文の確認に失敗しました", err)
		}
		if !exists {
			return stockcore.ErrOrderNotFound
		}
		return stockcore.ErrConcurrentModification
	}

	for _, line := range order.Lines {
		lineQuery := `
			UPDATE order_lines
			SET delivered_qty = $1
			WHERE order_id = $2 AND item_id = $3`
		if _, err := tx.ExecContext(ctx, lineQuery, line.DeliveredQty, order.ID, line.ItemID); err != nil {
			return stockcore.NewStorageError("update_order", "明細の更新に失敗しました", err)
		}
	}
	return nil
}

// insertOrderLines inserts the lines of a new order inside tx
// 新規注文の明細をトランザクション内で挿入
func insertOrderLines(ctx context.Context, tx *sql.Tx, order *stockcore.Order) error {
	query := `
		INSERT INTO order_lines (order_id, line_no, item_id, ordered_qty, gift_qty, is_gift_item, delivered_qty)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for i, line := range order.Lines {
		_, err := tx.ExecContext(ctx, query,
			order.ID, i, line.ItemID, line.OrderedQty, line.GiftQty, line.IsGiftItem, line.DeliveredQty)
		if err != nil {
			return stockcore.NewStorageError("create_order", "明細の保存に失敗しました", err)
		}
	}
	return nil
}

// ListOpenOrdersByInventory lists non-terminal orders of an inventory
// 倉庫の未完了注文を一覧
func (p *PostgresStorage) ListOpenOrdersByInventory(ctx context.Context, inventoryID string) ([]stockcore.Order, error) {
	query := `
		SELECT id, kind, inventory_id, status, payment_confirmed, version, created_at, updated_at
		FROM orders
		WHERE inventory_id = $1 AND status NOT IN ('DELIVERED', 'RECEIVED', 'CANCELLED')
		ORDER BY id`
	rows, err := p.db.QueryContext(ctx, query, inventoryID)
	if err != nil {
		return nil, stockcore.NewStorageError("list_open_orders", "注文一覧の取得に失敗しました", err)
	}
	defer rows.Close()

	var orders []stockcore.Order
	for rows.Next() {
		var order stockcore.Order
		if err := rows.Scan(&order.ID, &order.Kind, &order.InventoryID, &order.Status,
			&order.PaymentConfirmed, &order.Version, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, stockcore.NewStorageError("list_open_orders", "注文行の読取に失敗しました", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, stockcore.NewStorageError("list_open_orders", "注文一覧の読取に失敗しました", err)
	}

	for i := range orders {
		lines, err := p.orderLines(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}
	return orders, nil
}

// GetBatch retrieves a batch by id
// IDでバッチを取得
func (p *PostgresStorage) GetBatch(ctx context.Context, batchID string) (*stockcore.Batch, error) {
	query := `
		SELECT id, item_id, inventory_id, quantity, received_at, expiry_date, provenance, notes, version
		FROM batches
		WHERE id = $1`
	batch, err := scanBatch(p.db.QueryRowContext(ctx, query, batchID))
	if err == sql.ErrNoRows {
		return nil, stockcore.ErrBatchNotFound
	}
	if err != nil {
		return nil, stockcore.NewStorageError("get_batch", "バッチの取得に失敗しました", err)
	}
	return batch, nil
}

// ListBatches lists the batches of one item at one inventory
// 1商品・1倉庫のバッチを一覧
func (p *PostgresStorage) ListBatches(ctx context.Context, itemID, inventoryID string) ([]stockcore.Batch, error) {
	query := `
		SELECT id, item_id, inventory_id, quantity, received_at, expiry_date, provenance, notes, version
		FROM batches
		WHERE item_id = $1 AND inventory_id = $2
		ORDER BY received_at, id`
	return p.queryBatches(ctx, query, itemID, inventoryID)
}

// ListBatchesByInventory lists every batch held at an inventory
// 倉庫が保有する全バッチを一覧
func (p *PostgresStorage) ListBatchesByInventory(ctx context.Context, inventoryID string) ([]stockcore.Batch, error) {
	query := `
		SELECT id, item_id, inventory_id, quantity, received_at, expiry_date, provenance, notes, version
		FROM batches
		WHERE inventory_id = $1
		ORDER BY received_at, id`
	return p.queryBatches(ctx, query, inventoryID)
}

func (p *PostgresStorage) queryBatches(ctx context.Context, query string, args ...interface{}) ([]stockcore.Batch, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, stockcore.NewStorageError("list_batches", "バッチ一覧の取得に失敗しました", err)
	}
	defer rows.Close()

	var batches []stockcore.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, stockcore.NewStorageError("list_batches", "バッチ行の読取に失敗しました", err)
		}
		batches = append(batches, *batch)
	}
	return batches, rows.Err()
}

// rowScanner abstracts sql.Row and sql.Rows for shared scan helpers
// 共有スキャンのためsql.Rowとsql.Rowsを抽象化
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(row rowScanner) (*stockcore.Batch, error) {
	var batch stockcore.Batch
	var expiry sql.NullTime
	err := row.Scan(&batch.ID, &batch.ItemID, &batch.InventoryID, &batch.Quantity,
		&batch.ReceivedAt, &expiry, &batch.Provenance, &batch.Notes, &batch.Version)
	if err != nil {
		return nil, err
	}
	if expiry.Valid {
		t := expiry.Time
		batch.ExpiryDate = &t
	}
	return &batch, nil
}

// ListAllocationsByOrder lists the committed allocations of an order
// 注文の確定済み引当を一覧
func (p *PostgresStorage) ListAllocationsByOrder(ctx context.Context, orderID string) ([]stockcore.Allocation, error) {
	query := `
		SELECT id, order_id, item_id, batch_id, quantity, operation_id, committed_at
		FROM allocations
		WHERE order_id = $1
		ORDER BY committed_at, id`
	rows, err := p.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, stockcore.NewStorageError("list_allocations", "引当一覧の取得に失敗しました", err)
	}
	defer rows.Close()

	var allocs []stockcore.Allocation
	for rows.Next() {
		var a stockcore.Allocation
		if err := rows.Scan(&a.ID, &a.OrderID, &a.ItemID, &a.BatchID, &a.Quantity, &a.OperationID, &a.CommittedAt); err != nil {
			return nil, stockcore.NewStorageError("list_allocations", "引当行の読取に失敗しました", err)
		}
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

// ListMovements lists journal entries of an inventory in occurrence order
// 倉庫の仕訳を発生順に一覧
func (p *PostgresStorage) ListMovements(ctx context.Context, inventoryID, itemID string, from, to time.Time) ([]stockcore.MovementEntry, error) {
	query := `
		SELECT id, item_id, inventory_id, kind, gift_variant, quantity, reference, occurred_at
		FROM movements
		WHERE inventory_id = $1
		  AND ($2 = '' OR item_id = $2)
		  AND ($3::timestamptz IS NULL OR occurred_at >= $3)
		  AND ($4::timestamptz IS NULL OR occurred_at < $4)
		ORDER BY occurred_at, id`
	rows, err := p.db.QueryContext(ctx, query, inventoryID, itemID, nullableTime(from), nullableTime(to))
	if err != nil {
		return nil, stockcore.NewStorageError("list_movements", "仕訳一覧の取得に失敗しました", err)
	}
	defer rows.Close()

	var entries []stockcore.MovementEntry
	for rows.Next() {
		var e stockcore.MovementEntry
		if err := rows.Scan(&e.ID, &e.ItemID, &e.InventoryID, &e.Kind, &e.GiftVariant, &e.Quantity, &e.Reference, &e.OccurredAt); err != nil {
			return nil, stockcore.NewStorageError("list_movements", "仕訳行の読取に失敗しました", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// ApplyReceipt commits a stock receipt atomically
// 入荷をアトミックに確定
func (p *PostgresStorage) ApplyReceipt(ctx context.Context, commit *stockcore.ReceiptCommit) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return stockcore.NewStorageError("apply_receipt", "トランザクション開始に失敗しました", err)
	}
	defer tx.Rollback()

	if commit.Order != nil {
		if err := updateOrderTx(ctx, tx, commit.Order); err != nil {
			return err
		}
	}
	if err := insertBatchesTx(ctx, tx, commit.Batches); err != nil {
		return err
	}
	if err := insertMovementsTx(ctx, tx, commit.Movements); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return stockcore.NewStorageError("apply_receipt", "コミットに失敗しました", err)
	}
	return nil
}

// ApplyFulfillment commits a fulfillment atomically. The operation key
// insert and the decrements share the transaction, so a replayed key
// rolls everything back with ErrDuplicateOperation.
// 出荷をアトミックに確定。冪等性キー挿入と減算は同一トランザクション
// のため、再送キーは全体をロールバックしErrDuplicateOperationを返す。
func (p *PostgresStorage) ApplyFulfillment(ctx context.Context, commit *stockcore.FulfillmentCommit) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return stockcore.NewStorageError("apply_fulfillment", "トランザクション開始に失敗しました", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO operation_keys (operation_id, created_at) VALUES ($1, $2)`,
		commit.OperationID, time.Now())
	if err != nil {
		if isUniqueViolation(err) {
			return stockcore.ErrDuplicateOperation
		}
		return stockcore.NewStorageError("apply_fulfillment", "冪等性キーの保存に失敗しました", err)
	}

	if err := applyDecrementsTx(ctx, tx, commit.Decrements); err != nil {
		return err
	}
	if err := updateOrderTx(ctx, tx, commit.Order); err != nil {
		return err
	}

	allocQuery := `
		INSERT INTO allocations (id, order_id, item_id, batch_id, quantity, operation_id, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for _, a := range commit.Allocations {
		if _, err := tx.ExecContext(ctx, allocQuery,
			a.ID, a.OrderID, a.ItemID, a.BatchID, a.Quantity, a.OperationID, a.CommittedAt); err != nil {
			return stockcore.NewStorageError("apply_fulfillment", "引当の保存に失敗しました", err)
		}
	}
	if err := insertMovementsTx(ctx, tx, commit.Movements); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return stockcore.NewStorageError("apply_fulfillment", "コミットに失敗しました", err)
	}
	return nil
}

// ApplyTransfer commits an inter-inventory transfer atomically
// 倉庫間振替をアトミックに確定
func (p *PostgresStorage) ApplyTransfer(ctx context.Context, commit *stockcore.TransferCommit) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return stockcore.NewStorageError("apply_transfer", "トランザクション開始に失敗しました", err)
	}
	defer tx.Rollback()

	if err := applyDecrementsTx(ctx, tx, commit.Decrements); err != nil {
		return err
	}
	if err := insertBatchesTx(ctx, tx, commit.NewBatches); err != nil {
		return err
	}
	if err := insertMovementsTx(ctx, tx, commit.Movements); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return stockcore.NewStorageError("apply_transfer", "コミットに失敗しました", err)
	}
	return nil
}

// applyDecrementsTx applies version-checked batch decrements inside tx.
// The quantity predicate keeps balances from going negative even if a
// caller skipped its own check.
// トランザクション内でバージョン検査付きのバッチ減算を適用。数量述語に
// より呼び出し側の検査漏れでも残高は負にならない。
func applyDecrementsTx(ctx context.Context, tx *sql.Tx, decrements []stockcore.BatchDecrement) error {
	query := `
		UPDATE batches
		SET quantity = quantity - $1, version = version + 1
		WHERE id = $2 AND version = $3 AND quantity >= $1`
	for _, d := range decrements {
		result, err := tx.ExecContext(ctx, query, d.Quantity, d.BatchID, d.ExpectedVersion)
		if err != nil {
			return stockcore.NewStorageError("decrement_batch", "バッチ減算に失敗しました", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return stockcore.NewStorageError("decrement_batch", "減算結果の確認に失敗しました", err)
		}
		if rows == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM batches WHERE id = $1)`, d.BatchID).Scan(&exists); err != nil {
				return stockcore.NewStorageError("decrement_batch", "バッチの確認に失敗しました", err)
			}
			if !exists {
				return stockcore.ErrBatchNotFound
			}
			return stockcore.ErrConcurrentModification
		}
	}
	return nil
}

// insertBatchesTx inserts new batches inside tx
// トランザクション内で新規バッチを挿入
func insertBatchesTx(ctx context.Context, tx *sql.Tx, batches []stockcore.Batch) error {
	query := `
		INSERT INTO batches (id, item_id, inventory_id, quantity, received_at, expiry_date, provenance, notes, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	for _, b := range batches {
		var expiry interface{}
		if b.ExpiryDate != nil {
			expiry = *b.ExpiryDate
		}
		_, err := tx.ExecContext(ctx, query,
			b.ID, b.ItemID, b.InventoryID, b.Quantity, b.ReceivedAt, expiry, b.Provenance, b.Notes, b.Version)
		if err != nil {
			return stockcore.NewStorageError("insert_batch", "バッチの保存に失敗しました", err)
		}
	}
	return nil
}

// insertMovementsTx appends journal entries inside tx
// トランザクション内で仕訳を追記
func insertMovementsTx(ctx context.Context, tx *sql.Tx, movements []stockcore.MovementEntry) error {
	query := `
		INSERT INTO movements (id, item_id, inventory_id, kind, gift_variant, quantity, reference, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, e := range movements {
		_, err := tx.ExecContext(ctx, query,
			e.ID, e.ItemID, e.InventoryID, e.Kind, e.GiftVariant, e.Quantity, e.Reference, e.OccurredAt)
		if err != nil {
			return stockcore.NewStorageError("insert_movement", "仕訳の保存に失敗しました", err)
		}
	}
	return nil
}

// Ping checks database connectivity
// データベース疎通確認
func (p *PostgresStorage) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return stockcore.NewStorageError("ping", "データベース疎通確認に失敗しました", err)
	}
	return nil
}

// Close closes the connection pool
// 接続プールを閉じる
func (p *PostgresStorage) Close() error {
	return p.db.Close()
}

// DSN builds a PostgreSQL connection string
// PostgreSQL接続文字列を構築
func DSN(host string, port int, user, password, dbname, sslmode string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)
}
