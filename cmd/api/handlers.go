package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sajaadasyntax/ma3mora-stock-core/pkg/stockcore"
)

// Handlers holds HTTP handlers for the stock core API
// 在庫コアAPI用のHTTPハンドラーを保持
type Handlers struct {
	storage     stockcore.Storage
	ledger      *stockcore.Ledger
	fulfiller   *stockcore.Fulfiller
	transferrer *stockcore.Transferrer
	reader      *stockcore.StockReader
	reports     *stockcore.ReportCache
	publisher   stockcore.EventPublisher
	logger      *zap.Logger
}

// NewHandlers creates new HTTP handlers
// 新しいHTTPハンドラーを作成
func NewHandlers(storage stockcore.Storage, ledger *stockcore.Ledger, fulfiller *stockcore.Fulfiller,
	transferrer *stockcore.Transferrer, reader *stockcore.StockReader, reports *stockcore.ReportCache,
	publisher stockcore.EventPublisher, logger *zap.Logger) *Handlers {
	return &Handlers{
		storage:     storage,
		ledger:      ledger,
		fulfiller:   fulfiller,
		transferrer: transferrer,
		reader:      reader,
		reports:     reports,
		publisher:   publisher,
		logger:      logger,
	}
}

// APIResponse represents standard API response format
// 標準的なAPIレスポンス形式を表現
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError carries a stable error code alongside the message
// 安定エラーコード付きのエラー情報
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// actorRole reads the acting role from the request headers
// リクエストヘッダーから実行ロールを読み取る
func actorRole(r *http.Request) stockcore.Role {
	return stockcore.Role(r.Header.Get("X-Role"))
}

// requireActor reads the acting role and rejects requests that omit it.
// The empty role is reserved for in-process callers and must never be
// reachable over HTTP.
// 実行ロールを読み取り、未指定のリクエストを拒否する。空ロールは
// プロセス内呼び出し専用であり、HTTP経由では到達させない。
func requireActor(r *http.Request) (stockcore.Role, error) {
	role := actorRole(r)
	if role == "" {
		return "", stockcore.NewBusinessRuleError(stockcore.ErrCapabilityDenied,
			stockcore.CodeCapabilityDenied, "X-Roleヘッダーがありません")
	}
	return role, nil
}

// HealthCheck handles health check requests
// ヘルスチェックリクエストを処理
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.storage.Ping(r.Context()); err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"service":   "ma3mora-stock-core",
	})
}

// CreateItemRequest represents request to register an item
// 商品登録リクエストを表現
type CreateItemRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Section string `json:"section"`
}

// CreateItem handles item registration
// 商品登録を処理
func (h *Handlers) CreateItem(w http.ResponseWriter, r *http.Request) {
	if _, err := requireActor(r); err != nil {
		h.sendError(w, err)
		return
	}
	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendDecodeError(w)
		return
	}
	item := &stockcore.Item{
		ID:        req.ID,
		Name:      req.Name,
		Section:   req.Section,
		CreatedAt: time.Now(),
	}
	if err := stockcore.ValidateItem(item); err != nil {
		h.sendError(w, err)
		return
	}
	if err := h.storage.CreateItem(r.Context(), item); err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, item)
}

// ListItems handles item listing with optional section filter
// 部門絞り込み付きの商品一覧を処理
func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.storage.ListItems(r.Context(), r.URL.Query().Get("section"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, items)
}

// CreateInventoryRequest represents request to register an inventory
// 倉庫登録リクエストを表現
type CreateInventoryRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateInventory handles inventory registration
// 倉庫登録を処理
func (h *Handlers) CreateInventory(w http.ResponseWriter, r *http.Request) {
	if _, err := requireActor(r); err != nil {
		h.sendError(w, err)
		return
	}
	var req CreateInventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendDecodeError(w)
		return
	}
	inv := &stockcore.Inventory{
		ID:        req.ID,
		Name:      req.Name,
		CreatedAt: time.Now(),
	}
	if err := stockcore.ValidateInventory(inv); err != nil {
		h.sendError(w, err)
		return
	}
	if err := h.storage.CreateInventory(r.Context(), inv); err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, inv)
}

// CreateOrderLineRequest is one line of an order creation request
// 注文作成リクエストの1明細
type CreateOrderLineRequest struct {
	ItemID     string          `json:"item_id"`
	OrderedQty decimal.Decimal `json:"ordered_qty"`
	GiftQty    decimal.Decimal `json:"gift_qty"`
	IsGiftItem bool            `json:"is_gift_item"`
}

// CreateOrderRequest represents request to create an order
// 注文作成リクエストを表現
type CreateOrderRequest struct {
	ID          string                   `json:"id"`
	Kind        stockcore.OrderKind      `json:"kind"`
	InventoryID string                   `json:"inventory_id"`
	Lines       []CreateOrderLineRequest `json:"lines"`
}

// CreateOrder handles order creation
// 注文作成を処理
func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if _, err := requireActor(r); err != nil {
		h.sendError(w, err)
		return
	}
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendDecodeError(w)
		return
	}

	id := req.ID
	if id == "" {
		id = stockcore.NewID()
	}
	now := time.Now()
	order := &stockcore.Order{
		ID:          id,
		Kind:        req.Kind,
		InventoryID: req.InventoryID,
		Status:      stockcore.OrderStatusCreated,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, line := range req.Lines {
		order.Lines = append(order.Lines, stockcore.OrderLine{
			ItemID:     line.ItemID,
			OrderedQty: line.OrderedQty,
			GiftQty:    line.GiftQty,
			IsGiftItem: line.IsGiftItem,
		})
	}
	if err := stockcore.ValidateOrder(order); err != nil {
		h.sendError(w, err)
		return
	}
	if _, err := h.storage.GetInventory(r.Context(), order.InventoryID); err != nil {
		h.sendError(w, err)
		return
	}
	if err := h.storage.CreateOrder(r.Context(), order); err != nil {
		h.sendError(w, err)
		return
	}

	// 受注の新設は未出荷数量を生むため、レポート購読者へ通知する
	itemIDs := make([]string, 0, len(order.Lines))
	for i := range order.Lines {
		itemIDs = append(itemIDs, order.Lines[i].ItemID)
	}
	if err := h.publisher.PublishStockMutation(r.Context(), stockcore.StockMutationEvent{
		InventoryIDs: []string{order.InventoryID},
		ItemIDs:      itemIDs,
		Kind:         "order_created",
		Reference:    order.ID,
		OccurredAt:   now,
	}); err != nil {
		h.logger.Error("イベント発行に失敗しました", zap.Error(err))
	}

	h.sendSuccess(w, order)
}

// GetOrder handles order lookup
// 注文照会を処理
func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.storage.GetOrder(r.Context(), mux.Vars(r)["orderId"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, order)
}

// CreateBatch handles direct stock receipt
// 直接入荷を処理
func (h *Handlers) CreateBatch(w http.ResponseWriter, r *http.Request) {
	if _, err := requireActor(r); err != nil {
		h.sendError(w, err)
		return
	}
	var req stockcore.CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendDecodeError(w)
		return
	}
	batch, err := h.ledger.CreateBatch(r.Context(), req)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, batch)
}

// GetStocks handles the per-inventory stock listing
// 倉庫別在庫一覧を処理
func (h *Handlers) GetStocks(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.reader.GetStocks(r.Context(), mux.Vars(r)["inventoryId"], r.URL.Query().Get("section"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, stocks)
}

// GetDeliveryBatches handles the order picking view
// 注文ピッキングビューを処理
func (h *Handlers) GetDeliveryBatches(w http.ResponseWriter, r *http.Request) {
	lines, err := h.reader.GetDeliveryBatches(r.Context(), mux.Vars(r)["orderId"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, lines)
}

// DeliverBody carries the optional operation id of a full delivery
// 全量出荷の任意操作IDを保持
type DeliverBody struct {
	OperationID string `json:"operation_id"`
}

// DeliverFull handles full order delivery
// 全量出荷を処理
func (h *Handlers) DeliverFull(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.sendError(w, err)
		return
	}
	var body DeliverBody
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.sendDecodeError(w)
			return
		}
	}
	result, err := h.fulfiller.DeliverFull(r.Context(), stockcore.DeliverRequest{
		OrderID:     mux.Vars(r)["orderId"],
		OperationID: body.OperationID,
		Actor:       actor,
	})
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, result)
}

// DeliverPartialBody carries the allocations of a partial delivery
// 一部出荷の引当指定を保持
type DeliverPartialBody struct {
	OperationID string                      `json:"operation_id"`
	Notes       string                      `json:"notes"`
	Items       []stockcore.ItemAllocations `json:"items"`
}

// DeliverPartial handles partial order delivery
// 一部出荷を処理
func (h *Handlers) DeliverPartial(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.sendError(w, err)
		return
	}
	var body DeliverPartialBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.sendDecodeError(w)
		return
	}
	result, err := h.fulfiller.DeliverPartial(r.Context(), stockcore.PartialDeliverRequest{
		OrderID:     mux.Vars(r)["orderId"],
		OperationID: body.OperationID,
		Notes:       body.Notes,
		Items:       body.Items,
		Actor:       actor,
	})
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, result)
}

// ReceiveBody carries the per-line receipt metadata
// 入荷の行別メタデータを保持
type ReceiveBody struct {
	Lines []stockcore.ReceiptLine `json:"lines"`
}

// ReceiveOrder handles procurement order receipt
// 発注入荷を処理
func (h *Handlers) ReceiveOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.sendError(w, err)
		return
	}
	var body ReceiveBody
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.sendDecodeError(w)
			return
		}
	}
	result, err := h.fulfiller.ReceiveOrder(r.Context(), stockcore.ReceiveRequest{
		OrderID: mux.Vars(r)["orderId"],
		Actor:   actor,
		Lines:   body.Lines,
	})
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, result)
}

// CancelOrder handles order cancellation
// 注文キャンセルを処理
func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.sendError(w, err)
		return
	}
	result, err := h.fulfiller.CancelOrder(r.Context(), mux.Vars(r)["orderId"], actor)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, result)
}

// ConfirmPayment handles payment confirmation hand-off
// 支払確認の受け渡しを処理
func (h *Handlers) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.sendError(w, err)
		return
	}
	orderID := mux.Vars(r)["orderId"]
	if err := h.fulfiller.ConfirmPayment(r.Context(), orderID, actor); err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, map[string]string{"order_id": orderID, "message": "支払を確認しました"})
}

// TransferBody represents an inter-inventory transfer request
// 倉庫間移動リクエストを表現
type TransferBody struct {
	ItemID          string          `json:"item_id"`
	FromInventoryID string          `json:"from_inventory_id"`
	ToInventoryID   string          `json:"to_inventory_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	Notes           string          `json:"notes"`
}

// Transfer handles inter-inventory stock transfer
// 倉庫間在庫移動を処理
func (h *Handlers) Transfer(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.sendError(w, err)
		return
	}
	var body TransferBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.sendDecodeError(w)
		return
	}
	result, err := h.transferrer.Transfer(r.Context(), stockcore.TransferRequest{
		ItemID:          body.ItemID,
		FromInventoryID: body.FromInventoryID,
		ToInventoryID:   body.ToInventoryID,
		Quantity:        body.Quantity,
		Notes:           body.Notes,
		Actor:           actor,
	})
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, result)
}

// GetMovements handles the daily stock movement report
// 日次在庫移動レポートを処理
func (h *Handlers) GetMovements(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.sendError(w, err)
		return
	}
	if err := stockcore.RequireCapability(actor, stockcore.CapViewReports); err != nil {
		h.sendError(w, err)
		return
	}

	query := r.URL.Query()
	start, err := parseDate(query.Get("start"), time.Now().AddDate(0, 0, -30))
	if err != nil {
		h.sendError(w, stockcore.NewValidationError("start", "日付形式が無効です (YYYY-MM-DD)", query.Get("start")))
		return
	}
	end, err := parseDate(query.Get("end"), time.Now())
	if err != nil {
		h.sendError(w, stockcore.NewValidationError("end", "日付形式が無効です (YYYY-MM-DD)", query.Get("end")))
		return
	}

	report, err := h.reports.Get(r.Context(), mux.Vars(r)["inventoryId"], query.Get("item"), start, end)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, report)
}

// EnsureReportsBody names the inventory to refresh
// 再構築対象の倉庫を指定
type EnsureReportsBody struct {
	InventoryID string `json:"inventory_id"`
}

// EnsureReports handles explicit report refresh
// レポートの明示的な再構築を処理
func (h *Handlers) EnsureReports(w http.ResponseWriter, r *http.Request) {
	if _, err := requireActor(r); err != nil {
		h.sendError(w, err)
		return
	}
	var body EnsureReportsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.sendDecodeError(w)
		return
	}
	if err := stockcore.ValidateInventoryID(body.InventoryID); err != nil {
		h.sendError(w, err)
		return
	}
	if err := h.reports.EnsureUpToDate(r.Context(), body.InventoryID); err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, map[string]string{"inventory_id": body.InventoryID, "message": "レポートは最新です"})
}

// parseDate parses YYYY-MM-DD, falling back to a default when empty
// YYYY-MM-DD形式を解析（空なら既定値）
func parseDate(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	return time.Parse("2006-01-02", value)
}

// statusOf maps stable error codes to HTTP statuses
// 安定エラーコードをHTTPステータスに対応付ける
func statusOf(code string) int {
	switch code {
	case stockcore.CodeNotFound:
		return http.StatusNotFound
	case stockcore.CodeValidation, stockcore.CodeInvalidQuantity, stockcore.CodeSameInventory:
		return http.StatusBadRequest
	case stockcore.CodeCapabilityDenied:
		return http.StatusForbidden
	case stockcore.CodeInsufficientStock, stockcore.CodeInsufficientBatchQuantity,
		stockcore.CodeOverAllocation, stockcore.CodePaymentNotConfirmed,
		stockcore.CodeOrderAlreadyDelivered, stockcore.CodeOrderCancelled,
		stockcore.CodeDuplicateOperation, stockcore.CodeConcurrentModification,
		stockcore.CodeRetryExhausted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// sendSuccess sends a successful API response
// 成功APIレスポンスを送信
func (h *Handlers) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := APIResponse{
		Success: true,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("レスポンス送信に失敗しました", zap.Error(err))
	}
}

// sendError sends an error API response with a stable code
// 安定コード付きのエラーAPIレスポンスを送信
func (h *Handlers) sendError(w http.ResponseWriter, err error) {
	code := stockcore.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusOf(code))

	response := APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: err.Error()},
	}

	if encErr := json.NewEncoder(w).Encode(response); encErr != nil {
		h.logger.Error("エラーレスポンス送信に失敗しました", zap.Error(encErr))
	}
}

// sendDecodeError reports an unparsable request body
// 解析不能なリクエストボディを報告
func (h *Handlers) sendDecodeError(w http.ResponseWriter) {
	h.sendError(w, stockcore.NewValidationError("body", "無効なリクエスト形式です", ""))
}
