package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sajaadasyntax/ma3mora-stock-core/internal/config"
	"github.com/sajaadasyntax/ma3mora-stock-core/internal/metrics"
	"github.com/sajaadasyntax/ma3mora-stock-core/pkg/stockcore"
	"github.com/sajaadasyntax/ma3mora-stock-core/pkg/stockcore/storage"
)

func main() {
	// ログ設定
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync()

	// 設定読み込み
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("設定読み込みに失敗しました", zap.Error(err))
	}

	// ストレージ選択
	var store stockcore.Storage
	switch cfg.Stock.Backend {
	case "memory":
		store = storage.NewMemoryStorage()
		logger.Info("インメモリストレージを使用します")
	default:
		store, err = storage.NewPostgresStorage(cfg.DSN())
		if err != nil {
			logger.Fatal("データベース接続に失敗しました", zap.Error(err))
		}
	}
	defer store.Close()

	// コア設定
	epsilon, err := cfg.ReconcileEpsilon()
	if err != nil {
		logger.Fatal("照合許容誤差の解析に失敗しました", zap.Error(err))
	}
	coreConfig := &stockcore.Config{
		ExpiringSoonWindow: cfg.ExpiringSoonWindow(),
		ReconcileEpsilon:   epsilon,
		MaxConflictRetries: cfg.Stock.MaxConflictRetries,
	}

	// メトリクス
	registry := prometheus.NewRegistry()
	coreMetrics := metrics.New(registry)

	// コア組み立て。レポートキャッシュとメトリクスは変更イベントを購読する。
	// 照合エンジンは読取専用の台帳を使うためイベント発行者を持たない。
	readLedger := stockcore.NewLedger(store, nil, logger, coreConfig)
	reconciler := stockcore.NewReconciler(store, readLedger, coreMetrics, logger, coreConfig)
	reports := stockcore.NewReportCache(reconciler, logger)
	publisher := stockcore.MultiPublisher{reports, coreMetrics}

	ledger := stockcore.NewLedger(store, publisher, logger, coreConfig)
	planner := stockcore.NewPlanner(ledger)
	fulfiller := stockcore.NewFulfiller(store, ledger, planner, publisher, logger, coreConfig)
	transferrer := stockcore.NewTransferrer(store, ledger, publisher, logger, coreConfig)
	reader := stockcore.NewStockReader(store, ledger, logger, coreConfig)

	// HTTPハンドラー設定
	handlers := NewHandlers(store, ledger, fulfiller, transferrer, reader, reports, publisher, logger)
	router := setupRouter(handlers, registry, cfg.API.EnableMetrics)

	// HTTPサーバー設定
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	// グレースフルシャットダウン設定
	go func() {
		logger.Info("在庫コアAPIサーバーを開始します", zap.Int("port", cfg.API.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("サーバー開始に失敗しました", zap.Error(err))
		}
	}()

	// シャットダウンシグナル待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("サーバーをシャットダウンしています...")

	// グレースフルシャットダウン
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("サーバーシャットダウンに失敗しました", zap.Error(err))
	}

	logger.Info("サーバーが正常に停止しました")
}

// setupRouter sets up HTTP routes
// HTTPルートを設定
func setupRouter(handlers *Handlers, registry *prometheus.Registry, enableMetrics bool) *mux.Router {
	router := mux.NewRouter()

	// ヘルスチェック
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	if enableMetrics {
		router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	// API v1ルート
	api := router.PathPrefix("/api/v1").Subrouter()

	// マスタ管理
	api.HandleFunc("/items", handlers.CreateItem).Methods("POST")
	api.HandleFunc("/items", handlers.ListItems).Methods("GET")
	api.HandleFunc("/inventories", handlers.CreateInventory).Methods("POST")

	// 入荷
	api.HandleFunc("/batches", handlers.CreateBatch).Methods("POST")

	// 在庫照会
	api.HandleFunc("/stocks/{inventoryId}", handlers.GetStocks).Methods("GET")

	// 注文と出荷
	api.HandleFunc("/orders", handlers.CreateOrder).Methods("POST")
	api.HandleFunc("/orders/{orderId}", handlers.GetOrder).Methods("GET")
	api.HandleFunc("/orders/{orderId}/delivery-batches", handlers.GetDeliveryBatches).Methods("GET")
	api.HandleFunc("/orders/{orderId}/deliver", handlers.DeliverFull).Methods("POST")
	api.HandleFunc("/orders/{orderId}/deliver-partial", handlers.DeliverPartial).Methods("POST")
	api.HandleFunc("/orders/{orderId}/receive", handlers.ReceiveOrder).Methods("POST")
	api.HandleFunc("/orders/{orderId}/cancel", handlers.CancelOrder).Methods("POST")
	api.HandleFunc("/orders/{orderId}/confirm-payment", handlers.ConfirmPayment).Methods("POST")

	// 倉庫間移動
	api.HandleFunc("/transfers", handlers.Transfer).Methods("POST")

	// 在庫移動レポート
	api.HandleFunc("/movements/{inventoryId}", handlers.GetMovements).Methods("GET")
	api.HandleFunc("/reports/ensure", handlers.EnsureReports).Methods("POST")

	// ログ機能
	router.Use(loggingMiddleware(handlers.logger))

	return router
}

// loggingMiddleware logs HTTP requests
// HTTPリクエストをログ出力するミドルウェア
func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// リクエスト処理
			next.ServeHTTP(w, r)

			// ログ出力
			logger.Info("HTTPリクエスト",
				zap.String("method", r.Method),
				zap.String("url", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
