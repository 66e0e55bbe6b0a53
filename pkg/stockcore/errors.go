package stockcore

import (
	"errors"
	"fmt"
)

// Common fulfillment core errors
// 出荷コア共通のエラー定義

var (
	// ErrItemNotFound is returned when an item doesn't exist
	// 商品が存在しない場合のエラー
	ErrItemNotFound = errors.New("商品が見つかりません")

	// ErrInventoryNotFound is returned when an inventory doesn't exist
	// 倉庫が存在しない場合のエラー
	ErrInventoryNotFound = errors.New("倉庫が見つかりません")

	// ErrOrderNotFound is returned when an order doesn't exist
	// 注文が存在しない場合のエラー
	ErrOrderNotFound = errors.New("注文が見つかりません")

	// ErrBatchNotFound is returned when a batch doesn't exist
	// バッチが存在しない場合のエラー
	ErrBatchNotFound = errors.New("バッチが見つかりません")

	// ErrInvalidQuantity is returned when a quantity is not positive
	// 数量が正でない場合のエラー
	ErrInvalidQuantity = errors.New("数量は正の値である必要があります")

	// ErrInsufficientStock is returned when available stock cannot cover a request
	// 利用可能在庫が要求量に満たない場合のエラー
	ErrInsufficientStock = errors.New("在庫が不足しています")

	// ErrInsufficientBatchQuantity is returned when a single batch cannot cover
	// the quantity requested from it
	// 単一バッチの残数量が要求量に満たない場合のエラー
	ErrInsufficientBatchQuantity = errors.New("バッチの残数量が不足しています")

	// ErrOverAllocation is returned when manual allocations exceed a line's
	// remaining quantity
	// 手動引当が明細の残数量を超える場合のエラー
	ErrOverAllocation = errors.New("引当数量が明細の残数量を超えています")

	// ErrPaymentNotConfirmed is returned when fulfillment is attempted before
	// payment confirmation
	// 支払確認前に出荷しようとした場合のエラー
	ErrPaymentNotConfirmed = errors.New("支払が確認されていません")

	// ErrSameInventory is returned when a transfer names the same source and
	// destination
	// 振替の移動元と移動先が同一の場合のエラー
	ErrSameInventory = errors.New("移動元と移動先が同じ倉庫です")

	// ErrOrderAlreadyDelivered is returned when fulfilling a delivered order
	// 出荷済み注文を再出荷しようとした場合のエラー
	ErrOrderAlreadyDelivered = errors.New("注文は既に出荷済みです")

	// ErrOrderCancelled is returned when fulfilling a cancelled order
	// キャンセル済み注文を出荷しようとした場合のエラー
	ErrOrderCancelled = errors.New("注文はキャンセルされています")

	// ErrConcurrentModification is returned by storage when an optimistic
	// version check fails. Retried internally, never surfaced to callers.
	// 楽観的ロックのバージョン検査失敗時にストレージが返すエラー。
	// 内部で再試行され、呼び出し元には到達しない。
	ErrConcurrentModification = errors.New("他の操作によって更新されています")

	// ErrRetryExhausted is surfaced after bounded conflict retries run out
	// 競合再試行の上限超過後に返すエラー
	ErrRetryExhausted = errors.New("競合の再試行回数を超過しました")

	// ErrDuplicateOperation is returned when an operation id was already
	// committed. Replays are rejected, not silently re-applied.
	// 操作IDが既に確定済みの場合のエラー。再送は黙殺せず拒否する。
	ErrDuplicateOperation = errors.New("この操作は既に適用されています")

	// ErrCapabilityDenied is returned when the acting role lacks the
	// required capability
	// 実行ロールに必要な権限がない場合のエラー
	ErrCapabilityDenied = errors.New("この操作を行う権限がありません")
)

// Stable error codes exposed to callers
// 呼び出し元に公開する安定エラーコード
const (
	CodeInvalidQuantity           = "InvalidQuantity"
	CodeInsufficientStock         = "InsufficientStock"
	CodeInsufficientBatchQuantity = "InsufficientBatchQuantity"
	CodeOverAllocation            = "OverAllocation"
	CodePaymentNotConfirmed       = "PaymentNotConfirmed"
	CodeSameInventory             = "SameInventory"
	CodeOrderAlreadyDelivered     = "OrderAlreadyDelivered"
	CodeOrderCancelled            = "OrderCancelled"
	CodeConcurrentModification    = "ConcurrentModification"
	CodeRetryExhausted            = "RetryExhausted"
	CodeDuplicateOperation        = "DuplicateOperation"
	CodeCapabilityDenied          = "CapabilityDenied"
	CodeNotFound                  = "NotFound"
	CodeValidation                = "Validation"
	CodeStorage                   = "Storage"
)

// CodeOf maps an error to its stable code
// エラーを安定コードに対応付ける
func CodeOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidQuantity):
		return CodeInvalidQuantity
	case errors.Is(err, ErrInsufficientStock):
		return CodeInsufficientStock
	case errors.Is(err, ErrInsufficientBatchQuantity):
		return CodeInsufficientBatchQuantity
	case errors.Is(err, ErrOverAllocation):
		return CodeOverAllocation
	case errors.Is(err, ErrPaymentNotConfirmed):
		return CodePaymentNotConfirmed
	case errors.Is(err, ErrSameInventory):
		return CodeSameInventory
	case errors.Is(err, ErrOrderAlreadyDelivered):
		return CodeOrderAlreadyDelivered
	case errors.Is(err, ErrOrderCancelled):
		return CodeOrderCancelled
	case errors.Is(err, ErrRetryExhausted):
		return CodeRetryExhausted
	case errors.Is(err, ErrConcurrentModification):
		return CodeConcurrentModification
	case errors.Is(err, ErrDuplicateOperation):
		return CodeDuplicateOperation
	case errors.Is(err, ErrCapabilityDenied):
		return CodeCapabilityDenied
	case errors.Is(err, ErrItemNotFound),
		errors.Is(err, ErrInventoryNotFound),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrBatchNotFound):
		return CodeNotFound
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return CodeValidation
	}
	var be *BusinessRuleError
	if errors.As(err, &be) {
		return be.Code
	}
	var se *StorageError
	if errors.As(err, &se) {
		return CodeStorage
	}
	return CodeStorage
}

// ValidationError represents a validation error with details
// 詳細付きバリデーションエラーを表現
type ValidationError struct {
	Field   string `json:"field"`   // エラーフィールド
	Message string `json:"message"` // エラーメッセージ
	Value   string `json:"value"`   // 無効な値
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("バリデーションエラー [%s]: %s (値: %s)", e.Field, e.Message, e.Value)
}

// BusinessRuleError represents a business rule violation. Code is one of
// the stable error codes; Cause, if set, is the matching sentinel.
// ビジネスルール違反を表現。Codeは安定エラーコード、Causeは対応するセンチネル。
type BusinessRuleError struct {
	Code    string `json:"code"`    // 安定エラーコード
	Message string `json:"message"` // エラーメッセージ
	Details string `json:"details"` // 違反の詳細（対象商品・バッチなど）
	Cause   error  `json:"-"`       // 対応するセンチネルエラー
}

func (e *BusinessRuleError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ビジネスルール違反 [%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("ビジネスルール違反 [%s]: %s", e.Code, e.Message)
}

func (e *BusinessRuleError) Unwrap() error {
	return e.Cause
}

// ConcurrencyError represents a concurrency-related error
// 同時実行関連のエラーを表現
type ConcurrencyError struct {
	Operation string `json:"operation"` // 操作名
	Resource  string `json:"resource"`  // リソース
	Message   string `json:"message"`   // エラーメッセージ
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("同時実行エラー [%s:%s]: %s", e.Operation, e.Resource, e.Message)
}

// StorageError represents a storage layer error
// ストレージ層のエラーを表現
type StorageError struct {
	Operation string `json:"operation"` // 操作名
	Message   string `json:"message"`   // エラーメッセージ
	Cause     error  `json:"cause"`     // 原因エラー
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ストレージエラー [%s]: %s (原因: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("ストレージエラー [%s]: %s", e.Operation, e.Message)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
// 新しいバリデーションエラーを作成
func NewValidationError(field, message, value string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewBusinessRuleError creates a new business rule error
// 新しいビジネスルールエラーを作成
func NewBusinessRuleError(cause error, code, details string) *BusinessRuleError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &BusinessRuleError{
		Code:    code,
		Message: msg,
		Details: details,
		Cause:   cause,
	}
}

// NewStorageError creates a new storage error
// 新しいストレージエラーを作成
func NewStorageError(operation, message string, cause error) *StorageError {
	return &StorageError{
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}
