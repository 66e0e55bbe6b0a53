package stockcore

// Role identifies the acting business role of a request
// リクエストの実行ロールを識別
type Role string

const (
	RoleInventory   Role = "inventory"   // 在庫担当
	RoleSales       Role = "sales"       // 販売担当
	RoleProcurement Role = "procurement" // 仕入担当
	RoleAccounting  Role = "accounting"  // 経理担当
	RoleManager     Role = "manager"     // 管理者
)

// Capability is a single permission evaluated once at the core boundary
// コア境界で一度だけ評価される権限
type Capability string

const (
	CapReceiveDelivery Capability = "receive_delivery" // 出荷・入荷の実行
	CapConfirmPayment  Capability = "confirm_payment"  // 支払確認
	CapTransferStock   Capability = "transfer_stock"   // 倉庫間振替
	CapViewReports     Capability = "view_reports"     // レポート閲覧
	CapCancelOrder     Capability = "cancel_order"     // 注文キャンセル
)

// roleCapabilities maps each role to its allowed capabilities
// 各ロールに許可された権限の対応表
var roleCapabilities = map[Role]map[Capability]bool{
	RoleInventory: {
		CapReceiveDelivery: true,
		CapTransferStock:   true,
		CapViewReports:     true,
	},
	RoleSales: {
		CapViewReports: true,
		CapCancelOrder: true,
	},
	RoleProcurement: {
		CapReceiveDelivery: true,
		CapViewReports:     true,
		CapCancelOrder:     true,
	},
	RoleAccounting: {
		CapConfirmPayment: true,
		CapViewReports:    true,
	},
	RoleManager: {
		CapReceiveDelivery: true,
		CapConfirmPayment:  true,
		CapTransferStock:   true,
		CapViewReports:     true,
		CapCancelOrder:     true,
	},
}

// Can reports whether a role holds a capability
// ロールが権限を持つかを返す
func Can(role Role, cap Capability) bool {
	caps, ok := roleCapabilities[role]
	if !ok {
		return false
	}
	return caps[cap]
}

// requireCapability returns ErrCapabilityDenied unless the role holds
// the capability. An empty role is treated as a trusted internal caller.
// ロールが権限を持たなければErrCapabilityDeniedを返す。
// 空ロールは信頼された内部呼び出しとして扱う。
func requireCapability(role Role, cap Capability) error {
	if role == "" {
		return nil
	}
	if !Can(role, cap) {
		return NewBusinessRuleError(ErrCapabilityDenied, CodeCapabilityDenied,
			"role="+string(role)+" capability="+string(cap))
	}
	return nil
}

// RequireCapability is the boundary-facing form of the capability check
// 境界層向けの権限チェック
func RequireCapability(role Role, cap Capability) error {
	return requireCapability(role, cap)
}
