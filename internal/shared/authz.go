package shared

// Dashboard permissions for RBAC enforcement.
const (
	PermDashboardView   = "dashboard.view"
	PermDashboardExport = "dashboard.export"
	PermSalesUpload     = "sales.upload"
	PermTargetsManage   = "targets.manage"
	// PermDataAll lifts brand and channel restrictions.
	PermDataAll = "data.all"
)

// DashboardScopes returns every permission the dashboard understands.
func DashboardScopes() []string {
	return []string{
		PermDashboardView,
		PermDashboardExport,
		PermSalesUpload,
		PermTargetsManage,
		PermDataAll,
	}
}
