package authz

// Permission names use the <resource>.<action> convention and are
// globally unique.
const (
	PermFnbView    = "fnb.view"
	PermFnbEntry   = "fnb.entry"
	PermFnbEdit    = "fnb.edit"
	PermFnbApprove = "fnb.approve"

	PermSummaryView        = "summary.view"
	PermSummaryRecalculate = "summary.recalculate"

	PermReportsView   = "reports.view"
	PermReportsExport = "reports.export"

	PermBudgetsView    = "budgets.view"
	PermBudgetsEdit    = "budgets.edit"
	PermBudgetsApprove = "budgets.approve"

	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"
	PermRolesEdit = "roles.edit"

	PermPropertySettings = "property.settings"
	PermPropertyTransfer = "property.transfer"
	PermPropertyDelete   = "property.delete"

	PermPoliciesView = "policies.view"
	PermPoliciesEdit = "policies.edit"

	PermAuditView    = "audit.view"
	PermAccessManage = "access.manage"
	PermSystemAdmin  = "system.admin"
)
