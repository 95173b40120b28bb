package rbac

import "sort"

// Action is a named business operation
type Action string

// Category groups actions for summaries
type Category string

const (
	CategoryOrganization Category = "organization"
	CategoryUser         Category = "user"
	CategoryWarehouse    Category = "warehouse"
	CategoryInventory    Category = "inventory"
	CategoryMachine      Category = "machine"
	CategoryPart         Category = "part"
	CategoryTransaction  Category = "transaction"
	CategoryOrder        Category = "order"
	CategoryReporting    Category = "reporting"
	CategorySystem       Category = "system"
)

// Organization actions
const (
	ActionViewOrganization   Action = "view_organization"
	ActionCreateOrganization Action = "create_organization"
	ActionUpdateOrganization Action = "update_organization"
	ActionDeleteOrganization Action = "delete_organization"
	ActionViewSuppliers      Action = "view_suppliers"
	ActionManageSuppliers    Action = "manage_suppliers"
)

// User actions
const (
	ActionViewUser        Action = "view_user"
	ActionCreateUser      Action = "create_user"
	ActionUpdateUser      Action = "update_user"
	ActionDeleteUser      Action = "delete_user"
	ActionInviteUser      Action = "invite_user"
	ActionManageUserRoles Action = "manage_user_roles"
)

// Warehouse actions
const (
	ActionViewWarehouse   Action = "view_warehouse"
	ActionCreateWarehouse Action = "create_warehouse"
	ActionUpdateWarehouse Action = "update_warehouse"
	ActionDeleteWarehouse Action = "delete_warehouse"
)

// Inventory actions
const (
	ActionViewInventory     Action = "view_inventory"
	ActionAdjustInventory   Action = "adjust_inventory"
	ActionTransferInventory Action = "transfer_inventory"
	ActionStocktake         Action = "perform_stocktake"
)

// Machine actions
const (
	ActionViewMachine        Action = "view_machine"
	ActionRegisterMachine    Action = "register_machine"
	ActionUpdateMachine      Action = "update_machine"
	ActionDeleteMachine      Action = "delete_machine"
	ActionTransferMachine    Action = "transfer_machine"
	ActionRecordMachineHours Action = "record_machine_hours"
)

// Part actions
const (
	ActionViewPart        Action = "view_part"
	ActionCreatePart      Action = "create_part"
	ActionUpdatePart      Action = "update_part"
	ActionDeletePart      Action = "delete_part"
	ActionUploadPartPhoto Action = "upload_part_photo"
)

// Transaction actions
const (
	ActionViewTransaction   Action = "view_transaction"
	ActionCreateTransaction Action = "create_transaction"
)

// Order actions
const (
	ActionViewOrder    Action = "view_order"
	ActionCreateOrder  Action = "create_order"
	ActionUpdateOrder  Action = "update_order"
	ActionCancelOrder  Action = "cancel_order"
	ActionApproveOrder Action = "approve_order"
	ActionFulfillOrder Action = "fulfill_order"
)

// Reporting actions
const (
	ActionViewReports   Action = "view_reports"
	ActionExportReports Action = "export_reports"
)

// System actions
const (
	ActionViewAuditLogs        Action = "view_audit_logs"
	ActionManageSystemSettings Action = "manage_system_settings"
	ActionClearIsolationCache  Action = "clear_isolation_cache"
)

// ActionInfo describes a catalogued action
type ActionInfo struct {
	Action      Action   `json:"action"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
}

var catalog = []ActionInfo{
	{ActionViewOrganization, CategoryOrganization, "View organization details"},
	{ActionCreateOrganization, CategoryOrganization, "Create an organization"},
	{ActionUpdateOrganization, CategoryOrganization, "Update organization details"},
	{ActionDeleteOrganization, CategoryOrganization, "Delete an organization"},
	{ActionViewSuppliers, CategoryOrganization, "List an organization's suppliers"},
	{ActionManageSuppliers, CategoryOrganization, "Activate, deactivate and edit suppliers"},

	{ActionViewUser, CategoryUser, "View user accounts"},
	{ActionCreateUser, CategoryUser, "Create a user account"},
	{ActionUpdateUser, CategoryUser, "Update a user account"},
	{ActionDeleteUser, CategoryUser, "Delete a user account"},
	{ActionInviteUser, CategoryUser, "Invite a user by email"},
	{ActionManageUserRoles, CategoryUser, "Change a user's role"},

	{ActionViewWarehouse, CategoryWarehouse, "View warehouses"},
	{ActionCreateWarehouse, CategoryWarehouse, "Create a warehouse"},
	{ActionUpdateWarehouse, CategoryWarehouse, "Update a warehouse"},
	{ActionDeleteWarehouse, CategoryWarehouse, "Delete a warehouse"},

	{ActionViewInventory, CategoryInventory, "View stock levels"},
	{ActionAdjustInventory, CategoryInventory, "Adjust stock levels"},
	{ActionTransferInventory, CategoryInventory, "Move stock between warehouses"},
	{ActionStocktake, CategoryInventory, "Record a stocktake"},

	{ActionViewMachine, CategoryMachine, "View machines"},
	{ActionRegisterMachine, CategoryMachine, "Register a new machine"},
	{ActionUpdateMachine, CategoryMachine, "Update machine details"},
	{ActionDeleteMachine, CategoryMachine, "Delete a machine"},
	{ActionTransferMachine, CategoryMachine, "Transfer a machine to another organization"},
	{ActionRecordMachineHours, CategoryMachine, "Record machine operating hours"},

	{ActionViewPart, CategoryPart, "View the parts catalog"},
	{ActionCreatePart, CategoryPart, "Add a part to the catalog"},
	{ActionUpdatePart, CategoryPart, "Update a catalog part"},
	{ActionDeletePart, CategoryPart, "Remove a catalog part"},
	{ActionUploadPartPhoto, CategoryPart, "Upload part photos"},

	{ActionViewTransaction, CategoryTransaction, "View stock transactions"},
	{ActionCreateTransaction, CategoryTransaction, "Record a stock transaction"},

	{ActionViewOrder, CategoryOrder, "View orders"},
	{ActionCreateOrder, CategoryOrder, "Place an order"},
	{ActionUpdateOrder, CategoryOrder, "Edit an order"},
	{ActionCancelOrder, CategoryOrder, "Cancel an order"},
	{ActionApproveOrder, CategoryOrder, "Approve an order"},
	{ActionFulfillOrder, CategoryOrder, "Fulfill an order"},

	{ActionViewReports, CategoryReporting, "View reports and dashboards"},
	{ActionExportReports, CategoryReporting, "Export report data"},

	{ActionViewAuditLogs, CategorySystem, "Read the audit trail"},
	{ActionManageSystemSettings, CategorySystem, "Change system settings"},
	{ActionClearIsolationCache, CategorySystem, "Invalidate cached organization access"},
}

var catalogIndex = func() map[Action]ActionInfo {
	idx := make(map[Action]ActionInfo, len(catalog))
	for _, info := range catalog {
		idx[info.Action] = info
	}
	return idx
}()

// Valid reports whether a is in the catalog
func (a Action) Valid() bool {
	_, ok := catalogIndex[a]
	return ok
}

// Category returns the category a belongs to, or "" for unknown actions
func (a Action) Category() Category {
	return catalogIndex[a].Category
}

// ParseAction converts a string into a catalogued Action
func ParseAction(s string) (Action, bool) {
	a := Action(s)
	return a, a.Valid()
}

// AllActions returns every catalogued action in catalog order
func AllActions() []Action {
	out := make([]Action, len(catalog))
	for i, info := range catalog {
		out[i] = info.Action
	}
	return out
}

// Catalog returns the action catalog
func Catalog() []ActionInfo {
	return append([]ActionInfo(nil), catalog...)
}

// ActionSummary lists actions by category, each list sorted
type ActionSummary map[Category][]Action

func summarize(actions []Action) ActionSummary {
	summary := make(ActionSummary)
	for _, a := range actions {
		summary[a.Category()] = append(summary[a.Category()], a)
	}
	for _, list := range summary {
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	}
	return summary
}
