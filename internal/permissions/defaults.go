package permissions

import "github.com/angelmondragon/bizledger-backend/pkg/enums"

var (
	view      = enums.NewActionSet(enums.ActionView)
	viewAdd   = enums.NewActionSet(enums.ActionView, enums.ActionAdd)
	viewEdit  = enums.NewActionSet(enums.ActionView, enums.ActionEdit)
	noDelete  = enums.NewActionSet(enums.ActionView, enums.ActionAdd, enums.ActionEdit)
	allAction = enums.AllActions
)

// Default tables. Owner is handled separately and always has every action.
// Only the owner table grants add or delete on users.
var defaultTables = map[enums.Role]PermissionMap{
	enums.RoleCompanyManager: {
		enums.ModuleDashboard: view,
		enums.ModuleProducts:  allAction,
		enums.ModuleInventory: allAction,
		enums.ModuleSales:     allAction,
		enums.ModuleCustomers: allAction,
		enums.ModulePurchases: allAction,
		enums.ModuleCashflow:  allAction,
		enums.ModuleReports:   view,
		enums.ModuleStores:    noDelete,
		enums.ModuleUsers:     viewEdit,
		enums.ModuleSettings:  viewEdit,
	},
	enums.RoleStoreManager: {
		enums.ModuleDashboard: view,
		enums.ModuleProducts:  noDelete,
		enums.ModuleInventory: noDelete,
		enums.ModuleSales:     noDelete,
		enums.ModuleCustomers: noDelete,
		enums.ModulePurchases: viewAdd,
		enums.ModuleCashflow:  viewAdd,
		enums.ModuleReports:   view,
		enums.ModuleStores:    view,
		enums.ModuleUsers:     view,
	},
	enums.RoleSalesperson: {
		enums.ModuleDashboard: view,
		enums.ModuleProducts:  view,
		enums.ModuleInventory: view,
		enums.ModuleSales:     viewAdd,
		enums.ModuleCustomers: noDelete,
	},
}

func ownerTable() PermissionMap {
	out := make(PermissionMap, len(enums.Modules()))
	for _, m := range enums.Modules() {
		out[m] = allAction
	}
	return out
}

// Defaults returns a copy of the role's default permission table. Unknown
// roles get an empty map.
func Defaults(role enums.Role) PermissionMap {
	if role == enums.RoleOwner {
		return ownerTable()
	}
	return defaultTables[role].Clone()
}
