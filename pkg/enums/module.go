package enums

import "fmt"

// Module names a permission-guarded area of the application.
type Module string

const (
	ModuleDashboard Module = "dashboard"
	ModuleProducts  Module = "products"
	ModuleInventory Module = "inventory"
	ModuleSales     Module = "sales"
	ModuleCustomers Module = "customers"
	ModulePurchases Module = "purchases"
	ModuleCashflow  Module = "cashflow"
	ModuleReports   Module = "reports"
	ModuleStores    Module = "stores"
	ModuleUsers     Module = "users"
	ModuleSettings  Module = "settings"
)

var validModules = []Module{
	ModuleDashboard,
	ModuleProducts,
	ModuleInventory,
	ModuleSales,
	ModuleCustomers,
	ModulePurchases,
	ModuleCashflow,
	ModuleReports,
	ModuleStores,
	ModuleUsers,
	ModuleSettings,
}

// String implements fmt.Stringer.
func (m Module) String() string {
	return string(m)
}

// IsValid reports whether the value is a known Module.
func (m Module) IsValid() bool {
	for _, candidate := range validModules {
		if candidate == m {
			return true
		}
	}
	return false
}

// Modules returns every known module.
func Modules() []Module {
	out := make([]Module, len(validModules))
	copy(out, validModules)
	return out
}

// ParseModule converts raw input into a Module.
func ParseModule(value string) (Module, error) {
	for _, candidate := range validModules {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid module %q", value)
}
