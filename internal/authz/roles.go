package authz

const (
	RoleSales      = 10
	RoleOperations = 20
	RoleAudit      = 30
	RoleManagement = 40
	RoleAdmin      = 50
)

func IsElevated(roleID int) bool {
	return roleID == RoleOperations || roleID == RoleManagement || roleID == RoleAdmin
}

func IsReadOnly(roleID int) bool {
	return roleID == RoleAudit
}

// CanConfigureDesk reports whether the role may change desk states and
// transitions.
func CanConfigureDesk(roleID int) bool {
	return roleID == RoleManagement || roleID == RoleAdmin
}

// DeskConfigRoles lists the roles accepted by CanConfigureDesk.
func DeskConfigRoles() []int {
	return []int{RoleManagement, RoleAdmin}
}
