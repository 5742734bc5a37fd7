package domain

// Role — роль пользователя магазина.
type Role string

const (
	RoleClient    Role = "client"
	RoleAdmin     Role = "admin"
	RoleSuperUser Role = "super-user"
	RoleSEO       Role = "SEO"
)

// Identity — текущий аутентифицированный пользователь.
type Identity struct {
	ID   string
	Role Role
}

// IsStaff сообщает, есть ли у пользователя доступ к административным разделам.
func (i Identity) IsStaff() bool {
	switch i.Role {
	case RoleAdmin, RoleSuperUser, RoleSEO:
		return true
	default:
		return false
	}
}
