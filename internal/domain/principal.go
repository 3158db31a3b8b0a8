package domain

const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
)

// Principal is the caller identity handed over by the auth layer.
type Principal struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

func (p Principal) CanManageServers() bool {
	return p.Role == RoleAdmin || p.Role == RoleModerator
}
