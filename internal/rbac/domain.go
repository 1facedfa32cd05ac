package rbac

import "time"

// Permission represents an atomic capability, unique per name and guard.
type Permission struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	GuardName          string    `json:"guard_name"`
	Group              string    `json:"group"`
	IsSystemPermission bool      `json:"is_system_permission"`
	CreatedBy          *int64    `json:"created_by"`
	UpdatedBy          *int64    `json:"updated_by"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Role bundles permissions, unique per name and guard.
type Role struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	GuardName    string       `json:"guard_name"`
	IsSystemRole bool         `json:"is_system_role"`
	CreatedBy    *int64       `json:"created_by"`
	UpdatedBy    *int64       `json:"updated_by"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	Permissions  []Permission `json:"permissions,omitempty"`
}

// PermissionNames projects the loaded permission relation to names.
func (r Role) PermissionNames() []string {
	names := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		names = append(names, p.Name)
	}
	return names
}
