package users

import (
	"time"

	"github.com/sentinel-iam/sentinel-iam/internal/rbac"
)

// User represents a managed account. Super-admin accounts never surface
// through this package; the standard management operations treat them as
// absent.
type User struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Username  string     `json:"username"`
	CreatedBy *int64     `json:"created_by"`
	UpdatedBy *int64     `json:"updated_by"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// Loaded relations.
	Roles       []rbac.Role       `json:"roles,omitempty"`
	Permissions []rbac.Permission `json:"permissions,omitempty"`
}
