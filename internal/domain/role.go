package domain

import (
	"errors"
	"fmt"
)

// Role classifies what a user is allowed to do. It is a closed set; every
// role maps to a fixed permission set below and there is no per-user
// permission storage.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
	RoleBot    Role = "bot"
)

// Permission names a single capability checked before an operation runs.
type Permission string

const (
	PermSendRoomMessage      Permission = "send_room_message"
	PermSendDirectMessage    Permission = "send_direct_message"
	PermReceiveDirectMessage Permission = "receive_direct_message"
	PermReadMessages         Permission = "read_messages"
	PermCreateBot            Permission = "create_bot"
	PermUpdateOwnProfile     Permission = "update_own_profile"
	PermAdminUsers           Permission = "admin_users"
	PermAdminMessages        Permission = "admin_messages"
	PermAdminSystem          Permission = "admin_system"
)

// ErrInvalidRole is returned by ParseRole for values outside the closed set.
var ErrInvalidRole = errors.New("invalid role")

var rolePermissions = map[Role]map[Permission]bool{
	RoleAdmin: {
		PermSendRoomMessage:      true,
		PermSendDirectMessage:    true,
		PermReceiveDirectMessage: true,
		PermReadMessages:         true,
		PermCreateBot:            true,
		PermUpdateOwnProfile:     true,
		PermAdminUsers:           true,
		PermAdminMessages:        true,
		PermAdminSystem:          true,
	},
	RoleMember: {
		PermSendRoomMessage:      true,
		PermSendDirectMessage:    true,
		PermReceiveDirectMessage: true,
		PermReadMessages:         true,
		PermCreateBot:            true,
		PermUpdateOwnProfile:     true,
	},
	RoleViewer: {
		PermReadMessages: true,
	},
	RoleBot: {
		PermSendRoomMessage:  true,
		PermReadMessages:     true,
		PermUpdateOwnProfile: true,
	},
}

// ValidRoles lists every assignable role, in the order shown to clients.
func ValidRoles() []Role {
	return []Role{RoleAdmin, RoleMember, RoleViewer, RoleBot}
}

// ParseRole converts a string to a Role, rejecting anything outside the
// closed set.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := rolePermissions[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// HasPermission reports whether the role grants the permission. Unknown
// roles grant nothing.
func (r Role) HasPermission(p Permission) bool {
	return rolePermissions[r][p]
}

// Permissions returns the permission set granted to the role.
func (r Role) Permissions() []Permission {
	set := rolePermissions[r]
	out := make([]Permission, 0, len(set))
	for _, p := range []Permission{
		PermSendRoomMessage,
		PermSendDirectMessage,
		PermReceiveDirectMessage,
		PermReadMessages,
		PermCreateBot,
		PermUpdateOwnProfile,
		PermAdminUsers,
		PermAdminMessages,
		PermAdminSystem,
	} {
		if set[p] {
			out = append(out, p)
		}
	}
	return out
}
