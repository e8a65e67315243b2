// Package rbac decides which operations a role may perform.
package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	// ActionRead covers listing, search and display.
	ActionRead Action = "read"
	// ActionWrite covers create, update and duplicate.
	ActionWrite Action = "write"
	// ActionDelete removes versions or whole groups together with their images.
	ActionDelete Action = "delete"
	// ActionManageUsers adds, lists and removes accounts.
	ActionManageUsers Action = "manage_users"
)

var grants = map[Role][]Action{
	RoleViewer: {ActionRead},
	RoleEditor: {ActionRead, ActionWrite},
	RoleAdmin:  {ActionRead, ActionWrite, ActionDelete, ActionManageUsers},
}

// Roles lists the assignable roles from least to most privileged.
func Roles() []Role {
	return []Role{RoleViewer, RoleEditor, RoleAdmin}
}

func Can(role Role, action Action) bool {
	for _, granted := range grants[role] {
		if granted == action {
			return true
		}
	}
	return false
}

func Valid(role string) bool {
	_, ok := grants[Role(role)]
	return ok
}

// Normalize maps unknown roles to the least privileged one.
func Normalize(role string) Role {
	if Valid(role) {
		return Role(role)
	}
	return RoleViewer
}
