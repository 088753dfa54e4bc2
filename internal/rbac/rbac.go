// Package rbac defines per-organization roles and the actions they allow.
package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

const (
	ActionRead    Action = "read"    // list/get catalog entities, snapshots, runs
	ActionEdit    Action = "edit"    // mutate processors, operations, playbooks, runs
	ActionManage  Action = "manage"  // org catalog: galleries, members, invitations, subscription
	ActionControl Action = "control" // destructive/ownership: delete org, transfer
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleAdmin:
		return action == ActionRead || action == ActionEdit || action == ActionManage
	case RoleMember:
		return action == ActionRead || action == ActionEdit
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleMember, RoleAdmin, RoleOwner:
		return Role(role)
	default:
		return RoleViewer
	}
}
