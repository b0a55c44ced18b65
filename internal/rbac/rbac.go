package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleClient    Role = "client"
	RoleArchitect Role = "architect"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionApprove Action = "approve"
	ActionPublish Action = "publish"
	ActionAdmin   Action = "admin"
)

// Can answers whether role may perform action. Clients own the approval
// capability; architects own authoring and publishing.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleArchitect:
		return action == ActionRead || action == ActionComment || action == ActionPublish
	case RoleClient:
		return action == ActionRead || action == ActionComment || action == ActionApprove
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleClient, RoleArchitect, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
