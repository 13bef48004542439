package rbac

type Role string
type Action string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

const (
	ActionBrowse   Action = "browse"
	ActionPurchase Action = "purchase"
	ActionReview   Action = "review"
	ActionManage   Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleCustomer:
		return action == ActionBrowse || action == ActionPurchase || action == ActionReview
	default:
		return action == ActionBrowse
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleCustomer, RoleAdmin:
		return Role(role)
	default:
		return RoleCustomer
	}
}
