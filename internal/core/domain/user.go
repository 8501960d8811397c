package domain

type UserID string

type Role string

const (
	RoleManager  Role = "manager"
	RoleOperator Role = "operator"
)

// Valid reports whether r is one of the roles a token may carry.
func (r Role) Valid() bool {
	return r == RoleManager || r == RoleOperator
}

// User is the identity extracted from a verified bearer token.
type User struct {
	ID    UserID `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}
