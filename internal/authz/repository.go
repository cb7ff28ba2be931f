package authz

import "context"

// GraphRepository is the persistence boundary for the authorization graph.
// Edge methods are parameterized over Relation so one implementation serves
// all three edge tables.
type GraphRepository interface {
	// FindEdges returns the IDs on the far side of every edge the anchor
	// currently holds for the relation.
	FindEdges(ctx context.Context, rel Relation, anchor Anchor) ([]int64, error)
	// CreateEdge inserts a single edge. Returns ErrEdgeExists when the
	// pair is already present and ErrEntityMissing when either side does
	// not exist.
	CreateEdge(ctx context.Context, rel Relation, anchor Anchor, otherID int64) error
	// DeleteEdge removes a single edge. Returns ErrEdgeNotFound when no
	// such pair exists.
	DeleteEdge(ctx context.Context, rel Relation, anchor Anchor, otherID int64) error

	GetRole(ctx context.Context, id int64) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)

	GetPermission(ctx context.Context, id int64) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	ListPermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error)
	CreatePermission(ctx context.Context, perm Permission) (Permission, error)
	UpdatePermission(ctx context.Context, perm Permission) (Permission, error)

	// WithTx runs fn against a transactional view of the graph. Used by
	// the cascade guard so edge wipes and the row delete land atomically.
	WithTx(ctx context.Context, fn func(GraphTx) error) error
}

// GraphTx exposes the destructive cascade operations inside a transaction.
type GraphTx interface {
	// WipeRoleEdges removes every principal_roles and role_permissions
	// edge referencing the role and reports how many of each were removed.
	WipeRoleEdges(ctx context.Context, roleID int64) (principalEdges, permissionEdges int64, err error)
	// WipePermissionEdges removes every principal_permissions and
	// role_permissions edge referencing the permission.
	WipePermissionEdges(ctx context.Context, permissionID int64) (principalEdges, roleEdges int64, err error)
	// DeleteRole removes the role row. Returns ErrNotFound when absent.
	DeleteRole(ctx context.Context, id int64) error
	// DeletePermission removes the permission row.
	DeletePermission(ctx context.Context, id int64) error
}
