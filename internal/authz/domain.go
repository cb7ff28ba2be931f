package authz

import (
	"fmt"
	"time"
)

// Role groups permissions under a display name. Guard is a free-text
// namespace tag (admin vs api), not an enforcement boundary.
type Role struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Guard     string    `json:"guard"`
	CreatedBy int64     `json:"created_by"`
	UpdatedBy int64     `json:"updated_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Permission is an atomic capability, conventionally named action-resource
// (for example read-users).
type Permission struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Guard     string    `json:"guard"`
	CreatedBy int64     `json:"created_by"`
	UpdatedBy int64     `json:"updated_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PrincipalKind discriminates principal types on the principal edge tables.
// Only users exist today; the edge tables are typed so new kinds slot in
// without a schema change.
type PrincipalKind string

// PrincipalUser is the only principal kind currently supported.
const PrincipalUser PrincipalKind = "user"

// ParsePrincipalKind validates a raw discriminator. Unknown values are
// rejected so a typo cannot silently create orphaned edges.
func ParsePrincipalKind(raw string) (PrincipalKind, error) {
	switch PrincipalKind(raw) {
	case PrincipalUser:
		return PrincipalUser, nil
	default:
		return "", fmt.Errorf("authz: unknown principal kind %q: %w", raw, ErrUnknownPrincipalKind)
	}
}

// Relation identifies one of the three edge tables.
type Relation string

const (
	// RelationRolePermissions joins roles to permissions.
	RelationRolePermissions Relation = "role_permissions"
	// RelationPrincipalRoles joins principals to roles.
	RelationPrincipalRoles Relation = "principal_roles"
	// RelationPrincipalPermissions joins principals to directly granted
	// permissions, bypassing roles.
	RelationPrincipalPermissions Relation = "principal_permissions"
)

// AnchorKind returns which side of the relation is fixed during
// reconciliation.
func (r Relation) AnchorKind() AnchorKind {
	if r == RelationRolePermissions {
		return AnchorRole
	}
	return AnchorPrincipal
}

// AnchorKind identifies the fixed side of a relation.
type AnchorKind string

const (
	// AnchorRole anchors a relation on a role.
	AnchorRole AnchorKind = "role"
	// AnchorPrincipal anchors a relation on a principal.
	AnchorPrincipal AnchorKind = "principal"
)

// Anchor pins one side of a relation: the role whose permission set is being
// synced, or the principal whose roles or direct grants are being synced.
type Anchor struct {
	Kind      AnchorKind
	ID        int64
	Principal PrincipalKind
}

// RoleAnchor builds an anchor for a role's permission set.
func RoleAnchor(roleID int64) Anchor {
	return Anchor{Kind: AnchorRole, ID: roleID}
}

// PrincipalAnchor builds an anchor for a principal's role or direct grant set.
func PrincipalAnchor(kind PrincipalKind, principalID int64) Anchor {
	return Anchor{Kind: AnchorPrincipal, ID: principalID, Principal: kind}
}

// Key returns a stable identity for the anchor, used for per-anchor
// serialization and cache keys.
func (a Anchor) Key() string {
	if a.Kind == AnchorRole {
		return fmt.Sprintf("role:%d", a.ID)
	}
	return fmt.Sprintf("principal:%s:%d", a.Principal, a.ID)
}

// EdgeOp names the write a batch member attempted.
type EdgeOp string

const (
	// EdgeAdd creates an edge.
	EdgeAdd EdgeOp = "add"
	// EdgeRemove deletes an edge.
	EdgeRemove EdgeOp = "remove"
)

// EdgeFailure records a single batch member that failed. The rest of the
// batch proceeds regardless.
type EdgeFailure struct {
	ID  int64
	Op  EdgeOp
	Err error
}

// ReconcileResult reports exactly which edges exist for the anchor after a
// reconcile call. All slices are sorted ascending.
type ReconcileResult struct {
	Removed     []int64
	Added       []int64
	Skipped     []int64
	AllAssigned []int64
	Failed      []EdgeFailure
}

// Partial reports whether some batch members failed while others succeeded.
func (r ReconcileResult) Partial() bool {
	return len(r.Failed) > 0
}

// CascadeResult counts the edges removed ahead of an entity deletion.
type CascadeResult struct {
	PrincipalEdges int64
	RelationEdges  int64
}
