package authz

import "errors"

var (
	// ErrNotFound indicates the referenced role, permission, or principal
	// does not exist.
	ErrNotFound = errors.New("authz: not found")
	// ErrEdgeExists is returned by the store when an edge is already
	// present. Callers treat it as success: edges are idempotent.
	ErrEdgeExists = errors.New("authz: edge already exists")
	// ErrEdgeNotFound is returned by the store when a deletion matched no
	// edge. Removal callers treat it as success.
	ErrEdgeNotFound = errors.New("authz: edge not found")
	// ErrEntityMissing indicates an edge write referenced an entity the
	// store does not know. Desired-ID validation is the caller's job; this
	// surfaces as a failed batch member, not an aborted call.
	ErrEntityMissing = errors.New("authz: referenced entity missing")
	// ErrRelationMismatch indicates the anchor kind does not fit the
	// relation, for example a principal anchor on role_permissions.
	ErrRelationMismatch = errors.New("authz: anchor does not match relation")
	// ErrUnknownPrincipalKind indicates an unrecognised principal
	// discriminator.
	ErrUnknownPrincipalKind = errors.New("authz: unknown principal kind")
)
