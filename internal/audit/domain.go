package audit

import (
	"time"

	"github.com/google/uuid"
)

// ActionType classifies a mutation for the audit trail.
type ActionType string

const (
	// ActionCreate marks entity or edge creation.
	ActionCreate ActionType = "CREATE"
	// ActionUpdate marks assignment reconciliation and entity updates.
	ActionUpdate ActionType = "UPDATE"
	// ActionDelete marks cascade deletions.
	ActionDelete ActionType = "DELETE"
)

// Changes captures before/after snapshots when a mutation has them.
type Changes struct {
	Before any `json:"before,omitempty"`
	After  any `json:"after,omitempty"`
}

// Event is one authorization mutation as seen by the audit trail. ActorID is
// whoever the caller asserts is acting; the sink records it without
// authenticating.
type Event struct {
	ID         uuid.UUID  `json:"id"`
	Detail     string     `json:"detail"`
	Action     ActionType `json:"action"`
	Collection string     `json:"collection"`
	ObjectID   string     `json:"object_id"`
	Changes    *Changes   `json:"changes,omitempty"`
	ActorID    int64      `json:"actor_id"`
	At         time.Time  `json:"at"`
}

// NewEvent stamps identity and time onto an event.
func NewEvent(action ActionType, collection, objectID string, actorID int64) Event {
	return Event{
		ID:         uuid.New(),
		Action:     action,
		Collection: collection,
		ObjectID:   objectID,
		ActorID:    actorID,
		At:         time.Now().UTC(),
	}
}
