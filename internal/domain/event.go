package domain

import "time"

type EntityType string

const (
	EntityLot     EntityType = "lot"
	EntityOffer   EntityType = "offer"
	EntityDeal    EntityType = "deal"
	EntityMessage EntityType = "message"
)

// StatusDeleted is the NewStatus of the event emitted when a lot is
// soft-deleted. It is not a LotStatus.
const StatusDeleted = "deleted"

// StatusSent is the NewStatus of the event recorded for a posted message.
const StatusSent = "sent"

// Event records one committed status transition. Events are appended to the
// outbox in the same transaction as the change they describe.
type Event struct {
	Seq        int64      `json:"seq"`
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	OldStatus  string     `json:"oldStatus"`
	NewStatus  string     `json:"newStatus"`
	ActorID    string     `json:"actorId,omitempty"`
	LotID      string     `json:"lotId,omitempty"`
	// Users whose views change because of the transition.
	UserIDs    []string  `json:"userIds"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
	Attempts   int       `json:"-"`
}

// Key identifies the transition for idempotent consumers.
func (e Event) Key() string {
	return string(e.EntityType) + ":" + e.EntityID + ":" + e.NewStatus
}
