package telemetry

import "time"

// Routing keys for domain events on the events exchange.
const (
	ConnectionRequestCreatedKey = "connection.request.created"
	ConnectionRequestUpdatedKey = "connection.request.updated"
	ConnectionRequestDeletedKey = "connection.request.deleted"
	ListingCreatedKey           = "listing.created"
	ListingUpdatedKey           = "listing.updated"
	ListingDeletedKey           = "listing.deleted"
)

type ConnectionRequestEvent struct {
	RequestID   string    `json:"request_id"`
	RequesterID string    `json:"requester_id"`
	RecipientID string    `json:"recipient_id"`
	Status      string    `json:"status"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type ListingEvent struct {
	ListingID  string    `json:"listing_id"`
	SellerID   string    `json:"seller_id"`
	Category   string    `json:"category"`
	OccurredAt time.Time `json:"occurred_at"`
}
