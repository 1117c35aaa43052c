package models

import (
	"strings"
	"time"
)

type ConnectionStatus string

const (
	StatusPending   ConnectionStatus = "pending"
	StatusConnected ConnectionStatus = "connected"
	StatusDeclined  ConnectionStatus = "declined"
)

func (s ConnectionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConnected, StatusDeclined:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s ConnectionStatus) IsTerminal() bool {
	return s == StatusConnected || s == StatusDeclined
}

// NormalizeUserID is the canonical form of a user id. Email ids compare
// case-insensitively, so they are lower-cased; opaque ids are only trimmed.
func NormalizeUserID(id string) string {
	id = strings.TrimSpace(id)
	if strings.Contains(id, "@") {
		return strings.ToLower(id)
	}
	return id
}

type ConnectionRequest struct {
	ID          string           `db:"id" json:"id"`
	RequesterID string           `db:"requester_id" json:"requester_id"`
	RecipientID string           `db:"recipient_id" json:"recipient_id"`
	Status      ConnectionStatus `db:"status" json:"status"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// ConnectionPatch lists the fields of a ConnectionRequest that may change
// after creation.
type ConnectionPatch struct {
	Status *ConnectionStatus
}

func ApplyConnectionPatch(req ConnectionRequest, patch ConnectionPatch) ConnectionRequest {
	if patch.Status != nil {
		req.Status = *patch.Status
	}
	return req
}
