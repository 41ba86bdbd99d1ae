package models

import (
	"fmt"
	"time"
)

// RequestStatus defines lifecycle states for location proposals.
type RequestStatus string

const (
	// RequestStatusPending indicates the proposal is awaiting a moderator.
	RequestStatusPending RequestStatus = "pending"
	// RequestStatusApproved indicates the moderator accepted the proposal.
	RequestStatusApproved RequestStatus = "approved"
	// RequestStatusRejected indicates the moderator denied the proposal.
	RequestStatusRejected RequestStatus = "rejected"
)

// Terminal reports whether no further transition is allowed from s.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected
}

// Persistence tracks whether an approved location reached the shared document.
type Persistence string

const (
	PersistenceNone      Persistence = "none"
	PersistencePending   Persistence = "pending"
	PersistencePersisted Persistence = "persisted"
)

// Proposal is a validated, normalized location submission.
type Proposal struct {
	Name         string  `json:"name"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	Municipio    string  `json:"municipio"`
	Departamento string  `json:"departamento"`
	Type         string  `json:"type"`
	Country      string  `json:"country"`
}

// NotificationHandle identifies the moderation message posted for a request.
type NotificationHandle struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// Valid reports whether the handle points to an actual message.
func (h NotificationHandle) Valid() bool {
	return h.ChatID != 0 && h.MessageID != 0
}

func (h NotificationHandle) String() string {
	return fmt.Sprintf("%d/%d", h.ChatID, h.MessageID)
}

// PendingRequest is a proposal tracked in memory until a moderator decides on it.
// Values handed out by the registry are copies.
type PendingRequest struct {
	ID string `json:"id"`
	Proposal
	Status       RequestStatus      `json:"status"`
	ReceivedAt   time.Time          `json:"received_at"`
	DecidedAt    time.Time          `json:"decided_at,omitzero"`
	DecidedBy    string             `json:"decided_by,omitempty"`
	Persistence  Persistence        `json:"persistence"`
	Notification NotificationHandle `json:"notification,omitzero"`
}

// LocationID is the deterministic id of the location an approval produces.
func LocationID(requestID string) string {
	return "loc_" + requestID
}
