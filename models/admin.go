package models

import (
	"time"

	"locbot/internal/models"
)

// AdminRequestsResponse lists requests awaiting a decision.
type AdminRequestsResponse struct {
	Requests []models.PendingRequest `json:"requests"`
	Count    int                     `json:"count"`
	Stats    map[string]int          `json:"stats"`
}

// DecisionResponse is the outcome of a verdict issued through the admin API.
type DecisionResponse struct {
	RequestID   string    `json:"requestId"`
	Status      string    `json:"status"`
	Persistence string    `json:"persistence"`
	Applied     bool      `json:"applied"`
	DecidedBy   string    `json:"decidedBy"`
	DecidedAt   time.Time `json:"decidedAt"`
}

// ReconcileResponse reports one republish pass.
type ReconcileResponse struct {
	Locations  int       `json:"locations"`
	Added      int       `json:"added"`
	Backfilled int       `json:"backfilled"`
	Attempts   int       `json:"attempts"`
	Version    string    `json:"version,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMS int64     `json:"durationMs"`
}
