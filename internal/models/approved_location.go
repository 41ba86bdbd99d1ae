package models

import "time"

// ApprovedLocation is the local ledger row for every approval, used to heal
// missed writes to the shared document.
type ApprovedLocation struct {
	ID           string     `gorm:"primaryKey;size:80" json:"id"`
	RequestID    string     `gorm:"size:64;not null;uniqueIndex" json:"request_id"`
	Name         string     `gorm:"size:120;not null" json:"name"`
	Lat          float64    `gorm:"not null" json:"lat"`
	Lon          float64    `gorm:"not null" json:"lon"`
	Municipio    string     `gorm:"size:80" json:"municipio"`
	Departamento string     `gorm:"size:80" json:"departamento"`
	Type         string     `gorm:"size:40" json:"type"`
	Country      string     `gorm:"size:2;not null;default:'HN'" json:"country"`
	ApprovedBy   string     `gorm:"size:64" json:"approved_by"`
	ApprovedAt   time.Time  `gorm:"not null;index" json:"approved_at"`
	PublishedAt  *time.Time `gorm:"index" json:"published_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewApprovedLocation builds a ledger row from a request that was just approved.
func NewApprovedLocation(req PendingRequest) *ApprovedLocation {
	return &ApprovedLocation{
		ID:           LocationID(req.ID),
		RequestID:    req.ID,
		Name:         req.Name,
		Lat:          req.Lat,
		Lon:          req.Lon,
		Municipio:    req.Municipio,
		Departamento: req.Departamento,
		Type:         req.Type,
		Country:      req.Country,
		ApprovedBy:   req.DecidedBy,
		ApprovedAt:   req.DecidedAt,
	}
}

// Location converts the row back into the shared document representation.
func (a ApprovedLocation) Location() Location {
	return Location{
		ID:           a.ID,
		Name:         a.Name,
		Lat:          a.Lat,
		Lon:          a.Lon,
		Municipio:    a.Municipio,
		Departamento: a.Departamento,
		Type:         a.Type,
		Country:      a.Country,
		Approved:     true,
		ApprovedAt:   a.ApprovedAt,
		ApprovedBy:   a.ApprovedBy,
		AddedAt:      a.ApprovedAt,
	}
}
