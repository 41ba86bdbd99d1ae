package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Location is an approved place as stored in the shared document.
// Entries are immutable once appended.
type Location struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	Municipio    string    `json:"municipio"`
	Departamento string    `json:"departamento"`
	Type         string    `json:"type"`
	Country      string    `json:"country,omitempty"`
	Approved     bool      `json:"approved"`
	ApprovedAt   time.Time `json:"approvedAt"`
	ApprovedBy   string    `json:"approvedBy,omitempty"`
	AddedAt      time.Time `json:"addedAt"`
}

// LocationFromRequest builds the location an approved request contributes.
func LocationFromRequest(req PendingRequest) Location {
	return Location{
		ID:           LocationID(req.ID),
		Name:         req.Name,
		Lat:          req.Lat,
		Lon:          req.Lon,
		Municipio:    req.Municipio,
		Departamento: req.Departamento,
		Type:         req.Type,
		Country:      req.Country,
		Approved:     true,
		ApprovedAt:   req.DecidedAt,
		ApprovedBy:   req.DecidedBy,
		AddedAt:      req.DecidedAt,
	}
}

// Statistics are derived counters, always recomputed from the location list.
type Statistics struct {
	TotalLocations    int `json:"totalLocations"`
	ApprovedLocations int `json:"approvedLocations"`
	PendingLocations  int `json:"pendingLocations"`
}

const (
	keyLocations   = "locations"
	keyLastUpdated = "lastUpdated"
	keyStatistics  = "statistics"
	keyTotalLegacy = "totalLocations"
)

// Document is the shared JSON file of approved locations.
// Existing entries and unknown top-level keys are carried through untouched so
// a rewrite never drops data written by other tools.
type Document struct {
	entries     []json.RawMessage
	LastUpdated string
	Statistics  Statistics
	extra       map[string]json.RawMessage
}

// entryHeader is the subset of an entry the synchronizer needs to read.
type entryHeader struct {
	ID       string          `json:"id"`
	Approved json.RawMessage `json:"approved"`
}

// DecodeDocument parses a document. Empty content yields an empty document.
func DecodeDocument(content []byte) (*Document, error) {
	doc := &Document{extra: map[string]json.RawMessage{}}
	if len(bytes.TrimSpace(content)) == 0 {
		return doc, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	for k, v := range raw {
		switch k {
		case keyLocations:
			if isNull(v) {
				continue
			}
			if err := json.Unmarshal(v, &doc.entries); err != nil {
				return nil, fmt.Errorf("decode document locations: %w", err)
			}
		case keyLastUpdated:
			// Tolerate non-string timestamps written by hand.
			_ = json.Unmarshal(v, &doc.LastUpdated)
		case keyStatistics:
			_ = json.Unmarshal(v, &doc.Statistics)
		default:
			doc.extra[k] = v
		}
	}
	return doc, nil
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || string(bytes.TrimSpace(v)) == "null"
}

// Len returns the number of location entries.
func (d *Document) Len() int {
	return len(d.entries)
}

// Contains reports whether a location with the given id is present.
func (d *Document) Contains(id string) bool {
	for _, e := range d.entries {
		var h entryHeader
		if err := json.Unmarshal(e, &h); err != nil {
			continue
		}
		if h.ID == id {
			return true
		}
	}
	return false
}

// IDs returns the set of location ids present in the document.
func (d *Document) IDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(d.entries))
	for _, e := range d.entries {
		var h entryHeader
		if err := json.Unmarshal(e, &h); err == nil && h.ID != "" {
			ids[h.ID] = struct{}{}
		}
	}
	return ids
}

// Append adds loc at the end of the list. It does not check for duplicates.
func (d *Document) Append(loc Location) error {
	b, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("encode location %s: %w", loc.ID, err)
	}
	d.entries = append(d.entries, b)
	return nil
}

// Locations decodes every entry. Entries written by other tools may fail to decode.
func (d *Document) Locations() ([]Location, error) {
	out := make([]Location, 0, len(d.entries))
	for i, e := range d.entries {
		var loc Location
		if err := json.Unmarshal(e, &loc); err != nil {
			return nil, fmt.Errorf("decode location %d: %w", i, err)
		}
		out = append(out, loc)
	}
	return out, nil
}

// Recompute refreshes the derived counters and the update timestamp.
func (d *Document) Recompute(now time.Time) {
	stats := Statistics{TotalLocations: len(d.entries)}
	for _, e := range d.entries {
		var h entryHeader
		if err := json.Unmarshal(e, &h); err != nil {
			stats.PendingLocations++
			continue
		}
		var approved bool
		if err := json.Unmarshal(h.Approved, &approved); err == nil && approved {
			stats.ApprovedLocations++
		} else {
			stats.PendingLocations++
		}
	}
	d.Statistics = stats
	d.LastUpdated = now.UTC().Format(time.RFC3339Nano)
}

// Encode renders the document as indented JSON.
func (d *Document) Encode() ([]byte, error) {
	out := make(map[string]any, len(d.extra)+3)
	for k, v := range d.extra {
		out[k] = v
	}
	// Older files carry a top-level total as well; keep it consistent.
	if _, ok := d.extra[keyTotalLegacy]; ok {
		out[keyTotalLegacy] = d.Statistics.TotalLocations
	}
	entries := d.entries
	if entries == nil {
		entries = []json.RawMessage{}
	}
	out[keyLocations] = entries
	out[keyLastUpdated] = d.LastUpdated
	out[keyStatistics] = d.Statistics

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return append(b, '\n'), nil
}
