package models

// SubmissionRequest is the public payload proposing a new location.
// Coordinates are pointers so a missing value can be told apart from zero.
type SubmissionRequest struct {
	Name         string   `json:"name" example:"Parque X"`
	Lat          *float64 `json:"lat" example:"14.1"`
	Lon          *float64 `json:"lon" example:"-87.2"`
	Municipio    string   `json:"municipio" example:"Tegucigalpa"`
	Departamento string   `json:"departamento" example:"Francisco Morazán"`
	Type         string   `json:"type" example:"parque"`
	Country      string   `json:"country,omitempty" example:"HN"`
}

// SubmissionResponse acknowledges an accepted proposal.
type SubmissionResponse struct {
	Accepted  bool   `json:"accepted"`
	RequestID string `json:"requestId"`
}
