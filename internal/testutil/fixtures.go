package testutil

import (
	"fmt"

	"locbot/internal/models"
	appmodels "locbot/models"

	"github.com/brianvoe/gofakeit/v6"
)

// Honduran municipalities with their departamento, inside the HN bounds.
var hnPlaces = []struct {
	Municipio, Departamento string
	Lat, Lon                float64
}{
	{"Tegucigalpa", "Francisco Morazán", 14.0723, -87.1921},
	{"San Pedro Sula", "Cortés", 15.5042, -88.0250},
	{"La Ceiba", "Atlántida", 15.7835, -86.7822},
	{"Comayagua", "Comayagua", 14.4514, -87.6375},
	{"Copán Ruinas", "Copán", 14.8400, -89.1560},
}

var placeTypes = []string{"parque", "restaurante", "hotel", "museo", "playa", "mirador"}

// FakeProposal returns a valid Honduran proposal.
func FakeProposal() models.Proposal {
	p := hnPlaces[gofakeit.Number(0, len(hnPlaces)-1)]
	return models.Proposal{
		Name:         fmt.Sprintf("%s %s", gofakeit.RandomString([]string{"Parque", "Café", "Mirador", "Plaza"}), gofakeit.LastName()),
		Lat:          p.Lat + gofakeit.Float64Range(-0.01, 0.01),
		Lon:          p.Lon + gofakeit.Float64Range(-0.01, 0.01),
		Municipio:    p.Municipio,
		Departamento: p.Departamento,
		Type:         gofakeit.RandomString(placeTypes),
		Country:      "HN",
	}
}

// FakeSubmission returns the wire form of FakeProposal.
func FakeSubmission() appmodels.SubmissionRequest {
	p := FakeProposal()
	lat, lon := p.Lat, p.Lon
	return appmodels.SubmissionRequest{
		Name:         p.Name,
		Lat:          &lat,
		Lon:          &lon,
		Municipio:    p.Municipio,
		Departamento: p.Departamento,
		Type:         p.Type,
		Country:      p.Country,
	}
}
