// Package validation checks public location proposals before they reach a moderator.
package validation

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"locbot/internal/models"
	appmodels "locbot/models"
)

const (
	maxNameLength   = 120
	maxRegionLength = 80
	maxTypeLength   = 40
)

// Validator normalizes and checks submissions against the supported regions.
type Validator struct {
	regions *Regions
}

// NewValidator returns a Validator for the given regions. A nil table uses the embedded one.
func NewValidator(regions *Regions) *Validator {
	if regions == nil {
		regions = DefaultRegions()
	}
	return &Validator{regions: regions}
}

// Regions exposes the country table the validator checks against.
func (v *Validator) Regions() *Regions {
	return v.regions
}

// ValidateSubmission turns a raw submission into a normalized proposal.
// Errors are VALIDATION_ERROR app errors naming the offending field.
func (v *Validator) ValidateSubmission(req appmodels.SubmissionRequest) (models.Proposal, error) {
	name, err := requiredText("name", req.Name, maxNameLength)
	if err != nil {
		return models.Proposal{}, err
	}
	municipio, err := requiredText("municipio", req.Municipio, maxRegionLength)
	if err != nil {
		return models.Proposal{}, err
	}
	departamento, err := requiredText("departamento", req.Departamento, maxRegionLength)
	if err != nil {
		return models.Proposal{}, err
	}
	kind, err := requiredText("type", req.Type, maxTypeLength)
	if err != nil {
		return models.Proposal{}, err
	}

	code := strings.ToUpper(strings.TrimSpace(req.Country))
	if code == "" {
		code = v.regions.Default
	}
	country, ok := v.regions.Lookup(code)
	if !ok {
		return models.Proposal{}, appmodels.NewValidationError(
			fmt.Sprintf("country %q is not supported (supported: %s)", code, strings.Join(v.regions.Codes(), ", ")))
	}

	if req.Lat == nil || req.Lon == nil {
		return models.Proposal{}, appmodels.NewValidationError("lat and lon are required")
	}
	lat, lon := *req.Lat, *req.Lon
	if err := ValidateCoordinates(lat, lon); err != nil {
		return models.Proposal{}, err
	}
	if !country.Bounds.Contains(lat, lon) {
		return models.Proposal{}, appmodels.NewValidationError(
			fmt.Sprintf("coordinates %.6f,%.6f are outside %s", lat, lon, country.Name))
	}

	return models.Proposal{
		Name:         name,
		Lat:          lat,
		Lon:          lon,
		Municipio:    municipio,
		Departamento: departamento,
		Type:         strings.ToLower(kind),
		Country:      code,
	}, nil
}

// ValidateCoordinates rejects values that are not finite or not on the globe.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return appmodels.NewValidationError("lat and lon must be finite numbers")
	}
	if lat < -90 || lat > 90 {
		return appmodels.NewValidationError("lat must be between -90 and 90")
	}
	if lon < -180 || lon > 180 {
		return appmodels.NewValidationError("lon must be between -180 and 180")
	}
	return nil
}

func requiredText(field, value string, maxLen int) (string, error) {
	v := strings.Join(strings.Fields(value), " ")
	if v == "" {
		return "", appmodels.NewValidationError(field + " is required")
	}
	if utf8.RuneCountInString(v) > maxLen {
		return "", appmodels.NewValidationError(fmt.Sprintf("%s must be at most %d characters", field, maxLen))
	}
	if strings.ContainsAny(v, "<>") {
		return "", appmodels.NewValidationError(field + " contains invalid characters")
	}
	return v, nil
}
