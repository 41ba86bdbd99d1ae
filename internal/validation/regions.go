package validation

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed regions.yml
var regionsYAML []byte

// Bounds is a latitude/longitude bounding box.
type Bounds struct {
	MinLat float64 `yaml:"min_lat"`
	MaxLat float64 `yaml:"max_lat"`
	MinLon float64 `yaml:"min_lon"`
	MaxLon float64 `yaml:"max_lon"`
}

// Contains reports whether the point lies inside the box, edges included.
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Country describes a supported country and how its subdivisions are named.
type Country struct {
	Code   string            `yaml:"-"`
	Name   string            `yaml:"name"`
	Flag   string            `yaml:"flag"`
	Labels map[string]string `yaml:"labels"`
	Bounds Bounds            `yaml:"bounds"`
}

// Label returns the local name of a subdivision field, e.g. "Cantón" for municipio in CR.
func (c Country) Label(field string) string {
	if l, ok := c.Labels[field]; ok {
		return l
	}
	return field
}

// Regions is the set of supported countries.
type Regions struct {
	Default   string             `yaml:"default"`
	Countries map[string]Country `yaml:"countries"`
}

// ParseRegions decodes a regions document.
func ParseRegions(data []byte) (*Regions, error) {
	var r Regions
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse regions: %w", err)
	}
	if len(r.Countries) == 0 {
		return nil, fmt.Errorf("parse regions: no countries defined")
	}
	for code, c := range r.Countries {
		c.Code = code
		r.Countries[code] = c
	}
	if _, ok := r.Countries[r.Default]; !ok {
		return nil, fmt.Errorf("parse regions: default country %q is not defined", r.Default)
	}
	return &r, nil
}

// DefaultRegions returns the embedded country table.
func DefaultRegions() *Regions {
	r, err := ParseRegions(regionsYAML)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the country for code.
func (r *Regions) Lookup(code string) (Country, bool) {
	c, ok := r.Countries[code]
	return c, ok
}

// Codes returns the supported country codes in a stable order.
func (r *Regions) Codes() []string {
	codes := make([]string, 0, len(r.Countries))
	for code := range r.Countries {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
