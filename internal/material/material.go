package material

import "strings"

type Material string

const (
	Steel          Material = "steel"
	Aluminum       Material = "aluminum"
	Copper         Material = "copper"
	Brass          Material = "brass"
	Lead           Material = "lead"
	StainlessSteel Material = "stainless_steel"
	Other          Material = "other"
	Unknown        Material = "unknown"
)

var all = []Material{Steel, Aluminum, Copper, Brass, Lead, StainlessSteel, Other, Unknown}

// Price per pound in USD.
var prices = map[Material]float64{
	Steel:          0.10,
	Aluminum:       0.65,
	Copper:         3.50,
	Brass:          2.20,
	Lead:           0.80,
	StainlessSteel: 0.40,
	Other:          0.05,
	Unknown:        0.00,
}

// Solid density in lb/in³. Other and Unknown use a mid-range ferrous guess.
var densities = map[Material]float64{
	Steel:          0.284,
	Aluminum:       0.0975,
	Copper:         0.323,
	Brass:          0.307,
	Lead:           0.410,
	StainlessSteel: 0.289,
	Other:          0.250,
	Unknown:        0.250,
}

func All() []Material {
	return append([]Material(nil), all...)
}

// Parse accepts the canonical names case-insensitively, with spaces, dashes
// or camel case for stainless steel. Anything else is Unknown.
func Parse(s string) Material {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if key == "stainlesssteel" {
		key = string(StainlessSteel)
	}

	m := Material(key)
	if _, ok := prices[m]; ok {
		return m
	}
	return Unknown
}

// PricePerLb is 0 for materials outside the table.
func (m Material) PricePerLb() float64 {
	return prices[m]
}

func (m Material) Density() float64 {
	if d, ok := densities[m]; ok {
		return d
	}
	return densities[Unknown]
}

func (m Material) String() string {
	return string(m)
}
