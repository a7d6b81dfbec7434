// Package domain defines the vehicle types, selection conversion and error
// taxonomy shared by the comparison form and its API client.
package domain

import "time"

// MinModelYear is the earliest year we accept.
const MinModelYear = 1980

// MaxModelYear is the latest year we accept (current + 1 for next-year models).
const MaxModelYear = 2027

// Vehicle is one fully selected side of a comparison.
type Vehicle struct {
	Make  string `json:"make"`
	Type  string `json:"type,omitempty"`
	Year  int    `json:"year"`
	Model string `json:"model"`
	VIN   string `json:"vin,omitempty"`
}

// Comparison pairs the two vehicles chosen on the comparison page.
type Comparison struct {
	Vehicles   [2]Vehicle `json:"vehicles"`
	Variant    string     `json:"variant"`
	SelectedAt time.Time  `json:"selected_at"`
}

// ModelYears returns every accepted model year, newest first.
func ModelYears() []int {
	years := make([]int, 0, MaxModelYear-MinModelYear+1)
	for y := MaxModelYear; y >= MinModelYear; y-- {
		years = append(years, y)
	}
	return years
}
