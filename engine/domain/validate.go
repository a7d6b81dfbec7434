package domain

import (
	"regexp"
	"strconv"
	"strings"
)

// VIN format: 17 alphanumeric characters, excluding I, O, Q.
var vinRegex = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)

// ValidateVehicle validates a Vehicle struct.
func ValidateVehicle(v Vehicle) error {
	if strings.TrimSpace(v.Make) == "" {
		return NewValidationError("make", v.Make, ErrMissingMake)
	}
	if strings.TrimSpace(v.Model) == "" {
		return NewValidationError("model", v.Model, ErrMissingModel)
	}
	if v.Year < MinModelYear || v.Year > MaxModelYear {
		return NewValidationError("year", strconv.Itoa(v.Year), ErrYearOutOfRange)
	}

	// VIN (optional but if provided must be valid)
	if v.VIN != "" {
		return ValidateVIN(v.VIN)
	}
	return nil
}

// ValidateVIN checks the 17-character VIN format.
func ValidateVIN(vin string) error {
	if !vinRegex.MatchString(strings.ToUpper(vin)) {
		return NewValidationError("vin", vin, ErrInvalidVIN)
	}
	return nil
}

// VehicleFromSelection builds a Vehicle from a completed chain selection keyed
// by lower-cased field name ("make", "type", "year", "model").
func VehicleFromSelection(sel map[string]string) (Vehicle, error) {
	raw := strings.TrimSpace(sel["year"])
	year, err := strconv.Atoi(raw)
	if err != nil {
		return Vehicle{}, NewValidationError("year", raw, ErrYearNotNumeric)
	}
	v := Vehicle{
		Make:  sel["make"],
		Type:  sel["type"],
		Year:  year,
		Model: sel["model"],
	}
	if err := ValidateVehicle(v); err != nil {
		return Vehicle{}, err
	}
	return v, nil
}
