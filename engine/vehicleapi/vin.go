package vehicleapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/WessleyAI/wessley-compare/engine/domain"
)

// vinRecord covers the decoded-VIN shapes the API has returned: NHTSA's
// DecodeVinValues members and the lower-case form.
type vinRecord struct {
	Make        string `json:"Make"`
	Model       string `json:"Model"`
	ModelYear   string `json:"ModelYear"`
	VehicleType string `json:"VehicleType"`

	LowerMake  string      `json:"make"`
	LowerModel string      `json:"model"`
	LowerYear  json.Number `json:"year"`
}

// LookupVIN decodes a VIN through /api/vehicle/{vin}. The response is a single
// object or an envelope whose first item is that object.
func (c *Client) LookupVIN(ctx context.Context, vin string) (domain.Vehicle, error) {
	vin = strings.ToUpper(strings.TrimSpace(vin))
	if err := domain.ValidateVIN(vin); err != nil {
		return domain.Vehicle{}, err
	}
	path := "/api/vehicle/" + url.PathEscape(vin)
	body, err := c.get(ctx, path)
	if err != nil {
		return domain.Vehicle{}, err
	}

	rec, err := decodeVIN(body)
	if err != nil {
		return domain.Vehicle{}, &domain.FetchError{Path: path, Kind: domain.ErrMalformedPayload, Err: err}
	}
	v := domain.Vehicle{
		Make:  firstNonEmpty(rec.Make, rec.LowerMake),
		Model: firstNonEmpty(rec.Model, rec.LowerModel),
		Type:  rec.VehicleType,
		VIN:   vin,
	}
	if y := firstNonEmpty(rec.ModelYear, rec.LowerYear.String()); y != "" {
		if v.Year, err = strconv.Atoi(y); err != nil {
			return domain.Vehicle{}, domain.NewValidationError("year", y, domain.ErrYearNotNumeric)
		}
	}
	if err := domain.ValidateVehicle(v); err != nil {
		return domain.Vehicle{}, fmt.Errorf("vin %s: %w", vin, err)
	}
	return v, nil
}

func decodeVIN(body []byte) (vinRecord, error) {
	var rec vinRecord
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return rec, err
		}
		if _, wrapped := probe["Results"]; !wrapped {
			if _, wrapped = probe["results"]; !wrapped {
				err := json.Unmarshal(trimmed, &rec)
				return rec, err
			}
		}
	}
	items, err := unwrap(trimmed)
	if err != nil {
		return rec, err
	}
	if len(items) == 0 {
		return rec, fmt.Errorf("no results")
	}
	err = json.Unmarshal(items[0], &rec)
	return rec, err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
