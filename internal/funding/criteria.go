package funding

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Tokens recognized inside criteria fields. The external extractor emits
// Portuguese labels, so matching is done on these lower-cased substrings.
const (
	TokenNationwide    = "nacional"
	TokenNotApplicable = "não aplicável"
	TokenPME           = "pme"
	TokenLarge         = "grande"
)

// Criteria is the structured record the extraction collaborator attaches to an
// incentive. Field names mirror the wire format of that collaborator.
type Criteria struct {
	CAECodes       []string `json:"caes"`
	Location       string   `json:"geographic_location"`
	Dimension      string   `json:"dimension"`
	InvestmentType string   `json:"type_of_investment"`
	Objective      string   `json:"object"`
	Eligibility    string   `json:"criterios"`
}

// ParseCriteria decodes the serialized criteria record attached to an
// incentive. Decoding is permissive: wrong-typed fields degrade to their zero
// values instead of failing, and only an unparseable document is an error.
func ParseCriteria(raw string) (*Criteria, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("parse criteria record: %w", err)
	}

	return &Criteria{
		CAECodes:       coerceStringSlice(data["caes"]),
		Location:       coerceString(data["geographic_location"]),
		Dimension:      coerceString(data["dimension"]),
		InvestmentType: coerceString(data["type_of_investment"]),
		Objective:      coerceString(data["object"]),
		Eligibility:    coerceString(data["criterios"]),
	}, nil
}

// AppliesNationwide reports whether the geographic scope is empty or names the
// nationwide token, in which case every company receives the location weight.
func (c *Criteria) AppliesNationwide() bool {
	loc := strings.ToLower(c.Location)
	return loc == "" || strings.Contains(loc, TokenNationwide)
}

func coerceString(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

func coerceStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		switch val := item.(type) {
		case string:
			out = append(out, strings.TrimSpace(val))
		case float64:
			// Some extractions emit codes as numbers.
			out = append(out, strconv.FormatFloat(val, 'f', -1, 64))
		}
	}
	return out
}
