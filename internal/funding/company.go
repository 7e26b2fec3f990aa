package funding

import (
	"encoding/json"
	"strings"
)

// UnknownCity is the placeholder used when a company record has no city. It
// never matches a non-nationwide geographic scope.
const UnknownCity = "unknown"

// Company is a registered company loaded by external ingestion (CSV loader).
// Read-only from the matching pipeline's perspective. Only NIF, city, employee
// count and the CAE codes participate in scoring; the rest is descriptive.
type Company struct {
	NIF       string `json:"nif_code"`
	Name      string `json:"company_name"`
	City      string `json:"city,omitempty"`
	Employees int    `json:"latest_number_of_employees"`

	CAEPrimaryCode  string `json:"cae_primary_code,omitempty"`
	CAEPrimaryLabel string `json:"cae_primary_label,omitempty"`
	// CAESecondaryCodes is a serialized JSON list, kept in the loader's wire
	// form. Malformed content degrades to an empty set when scoring.
	CAESecondaryCodes  string `json:"cae_secondary_codes,omitempty"`
	CAESecondaryLabels string `json:"cae_secondary_labels,omitempty"`

	TradeDescription string `json:"english_trade_description,omitempty"`
	PostalCode       string `json:"postal_code,omitempty"`
	Website          string `json:"website,omitempty"`
	Email            string `json:"email_portugal,omitempty"`
	Telephone        string `json:"telephone,omitempty"`
}

// CAESet returns the union of the primary code and the parseable secondary
// codes. A malformed secondary list contributes nothing.
func (c *Company) CAESet() map[string]struct{} {
	set := make(map[string]struct{})
	if c.CAEPrimaryCode != "" {
		set[c.CAEPrimaryCode] = struct{}{}
	}

	if c.CAESecondaryCodes != "" {
		var secondary []string
		if err := json.Unmarshal([]byte(c.CAESecondaryCodes), &secondary); err == nil {
			for _, code := range secondary {
				if code = strings.TrimSpace(code); code != "" {
					set[code] = struct{}{}
				}
			}
		}
	}

	return set
}

// NormalizedCity returns the lower-cased city, or "unknown" when absent.
func (c *Company) NormalizedCity() string {
	city := strings.ToLower(strings.TrimSpace(c.City))
	if city == "" {
		return UnknownCity
	}
	return city
}

// IsPME reports whether the company falls in the small/medium size class.
func (c *Company) IsPME() bool {
	return c.Employees > 0 && c.Employees < 250
}

// IsLarge reports whether the company falls in the large size class.
func (c *Company) IsLarge() bool {
	return c.Employees >= 250
}
