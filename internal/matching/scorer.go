package matching

import (
	"math"
	"strings"

	"github.com/davidpt/incentive-matcher/internal/funding"
)

// Scoring weights for the rule stage. The three dimensions are independent and
// sum to maxRuleScore.
const (
	weightIndustry = 50
	weightLocation = 30
	weightSize     = 20
	maxRuleScore   = 100
)

// Score computes the deterministic rule score for a company against an
// incentive's criteria. It is pure and total: absent or malformed sub-fields
// degrade to permissive defaults, never errors. The result is in [0,1],
// rounded to 4 decimal places.
//
// This is the cheap, high-volume stage of the funnel and must stay free of
// external calls.
func Score(criteria *funding.Criteria, company *funding.Company) float64 {
	score := 0

	if industryMatches(criteria, company) {
		score += weightIndustry
	}
	if locationMatches(criteria, company) {
		score += weightLocation
	}
	if sizeMatches(criteria, company) {
		score += weightSize
	}

	return math.Round(float64(score)/maxRuleScore*10000) / 10000
}

// industryMatches awards the industry weight when the incentive names no CAE
// codes (applies to all industries) or when the company's code set intersects
// the incentive's.
func industryMatches(criteria *funding.Criteria, company *funding.Company) bool {
	if len(criteria.CAECodes) == 0 {
		return true
	}

	codes := company.CAESet()
	for _, code := range criteria.CAECodes {
		if _, ok := codes[code]; ok {
			return true
		}
	}
	return false
}

// locationMatches awards the location weight for nationwide or unscoped
// incentives, otherwise when the company's city appears inside the scope
// string. A missing city never matches a regional scope.
func locationMatches(criteria *funding.Criteria, company *funding.Company) bool {
	if criteria.AppliesNationwide() {
		return true
	}

	city := company.NormalizedCity()
	if city == funding.UnknownCity {
		return false
	}
	return strings.Contains(strings.ToLower(criteria.Location), city)
}

// sizeMatches awards the size weight when the dimension is unconstrained, or
// when the company's size class (derived from its employee count) is among the
// classes the incentive names.
func sizeMatches(criteria *funding.Criteria, company *funding.Company) bool {
	dim := strings.ToLower(criteria.Dimension)
	if dim == "" || strings.Contains(dim, funding.TokenNotApplicable) {
		return true
	}

	namesPME := strings.Contains(dim, funding.TokenPME)
	namesLarge := strings.Contains(dim, funding.TokenLarge)

	switch {
	case namesPME && !namesLarge:
		return company.IsPME()
	case namesLarge && !namesPME:
		return company.IsLarge()
	case namesPME && namesLarge:
		return company.IsPME() || company.IsLarge()
	default:
		return false
	}
}
