package funding

import "testing"

func TestParseCriteria(t *testing.T) {
	raw := `{
		"caes": ["62", "41"],
		"geographic_location": "Portugal Continental",
		"dimension": "PME",
		"type_of_investment": "I&D, digitalização",
		"object": "Support digitalization",
		"criterios": "Companies with more than 2 years of activity"
	}`

	criteria, err := ParseCriteria(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(criteria.CAECodes) != 2 || criteria.CAECodes[0] != "62" {
		t.Fatalf("unexpected cae codes: %v", criteria.CAECodes)
	}
	if criteria.Location != "Portugal Continental" {
		t.Fatalf("unexpected location: %q", criteria.Location)
	}
	if criteria.Dimension != "PME" {
		t.Fatalf("unexpected dimension: %q", criteria.Dimension)
	}
	if criteria.Objective != "Support digitalization" {
		t.Fatalf("unexpected objective: %q", criteria.Objective)
	}
	if criteria.Eligibility == "" {
		t.Fatalf("expected eligibility text to be populated")
	}
}

func TestParseCriteriaMalformedDocument(t *testing.T) {
	for _, raw := range []string{"", "{broken", "not json at all"} {
		if _, err := ParseCriteria(raw); err == nil {
			t.Fatalf("expected an error for %q", raw)
		}
	}
}

func TestParseCriteriaWrongTypedFieldsDegrade(t *testing.T) {
	raw := `{"caes": "62", "geographic_location": 42, "dimension": null, "object": "x"}`

	criteria, err := ParseCriteria(raw)
	if err != nil {
		t.Fatalf("wrong-typed fields must degrade, not fail: %v", err)
	}

	if len(criteria.CAECodes) != 0 {
		t.Fatalf("expected wrong-typed caes to degrade to empty, got %v", criteria.CAECodes)
	}
	if criteria.Location != "" || criteria.Dimension != "" {
		t.Fatalf("expected wrong-typed strings to degrade to empty, got %+v", criteria)
	}
}

func TestParseCriteriaNumericCodes(t *testing.T) {
	criteria, err := ParseCriteria(`{"caes": [62, "41"]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(criteria.CAECodes) != 2 || criteria.CAECodes[0] != "62" || criteria.CAECodes[1] != "41" {
		t.Fatalf("unexpected codes: %v", criteria.CAECodes)
	}
}

func TestAppliesNationwide(t *testing.T) {
	cases := []struct {
		location string
		want     bool
	}{
		{"", true},
		{"Nacional", true},
		{"Território nacional", true},
		{"Norte", false},
		{"Região Autónoma da Madeira", false},
	}

	for _, tc := range cases {
		criteria := &Criteria{Location: tc.location}
		if got := criteria.AppliesNationwide(); got != tc.want {
			t.Fatalf("AppliesNationwide(%q) = %v, want %v", tc.location, got, tc.want)
		}
	}
}
