package ingest

import (
	"strings"
	"testing"
)

func TestParseCompanies(t *testing.T) {
	csv := strings.Join([]string{
		`Company Name,NIF Code,City,"Latest number of employees",CAE Rev.3 Primary Code,CAE Rev.3 Secondary Code(s),English trade description,Postal Code`,
		`Alpha Lda,500100200,Lisboa,"42,0",62010,62020 62030,Software house,1000-001`,
		`Beta SA,500300400,,not-a-number,41200,,Construction,4000-002`,
		`,missing-name-ok,Porto,10,10000,,,`,
		`No NIF Co,,Porto,10,10000,,,`,
	}, "\n")

	companies, err := parseCompanies(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(companies) != 3 {
		t.Fatalf("expected 3 companies (rows without NIF dropped), got %d", len(companies))
	}

	alpha := companies[0]
	if alpha.NIF != "500100200" || alpha.Name != "Alpha Lda" {
		t.Fatalf("unexpected first company: %+v", alpha)
	}
	if alpha.Employees != 42 {
		t.Fatalf("expected comma decimal separator handled, got %d employees", alpha.Employees)
	}
	if alpha.CAESecondaryCodes != `["62020","62030"]` {
		t.Fatalf("expected secondary codes serialized as JSON, got %q", alpha.CAESecondaryCodes)
	}

	beta := companies[1]
	if beta.City != "Unknown" {
		t.Fatalf("expected missing city to default to Unknown, got %q", beta.City)
	}
	if beta.Employees != 0 {
		t.Fatalf("expected unparseable employee count to degrade to 0, got %d", beta.Employees)
	}
	if beta.CAESecondaryCodes != "[]" {
		t.Fatalf("expected empty secondary codes serialized as [], got %q", beta.CAESecondaryCodes)
	}
}

func TestParseCompaniesMultilineHeaders(t *testing.T) {
	csv := "Company Name,NIF Code,\"Latest number\nof employees\"\nAlpha,123,250\n"

	companies, err := parseCompanies(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(companies) != 1 {
		t.Fatalf("expected 1 company, got %d", len(companies))
	}
	if companies[0].Employees != 250 {
		t.Fatalf("expected the multi-line header recognized, got %+v", companies[0])
	}
}

func TestParseCompaniesMissingNIFColumn(t *testing.T) {
	csv := "Company Name,City\nAlpha,Lisboa\n"

	if _, err := parseCompanies(strings.NewReader(csv)); err == nil {
		t.Fatalf("expected an error when the NIF column is absent")
	}
}
