// Package ingest loads company records from the registry CSV export. The
// export uses comma decimal separators, multi-line headers and space-separated
// secondary CAE codes; everything is normalized before it reaches storage.
package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/davidpt/incentive-matcher/internal/funding"
)

// Normalized header names recognized in the export. Headers are lower-cased
// and have line breaks collapsed before lookup, so the multi-line variants in
// the raw file map here too.
const (
	colName            = "company name"
	colNIF             = "nif code"
	colCity            = "city"
	colEmployees       = "latest number of employees"
	colCAEPrimary      = "cae rev.3 primary code"
	colCAEPrimaryLabel = "cae rev.3 primary label"
	colCAESecondary    = "cae rev.3 secondary code(s)"
	colCAESecLabels    = "cae rev.3 secondary label(s)"
	colDescription     = "english trade description"
	colPostalCode      = "postal code"
	colWebsite         = "web site"
	colEmail           = "email portugal"
	colTelephone       = "telephone"
)

// LoadCompanies reads the CSV at path and returns the cleaned company
// records. Rows without a NIF code are dropped; unknown columns are ignored.
func LoadCompanies(path string) ([]*funding.Company, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open companies csv: %w", err)
	}
	defer file.Close()

	return parseCompanies(file)
}

func parseCompanies(r io.Reader) ([]*funding.Company, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[normalizeHeader(name)] = i
	}

	if _, ok := index[colNIF]; !ok {
		return nil, fmt.Errorf("companies csv is missing the %q column", colNIF)
	}

	var companies []*funding.Company
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}

		field := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		nif := field(colNIF)
		if nif == "" {
			continue
		}

		city := field(colCity)
		if city == "" {
			city = "Unknown"
		}

		companies = append(companies, &funding.Company{
			NIF:                nif,
			Name:               field(colName),
			City:               city,
			Employees:          parseCount(field(colEmployees)),
			CAEPrimaryCode:     field(colCAEPrimary),
			CAEPrimaryLabel:    field(colCAEPrimaryLabel),
			CAESecondaryCodes:  encodeCodeList(field(colCAESecondary)),
			CAESecondaryLabels: field(colCAESecLabels),
			TradeDescription:   field(colDescription),
			PostalCode:         field(colPostalCode),
			Website:            field(colWebsite),
			Email:              field(colEmail),
			Telephone:          field(colTelephone),
		})
	}

	return companies, nil
}

func normalizeHeader(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "\r", " ")
	name = strings.ReplaceAll(name, "\n", " ")
	return strings.Join(strings.Fields(name), " ")
}

// parseCount converts a numeric cell to a non-negative int. The export uses
// comma decimal separators; anything unparseable counts as zero.
func parseCount(raw string) int {
	raw = strings.ReplaceAll(raw, ",", ".")
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || value < 0 {
		return 0
	}
	return int(value)
}

// encodeCodeList turns the export's space-separated code cell into the
// serialized JSON list stored on the company record.
func encodeCodeList(raw string) string {
	codes := strings.Fields(raw)
	if codes == nil {
		codes = []string{}
	}
	encoded, err := json.Marshal(codes)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}
