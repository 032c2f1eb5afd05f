// Package batchfile parses uploaded batch CSVs and renders result artifacts.
//
// Header contract: a header row containing at least "address"; the optional
// columns landmark, city, state, zip, and country are picked up by name when
// present. Rows with a blank or literal "N/A" address are dropped before
// counting.
package batchfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/smartgeocode/geobatch/internal/domain"
)

// RowInput is one geocodable address parsed from an upload.
type RowInput struct {
	Address  string
	Landmark string
	City     string
	State    string
	Zip      string
	Country  string
}

var optionalColumns = []string{"landmark", "city", "state", "zip", "country"}

// Parse reads a batch CSV and returns its geocodable rows in file order.
// It fails with domain.ErrValidation when the header lacks an address column,
// when no geocodable rows remain after dropping blank/"N/A" addresses, or when
// the file exceeds maxRows geocodable rows.
func Parse(r io.Reader, maxRows int) ([]RowInput, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	// Uploads in the wild have ragged optional columns.
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: file is empty", domain.ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable csv header: %v", domain.ErrValidation, err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[normalizeColumn(name)] = i
	}

	addressIdx, ok := columns["address"]
	if !ok {
		return nil, fmt.Errorf("%w: csv must include an %q header column", domain.ErrValidation, "address")
	}

	var rows []RowInput
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: unreadable csv row: %v", domain.ErrValidation, err)
		}

		address := field(record, addressIdx)
		if !domain.HasGeocodableAddress(address) {
			continue
		}

		row := RowInput{Address: strings.TrimSpace(address)}
		for _, name := range optionalColumns {
			idx, ok := columns[name]
			if !ok {
				continue
			}
			value := strings.TrimSpace(field(record, idx))
			switch name {
			case "landmark":
				row.Landmark = value
			case "city":
				row.City = value
			case "state":
				row.State = value
			case "zip":
				row.Zip = value
			case "country":
				row.Country = value
			}
		}

		rows = append(rows, row)
		if maxRows > 0 && len(rows) > maxRows {
			return nil, fmt.Errorf("%w: file exceeds the maximum of %d rows", domain.ErrValidation, maxRows)
		}
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no geocodable rows found", domain.ErrValidation)
	}

	return rows, nil
}

// OneLine joins the row's fields into a single query string for the
// geocoding provider, skipping empty parts.
func (r RowInput) OneLine() string {
	parts := make([]string, 0, 6)
	for _, part := range []string{r.Address, r.Landmark, r.City, r.State, r.Zip, r.Country} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, ", ")
}

func normalizeColumn(name string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF")))
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return record[idx]
}
