package batchfile

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/smartgeocode/geobatch/internal/domain"
)

var resultHeader = []string{
	"address", "landmark", "city", "state", "zip", "country",
	"status", "lat", "lng", "formatted_address", "error",
}

// Render writes the result artifact for a batch's processed rows as CSV.
// Rows are written in processing-input order; pending rows are skipped so a
// mid-flight download contains only completed work.
func Render(w io.Writer, rows []domain.Row) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(resultHeader); err != nil {
		return fmt.Errorf("failed to write result header: %w", err)
	}

	for i := range rows {
		row := &rows[i]
		if row.Status == domain.RowStatusPending {
			continue
		}

		record := []string{
			row.Address,
			row.Landmark,
			row.City,
			row.State,
			row.Zip,
			row.Country,
			row.Status.String(),
			formatCoord(row.Lat),
			formatCoord(row.Lng),
			row.FormattedAddress,
			row.ErrorReason,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write result row %d: %w", row.Index, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush result csv: %w", err)
	}
	return nil
}

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
