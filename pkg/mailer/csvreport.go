package mailer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// RowErrorsCSV renders rejected rows as a CSV report for attachment to an
// operator notification. The upload's own header order is preserved, with
// row number, reason, and missing fields appended.
func RowErrorsCSV(header []string, rowErrors []types.RowError) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	out := append([]string{"row_number"}, header...)
	out = append(out, "error", "missing_fields")
	if err := w.Write(out); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, re := range rowErrors {
		row := make([]string, 0, len(out))
		row = append(row, strconv.Itoa(re.RowNumber))
		for _, field := range header {
			row = append(row, re.Record.Get(field))
		}
		row = append(row, re.Reason, strings.Join(re.MissingFields, " "))
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row %d: %w", re.RowNumber, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv report: %w", err)
	}
	return buf.Bytes(), nil
}
