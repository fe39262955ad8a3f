package producer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// ErrNoHeader is returned when an upload has no parseable header row.
var ErrNoHeader = errors.New("recipient list has no header row")

// ParseRecipientCSV reads an uploaded recipient list: the first row declares
// field names, every following row becomes a RecipientRecord. Rows that
// cannot be parsed (wrong field count, bare quotes) are collected as row
// errors rather than aborting the read, so one bad line does not sink the
// rest of the upload. Row numbers are 1-based with the header as row 1.
func ParseRecipientCSV(r io.Reader) (*types.RecipientList, []types.RowError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, ErrNoHeader
		}
		return nil, nil, fmt.Errorf("read header row: %w", err)
	}
	for i, name := range header {
		header[i] = strings.TrimSpace(name)
	}

	list := &types.RecipientList{Header: header}
	var rowErrors []types.RowError

	for rowNumber := 2; ; rowNumber++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rowErrors = append(rowErrors, types.RowError{
				RowNumber: rowNumber,
				Reason:    fmt.Sprintf("unparseable row: %v", err),
			})
			continue
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			// Blank line, skip silently like an empty trailing newline.
			continue
		}
		if len(fields) != len(header) {
			rowErrors = append(rowErrors, types.RowError{
				RowNumber: rowNumber,
				Reason:    fmt.Sprintf("row has %d fields, header declares %d", len(fields), len(header)),
			})
			continue
		}

		record := make(types.RecipientRecord, len(header))
		for i, name := range header {
			record[name] = strings.TrimSpace(fields[i])
		}
		list.Rows = append(list.Rows, record)
		list.RowNumbers = append(list.RowNumbers, rowNumber)
	}

	return list, rowErrors, nil
}
