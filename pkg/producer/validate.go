package producer

import (
	"fmt"
	"strings"

	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// ValidateRows checks every parsed row against the global required fields,
// the delivery address field, and the template's required variables. Rows
// failing validation are excluded and reported; the surviving rows keep their
// original order and row numbers.
func ValidateRows(list *types.RecipientList, addressField string, globalRequired, templateRequired []string) (*types.RecipientList, []types.RowError) {
	valid := &types.RecipientList{Header: list.Header}
	var rowErrors []types.RowError

	for i, record := range list.Rows {
		missing := missingFields(record, addressField, globalRequired, templateRequired)
		if len(missing) > 0 {
			rowErrors = append(rowErrors, types.RowError{
				RowNumber:     list.RowNumbers[i],
				Record:        record,
				MissingFields: missing,
				Reason:        fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")),
			})
			continue
		}
		valid.Rows = append(valid.Rows, record)
		valid.RowNumbers = append(valid.RowNumbers, list.RowNumbers[i])
	}

	return valid, rowErrors
}

// missingFields returns the names of required fields the record lacks,
// de-duplicated, address first, in declaration order after that.
func missingFields(record types.RecipientRecord, addressField string, globalRequired, templateRequired []string) []string {
	var missing []string
	seen := make(map[string]struct{})

	check := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		if !record.Has(name) {
			missing = append(missing, name)
		}
	}

	check(addressField)
	for _, name := range globalRequired {
		check(name)
	}
	for _, name := range templateRequired {
		check(name)
	}
	return missing
}

// Chunk partitions rows into contiguous chunks of at most size records,
// preserving order. For N rows it yields ceil(N/size) chunks whose
// concatenation equals the input exactly.
func Chunk(rows []types.RecipientRecord, size int) [][]types.RecipientRecord {
	if size <= 0 || len(rows) == 0 {
		if len(rows) == 0 {
			return nil
		}
		size = DefaultChunkSize
	}
	chunks := make([][]types.RecipientRecord, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}
