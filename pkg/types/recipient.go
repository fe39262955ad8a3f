package types

// RecipientRecord holds the named fields parsed from one input row. Keys are
// unique per row; a valid record contains the delivery address field plus every
// variable its template requires.
type RecipientRecord map[string]string

// Get returns the named field, or "" when absent or empty.
func (r RecipientRecord) Get(name string) string {
	return r[name]
}

// Has reports whether the record carries a non-empty value for the field.
func (r RecipientRecord) Has(name string) bool {
	return r[name] != ""
}

// RecipientList is the parsed form of an uploaded recipient list. Header order
// and row order are both preserved so downstream reports can reproduce the
// original file shape.
type RecipientList struct {
	// Header holds the field names as declared by the upload's header row.
	Header []string
	// Rows are the surviving records in upload order.
	Rows []RecipientRecord
	// RowNumbers maps each entry of Rows to its 1-based line in the upload,
	// counting the header as line 1.
	RowNumbers []int
}

// RowError describes a single rejected input row.
type RowError struct {
	// RowNumber is the 1-based line of the rejected row in the upload.
	RowNumber int `json:"rowNumber"`
	// Record is the offending row as parsed, when parseable.
	Record RecipientRecord `json:"record,omitempty"`
	// MissingFields lists required fields the row lacked, when applicable.
	MissingFields []string `json:"missingFields,omitempty"`
	// Reason is a short operator-facing description of the rejection.
	Reason string `json:"reason"`
}
