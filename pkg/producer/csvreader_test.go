package producer_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-mailbatch/pkg/producer"
	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

func TestParseRecipientCSV(t *testing.T) {
	t.Run("header and rows", func(t *testing.T) {
		input := "email,name,order_id\na@x.com,Ann,42\nb@x.com,Bob,43\n"
		list, rowErrors, err := producer.ParseRecipientCSV(strings.NewReader(input))
		require.NoError(t, err)
		assert.Empty(t, rowErrors)

		assert.Equal(t, []string{"email", "name", "order_id"}, list.Header)
		require.Len(t, list.Rows, 2)
		assert.Equal(t, types.RecipientRecord{"email": "a@x.com", "name": "Ann", "order_id": "42"}, list.Rows[0])
		assert.Equal(t, []int{2, 3}, list.RowNumbers, "row numbers are 1-based counting the header")
	})

	t.Run("values and header names are trimmed", func(t *testing.T) {
		input := " email , name\n a@x.com , Ann \n"
		list, rowErrors, err := producer.ParseRecipientCSV(strings.NewReader(input))
		require.NoError(t, err)
		assert.Empty(t, rowErrors)
		assert.Equal(t, []string{"email", "name"}, list.Header)
		assert.Equal(t, "a@x.com", list.Rows[0].Get("email"))
		assert.Equal(t, "Ann", list.Rows[0].Get("name"))
	})

	t.Run("field count mismatch becomes a row error", func(t *testing.T) {
		input := "email,name\na@x.com,Ann\nb@x.com\nc@x.com,Cat\n"
		list, rowErrors, err := producer.ParseRecipientCSV(strings.NewReader(input))
		require.NoError(t, err)

		require.Len(t, rowErrors, 1)
		assert.Equal(t, 3, rowErrors[0].RowNumber)
		assert.Contains(t, rowErrors[0].Reason, "header declares 2")

		require.Len(t, list.Rows, 2, "rows after the bad one still parse")
		assert.Equal(t, []int{2, 4}, list.RowNumbers)
	})

	t.Run("blank lines are skipped", func(t *testing.T) {
		input := "email,name\na@x.com,Ann\n\nb@x.com,Bob\n"
		list, rowErrors, err := producer.ParseRecipientCSV(strings.NewReader(input))
		require.NoError(t, err)
		assert.Empty(t, rowErrors)
		assert.Len(t, list.Rows, 2)
	})

	t.Run("empty input", func(t *testing.T) {
		_, _, err := producer.ParseRecipientCSV(strings.NewReader(""))
		assert.ErrorIs(t, err, producer.ErrNoHeader)
	})
}

func TestValidateRows(t *testing.T) {
	list := &types.RecipientList{
		Header: []string{"email", "name", "order_id"},
		Rows: []types.RecipientRecord{
			{"email": "a@x.com", "name": "Ann", "order_id": "42"},
			{"email": "b@x.com", "name": "Bob", "order_id": ""},
			{"email": "", "name": "Cat", "order_id": "44"},
			{"email": "d@x.com", "name": "Dee", "order_id": "45"},
		},
		RowNumbers: []int{2, 3, 4, 5},
	}

	valid, rowErrors := producer.ValidateRows(list, "email", []string{"name"}, []string{"name", "order_id"})

	require.Len(t, valid.Rows, 2)
	assert.Equal(t, "a@x.com", valid.Rows[0].Get("email"))
	assert.Equal(t, "d@x.com", valid.Rows[1].Get("email"))
	assert.Equal(t, []int{2, 5}, valid.RowNumbers, "surviving rows keep their original row numbers")

	require.Len(t, rowErrors, 2)
	assert.Equal(t, 3, rowErrors[0].RowNumber)
	assert.Equal(t, []string{"order_id"}, rowErrors[0].MissingFields)
	assert.Equal(t, 4, rowErrors[1].RowNumber)
	assert.Equal(t, []string{"email"}, rowErrors[1].MissingFields,
		"the address field reports first and duplicates between the required sets collapse")
}

func TestChunk(t *testing.T) {
	makeRows := func(n int) []types.RecipientRecord {
		rows := make([]types.RecipientRecord, n)
		for i := range rows {
			rows[i] = types.RecipientRecord{"email": string(rune('a'+i%26)) + "@x.com"}
		}
		return rows
	}

	t.Run("ceil division and order preservation", func(t *testing.T) {
		rows := makeRows(120)
		chunks := producer.Chunk(rows, 50)

		require.Len(t, chunks, 3)
		assert.Len(t, chunks[0], 50)
		assert.Len(t, chunks[1], 50)
		assert.Len(t, chunks[2], 20)

		var flattened []types.RecipientRecord
		for _, chunk := range chunks {
			flattened = append(flattened, chunk...)
		}
		assert.Equal(t, rows, flattened, "concatenating chunks must reproduce the input exactly")
	})

	t.Run("exact multiple", func(t *testing.T) {
		chunks := producer.Chunk(makeRows(100), 50)
		require.Len(t, chunks, 2)
		assert.Len(t, chunks[1], 50)
	})

	t.Run("fewer rows than chunk size", func(t *testing.T) {
		chunks := producer.Chunk(makeRows(9), 50)
		require.Len(t, chunks, 1)
		assert.Len(t, chunks[0], 9)
	})

	t.Run("no rows", func(t *testing.T) {
		assert.Nil(t, producer.Chunk(nil, 50))
	})
}
