package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, Table{
		Headers: []string{"id", "amount", "description"},
		Rows: [][]string{
			{"t1", "12.50", "session, 90 minutes"},
			{"t2", "3.00"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "id,amount,description\nt1,12.50,\"session, 90 minutes\"\nt2,3.00,\n", buf.String())
}

func TestWriteCSVRejectsBadShapes(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteCSV(&buf, Table{}))
	assert.Error(t, WriteCSV(&buf, Table{Headers: []string{"a"}, Rows: [][]string{{"1", "2"}}}))
}
