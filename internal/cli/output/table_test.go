package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRenderer struct {
	headers []string
	rows    [][]string
}

func (f fakeRenderer) Headers() []string { return f.headers }
func (f fakeRenderer) Rows() [][]string  { return f.rows }

func TestPrintTable(t *testing.T) {
	data := fakeRenderer{
		headers: []string{"Artifact", "Size"},
		rows: [][]string{
			{"01HAAA", "1.2 KiB"},
			{"01HBBB", "4.0 MiB"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, data))

	out := buf.String()
	assert.Contains(t, out, "ARTIFACT")
	assert.Contains(t, out, "SIZE")
	assert.Contains(t, out, "01HAAA")
	assert.Contains(t, out, "4.0 MiB")
}

func TestSimpleTable(t *testing.T) {
	pairs := [][2]string{
		{"Artifact", "01HAAA"},
		{"Mime", "text/plain"},
	}

	var buf bytes.Buffer
	require.NoError(t, SimpleTable(&buf, pairs))

	out := buf.String()
	assert.Contains(t, out, "Artifact")
	assert.Contains(t, out, "01HAAA")
	assert.Contains(t, out, "text/plain")
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, map[string]int{"count": 3}))
	assert.JSONEq(t, `{"count": 3}`, buf.String())
}
