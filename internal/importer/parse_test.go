package importer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"checkqr/internal/apperr"
)

const sampleCSV = `Roll No,Name,College,Year & Semester,Batch,Dept,Section,WhatsApp,Email ID
21A1, Asha Rao ,MIT,3-1,2021,CSE,B,9000000001,asha@example.com
,,,,,,,,
21A2,Ravi,MIT,3-1,2021,EEE,A,9000000002
`

func TestParseCSV(t *testing.T) {
	rows, err := Parse("students.CSV", strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, "21A1", rows[0].Identity.RollNo)
	assert.Equal(t, "Asha Rao", rows[0].Identity.Name)
	assert.Equal(t, "3-1", rows[0].Identity.YearSemester)
	assert.Equal(t, "CSE", rows[0].Identity.Department)
	assert.Equal(t, "asha@example.com", rows[0].Identity.Email)
	assert.Equal(t, "2021", rows[0].BatchYear)

	assert.Equal(t, 4, rows[1].Line)
	assert.Equal(t, "", rows[1].Identity.Email)
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	data := [][]any{
		{"rollNo", "name", "college", "yearSemester", "batchYear", "department", "section", "whatsapp", "email"},
		{"22B7", "Meera", "JNTU", "2-2", "2022", "ECE", "C", "9000000003", "meera@example.com"},
	}
	for i, row := range data {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	rows, err := Parse("roster.xlsx", &buf)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "22B7", rows[0].Identity.RollNo)
	assert.Equal(t, "ECE", rows[0].Identity.Department)
	assert.Equal(t, "2022", rows[0].BatchYear)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name, file, body string
	}{
		{name: "no roll column", file: "a.csv", body: "name,email\nAsha,a@example.com\n"},
		{name: "empty", file: "a.csv", body: ""},
		{name: "unsupported", file: "a.pdf", body: "%PDF"},
		{name: "bad xlsx", file: "a.xlsx", body: "not a zip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.file, strings.NewReader(tt.body))
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}
