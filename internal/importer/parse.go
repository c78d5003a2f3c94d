// Package importer loads student spreadsheets into the roster and issues
// their QR codes.
package importer

import (
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"checkqr/internal/apperr"
	"checkqr/internal/qr"
)

// Row is one spreadsheet line. Line is 1-based and counts the header.
type Row struct {
	Line      int         `json:"line"`
	Identity  qr.Identity `json:"identity"`
	BatchYear string      `json:"batch_year"`
}

type column int

const (
	colRollNo column = iota
	colName
	colCollege
	colYearSemester
	colBatchYear
	colDepartment
	colSection
	colWhatsApp
	colEmail
)

// aliases maps a normalized header (lowercase letters and digits only) to
// its column.
var aliases = map[string]column{
	"rollno":          colRollNo,
	"rollnumber":      colRollNo,
	"name":            colName,
	"studentname":     colName,
	"college":         colCollege,
	"yearsemester":    colYearSemester,
	"yearandsemester": colYearSemester,
	"yearsem":         colYearSemester,
	"batchyear":       colBatchYear,
	"batch":           colBatchYear,
	"department":      colDepartment,
	"dept":            colDepartment,
	"branch":          colDepartment,
	"section":         colSection,
	"whatsapp":        colWhatsApp,
	"whatsappno":      colWhatsApp,
	"phone":           colWhatsApp,
	"contact":         colWhatsApp,
	"email":           colEmail,
	"emailid":         colEmail,
}

func normalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Parse reads rows from an .xlsx (first sheet) or .csv file.
func Parse(filename string, r io.Reader) ([]Row, error) {
	var records [][]string
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, apperr.Validation("unreadable spreadsheet: %v", err)
		}
		defer f.Close()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, apperr.Validation("spreadsheet has no sheets")
		}
		records, err = f.GetRows(sheets[0])
		if err != nil {
			return nil, errors.Wrap(err, "read sheet")
		}
	case ".csv":
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true
		var err error
		records, err = cr.ReadAll()
		if err != nil {
			return nil, apperr.Validation("unreadable csv: %v", err)
		}
	default:
		return nil, apperr.Validation("unsupported file type %q, want .xlsx or .csv", filepath.Ext(filename))
	}
	return fromRecords(records)
}

func fromRecords(records [][]string) ([]Row, error) {
	if len(records) == 0 {
		return nil, apperr.Validation("spreadsheet is empty")
	}
	index := map[column]int{}
	for i, h := range records[0] {
		if col, ok := aliases[normalizeHeader(h)]; ok {
			if _, dup := index[col]; !dup {
				index[col] = i
			}
		}
	}
	if _, ok := index[colRollNo]; !ok {
		return nil, apperr.Validation("header row must contain a roll number column")
	}

	var rows []Row
	for n, rec := range records[1:] {
		cell := func(c column) string {
			i, ok := index[c]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		if blank(rec) {
			continue
		}
		rows = append(rows, Row{
			Line: n + 2,
			Identity: qr.Identity{
				RollNo:       cell(colRollNo),
				Name:         cell(colName),
				College:      cell(colCollege),
				YearSemester: cell(colYearSemester),
				Department:   cell(colDepartment),
				Section:      cell(colSection),
				WhatsApp:     cell(colWhatsApp),
				Email:        cell(colEmail),
			},
			BatchYear: cell(colBatchYear),
		})
	}
	return rows, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
