package importer

import (
	"context"
	"log"

	"checkqr/internal/apperr"
	"checkqr/internal/metrics"
	"checkqr/internal/qr"
	"checkqr/internal/roster"
)

// StudentRegistrar upserts roster entries.
type StudentRegistrar interface {
	RegisterStudent(ctx context.Context, st roster.Student) (roster.Student, error)
}

// Issuer issues QR codes.
type Issuer interface {
	Issue(ctx context.Context, id qr.Identity) (qr.Issued, error)
}

// RowResult reports what happened to one row. The roster and QR stages
// run independently, so a row can be issued a code without a roster entry.
type RowResult struct {
	Line        int    `json:"line"`
	RollNo      string `json:"roll_no"`
	Registered  bool   `json:"registered"`
	RosterError string `json:"roster_error,omitempty"`
	QRHash      string `json:"qr_hash,omitempty"`
	QRImage     string `json:"qr_code_url,omitempty"`
	QRExisting  bool   `json:"qr_existing,omitempty"`
	QRError     string `json:"qr_error,omitempty"`
}

// Failed reports whether either stage failed.
func (r RowResult) Failed() bool {
	return r.RosterError != "" || r.QRError != ""
}

// Report summarizes an import.
type Report struct {
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Rows      []RowResult `json:"rows"`
}

// Importer registers students and issues their codes row by row.
type Importer struct {
	students StudentRegistrar
	codes    Issuer
}

func New(students StudentRegistrar, codes Issuer) *Importer {
	return &Importer{students: students, codes: codes}
}

// Run processes rows in order. A failing row is reported and does not stop
// the batch; only context cancellation aborts it.
func (im *Importer) Run(ctx context.Context, rows []Row) (Report, error) {
	rep := Report{Total: len(rows), Rows: make([]RowResult, 0, len(rows))}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res := im.row(ctx, row)
		if res.Failed() {
			rep.Failed++
			metrics.ImportRows.WithLabelValues("failed").Inc()
		} else {
			rep.Succeeded++
			metrics.ImportRows.WithLabelValues("ok").Inc()
		}
		rep.Rows = append(rep.Rows, res)
	}
	return rep, nil
}

func (im *Importer) row(ctx context.Context, row Row) RowResult {
	id := row.Identity
	res := RowResult{Line: row.Line, RollNo: id.RollNo}

	_, err := im.students.RegisterStudent(ctx, roster.Student{
		RollNo:     id.RollNo,
		Name:       id.Name,
		Department: id.Department,
		College:    id.College,
		Section:    id.Section,
		BatchYear:  row.BatchYear,
	})
	if err != nil {
		res.RosterError = rowError(row, "roster", err)
	} else {
		res.Registered = true
	}

	issued, err := im.codes.Issue(ctx, id)
	if err != nil {
		res.QRError = rowError(row, "qr", err)
		return res
	}
	res.QRHash = issued.Hash
	res.QRImage = issued.Image
	res.QRExisting = issued.Existing
	return res
}

func rowError(row Row, stage string, err error) string {
	if apperr.KindOf(err) != apperr.KindValidation {
		log.Printf("import line %d (%s): %s failed: %v", row.Line, row.Identity.RollNo, stage, err)
	}
	return apperr.PublicMessage(err)
}
