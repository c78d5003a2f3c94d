// Package qr issues one QR code per student identity and verifies scanned
// codes against the issued records.
package qr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no record has the requested key.
	ErrNotFound = errors.New("qr: record not found")
	// ErrDuplicate is returned by Store.Insert when the fingerprint exists.
	ErrDuplicate = errors.New("qr: duplicate fingerprint")
	// ErrRollNoTaken is returned by Store.Insert when the roll number already
	// holds a record for the same issue date.
	ErrRollNoTaken = errors.New("qr: roll number already issued")
)

// DateLayout is the issue-date format used in fingerprints.
const DateLayout = "2006-01-02"

// Identity is the set of fields encoded into a student's code.
type Identity struct {
	RollNo       string `json:"rollNo" form:"rollNo"`
	Name         string `json:"name" form:"name"`
	College      string `json:"college" form:"college"`
	YearSemester string `json:"yearSemester" form:"yearSemester"`
	Department   string `json:"department" form:"department"`
	Section      string `json:"section" form:"section"`
	WhatsApp     string `json:"whatsapp" form:"whatsapp"`
	Email        string `json:"email" form:"email"`
}

type field struct {
	key   string
	label string
	get   func(*Identity) *string
}

// fields fixes the order used by both the fingerprint and the summary.
var fields = []field{
	{"roll_no", "Roll No", func(i *Identity) *string { return &i.RollNo }},
	{"name", "Name", func(i *Identity) *string { return &i.Name }},
	{"college", "College", func(i *Identity) *string { return &i.College }},
	{"year_semester", "Year & Semester", func(i *Identity) *string { return &i.YearSemester }},
	{"department", "Department", func(i *Identity) *string { return &i.Department }},
	{"section", "Section", func(i *Identity) *string { return &i.Section }},
	{"whatsapp", "WhatsApp", func(i *Identity) *string { return &i.WhatsApp }},
	{"email", "Email", func(i *Identity) *string { return &i.Email }},
}

// Normalize trims every field.
func (id Identity) Normalize() Identity {
	for _, f := range fields {
		p := f.get(&id)
		*p = strings.TrimSpace(*p)
	}
	return id
}

// Missing lists the keys of empty fields.
func (id Identity) Missing() []string {
	var out []string
	for _, f := range fields {
		if strings.TrimSpace(*f.get(&id)) == "" {
			out = append(out, f.key)
		}
	}
	return out
}

// Fingerprint is the hex SHA-256 of the fields joined by "-", with the
// issue date appended when date is non-empty.
func (id Identity) Fingerprint(date string) string {
	parts := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		parts = append(parts, *f.get(&id))
	}
	if date != "" {
		parts = append(parts, date)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "-")))
	return hex.EncodeToString(sum[:])
}

// Summary is the human-readable text encoded into the image.
func (id Identity) Summary() string {
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		lines = append(lines, f.label+": "+*f.get(&id))
	}
	return strings.Join(lines, "\n")
}

// ParseSummary reads back the text produced by Summary, as returned by a
// scanner. Unknown lines are ignored.
func ParseSummary(text string) Identity {
	var id Identity
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		label = strings.TrimSpace(label)
		for _, f := range fields {
			if strings.EqualFold(f.label, label) {
				*f.get(&id) = strings.TrimSpace(value)
				break
			}
		}
	}
	return id
}

// Record is a stored QR code.
type Record struct {
	Hash      string    `json:"user_hash"`
	RollNo    string    `json:"roll_no"`
	Image     string    `json:"qr_code_url"`
	IssueDate string    `json:"date,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists records keyed by fingerprint.
type Store interface {
	Get(ctx context.Context, hash string) (Record, error)
	// Insert fails with ErrDuplicate if the fingerprint already exists and
	// with ErrRollNoTaken if (roll number, issue date) does.
	Insert(ctx context.Context, rec Record) (Record, error)
	List(ctx context.Context) ([]Record, error)
	ListByRollNo(ctx context.Context, rollNo string) ([]Record, error)
}

// Publisher uploads a rendered image and returns its public URL.
type Publisher interface {
	PublishPNG(ctx context.Context, png []byte, name string) (string, error)
}
