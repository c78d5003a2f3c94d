// Package roster holds the student roster and the event registry, the two
// record sets the attendance workflow reads and writes.
package roster

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when a student or event does not exist.
var ErrNotFound = errors.New("roster: not found")

// Status is a student's attendance for one event.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
)

// Student is a roster entry. Events maps event name to status.
type Student struct {
	RollNo     string            `json:"roll_no"`
	Name       string            `json:"name"`
	Department string            `json:"department"`
	College    string            `json:"college"`
	Section    string            `json:"section"`
	BatchYear  string            `json:"batch_year"`
	Events     map[string]Status `json:"events"`
}

// Validate checks the required identity fields.
func (s Student) Validate() []string {
	var missing []string
	for _, f := range []struct{ name, val string }{
		{"roll_no", s.RollNo},
		{"name", s.Name},
		{"department", s.Department},
		{"college", s.College},
		{"section", s.Section},
		{"batch_year", s.BatchYear},
	} {
		if strings.TrimSpace(f.val) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Event is a registry entry. AttendanceMarked flips to true once.
type Event struct {
	Name             string `json:"event_name"`
	AttendanceMarked bool   `json:"attendance_marked"`
}

// Filter selects a cohort by batch year and department. An empty set does
// not constrain its dimension.
type Filter struct {
	BatchYears  []string `json:"batch_years"`
	Departments []string `json:"departments"`
}

// Empty reports whether the filter selects the full roster.
func (f Filter) Empty() bool {
	return len(f.BatchYears) == 0 && len(f.Departments) == 0
}

// Matches reports whether s belongs to the cohort.
func (f Filter) Matches(s Student) bool {
	return in(f.BatchYears, s.BatchYear) && in(f.Departments, s.Department)
}

func in(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Repository persists students and events.
type Repository interface {
	// UpsertStudent creates the student or overwrites its identity fields,
	// keeping recorded events.
	UpsertStudent(ctx context.Context, s Student) (Student, error)
	GetStudent(ctx context.Context, rollNo string) (Student, error)
	ListStudents(ctx context.Context) ([]Student, error)
	GetEvent(ctx context.Context, name string) (Event, error)
	ListEvents(ctx context.Context) ([]Event, error)
	// InTx runs fn atomically: either every write fn makes is kept, or none.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of writes available inside Repository.InTx.
type Tx interface {
	// EnsureEvent creates the event with AttendanceMarked=false if missing.
	EnsureEvent(ctx context.Context, name string) error
	// ClaimEvent sets AttendanceMarked=true only if it is currently false,
	// reporting whether this call flipped it.
	ClaimEvent(ctx context.Context, name string) (bool, error)
	// Cohort returns the students matching f, ordered by roll number.
	Cohort(ctx context.Context, f Filter) ([]Student, error)
	SetStatus(ctx context.Context, rollNo, event string, status Status) error
}
