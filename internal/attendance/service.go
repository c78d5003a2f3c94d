package attendance

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"checkqr/internal/apperr"
	"checkqr/internal/metrics"
	"checkqr/internal/roster"
)

// MarkRequest names the event, the cohort to mark, and who was present.
// An empty Filter marks the full roster.
type MarkRequest struct {
	EventName string
	Filter    roster.Filter
	Present   []string
}

// MarkResult summarizes a successful marking run.
type MarkResult struct {
	EventName string   `json:"event_name"`
	Students  int      `json:"students"`
	Present   int      `json:"present"`
	Absent    int      `json:"absent"`
	Unmatched []string `json:"unmatched,omitempty"`
}

// Service coordinates attendance marking over the roster.
type Service struct {
	repo roster.Repository
}

// NewService creates a service backed by a roster repository.
func NewService(repo roster.Repository) *Service {
	return &Service{repo: repo}
}

// MarkAttendance records present/absent for every cohort student and flags
// the event, all in one transaction. An event can be marked once; later
// attempts fail with a conflict and change nothing.
func (s *Service) MarkAttendance(ctx context.Context, req MarkRequest) (MarkResult, error) {
	name := strings.TrimSpace(req.EventName)
	if name == "" {
		metrics.AttendanceRuns.WithLabelValues("invalid").Inc()
		return MarkResult{}, apperr.Validation("event name is required")
	}
	filter := roster.Filter{
		BatchYears:  cleanSet(req.Filter.BatchYears),
		Departments: cleanSet(req.Filter.Departments),
	}
	present := make(map[string]bool, len(req.Present))
	for _, roll := range cleanSet(req.Present) {
		present[roll] = true
	}

	res := MarkResult{EventName: name}
	err := s.repo.InTx(ctx, func(tx roster.Tx) error {
		if err := tx.EnsureEvent(ctx, name); err != nil {
			return err
		}
		claimed, err := tx.ClaimEvent(ctx, name)
		if err != nil {
			return err
		}
		if !claimed {
			return apperr.Conflict("attendance for event %q already marked", name)
		}

		cohort, err := tx.Cohort(ctx, filter)
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(cohort))
		for _, st := range cohort {
			status := roster.StatusAbsent
			if present[st.RollNo] {
				status = roster.StatusPresent
				res.Present++
			} else {
				res.Absent++
			}
			if err := tx.SetStatus(ctx, st.RollNo, name, status); err != nil {
				return errors.Wrapf(err, "mark %s", st.RollNo)
			}
			seen[st.RollNo] = true
		}
		res.Students = len(cohort)
		for _, roll := range cleanSet(req.Present) {
			if !seen[roll] {
				res.Unmatched = append(res.Unmatched, roll)
			}
		}
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			metrics.AttendanceRuns.WithLabelValues("conflict").Inc()
			return MarkResult{}, err
		}
		metrics.AttendanceRuns.WithLabelValues("error").Inc()
		return MarkResult{}, apperr.Storage(err, "mark attendance")
	}

	metrics.AttendanceRuns.WithLabelValues("ok").Inc()
	metrics.AttendanceStudents.WithLabelValues(string(roster.StatusPresent)).Add(float64(res.Present))
	metrics.AttendanceStudents.WithLabelValues(string(roster.StatusAbsent)).Add(float64(res.Absent))
	return res, nil
}

// Attendance returns every student with its event-status map.
func (s *Service) Attendance(ctx context.Context) ([]roster.Student, error) {
	students, err := s.repo.ListStudents(ctx)
	if err != nil {
		return nil, apperr.Storage(err, "list attendance")
	}
	return students, nil
}

// Student returns one student's record.
func (s *Service) Student(ctx context.Context, rollNo string) (roster.Student, error) {
	st, err := s.repo.GetStudent(ctx, rollNo)
	if errors.Is(err, roster.ErrNotFound) {
		return roster.Student{}, apperr.NotFound("student %q not found", rollNo)
	}
	if err != nil {
		return roster.Student{}, apperr.Storage(err, "get student")
	}
	return st, nil
}

// Event returns the registry entry for name.
func (s *Service) Event(ctx context.Context, name string) (roster.Event, error) {
	e, err := s.repo.GetEvent(ctx, name)
	if errors.Is(err, roster.ErrNotFound) {
		return roster.Event{}, apperr.NotFound("event %q not found", name)
	}
	if err != nil {
		return roster.Event{}, apperr.Storage(err, "get event")
	}
	return e, nil
}

// Events lists the registry.
func (s *Service) Events(ctx context.Context) ([]roster.Event, error) {
	events, err := s.repo.ListEvents(ctx)
	if err != nil {
		return nil, apperr.Storage(err, "list events")
	}
	return events, nil
}

// RegisterStudent validates and upserts a roster entry.
func (s *Service) RegisterStudent(ctx context.Context, st roster.Student) (roster.Student, error) {
	st = trimStudent(st)
	if missing := st.Validate(); len(missing) > 0 {
		return roster.Student{}, apperr.Validation("missing required fields: %s", strings.Join(missing, ", "))
	}
	out, err := s.repo.UpsertStudent(ctx, st)
	if err != nil {
		return roster.Student{}, apperr.Storage(err, "save student")
	}
	return out, nil
}

func trimStudent(st roster.Student) roster.Student {
	st.RollNo = strings.TrimSpace(st.RollNo)
	st.Name = strings.TrimSpace(st.Name)
	st.Department = strings.TrimSpace(st.Department)
	st.College = strings.TrimSpace(st.College)
	st.Section = strings.TrimSpace(st.Section)
	st.BatchYear = strings.TrimSpace(st.BatchYear)
	return st
}

// cleanSet trims values and drops blanks and duplicates, keeping order.
func cleanSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
