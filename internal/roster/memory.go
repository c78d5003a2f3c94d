package roster

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps the roster in process memory. Transactions hold
// the write lock and work on a copy that is swapped in on success.
type MemoryRepository struct {
	mu       sync.RWMutex
	students map[string]Student
	events   map[string]Event
}

// NewMemoryRepository returns an empty in-memory roster.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		students: make(map[string]Student),
		events:   make(map[string]Event),
	}
}

func cloneStudent(s Student) Student {
	events := make(map[string]Status, len(s.Events))
	for k, v := range s.Events {
		events[k] = v
	}
	s.Events = events
	return s
}

func (r *MemoryRepository) UpsertStudent(_ context.Context, s Student) (Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.students[s.RollNo]; ok {
		s.Events = prev.Events
	}
	s = cloneStudent(s)
	r.students[s.RollNo] = s
	return cloneStudent(s), nil
}

func (r *MemoryRepository) GetStudent(_ context.Context, rollNo string) (Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.students[rollNo]
	if !ok {
		return Student{}, ErrNotFound
	}
	return cloneStudent(s), nil
}

func (r *MemoryRepository) ListStudents(_ context.Context) ([]Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedStudents(r.students, Filter{}), nil
}

func (r *MemoryRepository) GetEvent(_ context.Context, name string) (Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.events[name]
	if !ok {
		return Event{}, ErrNotFound
	}
	return e, nil
}

func (r *MemoryRepository) ListEvents(_ context.Context) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		res = append(res, e)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (r *MemoryRepository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memTx{
		students: make(map[string]Student, len(r.students)),
		events:   make(map[string]Event, len(r.events)),
	}
	for k, s := range r.students {
		tx.students[k] = cloneStudent(s)
	}
	for k, e := range r.events {
		tx.events[k] = e
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.students, r.events = tx.students, tx.events
	return nil
}

func sortedStudents(m map[string]Student, f Filter) []Student {
	res := make([]Student, 0, len(m))
	for _, s := range m {
		if f.Matches(s) {
			res = append(res, cloneStudent(s))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].RollNo < res[j].RollNo })
	return res
}

type memTx struct {
	students map[string]Student
	events   map[string]Event
}

func (t *memTx) EnsureEvent(_ context.Context, name string) error {
	if _, ok := t.events[name]; !ok {
		t.events[name] = Event{Name: name}
	}
	return nil
}

func (t *memTx) ClaimEvent(_ context.Context, name string) (bool, error) {
	e, ok := t.events[name]
	if !ok || e.AttendanceMarked {
		return false, nil
	}
	e.AttendanceMarked = true
	t.events[name] = e
	return true, nil
}

func (t *memTx) Cohort(_ context.Context, f Filter) ([]Student, error) {
	return sortedStudents(t.students, f), nil
}

func (t *memTx) SetStatus(_ context.Context, rollNo, event string, status Status) error {
	s, ok := t.students[rollNo]
	if !ok {
		return ErrNotFound
	}
	s.Events[event] = status
	t.students[rollNo] = s
	return nil
}
