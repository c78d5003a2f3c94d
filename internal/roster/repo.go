package roster

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// PostgresRepository persists the roster in Postgres. Student events live
// in a JSONB column.
type PostgresRepository struct {
	db *sql.DB
}

// NewRepository creates a Postgres-backed repository.
func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const studentColumns = `roll_no, name, department, college, section, batch_year, events`

type scanner interface {
	Scan(dest ...any) error
}

func scanStudent(row scanner) (Student, error) {
	var s Student
	var raw []byte
	if err := row.Scan(&s.RollNo, &s.Name, &s.Department, &s.College, &s.Section, &s.BatchYear, &raw); err != nil {
		return Student{}, err
	}
	s.Events = map[string]Status{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.Events); err != nil {
			return Student{}, errors.Wrap(err, "decode student events")
		}
	}
	return s, nil
}

// UpsertStudent inserts or updates the identity fields of a student.
func (r *PostgresRepository) UpsertStudent(ctx context.Context, s Student) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO students (roll_no, name, department, college, section, batch_year)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (roll_no) DO UPDATE SET
			name = EXCLUDED.name,
			department = EXCLUDED.department,
			college = EXCLUDED.college,
			section = EXCLUDED.section,
			batch_year = EXCLUDED.batch_year
		RETURNING `+studentColumns,
		s.RollNo, s.Name, s.Department, s.College, s.Section, s.BatchYear)
	out, err := scanStudent(row)
	if err != nil {
		return Student{}, errors.Wrap(err, "upsert student")
	}
	return out, nil
}

// GetStudent returns a single student by roll number.
func (r *PostgresRepository) GetStudent(ctx context.Context, rollNo string) (Student, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE roll_no = $1`, rollNo)
	s, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, ErrNotFound
	}
	if err != nil {
		return Student{}, errors.Wrap(err, "get student")
	}
	return s, nil
}

// ListStudents returns the whole roster.
func (r *PostgresRepository) ListStudents(ctx context.Context) ([]Student, error) {
	return queryStudents(ctx, r.db, `SELECT `+studentColumns+` FROM students ORDER BY roll_no`)
}

// GetEvent returns an event by name.
func (r *PostgresRepository) GetEvent(ctx context.Context, name string) (Event, error) {
	var e Event
	err := r.db.QueryRowContext(ctx, `SELECT event_name, attendance_marked FROM events WHERE event_name = $1`, name).
		Scan(&e.Name, &e.AttendanceMarked)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	if err != nil {
		return Event{}, errors.Wrap(err, "get event")
	}
	return e, nil
}

// ListEvents returns every registered event.
func (r *PostgresRepository) ListEvents(ctx context.Context) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT event_name, attendance_marked FROM events ORDER BY event_name`)
	if err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Name, &e.AttendanceMarked); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		res = append(res, e)
	}
	return res, errors.Wrap(rows.Err(), "list events")
}

// InTx runs fn inside a database transaction, committing only if fn
// returns nil.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryStudents(ctx context.Context, q queryer, query string, args ...any) ([]Student, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query students")
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan student")
		}
		res = append(res, s)
	}
	return res, errors.Wrap(rows.Err(), "query students")
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) EnsureEvent(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO events (event_name) VALUES ($1)
		ON CONFLICT (event_name) DO NOTHING
	`, name)
	return errors.Wrap(err, "ensure event")
}

// ClaimEvent is a conditional update: concurrent claimers block on the row
// lock and the loser sees attendance_marked already true.
func (t *pgTx) ClaimEvent(ctx context.Context, name string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE events SET attendance_marked = TRUE
		WHERE event_name = $1 AND attendance_marked = FALSE
	`, name)
	n, err := affected(res, err, "claim event")
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *pgTx) Cohort(ctx context.Context, f Filter) ([]Student, error) {
	return queryStudents(ctx, t.tx, `
		SELECT `+studentColumns+` FROM students
		WHERE (cardinality(COALESCE($1::text[], '{}')) = 0 OR batch_year = ANY($1::text[]))
		  AND (cardinality(COALESCE($2::text[], '{}')) = 0 OR department = ANY($2::text[]))
		ORDER BY roll_no
		FOR UPDATE
	`, pq.Array(f.BatchYears), pq.Array(f.Departments))
}

func (t *pgTx) SetStatus(ctx context.Context, rollNo, event string, status Status) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE students
		SET events = jsonb_set(COALESCE(events, '{}'::jsonb), ARRAY[$2::text], to_jsonb($3::text), true)
		WHERE roll_no = $1
	`, rollNo, event, string(status))
	n, err := affected(res, err, "set status")
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// affected returns the row count of an Exec, wrapping either failure as op.
func affected(res sql.Result, err error, op string) (int64, error) {
	if err != nil {
		return 0, errors.Wrap(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, op+": rows affected")
	}
	return n, nil
}
