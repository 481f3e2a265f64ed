// Package archive persists closed-out attendance records to Postgres.
// The live ledger is in-memory only; archiving is the explicit export
// path that survives a session teardown.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"taptendance/internal/ledger"
)

// Entry is one archived attendance record.
type Entry struct {
	UID        string     `json:"uid"`
	StudentID  string     `json:"student_id"`
	Name       string     `json:"name"`
	Course     string     `json:"course"`
	Year       string     `json:"year"`
	Section    string     `json:"section"`
	TimeIn     time.Time  `json:"time_in"`
	TimeOut    *time.Time `json:"time_out,omitempty"`
	Outcome    string     `json:"outcome"`
	ArchivedAt time.Time  `json:"archived_at"`
}

// FromOutcome builds an archive entry from an accepted ledger outcome.
func FromOutcome(out ledger.Outcome) (Entry, error) {
	if !out.Status.Accepted() || out.Record == nil {
		return Entry{}, errors.New("archive: outcome did not mutate the ledger")
	}
	r := out.Record
	return Entry{
		UID:       r.UID,
		StudentID: r.ID,
		Name:      r.Name,
		Course:    r.Course,
		Year:      r.Year,
		Section:   r.Section,
		TimeIn:    r.TimeIn,
		TimeOut:   r.TimeOut,
		Outcome:   out.Status.String(),
	}, nil
}

// Marshal renders an entry as a queue message body.
func (e Entry) Marshal() ([]byte, error) { return json.Marshal(e) }

// Unmarshal parses a queue message body.
func Unmarshal(body []byte) (Entry, error) {
	var e Entry
	err := json.Unmarshal(body, &e)
	return e, err
}

// Repository persists entries in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Upsert writes an entry, updating time-out and outcome when the same
// record uid arrives again (a time-in followed by its time-out).
func (r *Repository) Upsert(ctx context.Context, e Entry) (Entry, error) {
	if e.UID == "" {
		e.UID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_archive (uid, student_id, name, course, year, section, time_in, time_out, outcome)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (uid) DO UPDATE SET
			time_out = EXCLUDED.time_out,
			outcome  = EXCLUDED.outcome,
			archived_at = NOW()
		RETURNING archived_at
	`, e.UID, e.StudentID, e.Name, e.Course, e.Year, e.Section, e.TimeIn, e.TimeOut, e.Outcome)
	if err := row.Scan(&e.ArchivedAt); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// List returns archived entries with basic filters.
func (r *Repository) List(ctx context.Context, studentID string, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT uid, student_id, name, course, year, section, time_in, time_out, outcome, archived_at
		FROM attendance_archive`
	args := []any{}
	if studentID != "" {
		query += ` WHERE student_id = $1`
		args = append(args, studentID)
	}
	query += ` ORDER BY time_in DESC LIMIT $` + itoa(len(args)+1) + ` OFFSET $` + itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.UID, &e.StudentID, &e.Name, &e.Course, &e.Year, &e.Section, &e.TimeIn, &e.TimeOut, &e.Outcome, &e.ArchivedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func itoa(i int) string { return strconv.Itoa(i) }
