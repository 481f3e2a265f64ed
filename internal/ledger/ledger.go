// Package ledger holds the canonical in-memory attendance record set for
// the current session and the rules that admit scan events into it.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"taptendance/internal/netid"
	"taptendance/internal/payload"
)

// Record is one student's attendance entry. A record is "open" until
// TimeOut is set; it closes exactly once and never reopens.
type Record struct {
	UID     string     `json:"uid"`
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Course  string     `json:"course"`
	Year    string     `json:"year"`
	Section string     `json:"section"`
	TimeIn  time.Time  `json:"time_in"`
	TimeOut *time.Time `json:"time_out,omitempty"`
}

// Open reports whether the record has no time-out yet.
func (r Record) Open() bool { return r.TimeOut == nil }

// Status names the outcome of applying a scan to the ledger.
type Status int

const (
	// TimeInRecorded: a new open record was created.
	TimeInRecorded Status = iota
	// TimeOutRecorded: an existing open record was closed.
	TimeOutRecorded
	// NetworkMismatch: the scan failed the proximity check; no mutation.
	NetworkMismatch
	// DuplicateEntry: the student already has a closed record; no mutation.
	DuplicateEntry
)

func (s Status) String() string {
	switch s {
	case TimeInRecorded:
		return "time_in_recorded"
	case TimeOutRecorded:
		return "time_out_recorded"
	case NetworkMismatch:
		return "network_mismatch"
	default:
		return "duplicate_entry"
	}
}

// Accepted reports whether the outcome mutated the ledger.
func (s Status) Accepted() bool { return s == TimeInRecorded || s == TimeOutRecorded }

// Outcome is the total result of Apply. Record is a copy of the affected
// record and is set for every status except NetworkMismatch.
type Outcome struct {
	Status Status
	Record *Record
}

// Context carries the scanning device's view of the world into Apply.
type Context struct {
	LocalSignature string
}

// Ledger owns the id -> record mapping. A single mutex keeps the
// single-writer discipline: the decoder loop and HTTP handlers both feed it.
type Ledger struct {
	mu      sync.Mutex
	records []*Record
	net     *netid.Estimator
	now     func() time.Time
}

// New creates an empty ledger gated by the given proximity estimator.
func New(est *netid.Estimator) *Ledger {
	return &Ledger{net: est, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Apply runs the admission algorithm for one attendance payload. It is
// total: every input maps to a defined outcome and nothing is raised.
//
// Order matters: closing an open record takes priority over duplicate
// detection, so re-scanning the same QR always closes, never duplicates.
func (l *Ledger) Apply(att payload.Attendance, ctx Context) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	if att.IP != "" && !l.net.SameNetwork(ctx.LocalSignature, att.IP) &&
		ctx.LocalSignature != netid.Loopback && att.IP != netid.Loopback {
		return Outcome{Status: NetworkMismatch}
	}

	if open := l.findOpen(att.ID); open != nil {
		out := l.now()
		open.TimeOut = &out
		cp := *open
		return Outcome{Status: TimeOutRecorded, Record: &cp}
	}

	if existing := l.find(att.ID); existing != nil {
		cp := *existing
		return Outcome{Status: DuplicateEntry, Record: &cp}
	}

	rec := &Record{
		UID:     uuid.NewString(),
		ID:      att.ID,
		Name:    att.Name,
		Course:  att.Course,
		Year:    att.Year,
		Section: att.Section,
		TimeIn:  l.now(),
	}
	l.records = append(l.records, rec)
	cp := *rec
	return Outcome{Status: TimeInRecorded, Record: &cp}
}

// MarkOut closes the open record for one student id. The returned record
// is nil when no open record exists.
func (l *Ledger) MarkOut(id string) *Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	open := l.findOpen(id)
	if open == nil {
		return nil
	}
	out := l.now()
	open.TimeOut = &out
	cp := *open
	return &cp
}

// MarkAllOut closes every open record at the current time and returns
// copies of the records it closed. An empty result is a no-op, not an
// error.
func (l *Ledger) MarkAllOut() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var closed []Record
	for _, r := range l.records {
		if r.TimeOut == nil {
			out := now
			r.TimeOut = &out
			closed = append(closed, *r)
		}
	}
	return closed
}

// Records returns a snapshot of all records in insertion order.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, *r)
	}
	return out
}

// Len reports the number of records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Reset clears the ledger for a new session.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
}

func (l *Ledger) findOpen(id string) *Record {
	for _, r := range l.records {
		if r.ID == id && r.TimeOut == nil {
			return r
		}
	}
	return nil
}

func (l *Ledger) find(id string) *Record {
	for _, r := range l.records {
		if r.ID == id {
			return r
		}
	}
	return nil
}
