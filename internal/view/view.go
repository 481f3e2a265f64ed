// Package view derives human-readable projections of the ledger: filtered
// tables and spreadsheet exports. Nothing here is stored; every field is
// recomputed from the records on each call.
package view

import (
	"fmt"
	"math"
	"strings"
	"time"

	"taptendance/internal/ledger"
)

// Window selects the time range of a record filter.
type Window int

const (
	WindowAll Window = iota
	WindowToday
	WindowWeek
)

// ParseWindow maps the wire value of a filter to a Window. Unknown values
// fall back to all.
func ParseWindow(s string) Window {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "today":
		return WindowToday
	case "week", "this-week":
		return WindowWeek
	default:
		return WindowAll
	}
}

// Query narrows a record listing.
type Query struct {
	Window Window
	Search string
}

// Filter returns the records matching the query, in ledger order. Time
// windows are evaluated against the supplied wall-clock instant; search is
// a case-insensitive substring match over id and name.
func Filter(records []ledger.Record, q Query, now time.Time) []ledger.Record {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	var out []ledger.Record
	for _, r := range records {
		switch q.Window {
		case WindowToday:
			if !sameDate(r.TimeIn, now) {
				continue
			}
		case WindowWeek:
			if r.TimeIn.Before(startOfWeek(now)) {
				continue
			}
		}
		if search != "" {
			hay := strings.ToLower(r.ID + " " + r.Name)
			if !strings.Contains(hay, search) {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// startOfWeek is midnight of the current week's Sunday.
func startOfWeek(now time.Time) time.Time {
	d := now.AddDate(0, 0, -int(now.Weekday()))
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
}

// ClockDecimal renders a timestamp as a decimal hour of day, e.g. 13:45:00
// becomes "13.75".
func ClockDecimal(t time.Time) string {
	dec := float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600
	return fmt.Sprintf("%.2f", dec)
}

// DurationHours computes the decimal-hour duration of a record. ok is
// false while the record is open; negative spans floor to zero.
func DurationHours(in time.Time, out *time.Time) (float64, bool) {
	if out == nil {
		return 0, false
	}
	h := out.Sub(in).Hours()
	if h <= 0 {
		return 0, true
	}
	return math.Round(h*100) / 100, true
}

// Row is one projected table/export line. Every field is display-ready.
type Row struct {
	ID      string
	Name    string
	Course  string
	Year    string
	Section string
	Date    string
	TimeIn  string
	TimeOut string
	Remarks string
}

// Headers is the projection column order, shared by the table and the
// export sheet.
var Headers = []string{"ID", "Name", "Course", "Year", "Section", "Date", "Time In", "Time Out", "Remarks"}

// Project renders records into display rows.
func Project(records []ledger.Record) []Row {
	rows := make([]Row, 0, len(records))
	for _, r := range records {
		row := Row{
			ID:      r.ID,
			Name:    r.Name,
			Course:  r.Course,
			Year:    r.Year,
			Section: r.Section,
			Date:    r.TimeIn.Format("2006-01-02"),
			TimeIn:  ClockDecimal(r.TimeIn),
			TimeOut: "Not marked",
			Remarks: "-",
		}
		if r.TimeOut != nil {
			row.TimeOut = ClockDecimal(*r.TimeOut)
		}
		if d, ok := DurationHours(r.TimeIn, r.TimeOut); ok {
			row.Remarks = fmt.Sprintf("%.2f hrs", d)
		}
		rows = append(rows, row)
	}
	return rows
}

// Values flattens a row in header order.
func (r Row) Values() []string {
	return []string{r.ID, r.Name, r.Course, r.Year, r.Section, r.Date, r.TimeIn, r.TimeOut, r.Remarks}
}
