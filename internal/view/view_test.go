package view

import (
	"bytes"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"taptendance/internal/ledger"
)

func rec(id, name string, in time.Time, out *time.Time) ledger.Record {
	return ledger.Record{UID: "u-" + id, ID: id, Name: name, TimeIn: in, TimeOut: out}
}

func TestFilterToday(t *testing.T) {
	now := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)
	records := []ledger.Record{
		rec("S1", "Ann", now.Add(-2*time.Hour), nil),
		rec("S2", "Ben", yesterday, nil),
	}

	got := Filter(records, Query{Window: WindowToday}, now)
	if len(got) != 1 || got[0].ID != "S1" {
		t.Fatalf("today filter = %v, want only S1", ids(got))
	}
}

func TestFilterWeek(t *testing.T) {
	// 2026-09-01 is a Tuesday; the week started Sunday 2026-08-30
	now := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
	records := []ledger.Record{
		rec("S1", "Ann", time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC), nil),
		rec("S2", "Ben", time.Date(2026, 8, 29, 23, 0, 0, 0, time.UTC), nil),
		rec("S3", "Cyd", now, nil),
	}

	got := Filter(records, Query{Window: WindowWeek}, now)
	if len(got) != 2 || got[0].ID != "S1" || got[1].ID != "S3" {
		t.Fatalf("week filter = %v, want [S1 S3]", ids(got))
	}
}

func TestFilterSearch(t *testing.T) {
	now := time.Now()
	records := []ledger.Record{
		rec("2021-044", "Ann Reyes", now, nil),
		rec("2021-171", "Ben Cruz", now, nil),
	}

	cases := []struct {
		search string
		want   []string
	}{
		{"ann", []string{"2021-044"}},
		{"CRUZ", []string{"2021-171"}},
		{"2021", []string{"2021-044", "2021-171"}},
		{"044", []string{"2021-044"}},
		{"zzz", nil},
		{"", []string{"2021-044", "2021-171"}},
	}
	for _, tc := range cases {
		got := ids(Filter(records, Query{Search: tc.search}, now))
		if !equal(got, tc.want) {
			t.Errorf("search %q = %v, want %v", tc.search, got, tc.want)
		}
	}
}

func TestParseWindow(t *testing.T) {
	cases := map[string]Window{
		"today": WindowToday, "Today": WindowToday,
		"week": WindowWeek, "this-week": WindowWeek,
		"all": WindowAll, "": WindowAll, "bogus": WindowAll,
	}
	for in, want := range cases {
		if got := ParseWindow(in); got != want {
			t.Errorf("ParseWindow(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestClockDecimal(t *testing.T) {
	cases := []struct {
		h, m, s int
		want    string
	}{
		{13, 45, 0, "13.75"},
		{0, 0, 0, "0.00"},
		{8, 30, 0, "8.50"},
		{23, 59, 0, "23.98"},
	}
	for _, tc := range cases {
		tm := time.Date(2026, 9, 1, tc.h, tc.m, tc.s, 0, time.UTC)
		if got := ClockDecimal(tm); got != tc.want {
			t.Errorf("ClockDecimal(%02d:%02d:%02d) = %q, want %q", tc.h, tc.m, tc.s, got, tc.want)
		}
	}
}

func TestDurationHours(t *testing.T) {
	in := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

	if _, ok := DurationHours(in, nil); ok {
		t.Error("open record must have no numeric duration")
	}

	before := in.Add(-time.Hour)
	if d, ok := DurationHours(in, &before); !ok || d != 0 {
		t.Errorf("negative span = %v, want 0", d)
	}

	after := in.Add(90 * time.Minute)
	if d, ok := DurationHours(in, &after); !ok || d != 1.5 {
		t.Errorf("90 minutes = %v, want 1.5", d)
	}
}

func TestProjectOpenRecord(t *testing.T) {
	in := time.Date(2026, 9, 1, 8, 30, 0, 0, time.UTC)
	rows := Project([]ledger.Record{rec("S1", "Ann", in, nil)})
	if len(rows) != 1 {
		t.Fatalf("got %d rows", len(rows))
	}
	r := rows[0]
	if r.TimeIn != "8.50" || r.TimeOut != "Not marked" || r.Remarks != "-" || r.Date != "2026-09-01" {
		t.Errorf("open row = %+v", r)
	}
}

func TestSanitizeTitle(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		in, want string
	}{
		{"CS101 Morning Class", "CS101_Morning_Class"},
		{`bad<>:"/\|?*chars`, "badchars"},
		{"  spaced   out  ", "spaced_out"},
		{"", "attendance_2026-09-01"},
		{`<>:"`, "attendance_2026-09-01"},
	}
	for _, tc := range cases {
		if got := SanitizeTitle(tc.in, now); got != tc.want {
			t.Errorf("SanitizeTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	long := SanitizeTitle(strings80()+strings80(), now)
	if len(long) > 80 {
		t.Errorf("title length %d, want <= 80", len(long))
	}

	// multi-byte titles must be capped on a rune boundary
	wide := SanitizeTitle(strings.Repeat("出", 100), now)
	if got := utf8.RuneCountInString(wide); got != 80 {
		t.Errorf("rune count = %d, want 80", got)
	}
	if !utf8.ValidString(wide) {
		t.Errorf("truncated title is not valid UTF-8: %q", wide)
	}

	if got, want := Filename("CS101", now), "CS101_2026-09-01.xlsx"; got != want {
		t.Errorf("Filename = %q, want %q", got, want)
	}
}

func strings80() string {
	b := make([]byte, 80)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

func TestColWidths(t *testing.T) {
	// header longer than content: header drives the width
	headers := []string{"ID - twenty characte"}
	rows := []Row{{ID: "abc"}}
	w := colWidthsOne(t, headers, rows)
	if want := 25.0; w != want { // ceil(20*1.15)+2 = 25
		t.Errorf("header-driven width = %v, want %v", w, want)
	}

	// tiny content clamps to the minimum
	w = colWidthsOne(t, []string{"ID"}, []Row{{ID: "x"}})
	if w != minColWidth {
		t.Errorf("narrow width = %v, want %v", w, minColWidth)
	}

	// huge content clamps to the maximum
	w = colWidthsOne(t, []string{"ID"}, []Row{{ID: strings80()}})
	if w != maxColWidth {
		t.Errorf("wide width = %v, want %v", w, maxColWidth)
	}
}

func colWidthsOne(t *testing.T, headers []string, rows []Row) float64 {
	t.Helper()
	ws := ColWidths(headers, rows)
	if len(ws) != 1 {
		t.Fatalf("got %d widths, want 1", len(ws))
	}
	return ws[0]
}

func TestWriteXLSX(t *testing.T) {
	in := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	out := in.Add(2 * time.Hour)
	records := []ledger.Record{
		rec("S1", "Ann", in, &out),
		rec("S2", "Ben", in, nil),
	}

	var buf bytes.Buffer
	if err := WriteXLSX(&buf, records, "CS101", in); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("workbook is empty")
	}
	// xlsx files are zip archives
	if got := string(buf.Bytes()[:2]); got != "PK" {
		t.Errorf("magic = %q, want zip header", got)
	}
}

func ids(records []ledger.Record) []string {
	var out []string
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
