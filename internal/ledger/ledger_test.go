package ledger

import (
	"testing"
	"time"

	"taptendance/internal/netid"
	"taptendance/internal/payload"
)

func testAttendance() payload.Attendance {
	return payload.Attendance{
		Type:      payload.TypeAttendance,
		ID:        "S1",
		Name:      "Ann",
		Course:    "BSCS",
		Year:      "1",
		Section:   "A",
		IP:        "192.168.1.5",
		Timestamp: "2026-09-01T08:00:00Z",
	}
}

func newTestLedger(t *testing.T) (*Ledger, *time.Time) {
	t.Helper()
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	l := New(netid.New(nil, false))
	l.SetClock(func() time.Time { return now })
	return l, &now
}

func TestApplyFreshIDOpensRecord(t *testing.T) {
	l, now := newTestLedger(t)

	out := l.Apply(testAttendance(), Context{LocalSignature: "192.168.1.9"})
	if out.Status != TimeInRecorded {
		t.Fatalf("status = %v, want TimeInRecorded", out.Status)
	}
	if out.Record == nil || !out.Record.TimeIn.Equal(*now) || out.Record.TimeOut != nil {
		t.Fatalf("record = %+v, want open record with TimeIn = now", out.Record)
	}
	if out.Record.UID == "" {
		t.Error("record must carry a generated uid")
	}
	if l.Len() != 1 {
		t.Errorf("ledger has %d records, want 1", l.Len())
	}
}

func TestApplySecondScanClosesRecord(t *testing.T) {
	l, now := newTestLedger(t)
	ctx := Context{LocalSignature: "192.168.1.9"}

	first := l.Apply(testAttendance(), ctx)
	*now = now.Add(2 * time.Hour)
	second := l.Apply(testAttendance(), ctx)

	if second.Status != TimeOutRecorded {
		t.Fatalf("status = %v, want TimeOutRecorded", second.Status)
	}
	if second.Record.TimeOut == nil || !second.Record.TimeOut.Equal(*now) {
		t.Fatalf("TimeOut = %v, want %v", second.Record.TimeOut, *now)
	}
	if !second.Record.TimeIn.Equal(first.Record.TimeIn) {
		t.Error("closing a record must not change its TimeIn")
	}
	if l.Len() != 1 {
		t.Errorf("ledger has %d records, want 1 (close, not duplicate)", l.Len())
	}
}

func TestApplyClosedRecordRejectsDuplicate(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := Context{LocalSignature: "192.168.1.9"}

	l.Apply(testAttendance(), ctx)
	l.Apply(testAttendance(), ctx)
	before := l.Records()

	// repeated identical input is idempotent once the record is closed
	for i := 0; i < 3; i++ {
		out := l.Apply(testAttendance(), ctx)
		if out.Status != DuplicateEntry {
			t.Fatalf("status = %v, want DuplicateEntry", out.Status)
		}
		if out.Record == nil || out.Record.ID != "S1" {
			t.Fatalf("duplicate outcome should carry the existing record, got %+v", out.Record)
		}
	}

	after := l.Records()
	if len(after) != len(before) {
		t.Fatalf("record count changed: %d -> %d", len(before), len(after))
	}
	for i := range after {
		if after[i].UID != before[i].UID || !after[i].TimeIn.Equal(before[i].TimeIn) {
			t.Error("duplicate rejection must not mutate the record set")
		}
	}
}

func TestApplyNetworkMismatch(t *testing.T) {
	l, _ := newTestLedger(t)

	att := testAttendance()
	att.IP = "10.0.0.4"
	out := l.Apply(att, Context{LocalSignature: "192.168.1.9"})
	if out.Status != NetworkMismatch {
		t.Fatalf("status = %v, want NetworkMismatch", out.Status)
	}
	if l.Len() != 0 {
		t.Error("rejected scan must not mutate the ledger")
	}
}

func TestApplyLoopbackSidesBypassGate(t *testing.T) {
	l, _ := newTestLedger(t)

	// scanner could not determine its address: fail open
	out := l.Apply(testAttendance(), Context{LocalSignature: netid.Loopback})
	if out.Status != TimeInRecorded {
		t.Errorf("loopback scanner signature: status = %v, want TimeInRecorded", out.Status)
	}

	att := testAttendance()
	att.ID, att.IP = "S2", netid.Loopback
	out = l.Apply(att, Context{LocalSignature: "192.168.1.9"})
	if out.Status != TimeInRecorded {
		t.Errorf("loopback payload signature: status = %v, want TimeInRecorded", out.Status)
	}

	// missing payload signature skips the gate entirely
	att = testAttendance()
	att.ID, att.IP = "S3", ""
	out = l.Apply(att, Context{LocalSignature: "192.168.1.9"})
	if out.Status != TimeInRecorded {
		t.Errorf("absent payload signature: status = %v, want TimeInRecorded", out.Status)
	}
}

func TestMarkOut(t *testing.T) {
	l, now := newTestLedger(t)
	l.Apply(testAttendance(), Context{LocalSignature: "192.168.1.9"})

	*now = now.Add(time.Hour)
	rec := l.MarkOut("S1")
	if rec == nil || rec.TimeOut == nil || !rec.TimeOut.Equal(*now) {
		t.Fatalf("MarkOut = %+v, want closed record at now", rec)
	}
	if l.MarkOut("S1") != nil {
		t.Error("MarkOut on a closed record should return nil")
	}
	if l.MarkOut("missing") != nil {
		t.Error("MarkOut on an unknown id should return nil")
	}
}

func TestMarkAllOut(t *testing.T) {
	l, now := newTestLedger(t)
	ctx := Context{LocalSignature: "192.168.1.9"}

	for _, id := range []string{"S1", "S2", "S3"} {
		att := testAttendance()
		att.ID = id
		l.Apply(att, ctx)
	}
	l.MarkOut("S2")

	*now = now.Add(time.Hour)
	closed := l.MarkAllOut()
	if len(closed) != 2 {
		t.Errorf("MarkAllOut closed %d records, want 2", len(closed))
	}
	for _, r := range closed {
		if r.TimeOut == nil || !r.TimeOut.Equal(*now) {
			t.Errorf("closed record %s has TimeOut %v, want %v", r.ID, r.TimeOut, *now)
		}
	}
	for _, r := range l.Records() {
		if r.TimeOut == nil {
			t.Errorf("record %s still open after MarkAllOut", r.ID)
		}
	}
	if again := l.MarkAllOut(); len(again) != 0 {
		t.Errorf("second MarkAllOut closed %d records, want 0 (no-op)", len(again))
	}
}

func TestReset(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Apply(testAttendance(), Context{LocalSignature: "192.168.1.9"})
	l.Reset()
	if l.Len() != 0 {
		t.Error("Reset must clear all records")
	}
	// a previously seen id becomes fresh again
	out := l.Apply(testAttendance(), Context{LocalSignature: "192.168.1.9"})
	if out.Status != TimeInRecorded {
		t.Errorf("status after reset = %v, want TimeInRecorded", out.Status)
	}
}
