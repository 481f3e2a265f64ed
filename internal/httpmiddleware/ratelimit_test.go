package httpmiddleware

import (
	"testing"
	"time"
)

func TestTokenBucketAllow(t *testing.T) {
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	l := NewSimpleTokenBucket(3, 60)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !l.allow("1.2.3.4") {
			t.Fatalf("request %d should pass within capacity", i+1)
		}
	}
	if l.allow("1.2.3.4") {
		t.Error("request over capacity should be rejected")
	}
	if !l.allow("5.6.7.8") {
		t.Error("limits are per client, other IPs should pass")
	}

	// one minute refills up to the per-minute rate, capped at capacity
	now = now.Add(time.Minute)
	if !l.allow("1.2.3.4") {
		t.Error("bucket should refill after a minute")
	}
}
