package replication

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bobg/rbs"
)

func TestBucketLabel(t *testing.T) {
	cases := []struct {
		t      time.Time
		period time.Duration
		want   string
	}{
		{t: time.Date(2021, 8, 5, 12, 0, 0, 0, time.UTC), want: "rep-001628121600"},
		{t: time.Date(2021, 8, 5, 23, 59, 59, 0, time.UTC), period: 24 * time.Hour, want: "rep-001628121600"},
		{t: time.Date(2021, 8, 5, 12, 30, 0, 0, time.UTC), period: time.Hour, want: "rep-001628164800"},
		{t: time.Date(2021, 8, 5, 14, 30, 0, 0, time.FixedZone("x", 2*3600)), period: time.Hour, want: "rep-001628164800"},
	}
	for i, c := range cases {
		got := BucketLabel(c.t, c.period)
		if got != c.want {
			t.Errorf("case %d: got %s, want %s", i, got, c.want)
			continue
		}
		start, err := ParseBucket(got)
		if err != nil {
			t.Errorf("case %d: %s", i, err)
			continue
		}
		if start.After(c.t) {
			t.Errorf("case %d: bucket starts at %s, after %s", i, start, c.t)
		}
	}

	var (
		day1 = BucketLabel(time.Date(2021, 8, 5, 0, 0, 0, 0, time.UTC), 0)
		day2 = BucketLabel(time.Date(2021, 8, 6, 0, 0, 0, 0, time.UTC), 0)
	)
	if day1 >= day2 {
		t.Errorf("labels out of order: %s, %s", day1, day2)
	}
}

func TestParseBucketErrors(t *testing.T) {
	for _, s := range []string{"", "rep-", "1628121600", "rep-16281x1600", "rpe-1628121600"} {
		if _, err := ParseBucket(s); !errors.Is(err, rbs.ErrBadRequest) {
			t.Errorf("ParseBucket(%q): got %v, want ErrBadRequest", s, err)
		}
	}
}

func TestParseCursor(t *testing.T) {
	const (
		bucket = "rep-001628121600"
		event  = "7d444840-9dc0-11d1-b245-5ffdce74fad2"
	)

	c, err := ParseCursor("", "")
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsZero() {
		t.Errorf("got %v, want zero cursor", c)
	}

	c, err = ParseCursor(bucket, event)
	if err != nil {
		t.Fatal(err)
	}
	if c.Bucket != bucket || c.Event != uuid.MustParse(event) {
		t.Errorf("got %v", c)
	}

	bad := []struct{ bucket, event string }{
		{bucket: bucket},
		{event: event},
		{bucket: "bogus", event: event},
		{bucket: bucket, event: "not-a-uuid"},
	}
	for _, b := range bad {
		if _, err := ParseCursor(b.bucket, b.event); !errors.Is(err, rbs.ErrBadRequest) {
			t.Errorf("ParseCursor(%q, %q): got %v, want ErrBadRequest", b.bucket, b.event, err)
		}
	}
}

func TestCursorLess(t *testing.T) {
	var (
		e1 = uuid.MustParse("00000000-0000-0000-0000-000000000001")
		e2 = uuid.MustParse("00000000-0000-0000-0000-000000000002")
		a  = Cursor{Bucket: "rep-001", Event: e2}
		b  = Cursor{Bucket: "rep-002", Event: e1}
		c  = Cursor{Bucket: "rep-002", Event: e2}
	)
	if !a.Less(b) || !b.Less(c) || !a.Less(c) {
		t.Error("Less reports wrong order")
	}
	if c.Less(a) || b.Less(b) {
		t.Error("Less reports reversed order")
	}
	if !(Cursor{}).Less(a) {
		t.Error("zero cursor is not first")
	}
}

func TestStaleCursorError(t *testing.T) {
	var err error = &StaleCursorError{Namespace: "ns", Bucket: "rep-001", SnapshotID: rbs.RefOf([]byte("snap"))}
	err = errors.Wrap(err, "reading")
	if !errors.Is(err, rbs.ErrStaleCursor) {
		t.Error("StaleCursorError does not match ErrStaleCursor")
	}
	var sce *StaleCursorError
	if !errors.As(err, &sce) || sce.Bucket != "rep-001" {
		t.Errorf("errors.As got %v", sce)
	}
}

func TestEventTime(t *testing.T) {
	fixed := time.Date(2021, 8, 5, 12, 0, 0, 0, time.UTC)
	defer func(old func() time.Time) { Now = old }(Now)
	Now = func() time.Time { return fixed }

	if got := EventTime(time.Time{}); !got.Equal(fixed) {
		t.Errorf("got %s, want %s", got, fixed)
	}
	ts := fixed.Add(time.Hour)
	if got := EventTime(ts); !got.Equal(ts) {
		t.Errorf("got %s, want %s", got, ts)
	}
}
