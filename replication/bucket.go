package replication

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/rbs"
)

// DefaultBucketPeriod is the width of a log bucket's time window.
const DefaultBucketPeriod = 24 * time.Hour

const bucketPrefix = "rep-"

// BucketLabel returns the label of the bucket, of the given period,
// containing time t.
// Labels sort lexicographically in time order.
func BucketLabel(t time.Time, period time.Duration) string {
	if period <= 0 {
		period = DefaultBucketPeriod
	}
	start := t.UTC().Truncate(period)
	return fmt.Sprintf("%s%012d", bucketPrefix, start.Unix())
}

// ParseBucket parses a bucket label and returns the start of its time window.
// It returns an error wrapping rbs.ErrBadRequest if label is malformed.
func ParseBucket(label string) (time.Time, error) {
	digits := strings.TrimPrefix(label, bucketPrefix)
	if len(digits) == len(label) || digits == "" {
		return time.Time{}, errors.Wrapf(rbs.ErrBadRequest, "malformed bucket %q", label)
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return time.Time{}, errors.Wrapf(rbs.ErrBadRequest, "malformed bucket %q", label)
		}
	}
	secs, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(rbs.ErrBadRequest, "malformed bucket %q: %s", label, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// Now is the clock used for defaulted event timestamps.
// Tests may replace it.
var Now = time.Now

// EventTime returns ts, or the current time if ts is zero.
func EventTime(ts time.Time) time.Time {
	if ts.IsZero() {
		return Now()
	}
	return ts
}
