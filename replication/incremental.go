package replication

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bobg/rbs"
)

// MaxPageSize is the largest number of events ReadIncremental returns at once.
const MaxPageSize = 10000

// IncrementalRequest is a request for the events after a cursor.
// LastBucket and LastEvent are both empty (meaning "from the start")
// or both set.
type IncrementalRequest struct {
	LastBucket string
	LastEvent  string

	// Count limits the number of events returned.
	// Zero means MaxPageSize.
	Count int
}

// IncrementalPage is the response to an IncrementalRequest.
type IncrementalPage struct {
	// Events are in log order.
	Events []Event

	// Next is the cursor from which to request the following page.
	// It is the request's cursor when Events is empty.
	Next Cursor
}

// StaleCursorError is the error returned by ReadIncremental
// when the requested cursor's bucket is no longer in the log.
// The reader should load the snapshot named by SnapshotID
// and resume from the cursor it contains.
type StaleCursorError struct {
	Namespace  rbs.NamespaceID
	Bucket     string
	SnapshotID rbs.Ref
}

func (e *StaleCursorError) Error() string {
	return fmt.Sprintf("bucket %s of %s is no longer in the log, use snapshot %s", e.Bucket, e.Namespace, e.SnapshotID)
}

// Is makes errors.Is(err, rbs.ErrStaleCursor) true for a StaleCursorError.
func (e *StaleCursorError) Is(target error) bool {
	return target == rbs.ErrStaleCursor
}

// ParseCursor parses the string form of a cursor.
// Both strings empty is the zero Cursor.
func ParseCursor(bucket, event string) (Cursor, error) {
	if bucket == "" && event == "" {
		return Cursor{}, nil
	}
	if bucket == "" {
		return Cursor{}, errors.Wrap(rbs.ErrBadRequest, "event given without bucket")
	}
	if event == "" {
		return Cursor{}, errors.Wrap(rbs.ErrBadRequest, "bucket given without event")
	}
	if _, err := ParseBucket(bucket); err != nil {
		return Cursor{}, err
	}
	id, err := uuid.Parse(event)
	if err != nil {
		return Cursor{}, errors.Wrapf(rbs.ErrBadRequest, "malformed event id %q: %s", event, err)
	}
	return Cursor{Bucket: bucket, Event: id}, nil
}

// ReadIncremental returns up to req.Count events of ns's log
// strictly after the cursor in req, in log order.
//
// It returns an error wrapping:
//   - rbs.ErrBadRequest if the request is malformed,
//     or if the cursor's bucket is not in the log and there is no snapshot to resume from;
//   - rbs.ErrNotFound if ns has no log;
//   - rbs.ErrStaleCursor, as a *StaleCursorError, if the cursor's bucket is not in the log
//     and a snapshot exists.
func ReadIncremental(ctx context.Context, log Log, ns rbs.NamespaceID, req IncrementalRequest) (IncrementalPage, error) {
	after, err := ParseCursor(req.LastBucket, req.LastEvent)
	if err != nil {
		return IncrementalPage{}, err
	}

	count := req.Count
	switch {
	case count < 0:
		return IncrementalPage{}, errors.Wrapf(rbs.ErrBadRequest, "negative count %d", count)
	case count == 0, count > MaxPageSize:
		count = MaxPageSize
	}

	page := IncrementalPage{Next: after}

	err = log.Get(ctx, ns, after, func(ev Event) error {
		page.Events = append(page.Events, ev)
		page.Next = ev.Cursor()
		if len(page.Events) >= count {
			return errStop
		}
		return nil
	})
	if errors.Is(err, errStop) {
		return page, nil
	}
	if errors.Is(err, ErrUnknownBucket) {
		snap, snapErr := LatestSnapshot(ctx, log, ns)
		if errors.Is(snapErr, rbs.ErrNotFound) {
			return IncrementalPage{}, errors.Wrapf(rbs.ErrBadRequest, "bucket %s not found in %s and no snapshot exists", after.Bucket, ns)
		}
		if snapErr != nil {
			return IncrementalPage{}, snapErr
		}
		return IncrementalPage{}, &StaleCursorError{Namespace: ns, Bucket: after.Bucket, SnapshotID: snap.Blob}
	}
	if err != nil {
		return IncrementalPage{}, errors.Wrapf(err, "reading log of %s", ns)
	}
	return page, nil
}
