package sqldb

import (
	"context"
	"database/sql"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/contentid"
)

var _ contentid.Store = &ContentIDs{}

// ContentIDs is a SQL-based content id store.
// Each candidate's chunk list is stored as the concatenation of its refs.
type ContentIDs struct {
	db *sql.DB
}

// NewContentIDs produces a new ContentIDs using db, whose schema must already exist.
func NewContentIDs(db *sql.DB) *ContentIDs {
	return &ContentIDs{db: db}
}

func (s *ContentIDs) Candidates(ctx context.Context, ns rbs.NamespaceID, contentID rbs.Ref, f func(contentid.Candidate) error) error {
	const q = `SELECT weight, chunks FROM content_ids WHERE namespace = $1 AND content_id = $2 ORDER BY weight`

	return sqlutil.ForQueryRows(ctx, s.db, q, string(ns), contentID[:], func(weight int64, chunks []byte) error {
		if len(chunks)%len(rbs.Zero) != 0 {
			return errors.Errorf("chunk list of %s at weight %d has bad length %d", contentID, weight, len(chunks))
		}
		c := contentid.Candidate{Weight: int(weight)}
		for len(chunks) > 0 {
			c.Chunks = append(c.Chunks, rbs.RefFromBytes(chunks[:len(rbs.Zero)]))
			chunks = chunks[len(rbs.Zero):]
		}
		return f(c)
	})
}

func (s *ContentIDs) Put(ctx context.Context, ns rbs.NamespaceID, contentID rbs.Ref, chunks []rbs.Ref, weight int) error {
	const q = `INSERT INTO content_ids (namespace, content_id, weight, chunks) VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, content_id, weight) DO UPDATE SET chunks = excluded.chunks`

	buf := make([]byte, 0, len(chunks)*len(rbs.Zero))
	for _, chunk := range chunks {
		chunk := chunk
		buf = append(buf, chunk[:]...)
	}
	_, err := s.db.ExecContext(ctx, q, string(ns), contentID[:], int64(weight), buf)
	return rbs.Transient(errors.Wrapf(err, "storing candidate for %s", contentID))
}
