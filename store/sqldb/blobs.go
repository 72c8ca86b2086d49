package sqldb

import (
	"context"
	"database/sql"
	stderrs "errors"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"

	"github.com/bobg/rbs"
)

var (
	_ rbs.BlobStore = &Blobs{}
	_ rbs.Lister    = &Blobs{}
)

// Blobs is a SQL-based blob store.
type Blobs struct {
	db *sql.DB
}

// NewBlobs produces a new Blobs using db, whose schema must already exist.
func NewBlobs(db *sql.DB) *Blobs {
	return &Blobs{db: db}
}

// Exists tells whether the blob with hash ref is in ns.
func (s *Blobs) Exists(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref) (bool, error) {
	const q = `SELECT 1 FROM blobs WHERE namespace = $1 AND ref = $2`

	var one int
	err := s.db.QueryRowContext(ctx, q, string(ns), ref[:]).Scan(&one)
	if stderrs.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, rbs.Transient(errors.Wrapf(err, "checking blob %s", ref))
	}
	return true, nil
}

// GetObject gets the blob with hash ref from ns.
func (s *Blobs) GetObject(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref) ([]byte, error) {
	const q = `SELECT data FROM blobs WHERE namespace = $1 AND ref = $2`

	var b []byte
	err := s.db.QueryRowContext(ctx, q, string(ns), ref[:]).Scan(&b)
	if stderrs.Is(err, sql.ErrNoRows) {
		return nil, rbs.ErrNotFound
	}
	return b, rbs.Transient(errors.Wrapf(err, "getting blob %s", ref))
}

// PutObject adds a blob to ns if it wasn't already present.
func (s *Blobs) PutObject(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref, data []byte) (bool, error) {
	const q = `INSERT INTO blobs (namespace, ref, data) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`

	if data == nil {
		data = []byte{}
	}
	res, err := s.db.ExecContext(ctx, q, string(ns), ref[:], data)
	if err != nil {
		return false, rbs.Transient(errors.Wrap(err, "inserting blob"))
	}

	aff, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "counting affected rows")
	}
	return aff > 0, nil
}

// ListRefs produces all blob refs in ns, in lexicographic order.
func (s *Blobs) ListRefs(ctx context.Context, ns rbs.NamespaceID, start rbs.Ref, f func(rbs.Ref) error) error {
	const q = `SELECT ref FROM blobs WHERE namespace = $1 AND ref > $2 ORDER BY ref`

	var refs []rbs.Ref
	err := sqlutil.ForQueryRows(ctx, s.db, q, string(ns), start[:], func(b []byte) error {
		refs = append(refs, rbs.RefFromBytes(b))
		return nil
	})
	if err != nil {
		return rbs.Transient(errors.Wrap(err, "listing blobs"))
	}
	for _, ref := range refs {
		if err := f(ref); err != nil {
			return err
		}
	}
	return nil
}
