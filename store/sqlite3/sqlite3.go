// Package sqlite3 registers Sqlite-based blob and metadata stores.
package sqlite3

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/replication"
	"github.com/bobg/rbs/store"
	"github.com/bobg/rbs/store/sqldb"
)

// Schema is the SQL that Open executes.
// It creates the tables if they do not exist.
// (If they do exist, they must have the columns, constraints, and indexing described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS blobs (
  namespace TEXT NOT NULL,
  ref BLOB NOT NULL,
  data BLOB NOT NULL,
  PRIMARY KEY (namespace, ref)
);

CREATE TABLE IF NOT EXISTS namespaces (
  name TEXT PRIMARY KEY NOT NULL
);

CREATE TABLE IF NOT EXISTS objects (
  namespace TEXT NOT NULL,
  bucket TEXT NOT NULL,
  object_key TEXT NOT NULL,
  last_access INTEGER NOT NULL,
  blob BLOB NOT NULL,
  inline BLOB,
  finalized BOOLEAN NOT NULL,
  PRIMARY KEY (namespace, bucket, object_key)
);

CREATE INDEX IF NOT EXISTS objects_access_idx ON objects (namespace, last_access);

CREATE TABLE IF NOT EXISTS log_namespaces (
  name TEXT PRIMARY KEY NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
  namespace TEXT NOT NULL,
  bucket TEXT NOT NULL,
  event_id TEXT NOT NULL,
  obj_bucket TEXT NOT NULL,
  obj_key TEXT NOT NULL,
  blob BLOB NOT NULL,
  op INTEGER NOT NULL,
  ts INTEGER NOT NULL,
  PRIMARY KEY (namespace, bucket, event_id)
);

CREATE TABLE IF NOT EXISTS snapshots (
  namespace TEXT NOT NULL,
  blob BLOB NOT NULL,
  created_at INTEGER NOT NULL,
  seq INTEGER NOT NULL,
  PRIMARY KEY (namespace, blob)
);

CREATE TABLE IF NOT EXISTS content_ids (
  namespace TEXT NOT NULL,
  content_id BLOB NOT NULL,
  weight INTEGER NOT NULL,
  chunks BLOB NOT NULL,
  PRIMARY KEY (namespace, content_id, weight)
);
`

// Open opens the Sqlite database at conn and ensures its schema exists.
func Open(ctx context.Context, conn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return nil, errors.Wrap(err, "opening db")
	}
	if err = sqldb.Init(ctx, db, Schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func init() {
	store.Register("sqlite3", func(ctx context.Context, conf map[string]interface{}) (rbs.BlobStore, error) {
		conn, err := store.String(conf, "conn")
		if err != nil {
			return nil, err
		}
		db, err := Open(ctx, conn)
		if err != nil {
			return nil, err
		}
		return sqldb.NewBlobs(db), nil
	})
	store.RegisterMeta("sqlite3", func(ctx context.Context, conf map[string]interface{}) (*store.Meta, error) {
		conn, err := store.String(conf, "conn")
		if err != nil {
			return nil, err
		}
		period, err := store.Duration(conf, "bucket_period", replication.DefaultBucketPeriod)
		if err != nil {
			return nil, err
		}
		db, err := Open(ctx, conn)
		if err != nil {
			return nil, err
		}
		return sqldb.NewMeta(db, period), nil
	})
}
