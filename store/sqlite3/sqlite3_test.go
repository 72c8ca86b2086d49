package sqlite3

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/bobg/rbs/replication"
	"github.com/bobg/rbs/store/sqldb"
	"github.com/bobg/rbs/testutil"
)

func TestBlobs(t *testing.T) {
	ctx := context.Background()
	testutil.Blobs(ctx, t, sqldb.NewBlobs(testDB(ctx, t)))
	testutil.BlobsQuick(ctx, t, sqldb.NewBlobs(testDB(ctx, t)))
	testutil.AllRefs(ctx, t, sqldb.NewBlobs(testDB(ctx, t)))
}

func TestRefs(t *testing.T) {
	ctx := context.Background()
	testutil.Refs(ctx, t, sqldb.NewRefs(testDB(ctx, t)))
}

func TestLog(t *testing.T) {
	ctx := context.Background()
	testutil.Log(ctx, t, func(t *testing.T) replication.Log {
		return sqldb.NewLog(testDB(ctx, t), 0)
	})
}

func TestContentIDs(t *testing.T) {
	ctx := context.Background()
	db := testDB(ctx, t)
	testutil.ContentIDs(ctx, t, sqldb.NewContentIDs(db), sqldb.NewBlobs(db))
}

func testDB(ctx context.Context, t *testing.T) *sql.DB {
	t.Helper()

	conn := filepath.Join(t.TempDir(), "rbs.db") + "?_busy_timeout=5000"
	db, err := Open(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
