package pg

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/bobg/rbs/replication"
	"github.com/bobg/rbs/store/sqldb"
	"github.com/bobg/rbs/testutil"
)

func TestBlobs(t *testing.T) {
	withDB(t, func(ctx context.Context, db *sql.DB) {
		testutil.Blobs(ctx, t, sqldb.NewBlobs(db))
		testutil.AllRefs(ctx, t, sqldb.NewBlobs(db))
	})
}

func TestRefs(t *testing.T) {
	withDB(t, func(ctx context.Context, db *sql.DB) {
		testutil.Refs(ctx, t, sqldb.NewRefs(db))
	})
}

func TestLog(t *testing.T) {
	withDB(t, func(ctx context.Context, db *sql.DB) {
		testutil.Log(ctx, t, func(t *testing.T) replication.Log {
			truncate(ctx, t, db)
			return sqldb.NewLog(db, 0)
		})
	})
}

func TestContentIDs(t *testing.T) {
	withDB(t, func(ctx context.Context, db *sql.DB) {
		testutil.ContentIDs(ctx, t, sqldb.NewContentIDs(db), sqldb.NewBlobs(db))
	})
}

const connVar = "RBS_PG_TESTING_CONN"

func withDB(t *testing.T, f func(context.Context, *sql.DB)) {
	connstr := os.Getenv(connVar)
	if connstr == "" {
		t.Skipf("to run %s, set %s to a valid Postgresql connection string", t.Name(), connVar)
	}

	ctx := context.Background()
	db, err := Open(ctx, connstr)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	truncate(ctx, t, db)
	f(ctx, db)
}

func truncate(ctx context.Context, t *testing.T, db *sql.DB) {
	t.Helper()
	const q = `TRUNCATE blobs, namespaces, objects, log_namespaces, events, snapshots, content_ids`
	if _, err := db.ExecContext(ctx, q); err != nil {
		t.Fatal(err)
	}
}
