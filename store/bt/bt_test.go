package bt

import (
	"context"
	"testing"

	"cloud.google.com/go/bigtable"
	"cloud.google.com/go/bigtable/bttest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/testutil"
)

func TestBlobs(t *testing.T) {
	ctx := context.Background()
	testutil.Blobs(ctx, t, testStore(ctx, t))
	testutil.BlobsQuick(ctx, t, testStore(ctx, t))
	testutil.AllRefs(ctx, t, testStore(ctx, t))
}

func TestKeys(t *testing.T) {
	ref := rbs.RefOf([]byte("hello"))
	if got, want := blobKey("ns", ref), "ns/b:"+ref.String(); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	if got := prefixEnd(blobKeyPrefix("ns")); got != "ns/b;" {
		t.Errorf("got prefix end %s, want ns/b;", got)
	}
}

// testStore produces a Store on a fresh in-memory Bigtable server.
func testStore(ctx context.Context, t *testing.T) *Store {
	t.Helper()

	const (
		project  = "proj"
		instance = "inst"
		table    = "blobs"
	)

	srv, err := bttest.NewServer("localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Close)

	conn, err := grpc.Dial(srv.Addr, grpc.WithInsecure())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	adm, err := bigtable.NewAdminClient(ctx, project, instance, option.WithGRPCConn(conn))
	if err != nil {
		t.Fatal(err)
	}
	if err = adm.CreateTable(ctx, table); err != nil {
		t.Fatal(err)
	}
	if err = adm.CreateColumnFamily(ctx, table, Family); err != nil {
		t.Fatal(err)
	}

	client, err := bigtable.NewClient(ctx, project, instance, option.WithGRPCConn(conn))
	if err != nil {
		t.Fatal(err)
	}
	return New(client.Open(table))
}
