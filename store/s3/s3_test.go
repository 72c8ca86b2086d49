package s3

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/testutil"
)

func TestBlobObjName(t *testing.T) {
	ref := rbs.RefOf([]byte("hello"))
	if got, want := blobObjName("ns", ref), "ns/b:"+ref.String(); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

const (
	endpointVar  = "RBS_S3_TESTING_ENDPOINT"
	accessKeyVar = "RBS_S3_TESTING_ACCESS_KEY"
	secretKeyVar = "RBS_S3_TESTING_SECRET_KEY"
)

func TestStore(t *testing.T) {
	endpoint := os.Getenv(endpointVar)
	if endpoint == "" {
		t.Skipf("to run TestStore, set %s to the host:port of an S3-compatible service (and %s and %s to its credentials)", endpointVar, accessKeyVar, secretKeyVar)
	}

	client, err := Open(endpoint, os.Getenv(accessKeyVar), os.Getenv(secretKeyVar), false)
	if err != nil {
		t.Fatal(err)
	}

	var r [16]byte
	if _, err = rand.Read(r[:]); err != nil {
		t.Fatal(err)
	}
	bucket := "rbs-" + hex.EncodeToString(r[:])

	ctx := context.Background()
	if err = client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		t.Fatal(err)
	}

	s := New(client, bucket)
	testutil.Blobs(ctx, t, s)
	testutil.AllRefs(ctx, t, s)
}
