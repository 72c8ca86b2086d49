package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/store/mem"
	"github.com/bobg/rbs/testutil"
)

func TestStore(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := context.Background()
	testutil.Blobs(ctx, t, New(mem.NewBlobs(), logger))

	out := buf.String()
	for _, want := range []string{"msg=PutObject", "msg=GetObject", "msg=Exists", "namespace=ns1", "added=true"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output lacks %q", want)
		}
	}
}

func TestLogsErrors(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := slog.New(slog.NewTextHandler(buf, nil))

	s := New(mem.NewBlobs(), logger)
	_, err := s.GetObject(context.Background(), "ns", rbs.Ref{1})
	if err == nil {
		t.Fatal("got no error")
	}
	if !strings.Contains(buf.String(), "level=ERROR") {
		t.Errorf("got log output %q, want an error entry", buf.String())
	}
}
