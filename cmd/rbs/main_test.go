package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/bobg/rbs"
)

func TestObjectArgs(t *testing.T) {
	ns, bucket, key, err := objectArgs([]string{"ns", "bucket", "some key"})
	if err != nil {
		t.Fatal(err)
	}
	if ns != "ns" || bucket != "bucket" || key != "some key" {
		t.Errorf("got %q %q %q", ns, bucket, key)
	}

	if _, _, _, err = objectArgs([]string{"bad namespace!", "bucket", "key"}); err == nil {
		t.Error("got no error for an invalid namespace")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	// No file in the search path.
	v := viper.New()
	if err := loadConfig(v, "", dir); err != nil {
		t.Fatalf("missing config: %s", err)
	}
	if got := v.GetInt("inline_max"); got != 1024 {
		t.Errorf("got default inline_max %d, want 1024", got)
	}

	bad := filepath.Join(dir, "rbs.yaml")
	if err := os.WriteFile(bad, []byte("blobs: [unclosed\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := loadConfig(viper.New(), "", dir); err == nil {
		t.Error("got no error for a malformed config found by search")
	}
	if err := loadConfig(viper.New(), bad); err == nil {
		t.Error("got no error for a malformed config named explicitly")
	}

	good := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(good, []byte("inline_max: 10\n"), 0644); err != nil {
		t.Fatal(err)
	}
	v = viper.New()
	if err := loadConfig(v, good); err != nil {
		t.Fatal(err)
	}
	if got := v.GetInt("inline_max"); got != 10 {
		t.Errorf("got inline_max %d, want 10", got)
	}
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	config := filepath.Join(dir, "rbs.yaml")
	conf := fmt.Sprintf("blobs:\n  type: file\n  root: %s\nmeta:\n  type: sqlite3\n  conn: %s\n",
		filepath.Join(dir, "blobs"), filepath.Join(dir, "meta.db"))
	if err := os.WriteFile(config, []byte(conf), 0644); err != nil {
		t.Fatal(err)
	}

	run := func(stdin string, args ...string) string {
		t.Helper()

		out := new(bytes.Buffer)
		rootCmd.SetIn(strings.NewReader(stdin))
		rootCmd.SetOut(out)
		rootCmd.SetArgs(append([]string{"--config", config}, args...))
		if err := rootCmd.ExecuteContext(context.Background()); err != nil {
			t.Fatalf("running %v: %s", args, err)
		}
		return out.String()
	}

	out := run("hello, world", "put", "ns", "bucket", "greeting")
	fields := strings.Fields(out)
	if len(fields) != 3 {
		t.Fatalf("got put output %q, want ref, bucket, and event", out)
	}
	if want := rbs.RefOf([]byte("hello, world")).String(); fields[0] != want {
		t.Errorf("got ref %s, want %s", fields[0], want)
	}

	if got := run("", "get", "ns", "bucket", "greeting"); got != "hello, world" {
		t.Errorf("got content %q, want %q", got, "hello, world")
	}

	lines := strings.Split(strings.TrimSpace(run("", "log", "ns")), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines of log output, want 2", len(lines))
	}
	var ev jsonEvent
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Op != "add" || ev.Key != "greeting" || ev.TimeBucket != fields[1] || ev.EventID != fields[2] {
		t.Errorf("unexpected event %+v", ev)
	}

	// Resuming from the event's own cursor yields nothing more.
	lines = strings.Split(strings.TrimSpace(run("", "log", "ns", "--bucket", fields[1], "--event", fields[2])), "\n")
	if len(lines) != 1 {
		t.Errorf("got %d lines of log output after the last event, want 1", len(lines))
	}
}
