package rbs

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestRefHex(t *testing.T) {
	ref := RefOf([]byte("hello"))
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if ref.String() != want {
		t.Fatalf("got %s, want %s", ref, want)
	}

	got, err := RefFromHex(want)
	if err != nil {
		t.Fatal(err)
	}
	if got != ref {
		t.Errorf("round trip got %s", got)
	}

	text, err := ref.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	var r2 Ref
	if err := r2.UnmarshalText(text); err != nil {
		t.Fatal(err)
	}
	if r2 != ref {
		t.Errorf("text round trip got %s", r2)
	}

	for _, bad := range []string{"", "abc", want[:62], strings.Repeat("zz", 32)} {
		if _, err := RefFromHex(bad); !errors.Is(err, ErrBadRequest) {
			t.Errorf("RefFromHex(%q): got %v, want ErrBadRequest", bad, err)
		}
	}
}

func TestRefOrder(t *testing.T) {
	var a, b Ref
	b[31] = 1
	if !a.Less(b) || b.Less(a) || a.Less(a) {
		t.Error("Less is wrong")
	}
	if !a.IsZero() || b.IsZero() {
		t.Error("IsZero is wrong")
	}
}

func TestTransient(t *testing.T) {
	if Transient(nil) != nil {
		t.Error("Transient(nil) is not nil")
	}

	base := errors.New("connection reset")
	err := errors.Wrap(Transient(base), "fetching")
	if !IsTransient(err) {
		t.Error("wrapped transient error not recognized")
	}
	if !errors.Is(err, base) {
		t.Error("transient error does not unwrap to its cause")
	}
	if IsTransient(base) {
		t.Error("plain error reported as transient")
	}
	if IsTransient(ErrNotFound) {
		t.Error("ErrNotFound reported as transient")
	}
	if !IsTransient(errors.Wrap(context.DeadlineExceeded, "waiting")) {
		t.Error("deadline not reported as transient")
	}
}
