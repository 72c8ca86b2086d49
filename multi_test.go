package rbs_test

import (
	"context"
	"fmt"
	"testing"
	"testing/quick"

	"github.com/pkg/errors"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/store/mem"
)

// existsOnly hides the KnownBlobFilterer implementation of the wrapped store.
type existsOnly struct {
	rbs.Getter
}

func TestMulti(t *testing.T) {
	ctx := context.Background()

	var iter int
	f := func(yesBlobs, noBlobs map[string]bool) bool {
		iter++
		ns := rbs.NamespaceID(fmt.Sprintf("multi-%d", iter))

		s := mem.NewBlobs()

		var (
			yesRefs, noRefs []rbs.Ref
			yesSet          = make(map[rbs.Ref]bool)
		)
		for k := range yesBlobs {
			ref, _, err := rbs.Put(ctx, s, ns, []byte(k))
			if err != nil {
				t.Fatal(err)
			}
			yesRefs = append(yesRefs, ref)
			yesSet[ref] = true
		}
		for k := range noBlobs {
			ref := rbs.RefOf([]byte(k))
			if yesSet[ref] {
				continue
			}
			noRefs = append(noRefs, ref)
		}

		got, err := rbs.GetMulti(ctx, s, ns, yesRefs)
		if err != nil {
			t.Logf("GetMulti(yes): %s", err)
			return false
		}
		if len(got) != len(yesRefs) {
			t.Logf("got %d blobs, want %d", len(got), len(yesRefs))
			return false
		}
		for ref, blob := range got {
			if rbs.RefOf(blob) != ref {
				t.Logf("blob for %s has the wrong hash", ref)
				return false
			}
		}

		all := append(append([]rbs.Ref(nil), yesRefs...), noRefs...)
		got, err = rbs.GetMulti(ctx, s, ns, all)
		if len(noRefs) == 0 {
			if err != nil {
				t.Logf("GetMulti(all): %s", err)
				return false
			}
		} else {
			var merr rbs.MultiErr
			if !errors.As(err, &merr) {
				t.Logf("got error %v, want MultiErr", err)
				return false
			}
			if len(merr) != len(noRefs) {
				t.Logf("got %d errors, want %d", len(merr), len(noRefs))
				return false
			}
			for _, ref := range noRefs {
				if !errors.Is(merr[ref], rbs.ErrNotFound) {
					t.Logf("error for %s is %v, want ErrNotFound", ref, merr[ref])
					return false
				}
			}
		}
		if len(got) != len(yesRefs) {
			t.Logf("partial result has %d blobs, want %d", len(got), len(yesRefs))
			return false
		}

		for _, g := range []rbs.Getter{s, existsOnly{s}} {
			missing, err := rbs.FilterOutKnownBlobs(ctx, g, ns, all)
			if err != nil {
				t.Logf("FilterOutKnownBlobs: %s", err)
				return false
			}
			if len(missing) != len(noRefs) {
				t.Logf("%d missing refs, want %d", len(missing), len(noRefs))
				return false
			}
			for i, ref := range missing {
				if ref != noRefs[i] {
					t.Logf("missing ref %d is %s, want %s", i, ref, noRefs[i])
					return false
				}
			}
		}

		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestMultiErrString(t *testing.T) {
	var (
		r1 = rbs.RefOf([]byte("a"))
		r2 = rbs.RefOf([]byte("b"))
	)
	e := rbs.MultiErr{r2: rbs.ErrNotFound, r1: rbs.ErrConflict}
	got := e.Error()

	want1 := fmt.Sprintf("error(s): %s: conflict; %s: not found", r1, r2)
	want2 := fmt.Sprintf("error(s): %s: not found; %s: conflict", r2, r1)
	if got != want1 && got != want2 {
		t.Errorf("got %q", got)
	}
}
