package rbs

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestIDs(t *testing.T) {
	cases := []struct {
		s    string
		name bool
		key  bool
	}{
		{s: "", name: false, key: false},
		{s: "photos", name: true, key: true},
		{s: "a.b_c-D9", name: true, key: true},
		{s: "with space", name: false, key: true},
		{s: "dir/file.txt", name: false, key: true},
		{s: "tab\there", name: false, key: false},
		{s: "\xff", name: false, key: false},
		{s: "héllo", name: false, key: true},
		{s: strings.Repeat("x", 64), name: true, key: true},
		{s: strings.Repeat("x", 65), name: false, key: true},
		{s: strings.Repeat("x", 255), name: false, key: true},
		{s: strings.Repeat("x", 256), name: false, key: false},
	}

	for i, c := range cases {
		_, err := NewNamespaceID(c.s)
		checkID(t, i, "namespace", c.name, err)

		_, err = NewBucketID(c.s)
		checkID(t, i, "bucket", c.name, err)

		_, err = NewKeyID(c.s)
		checkID(t, i, "key", c.key, err)
	}
}

func checkID(t *testing.T, i int, kind string, wantOK bool, err error) {
	t.Helper()
	if wantOK {
		if err != nil {
			t.Errorf("case %d %s: %s", i, kind, err)
		}
		return
	}
	if !errors.Is(err, ErrBadRequest) {
		t.Errorf("case %d %s: got error %v, want ErrBadRequest", i, kind, err)
	}
}
