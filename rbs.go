package rbs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
)

// Ref is the ref of a blob: its sha256 hash.
type Ref [sha256.Size]byte

// Zero is the zero value of a Ref.
var Zero Ref

// RefOf computes the Ref of a blob.
func RefOf(b []byte) Ref {
	return sha256.Sum256(b)
}

func (r Ref) String() string {
	return hex.EncodeToString(r[:])
}

// IsZero tells whether r is the zero Ref.
func (r Ref) IsZero() bool {
	return r == Zero
}

func (r Ref) Less(other Ref) bool {
	return bytes.Compare(r[:], other[:]) < 0
}

// FromHex parses the hex string s into r.
func (r *Ref) FromHex(s string) error {
	if len(s) != 2*sha256.Size {
		return errors.Wrapf(ErrBadRequest, "ref %q has wrong length", s)
	}
	_, err := hex.Decode(r[:], []byte(s))
	if err != nil {
		return errors.Wrapf(ErrBadRequest, "decoding ref %q: %s", s, err)
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (r Ref) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Ref) UnmarshalText(text []byte) error {
	return r.FromHex(string(text))
}

func RefFromBytes(b []byte) Ref {
	var out Ref
	copy(out[:], b)
	return out
}

func RefFromHex(s string) (Ref, error) {
	var out Ref
	err := out.FromHex(s)
	return out, err
}
