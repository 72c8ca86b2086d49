package rbs

import (
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
)

type (
	// NamespaceID names an isolated partition of the store.
	NamespaceID string

	// BucketID groups keys within a namespace.
	BucketID string

	// KeyID names an object within a bucket.
	KeyID string
)

const (
	maxNameLen = 64
	maxKeyLen  = 255
)

// NewNamespaceID validates s and returns it as a NamespaceID.
// Namespaces are 1-64 characters drawn from letters, digits, '.', '_' and '-'.
func NewNamespaceID(s string) (NamespaceID, error) {
	if err := checkName(s); err != nil {
		return "", errors.Wrap(err, "namespace")
	}
	return NamespaceID(s), nil
}

// NewBucketID validates s and returns it as a BucketID.
// Buckets follow the same rules as namespaces.
func NewBucketID(s string) (BucketID, error) {
	if err := checkName(s); err != nil {
		return "", errors.Wrap(err, "bucket")
	}
	return BucketID(s), nil
}

// NewKeyID validates s and returns it as a KeyID.
// Keys are 1-255 bytes of valid UTF-8 without control characters.
func NewKeyID(s string) (KeyID, error) {
	if len(s) == 0 || len(s) > maxKeyLen {
		return "", errors.Wrapf(ErrBadRequest, "key length %d out of range", len(s))
	}
	if !utf8.ValidString(s) {
		return "", errors.Wrapf(ErrBadRequest, "key %q is not valid UTF-8", s)
	}
	for _, c := range s {
		if unicode.IsControl(c) {
			return "", errors.Wrapf(ErrBadRequest, "key %q contains a control character", s)
		}
	}
	return KeyID(s), nil
}

func checkName(s string) error {
	if len(s) == 0 || len(s) > maxNameLen {
		return errors.Wrapf(ErrBadRequest, "name length %d out of range", len(s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return errors.Wrapf(ErrBadRequest, "invalid character %q in %q", c, s)
		}
	}
	return nil
}
