// Package snapshot builds, stores, and reads snapshots of a namespace's live object set.
//
// A snapshot records the objects present in the reference store
// together with the replication-log cursor as of which it is valid.
// A replica whose cursor has fallen off the log loads the latest snapshot
// and resumes incremental reads from the snapshot's cursor.
//
// Snapshots are serialized in protobuf wire format
// and compressed with zstd.
package snapshot

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/replication"
)

// Version is the current snapshot format version.
const Version = 1

// Snapshot is the live object set of a namespace as of a log cursor.
type Snapshot struct {
	Version     int
	Namespace   rbs.NamespaceID
	LastBucket  string
	LastEvent   uuid.UUID
	CreatedAt   time.Time
	LiveObjects []LiveObject
}

// Cursor returns the log cursor from which to resume after loading s.
func (s *Snapshot) Cursor() replication.Cursor {
	return replication.Cursor{Bucket: s.LastBucket, Event: s.LastEvent}
}

// LiveObject is an object present in the reference store when a snapshot was built.
type LiveObject struct {
	Bucket rbs.BucketID
	Key    rbs.KeyID
	Blob   rbs.Ref
}

// Field numbers.
const (
	fVersion    = 1
	fNamespace  = 2
	fLastBucket = 3
	fLastEvent  = 4
	fCreatedAt  = 5
	fLiveObject = 6

	fObjBucket = 1
	fObjKey    = 2
	fObjBlob   = 3
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	decoder, _ = zstd.NewReader(nil)
)

// Encode serializes s.
func Encode(s *Snapshot) []byte {
	var b []byte

	version := s.Version
	if version == 0 {
		version = Version
	}
	b = protowire.AppendTag(b, fVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(version))

	b = protowire.AppendTag(b, fNamespace, protowire.BytesType)
	b = protowire.AppendString(b, string(s.Namespace))

	if s.LastBucket != "" {
		b = protowire.AppendTag(b, fLastBucket, protowire.BytesType)
		b = protowire.AppendString(b, s.LastBucket)
		b = protowire.AppendTag(b, fLastEvent, protowire.BytesType)
		b = protowire.AppendBytes(b, s.LastEvent[:])
	}

	b = protowire.AppendTag(b, fCreatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.CreatedAt.UnixNano()))

	for _, obj := range s.LiveObjects {
		obj := obj
		var m []byte
		m = protowire.AppendTag(m, fObjBucket, protowire.BytesType)
		m = protowire.AppendString(m, string(obj.Bucket))
		m = protowire.AppendTag(m, fObjKey, protowire.BytesType)
		m = protowire.AppendString(m, string(obj.Key))
		m = protowire.AppendTag(m, fObjBlob, protowire.BytesType)
		m = protowire.AppendBytes(m, obj.Blob[:])

		b = protowire.AppendTag(b, fLiveObject, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}

	return encoder.EncodeAll(b, make([]byte, 0, len(b)/2))
}

// Decode parses a serialized snapshot.
// Unknown fields are skipped,
// so snapshots written by newer versions of the format are readable.
func Decode(data []byte) (*Snapshot, error) {
	b, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Wrap(err, "decompressing snapshot")
	}

	s := new(Snapshot)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "parsing snapshot field tag")
		}
		b = b[n:]

		switch {
		case num == fVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "parsing version")
			}
			s.Version = int(v)
			b = b[n:]

		case num == fNamespace && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "parsing namespace")
			}
			s.Namespace = rbs.NamespaceID(v)
			b = b[n:]

		case num == fLastBucket && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "parsing last bucket")
			}
			s.LastBucket = v
			b = b[n:]

		case num == fLastEvent && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "parsing last event")
			}
			id, err := uuid.FromBytes(v)
			if err != nil {
				return nil, errors.Wrap(err, "parsing last event")
			}
			s.LastEvent = id
			b = b[n:]

		case num == fCreatedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "parsing creation time")
			}
			s.CreatedAt = time.Unix(0, int64(v)).UTC()
			b = b[n:]

		case num == fLiveObject && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "parsing live object")
			}
			obj, err := decodeLiveObject(v)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing live object %d", len(s.LiveObjects))
			}
			s.LiveObjects = append(s.LiveObjects, obj)
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.Wrapf(protowire.ParseError(n), "skipping field %d", num)
			}
			b = b[n:]
		}
	}

	// Newer versions only add fields, which are skipped above.
	if s.Version < 1 {
		return nil, errors.Wrapf(rbs.ErrBadRequest, "unsupported snapshot version %d", s.Version)
	}
	return s, nil
}

func decodeLiveObject(b []byte) (LiveObject, error) {
	var obj LiveObject
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return obj, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fObjBucket && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return obj, protowire.ParseError(n)
			}
			obj.Bucket = rbs.BucketID(v)
			b = b[n:]

		case num == fObjKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return obj, protowire.ParseError(n)
			}
			obj.Key = rbs.KeyID(v)
			b = b[n:]

		case num == fObjBlob && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return obj, protowire.ParseError(n)
			}
			obj.Blob = rbs.RefFromBytes(v)
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return obj, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return obj, nil
}

// Load reads and decodes the snapshot stored in ns under ref.
func Load(ctx context.Context, g rbs.Getter, ns rbs.NamespaceID, ref rbs.Ref) (*Snapshot, error) {
	data, err := g.GetObject(ctx, ns, ref)
	if err != nil {
		return nil, errors.Wrapf(err, "getting snapshot %s", ref)
	}
	s, err := Decode(data)
	return s, errors.Wrapf(err, "decoding snapshot %s", ref)
}
