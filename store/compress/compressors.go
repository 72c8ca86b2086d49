package compress

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

const (
	tagRaw byte = iota
	tagZstd
	tagFlate
	tagS2
)

var byTag = map[byte]Compressor{
	tagZstd:  zstdDecoderOnly{},
	tagFlate: Flate{},
	tagS2:    S2{},
}

// Zstd compresses with Zstandard.
type Zstd struct {
	enc *zstd.Encoder
}

// NewZstd produces a Zstd compressor.
// Level is one of the zstd.EncoderLevel values; zero means the default.
func NewZstd(level int) (*Zstd, error) {
	var opts []zstd.EOption
	if level != 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
	}
	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating zstd encoder")
	}
	return &Zstd{enc: enc}, nil
}

func (*Zstd) Tag() byte { return tagZstd }

func (z *Zstd) Compress(inp []byte) ([]byte, error) {
	return z.enc.EncodeAll(inp, nil), nil
}

func (*Zstd) Uncompress(inp []byte) ([]byte, error) {
	return zstdDecoderOnly{}.Uncompress(inp)
}

var zstdDecoder, _ = zstd.NewReader(nil)

type zstdDecoderOnly struct{}

func (zstdDecoderOnly) Tag() byte { return tagZstd }

func (zstdDecoderOnly) Compress([]byte) ([]byte, error) {
	return nil, errors.New("zstd decoder cannot compress")
}

func (zstdDecoderOnly) Uncompress(inp []byte) ([]byte, error) {
	return zstdDecoder.DecodeAll(inp, nil)
}

// Flate compresses with DEFLATE.
type Flate struct {
	Level int
}

func (Flate) Tag() byte { return tagFlate }

func (f Flate) Compress(inp []byte) ([]byte, error) {
	level := f.Level
	if level == 0 || level < flate.HuffmanOnly || level > flate.BestCompression {
		level = flate.DefaultCompression
	}
	buf := new(bytes.Buffer)
	w, err := flate.NewWriter(buf, level)
	if err != nil {
		return nil, err
	}
	if _, err = w.Write(inp); err != nil {
		return nil, err
	}
	err = w.Close()
	return buf.Bytes(), err
}

func (Flate) Uncompress(inp []byte) ([]byte, error) {
	rr := flate.NewReader(bytes.NewReader(inp))
	defer rr.Close()
	return io.ReadAll(rr)
}

// S2 compresses with S2, a faster extension of Snappy.
type S2 struct{}

func (S2) Tag() byte { return tagS2 }

func (S2) Compress(inp []byte) ([]byte, error) {
	return s2.Encode(nil, inp), nil
}

func (S2) Uncompress(inp []byte) ([]byte, error) {
	return s2.Decode(nil, inp)
}
