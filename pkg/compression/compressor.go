// Package compression wraps output streams in a compressing writer.
//
// The algorithm is usually chosen from the output file name:
//
//	algo := compression.FromPath("orders.jsonl.zst") // compression.Zstd
//	w, err := compression.NewWriter(file, algo, compression.Default)
//	...
//	err = w.Flush() // every byte written so far is now decodable
//	err = w.Close() // also closes file
//
// Speed (fastest to slowest): LZ4 > Snappy/S2 > Zstd > Gzip.
// Compression ratio (best to worst): Zstd > Gzip > Snappy/S2 > LZ4.
package compression

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm names a compression format.
type Algorithm string

const (
	// None writes through unchanged
	None   Algorithm = "none"
	Gzip   Algorithm = "gzip"
	Snappy Algorithm = "snappy"
	LZ4    Algorithm = "lz4"
	Zstd   Algorithm = "zstd"
	// S2 is the Snappy-compatible extension from klauspost/compress
	S2 Algorithm = "s2"
)

var extensions = map[string]Algorithm{
	".gz":     Gzip,
	".gzip":   Gzip,
	".snappy": Snappy,
	".sz":     Snappy,
	".lz4":    LZ4,
	".zst":    Zstd,
	".zstd":   Zstd,
	".s2":     S2,
}

// Level trades speed for ratio.
type Level int

const (
	Fastest Level = 1
	Default Level = 5
	Better  Level = 7
	Best    Level = 9
)

// ParseAlgorithm accepts an algorithm name; the empty string means None.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return None, nil
	case None, Gzip, Snappy, LZ4, Zstd, S2:
		return a, nil
	default:
		return "", fmt.Errorf("unsupported compression algorithm: %s", s)
	}
}

// FromPath picks the algorithm matching the file extension, or None.
func FromPath(path string) Algorithm {
	if a, ok := extensions[strings.ToLower(filepath.Ext(path))]; ok {
		return a
	}
	return None
}

// Writer is a compressing io.WriteCloser. Close finishes the stream and then
// closes the destination when it is an io.Closer.
type Writer interface {
	io.WriteCloser
	// Flush emits a complete block for everything written so far.
	Flush() error
	// Sync commits the destination to stable storage when it is a file.
	// Call Flush first.
	Sync() error
}

type encoder interface {
	io.WriteCloser
	Flush() error
}

type writer struct {
	encoder
	dst io.Writer
}

func (w *writer) Close() error {
	err := w.encoder.Close()
	if c, ok := w.dst.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// passthrough implements None.
func (w *writer) Sync() error {
	if s, ok := w.dst.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

type passthrough struct{ io.Writer }

func (passthrough) Close() error { return nil }

func (p passthrough) Flush() error {
	if f, ok := p.Writer.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// NewWriter compresses everything written to the result into dst.
func NewWriter(dst io.Writer, algo Algorithm, level Level) (Writer, error) {
	var enc encoder
	switch algo {
	case None, "":
		enc = passthrough{dst}
	case Gzip:
		gz, err := gzip.NewWriterLevel(dst, mapGzipLevel(level))
		if err != nil {
			return nil, err
		}
		enc = gz
	case Snappy:
		enc = snappy.NewBufferedWriter(dst)
	case S2:
		enc = s2.NewWriter(dst)
	case LZ4:
		lw := lz4.NewWriter(dst)
		if err := lw.Apply(lz4.CompressionLevelOption(mapLZ4Level(level))); err != nil {
			return nil, err
		}
		enc = lw
	case Zstd:
		zw, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(mapZstdLevel(level)))
		if err != nil {
			return nil, err
		}
		enc = zw
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algo)
	}
	return &writer{encoder: enc, dst: dst}, nil
}

// NewReader decompresses src.
func NewReader(src io.Reader, algo Algorithm) (io.ReadCloser, error) {
	switch algo {
	case None, "":
		return io.NopCloser(src), nil
	case Gzip:
		gz, err := gzip.NewReader(src)
		if err != nil {
			return nil, err
		}
		return gz, nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(src)), nil
	case S2:
		return io.NopCloser(s2.NewReader(src)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(src)), nil
	case Zstd:
		dec, err := zstd.NewReader(src)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algo)
	}
}

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}
