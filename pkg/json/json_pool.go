// Package json provides JSON serialization backed by goccy/go-json with
// pooled buffers, used for checkpoint files and the JSON-lines row sink.
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetBuffer gets a pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1024*1024 { // Don't pool very large buffers
		return
	}
	bufferPool.Put(buf)
}

// Marshal is a drop-in replacement for json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is a drop-in replacement for json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalIndent is a drop-in replacement for json.MarshalIndent
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// StreamingEncoder writes one JSON document per line. Each value is encoded
// into a pooled buffer first so a failed encode never leaves a partial line.
type StreamingEncoder struct {
	writer io.Writer
	mu     sync.Mutex
	count  int64
}

// NewStreamingEncoder creates a new line-delimited encoder on w.
func NewStreamingEncoder(w io.Writer) *StreamingEncoder {
	return &StreamingEncoder{writer: w}
}

// Encode writes v followed by a newline. Safe for concurrent use.
func (se *StreamingEncoder) Encode(v interface{}) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}

	se.mu.Lock()
	defer se.mu.Unlock()
	if _, err := se.writer.Write(buf.Bytes()); err != nil {
		return err
	}
	se.count++
	return nil
}

// Count returns the number of documents written.
func (se *StreamingEncoder) Count() int64 {
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.count
}
