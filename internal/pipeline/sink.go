package pipeline

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-extract/pkg/connector/core"
	"github.com/ajitpratap0/nebula-extract/pkg/json"
	"github.com/ajitpratap0/nebula-extract/pkg/nebulaerrors"
)

// Sink receives the rows of every partition of a job.
type Sink interface {
	core.Emitter
	// Flush writes every accepted row to the output and, when the output is
	// a file, syncs it to stable storage.
	Flush() error
}

// LineRecord is the JSON document written for each row.
type LineRecord struct {
	Partition int                    `json:"partition"`
	Cursor    string                 `json:"cursor,omitempty"`
	Row       map[string]interface{} `json:"row"`
}

type sinkItem struct {
	row core.Row
	ack chan error
}

// JSONLinesSink writes one LineRecord per line. Rows are handed to a single
// writer goroutine through a bounded buffer, so partitions block once the
// writer falls bufferSize rows behind.
type JSONLinesSink struct {
	out     *bufio.Writer
	enc     *json.StreamingEncoder
	closer  io.Closer
	flusher interface{ Flush() error } // w, when it buffers on its own
	syncer  interface{ Sync() error }  // w, when it is backed by a file
	items   chan sinkItem
	done    chan struct{}
	logger  *zap.Logger

	mu  sync.Mutex
	err error
}

// NewJSONLinesSink starts a sink on w. If w is an io.Closer it is closed by
// Close; if it has Flush or Sync methods Flush calls them, in that order.
func NewJSONLinesSink(w io.Writer, bufferSize int, logger *zap.Logger) *JSONLinesSink {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	out := bufio.NewWriter(w)
	s := &JSONLinesSink{
		out:    out,
		enc:    json.NewStreamingEncoder(out),
		items:  make(chan sinkItem, bufferSize),
		done:   make(chan struct{}),
		logger: logger.With(zap.String("component", "jsonl_sink")),
	}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	if f, ok := w.(interface{ Flush() error }); ok {
		s.flusher = f
	}
	if sy, ok := w.(interface{ Sync() error }); ok {
		s.syncer = sy
	}
	go s.loop()
	return s
}

// Emit queues row for writing. It fails once the writer has failed.
func (s *JSONLinesSink) Emit(ctx context.Context, row core.Row) error {
	if err := s.failure(); err != nil {
		return err
	}
	select {
	case s.items <- sinkItem{row: row}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.closedErr()
	}
}

// Flush waits until every row queued before it is written to the underlying
// writer and synced.
func (s *JSONLinesSink) Flush() error {
	ack := make(chan error, 1)
	select {
	case s.items <- sinkItem{ack: ack}:
	case <-s.done:
		return s.closedErr()
	}
	return <-ack
}

// Written returns the number of rows written.
func (s *JSONLinesSink) Written() int64 {
	return s.enc.Count()
}

// Close drains the buffer, flushes and closes the writer. It must not be
// called while partitions may still emit.
func (s *JSONLinesSink) Close() error {
	close(s.items)
	<-s.done

	err := s.failure()
	if s.closer != nil {
		if cerr := s.closer.Close(); cerr != nil && err == nil {
			err = nebulaerrors.Wrap(cerr, nebulaerrors.ErrorTypeFile, "failed to close output")
		}
	}
	s.logger.Info("sink closed", zap.Int64("rows", s.Written()))
	return err
}

func (s *JSONLinesSink) loop() {
	defer close(s.done)

	for it := range s.items {
		if it.ack != nil {
			it.ack <- s.flush()
			continue
		}
		if s.failure() != nil {
			continue
		}
		if err := s.enc.Encode(Record(it.row)); err != nil {
			s.fail(nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeData, "failed to write row").
				WithDetail("partition", it.row.Partition))
		}
	}
	if err := s.flush(); err != nil {
		s.logger.Error("final flush failed", zap.Error(err))
	}
}

func (s *JSONLinesSink) flush() error {
	if err := s.failure(); err != nil {
		return err
	}
	err := s.out.Flush()
	if err == nil && s.flusher != nil {
		err = s.flusher.Flush()
	}
	if err == nil && s.syncer != nil {
		// pipes and terminals reject fsync
		if err = s.syncer.Sync(); errors.Is(err, syscall.EINVAL) {
			err = nil
		}
	}
	if err != nil {
		s.fail(nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeFile, "failed to flush output"))
	}
	return s.failure()
}

func (s *JSONLinesSink) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
		s.logger.Error("sink failed", zap.Error(err))
	}
}

func (s *JSONLinesSink) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *JSONLinesSink) closedErr() error {
	if err := s.failure(); err != nil {
		return err
	}
	return nebulaerrors.New(nebulaerrors.ErrorTypeInternal, "sink is closed")
}

// Record converts a row to its JSON document. Byte slices are written as
// text, since drivers return character columns as []byte.
func Record(row core.Row) LineRecord {
	fields := make(map[string]interface{}, len(row.Columns))
	for i, col := range row.Columns {
		if i >= len(row.Values) {
			break
		}
		v := row.Values[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		fields[col] = v
	}
	return LineRecord{Partition: row.Partition, Cursor: row.Cursor.Raw(), Row: fields}
}
