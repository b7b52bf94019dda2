// Package strings provides pooled string building utilities for nebula-extract.
// Generated SQL, rendered cursors and error messages are assembled through the
// pooled builders here instead of ad-hoc concatenation.
package strings

import (
	"fmt"
	"strconv"
	"sync"
	"unsafe"
)

// BytesToString aliases b as a string. b must not change afterwards.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// Builder is an append-only byte buffer that can be pooled.
type Builder struct {
	buf []byte
}

func NewBuilder(capacity int) *Builder {
	return &Builder{
		buf: make([]byte, 0, capacity),
	}
}

func (b *Builder) WriteString(s string) {
	b.buf = append(b.buf, s...)
}

func (b *Builder) WriteByte(c byte) error {
	b.buf = append(b.buf, c)
	return nil
}

// Write lets fmt.Fprintf target a Builder.
func (b *Builder) Write(p []byte) (n int, err error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// String returns the built string. The result aliases the builder's buffer;
// use Clone before returning the builder to a pool.
func (b *Builder) String() string {
	return BytesToString(b.buf)
}

func (b *Builder) Reset() {
	b.buf = b.buf[:0]
}

// Clone copies s into memory it owns, detaching it from a pooled buffer.
func Clone(s string) string {
	if len(s) == 0 {
		return ""
	}
	b := make([]byte, len(s))
	copy(b, s)
	return BytesToString(b)
}

// BuilderSize selects a pool tier by expected output length.
type BuilderSize int

const (
	Small  BuilderSize = iota // identifiers, literals, rendered cursors
	Medium                    // most generated statements
	Large                     // statements wrapping big custom queries
)

var tiers = [...]struct {
	limit int
	pool  sync.Pool
}{
	Small:  {limit: 1 << 10},
	Medium: {limit: 16 << 10},
	Large:  {limit: 64 << 10},
}

func sizeFor(n int) BuilderSize {
	for size := Small; size < Large; size++ {
		if n <= tiers[size].limit {
			return size
		}
	}
	return Large
}

// GetBuilder takes an empty builder from the tier's pool.
func GetBuilder(size BuilderSize) *Builder {
	t := &tiers[size]
	if b, ok := t.pool.Get().(*Builder); ok {
		b.Reset()
		return b
	}
	return NewBuilder(t.limit)
}

// PutBuilder returns builder to its tier. Builders that grew far past the
// tier limit are dropped so one huge statement does not pin memory.
func PutBuilder(builder *Builder, size BuilderSize) {
	if builder == nil || cap(builder.buf) > 4*tiers[size].limit {
		return
	}
	builder.Reset()
	tiers[size].pool.Put(builder)
}

// Sprintf formats into a pooled buffer. The result is safe to keep.
func Sprintf(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}

	size := sizeFor(len(format) + len(args)*16)
	builder := GetBuilder(size)
	defer PutBuilder(builder, size)

	fmt.Fprintf(builder, format, args...)

	return Clone(builder.String())
}

// SQLBuilder provides pooled SQL statement building. Identifier and literal
// writers escape their input; WriteQuery writes trusted SQL text verbatim.
type SQLBuilder struct {
	builder *Builder
	size    BuilderSize
}

// NewSQLBuilder takes a pooled buffer sized for estimatedLength bytes. Close
// returns it.
func NewSQLBuilder(estimatedLength int) *SQLBuilder {
	size := sizeFor(estimatedLength)
	return &SQLBuilder{
		builder: GetBuilder(size),
		size:    size,
	}
}

// WriteQuery appends trusted SQL text as is.
func (sb *SQLBuilder) WriteQuery(query string) *SQLBuilder {
	sb.builder.WriteString(query)
	return sb
}

func (sb *SQLBuilder) WriteSpace() *SQLBuilder {
	sb.builder.WriteByte(' ')
	return sb
}

// WriteStringLiteral writes a single-quoted string literal, doubling embedded quotes
func (sb *SQLBuilder) WriteStringLiteral(value string) *SQLBuilder {
	sb.builder.WriteByte('\'')
	for i := 0; i < len(value); i++ {
		if value[i] == '\'' {
			sb.builder.WriteString("''")
		} else {
			sb.builder.WriteByte(value[i])
		}
	}
	sb.builder.WriteByte('\'')
	return sb
}

// WriteIdentifier writes name enclosed in quote, doubling any embedded quote
// character. For ANSI dialects quote is '"', for MySQL it is '`'.
func (sb *SQLBuilder) WriteIdentifier(name string, quote byte) *SQLBuilder {
	sb.builder.WriteByte(quote)
	for i := 0; i < len(name); i++ {
		if name[i] == quote {
			sb.builder.WriteByte(quote)
		}
		sb.builder.WriteByte(name[i])
	}
	sb.builder.WriteByte(quote)
	return sb
}

func (sb *SQLBuilder) WriteInt(value int64) *SQLBuilder {
	sb.builder.WriteString(strconv.FormatInt(value, 10))
	return sb
}

// WriteJoined writes parts separated by sep
func (sb *SQLBuilder) WriteJoined(parts []string, sep string) *SQLBuilder {
	for i, p := range parts {
		if i > 0 {
			sb.builder.WriteString(sep)
		}
		sb.builder.WriteString(p)
	}
	return sb
}

func (sb *SQLBuilder) String() string {
	return Clone(sb.builder.String())
}

// Close is idempotent.
func (sb *SQLBuilder) Close() {
	if sb.builder != nil {
		PutBuilder(sb.builder, sb.size)
		sb.builder = nil
	}
}

// ValueToString converts scalar values to strings without going through fmt
// for the common types.
func ValueToString(value interface{}) string {
	if value == nil {
		return ""
	}

	switch v := value.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []byte:
		return string(v)
	default:
		return Sprintf("%v", value)
	}
}
