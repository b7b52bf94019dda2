// Package cursor implements the typed position of an incremental extraction.
//
// A Cursor is a value of the tracked column tagged with its Domain. Cursors
// compare with a strict total order within a domain, and an unavailable cursor
// (no position yet, or a NULL column value) sorts before every available one.
// The raw form of a cursor is the checkpoint payload; the domain is always
// taken from configuration, never from the payload.
package cursor

import (
	"bytes"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/ajitpratap0/nebula-extract/pkg/nebulaerrors"
	stringpool "github.com/ajitpratap0/nebula-extract/pkg/strings"
)

// Domain is the type family of a tracked column.
type Domain int

const (
	// Numeric covers integer and decimal columns.
	Numeric Domain = iota + 1
	// Temporal covers date, time and timestamp columns.
	Temporal
	// Text covers character columns.
	Text
	// BinarySequence covers fixed-width binary positions such as log sequence numbers.
	BinarySequence
)

// TemporalLayout is the literal layout used when rendering temporal cursors into SQL.
const TemporalLayout = "2006-01-02 15:04:05.000000"

const nullRaw = "NULL"

func (d Domain) String() string {
	switch d {
	case Numeric:
		return "numeric"
	case Temporal:
		return "temporal"
	case Text:
		return "text"
	case BinarySequence:
		return "binary"
	default:
		return "unknown"
	}
}

// ParseDomain maps a configured domain or column type name onto a Domain.
func ParseDomain(name string) (Domain, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "numeric", "number", "int", "integer", "smallint", "tinyint", "bigint",
		"long", "decimal", "double", "float", "real":
		return Numeric, nil
	case "temporal", "timestamp", "datetime", "date", "time", "timestamptz":
		return Temporal, nil
	case "text", "string", "varchar", "char", "nvarchar":
		return Text, nil
	case "binary", "binary_sequence", "binarysequence", "lsn", "bytes", "varbinary":
		return BinarySequence, nil
	default:
		return 0, nebulaerrors.Newf(nebulaerrors.ErrorTypeConfig, "unsupported cursor domain %q", name)
	}
}

// Cursor is an immutable position in one Domain. The zero Cursor is unavailable.
type Cursor struct {
	domain Domain
	valid  bool
	num    *apd.Decimal
	ts     time.Time
	text   string
	bin    []byte
}

// Unavailable returns the absent position of domain d.
func Unavailable(d Domain) Cursor {
	return Cursor{domain: d}
}

// Parse interprets raw in domain d. An empty raw value yields an unavailable
// cursor, and so does the literal NULL outside the Text domain, where it is
// ordinary text.
func Parse(raw string, d Domain) (Cursor, error) {
	if raw == "" || (d != Text && strings.EqualFold(raw, nullRaw)) {
		return Unavailable(d), nil
	}

	switch d {
	case Numeric:
		return parseNumeric(raw)
	case Temporal:
		return parseTemporal(raw)
	case Text:
		return Cursor{domain: Text, valid: true, text: raw}, nil
	case BinarySequence:
		return parseBinary(raw)
	default:
		return Cursor{}, invalid(raw, d, "unknown domain")
	}
}

// MustParse is Parse that panics on error. Intended for constants and tests.
func MustParse(raw string, d Domain) Cursor {
	c, err := Parse(raw, d)
	if err != nil {
		panic(err)
	}
	return c
}

// FromValue decodes a value scanned from the tracked column. The domain, not
// the Go type of v, decides the interpretation. Only SQL NULL is unavailable;
// empty text is a position like any other.
func FromValue(v interface{}, d Domain) (Cursor, error) {
	if v == nil {
		return Unavailable(d), nil
	}

	switch d {
	case Text:
		return Cursor{domain: Text, valid: true, text: stringpool.ValueToString(v)}, nil
	case Numeric:
		return numericFromValue(v)
	case Temporal:
		if t, ok := v.(time.Time); ok {
			return Cursor{domain: Temporal, valid: true, ts: t.UTC()}, nil
		}
	case BinarySequence:
		if b, ok := v.([]byte); ok {
			return Cursor{domain: BinarySequence, valid: true, bin: bytes.Clone(b)}, nil
		}
	}

	return Parse(stringpool.ValueToString(v), d)
}

// Domain returns the domain tag.
func (c Cursor) Domain() Domain { return c.domain }

// Available reports whether the cursor holds a position.
func (c Cursor) Available() bool { return c.valid }

// Raw returns the checkpoint payload. Parse(c.Raw(), c.Domain()) reproduces c.
func (c Cursor) Raw() string {
	if !c.valid {
		return ""
	}
	switch c.domain {
	case Numeric:
		return c.num.Text('f')
	case Temporal:
		return c.ts.Format(time.RFC3339Nano)
	case Text:
		return c.text
	case BinarySequence:
		return renderBinary(c.bin)
	}
	return ""
}

// Render returns the unquoted SQL literal text of the cursor.
func (c Cursor) Render() string {
	if !c.valid {
		return nullRaw
	}
	switch c.domain {
	case Temporal:
		return c.ts.Format(TemporalLayout)
	default:
		return c.Raw()
	}
}

// Quoted reports whether Render must be enclosed in a string literal.
func (c Cursor) Quoted() bool {
	return c.valid && c.domain != Numeric
}

// Arg returns the value bound to a placeholder for this cursor.
func (c Cursor) Arg() interface{} {
	if !c.valid {
		return nil
	}
	switch c.domain {
	case Numeric:
		if i, err := c.num.Int64(); err == nil {
			return i
		}
		return c.num.Text('f')
	case Temporal:
		return c.ts
	case Text:
		return c.text
	case BinarySequence:
		return bytes.Clone(c.bin)
	}
	return nil
}

// Float returns an approximate numeric view for metrics. ok is false for
// domains without a natural scalar.
func (c Cursor) Float() (f float64, ok bool) {
	if !c.valid {
		return 0, false
	}
	switch c.domain {
	case Numeric:
		v, err := c.num.Float64()
		return v, err == nil
	case Temporal:
		return float64(c.ts.UnixNano()) / 1e9, true
	}
	return 0, false
}

func (c Cursor) String() string {
	if !c.valid {
		return "<unavailable " + c.domain.String() + ">"
	}
	return c.Render()
}

// Equal reports whether a and b denote the same position.
func Equal(a, b Cursor) bool { return Compare(a, b) == 0 }

// Compare orders a and b. Unavailable cursors sort first and are equal to each
// other; cursors of different domains order by domain tag.
func Compare(a, b Cursor) int {
	switch {
	case !a.valid && !b.valid:
		return 0
	case !a.valid:
		return -1
	case !b.valid:
		return 1
	}

	if a.domain != b.domain {
		if a.domain < b.domain {
			return -1
		}
		return 1
	}

	switch a.domain {
	case Numeric:
		return a.num.Cmp(b.num)
	case Temporal:
		return a.ts.Compare(b.ts)
	case Text:
		return strings.Compare(a.text, b.text)
	case BinarySequence:
		// bytes.Compare is unsigned.
		return bytes.Compare(a.bin, b.bin)
	}
	return 0
}

// Max returns the greater of a and b.
func Max(a, b Cursor) Cursor {
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}

func invalid(raw string, d Domain, reason string) *nebulaerrors.Error {
	return nebulaerrors.Newf(nebulaerrors.ErrorTypeInvalidCursorFormat,
		"cannot parse %q as %s cursor: %s", raw, d, reason).
		WithDetail("raw", raw).
		WithDetail("domain", d.String())
}

func parseNumeric(raw string) (Cursor, error) {
	d, _, err := apd.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Cursor{}, invalid(raw, Numeric, err.Error())
	}
	if d.Form != apd.Finite {
		return Cursor{}, invalid(raw, Numeric, "not a finite number")
	}
	return Cursor{domain: Numeric, valid: true, num: d}, nil
}

func numericFromValue(v interface{}) (Cursor, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case float32:
		return numericFromFloat(float64(x))
	case float64:
		return numericFromFloat(x)
	case *apd.Decimal:
		if x.Form != apd.Finite {
			return Cursor{}, invalid(x.String(), Numeric, "not a finite number")
		}
		return Cursor{domain: Numeric, valid: true, num: new(apd.Decimal).Set(x)}, nil
	case time.Time:
		return Cursor{}, invalid(x.String(), Numeric, "temporal value in numeric column")
	default:
		return Parse(stringpool.ValueToString(v), Numeric)
	}
	return Cursor{domain: Numeric, valid: true, num: apd.New(n, 0)}, nil
}

func numericFromFloat(f float64) (Cursor, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Cursor{}, invalid(strconv.FormatFloat(f, 'g', -1, 64), Numeric, "not a finite number")
	}
	return parseNumeric(strconv.FormatFloat(f, 'f', -1, 64))
}

var temporalLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func parseTemporal(raw string) (Cursor, error) {
	s := strings.TrimSpace(raw)
	if isEpoch(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Cursor{}, invalid(raw, Temporal, err.Error())
		}
		return Cursor{domain: Temporal, valid: true, ts: epochToTime(n, len(strings.TrimPrefix(s, "-")))}, nil
	}

	for _, layout := range temporalLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return Cursor{domain: Temporal, valid: true, ts: t.UTC()}, nil
		}
	}
	return Cursor{}, invalid(raw, Temporal, "unrecognized timestamp layout")
}

func isEpoch(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Up to 13 digits are milliseconds, up to 16 microseconds, anything longer nanoseconds.
func epochToTime(n int64, digits int) time.Time {
	switch {
	case digits <= 13:
		return time.UnixMilli(n).UTC()
	case digits <= 16:
		return time.UnixMicro(n).UTC()
	default:
		return time.Unix(0, n).UTC()
	}
}

func parseBinary(raw string) (Cursor, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.ReplaceAll(s, ":", "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return Cursor{}, invalid(raw, BinarySequence, err.Error())
	}
	return Cursor{domain: BinarySequence, valid: true, bin: b}, nil
}

// renderBinary writes lowercase hex pairs with a colon after the 4th and 8th byte.
func renderBinary(b []byte) string {
	sb := stringpool.GetBuilder(stringpool.Small)
	defer stringpool.PutBuilder(sb, stringpool.Small)

	const digits = "0123456789abcdef"
	for i, x := range b {
		if i == 4 || i == 8 {
			sb.WriteByte(':')
		}
		sb.WriteByte(digits[x>>4])
		sb.WriteByte(digits[x&0x0f])
	}
	return stringpool.Clone(sb.String())
}
