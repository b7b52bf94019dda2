package cursor

import (
	"math/rand"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-extract/pkg/nebulaerrors"
)

func TestParseDomain(t *testing.T) {
	tests := []struct {
		in      string
		want    Domain
		wantErr bool
	}{
		{in: "numeric", want: Numeric},
		{in: "BIGINT", want: Numeric},
		{in: " timestamp ", want: Temporal},
		{in: "date", want: Temporal},
		{in: "varchar", want: Text},
		{in: "lsn", want: BinarySequence},
		{in: "binary", want: BinarySequence},
		{in: "json", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDomain(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, nebulaerrors.IsType(err, nebulaerrors.ErrorTypeConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse(t *testing.T) {
	t.Run("null and empty are unavailable", func(t *testing.T) {
		for _, d := range []Domain{Numeric, Temporal, BinarySequence} {
			for _, raw := range []string{"", "NULL", "null"} {
				c, err := Parse(raw, d)
				require.NoError(t, err)
				assert.False(t, c.Available(), "%s %q", d, raw)
				assert.Equal(t, d, c.Domain())
			}
		}
	})

	t.Run("null is ordinary text", func(t *testing.T) {
		c, err := Parse("", Text)
		require.NoError(t, err)
		assert.False(t, c.Available())

		c, err = Parse("NULL", Text)
		require.NoError(t, err)
		assert.True(t, c.Available())
		assert.Equal(t, "NULL", c.Raw())
		assert.True(t, c.Quoted())
	})

	t.Run("invalid raw values", func(t *testing.T) {
		tests := []struct {
			raw    string
			domain Domain
		}{
			{"abc", Numeric},
			{"NaN", Numeric},
			{"Infinity", Numeric},
			{"yesterday", Temporal},
			{"2024-13-45", Temporal},
			{"zz", BinarySequence},
			{"abc", BinarySequence},
		}
		for _, tt := range tests {
			_, err := Parse(tt.raw, tt.domain)
			require.Error(t, err, "%s %q", tt.domain, tt.raw)
			assert.True(t, nebulaerrors.IsType(err, nebulaerrors.ErrorTypeInvalidCursorFormat))
			assert.Contains(t, err.Error(), tt.raw)
		}
	})

	t.Run("numeric", func(t *testing.T) {
		c := MustParse("12345678901234567890.5", Numeric)
		assert.Equal(t, "12345678901234567890.5", c.Raw())
		assert.Equal(t, "12345678901234567890.5", c.Render())
		assert.False(t, c.Quoted())
		assert.Equal(t, "12345678901234567890.5", c.Arg())

		assert.Equal(t, int64(42), MustParse("42", Numeric).Arg())
	})

	t.Run("temporal epochs by digit count", func(t *testing.T) {
		want := time.Date(2024, 3, 1, 10, 20, 30, 123456000, time.UTC)
		ms := MustParse("1709288430123", Temporal)
		us := MustParse("1709288430123456", Temporal)
		ns := MustParse("1709288430123456000", Temporal)

		assert.True(t, ms.Arg().(time.Time).Equal(want.Truncate(time.Millisecond)))
		assert.True(t, us.Arg().(time.Time).Equal(want))
		assert.True(t, ns.Arg().(time.Time).Equal(want))
	})

	t.Run("temporal layouts", func(t *testing.T) {
		for _, raw := range []string{
			"2024-03-01 10:20:30.123456",
			"2024-03-01T10:20:30.123456Z",
			"2024-03-01T12:20:30.123456+02:00",
		} {
			c := MustParse(raw, Temporal)
			assert.Equal(t, "2024-03-01 10:20:30.123456", c.Render(), raw)
		}
		assert.Equal(t, "2024-03-01 00:00:00.000000", MustParse("2024-03-01", Temporal).Render())
	})
}

func TestRender(t *testing.T) {
	t.Run("temporal literal is 26 characters", func(t *testing.T) {
		c := MustParse("2024-03-01 10:20:30", Temporal)
		assert.Len(t, c.Render(), 26)
		assert.True(t, c.Quoted())
	})

	t.Run("binary sequence of 10 bytes", func(t *testing.T) {
		c, err := FromValue([]byte{0x00, 0x00, 0x00, 0x2a, 0xff, 0x00, 0x01, 0x9c, 0x00, 0x05}, BinarySequence)
		require.NoError(t, err)
		assert.Equal(t, "0000002a:ff00019c:0005", c.Render())
		assert.Regexp(t, `^[0-9a-f]{8}:[0-9a-f]{8}:[0-9a-f]{4}$`, c.Render())
	})

	t.Run("text is rendered as-is", func(t *testing.T) {
		c := MustParse("O'Brien", Text)
		assert.Equal(t, "O'Brien", c.Render())
		assert.True(t, c.Quoted())
	})

	t.Run("unavailable", func(t *testing.T) {
		assert.Equal(t, "NULL", Unavailable(Numeric).Render())
		assert.Equal(t, "", Unavailable(Numeric).Raw())
		assert.Nil(t, Unavailable(Text).Arg())
	})
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	t.Run("numeric", func(t *testing.T) {
		for _, raw := range []string{"0", "-17", "10", "3.14159", "1E+3", "99999999999999999999999"} {
			c := MustParse(raw, Numeric)
			back, err := Parse(c.Render(), Numeric)
			require.NoError(t, err)
			assert.True(t, Equal(c, back), raw)
		}
	})

	t.Run("binary sequence", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			b := make([]byte, 1+rng.Intn(12))
			rng.Read(b)
			c, err := FromValue(b, BinarySequence)
			require.NoError(t, err)
			back, err := Parse(c.Render(), BinarySequence)
			require.NoError(t, err)
			assert.True(t, Equal(c, back), c.Render())
			assert.Equal(t, b, back.Arg())
		}
	})

	t.Run("temporal raw keeps nanoseconds", func(t *testing.T) {
		c, err := FromValue(time.Date(2024, 1, 2, 3, 4, 5, 6, time.FixedZone("x", 3600)), Temporal)
		require.NoError(t, err)
		back := MustParse(c.Raw(), Temporal)
		assert.True(t, Equal(c, back))
	})
}

func TestCompare(t *testing.T) {
	t.Run("unavailable ordering", func(t *testing.T) {
		u1, u2 := Unavailable(Numeric), Unavailable(Text)
		a := MustParse("-1000", Numeric)

		assert.Equal(t, 0, Compare(u1, u2))
		assert.Equal(t, -1, Compare(u1, a))
		assert.Equal(t, 1, Compare(a, u1))
		assert.Equal(t, 0, Compare(Cursor{}, u1))
	})

	t.Run("binary compares unsigned", func(t *testing.T) {
		lo := MustParse("7f", BinarySequence)
		hi := MustParse("80", BinarySequence)
		assert.Negative(t, Compare(lo, hi))
	})

	t.Run("numeric compares by value", func(t *testing.T) {
		assert.Equal(t, 0, Compare(MustParse("1.0", Numeric), MustParse("1", Numeric)))
		assert.Negative(t, Compare(MustParse("9", Numeric), MustParse("10", Numeric)))
	})

	t.Run("strict total order per domain", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))
		samples := map[Domain][]Cursor{}
		for i := 0; i < 40; i++ {
			samples[Numeric] = append(samples[Numeric], MustParse(randNumeric(rng), Numeric))
			samples[Temporal] = append(samples[Temporal], mustFrom(t, time.Unix(rng.Int63n(1<<32), rng.Int63n(1e9)), Temporal))
			samples[Text] = append(samples[Text], MustParse(string(rune('a'+rng.Intn(26)))+string(rune('a'+rng.Intn(26))), Text))
			b := make([]byte, 10)
			rng.Read(b)
			samples[BinarySequence] = append(samples[BinarySequence], mustFrom(t, b, BinarySequence))
		}

		for d, cs := range samples {
			cs = append(cs, Unavailable(d))
			for _, a := range cs {
				assert.Equal(t, 0, Compare(a, a), "reflexive %s", d)
				for _, b := range cs {
					assert.Equal(t, -sign(Compare(b, a)), sign(Compare(a, b)), "antisymmetric %s", d)
					for _, c := range cs {
						if Compare(a, b) < 0 && Compare(b, c) < 0 {
							assert.Negative(t, Compare(a, c), "transitive %s", d)
						}
					}
				}
			}

			sorted := append([]Cursor(nil), cs...)
			sort.Slice(sorted, func(i, j int) bool { return Compare(sorted[i], sorted[j]) < 0 })
			assert.False(t, sorted[0].Available(), "unavailable sorts first in %s", d)
		}
	})
}

func TestFromValue(t *testing.T) {
	tests := []struct {
		name   string
		value  interface{}
		domain Domain
		raw    string
	}{
		{"int64", int64(9), Numeric, "9"},
		{"int32", int32(-3), Numeric, "-3"},
		{"float", 2.5, Numeric, "2.5"},
		{"mysql bytes", []byte("100"), Numeric, "100"},
		{"string number", "7", Numeric, "7"},
		{"time", time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC), Temporal, "2024-05-06T07:08:09Z"},
		{"temporal text", "2024-05-06 07:08:09", Temporal, "2024-05-06T07:08:09Z"},
		{"text", "abc", Text, "abc"},
		{"text bytes", []byte("abc"), Text, "abc"},
		{"hex string", "0000002a:ff00019c:0005", BinarySequence, "0000002a:ff00019c:0005"},
		{"nil", nil, Numeric, ""},
		{"nil text", nil, Text, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := FromValue(tt.value, tt.domain)
			require.NoError(t, err)
			assert.Equal(t, tt.domain, c.Domain())
			assert.Equal(t, tt.raw, c.Raw())
		})
	}

	t.Run("empty and NULL text are positions", func(t *testing.T) {
		for _, v := range []interface{}{"", []byte{}, "NULL"} {
			c, err := FromValue(v, Text)
			require.NoError(t, err)
			assert.True(t, c.Available(), "%q", v)
		}
		empty, _ := FromValue("", Text)
		null, _ := FromValue("NULL", Text)
		assert.Equal(t, -1, Compare(Unavailable(Text), empty))
		assert.Equal(t, -1, Compare(empty, null))
	})

	t.Run("rejects non-finite floats", func(t *testing.T) {
		_, err := FromValue(float64(1)/zero(), Numeric)
		assert.True(t, nebulaerrors.IsType(err, nebulaerrors.ErrorTypeInvalidCursorFormat))
	})

	t.Run("rejects time in numeric domain", func(t *testing.T) {
		_, err := FromValue(time.Now(), Numeric)
		assert.Error(t, err)
	})
}

func TestMax(t *testing.T) {
	a, b := MustParse("5", Numeric), MustParse("9", Numeric)
	assert.Equal(t, "9", Max(a, b).Raw())
	assert.Equal(t, "9", Max(b, a).Raw())
	assert.Equal(t, "5", Max(Unavailable(Numeric), a).Raw())
}

func randNumeric(rng *rand.Rand) string {
	n := strconv.FormatInt(rng.Int63n(2000)-1000, 10)
	if rng.Intn(2) == 0 {
		return n
	}
	return n + "." + strconv.FormatInt(rng.Int63n(100), 10)
}

func mustFrom(t *testing.T, v interface{}, d Domain) Cursor {
	t.Helper()
	c, err := FromValue(v, d)
	require.NoError(t, err)
	return c
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

func zero() float64 { return 0 }
