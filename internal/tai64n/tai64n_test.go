package tai64n

import (
	"bytes"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var labelPattern = regexp.MustCompile(`^@[0-9a-f]{24} $`)

func TestEncode_KnownValue(t *testing.T) {
	ts := time.Unix(0, 0)
	require.Equal(t, "@400000000000000a00000000 ", Encode(ts).String())

	ts = time.Unix(1, 500)
	require.Equal(t, "@400000000000000b000001f4 ", Encode(ts).String())
}

func TestEncode_Shape(t *testing.T) {
	samples := []time.Time{
		time.Unix(0, 0),
		time.Unix(0, 999999999),
		time.Date(2025, 1, 7, 12, 34, 56, 789000000, time.UTC),
		time.Date(2106, 2, 7, 6, 28, 16, 0, time.UTC),
		time.Now(),
	}
	for _, ts := range samples {
		l := Encode(ts)
		require.Len(t, l.Bytes(), Size)
		require.Regexp(t, labelPattern, l.String())
	}
}

func TestEncode_Monotonic(t *testing.T) {
	base := time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC)
	steps := []time.Duration{
		time.Nanosecond,
		999 * time.Nanosecond,
		time.Millisecond,
		time.Second - time.Nanosecond,
		time.Second,
		time.Hour,
		24 * 365 * time.Hour,
	}
	prev := Encode(base)
	cur := base
	for _, step := range steps {
		cur = cur.Add(step)
		next := Encode(cur)
		require.Equal(t, -1, bytes.Compare(prev.Bytes(), next.Bytes()), "labels must increase: %s then %s", prev, next)
		prev = next
	}
}

func TestEncode_FreshValue(t *testing.T) {
	a := Encode(time.Unix(10, 0))
	b := Encode(time.Unix(20, 0))
	require.NotEqual(t, a, b)
	require.Equal(t, "@400000000000001400000000 ", a.String())
}

func TestDecode_RoundTrip(t *testing.T) {
	ts := time.Date(2025, 1, 7, 12, 34, 56, 789123456, time.UTC)
	got, err := Encode(ts).Time()
	require.NoError(t, err)
	require.True(t, got.Equal(ts))
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"short":         "@4000",
		"no at":         "x400000000000000a00000000 ",
		"no space":      "@400000000000000a00000000x",
		"upper hex":     "@400000000000000A00000000 ",
		"not hex":       "@400000000000000g00000000 ",
		"nsec overflow": "@400000000000000a3b9aca00 ",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(input)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}
