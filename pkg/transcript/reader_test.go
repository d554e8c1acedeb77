package transcript

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"proglog/internal/tai64n"
)

func buildTranscript(records ...[]byte) *bytes.Reader {
	return bytes.NewReader(bytes.Join(records, nil))
}

func TestReader_Records(t *testing.T) {
	t0 := time.Date(2025, 1, 7, 12, 34, 56, 789000000, time.UTC)
	t1 := t0.Add(time.Millisecond)
	input := buildTranscript(
		FormatRecord(tai64n.Encode(t0), FormatCommand([]string{"sh", "-c", "echo hello"})),
		FormatRecord(tai64n.Encode(t1), []byte("hello\n")),
		FormatRecord(tai64n.Encode(t1), []byte("\n")),
	)

	records, err := NewReader(input).Records()
	require.NoError(t, err)
	require.Len(t, records, 3)

	require.True(t, records[0].Timestamp.Equal(t0))
	require.True(t, records[0].IsCommand())
	argv, ok := records[0].Command()
	require.True(t, ok)
	require.Equal(t, []string{"sh", "-c", "echo", "hello"}, argv)

	require.True(t, records[1].Timestamp.Equal(t1))
	require.Equal(t, "hello\n", string(records[1].Line))
	require.Equal(t, "hello", records[1].Text())
	require.False(t, records[1].IsCommand())
	require.Equal(t, records[1].Label, records[2].Label)

	require.Equal(t, "\n", string(records[2].Line))
}

func TestReader_Channel(t *testing.T) {
	label := tai64n.Encode(time.Unix(100, 0))
	input := buildTranscript(
		FormatRecord(label, []byte("one\n")),
		FormatRecord(label, []byte("two\n")),
	)

	var lines []string
	for rec := range NewReader(input).Channel() {
		require.NoError(t, rec.Error)
		lines = append(lines, rec.Text())
	}
	require.Equal(t, []string{"one", "two"}, lines)
}

func TestReader_Empty(t *testing.T) {
	records, err := NewReader(strings.NewReader("")).Records()
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestReader_Truncated(t *testing.T) {
	label := tai64n.Encode(time.Unix(100, 0))
	input := buildTranscript(
		FormatRecord(label, []byte("complete\n")),
		FormatRecord(label, []byte("cut off")),
	)

	records, err := NewReader(input).Records()
	require.ErrorIs(t, err, ErrTruncated)
	require.Len(t, records, 1)
}

func TestReader_BadLabel(t *testing.T) {
	_, err := NewReader(strings.NewReader("not a transcript line at all\n")).Records()
	require.ErrorIs(t, err, tai64n.ErrMalformed)

	_, err = NewReader(strings.NewReader("short\n")).Records()
	require.Error(t, err)
}

func TestReader_ChannelStopsAtError(t *testing.T) {
	label := tai64n.Encode(time.Unix(100, 0))
	input := buildTranscript(
		FormatRecord(label, []byte("ok\n")),
		[]byte("garbage\n"),
		FormatRecord(label, []byte("unreachable\n")),
	)

	var got []Record
	for rec := range NewReader(input).Channel() {
		got = append(got, rec)
	}
	require.Len(t, got, 2)
	require.NoError(t, got[0].Error)
	require.Error(t, got[1].Error)
}

func TestFormatCommand(t *testing.T) {
	require.Equal(t, "$ ls -la /tmp\n", string(FormatCommand([]string{"ls", "-la", "/tmp"})))
	require.Equal(t, "$\n", string(FormatCommand(nil)))
	require.Equal(t, `$ printf a\nb`+"\n", string(FormatCommand([]string{"printf", "a\nb"})))
}

func TestFormatRecord(t *testing.T) {
	label := tai64n.Encode(time.Unix(0, 0))
	require.Equal(t, "@400000000000000a00000000 payload\n", string(FormatRecord(label, []byte("payload\n"))))
}
