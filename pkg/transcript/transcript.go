package transcript

import (
	"bytes"
	"strings"
	"time"

	"proglog/internal/tai64n"
)

// Record is one line of a transcript.
type Record struct {
	Label     tai64n.Label
	Timestamp time.Time
	Line      []byte // payload including the trailing newline
	Error     error
}

// FormatRecord returns label followed by payload.
func FormatRecord(label tai64n.Label, payload []byte) []byte {
	out := make([]byte, 0, tai64n.Size+len(payload))
	out = append(out, label.Bytes()...)
	return append(out, payload...)
}

// FormatCommand returns the payload of a command record for argv.
func FormatCommand(argv []string) []byte {
	var b bytes.Buffer
	b.WriteByte('$')
	for _, arg := range argv {
		b.WriteByte(' ')
		b.WriteString(strings.ReplaceAll(arg, "\n", `\n`))
	}
	b.WriteByte('\n')
	return b.Bytes()
}

// IsCommand reports whether r looks like a session's command record. Child
// output that starts with "$ " looks the same.
func (r Record) IsCommand() bool {
	return len(r.Line) > 0 && r.Line[0] == '$' && (len(r.Line) == 2 || r.Line[1] == ' ')
}

// Command returns the argument vector of a command record. Arguments that
// contained spaces cannot be told apart from separate arguments.
func (r Record) Command() ([]string, bool) {
	if !r.IsCommand() {
		return nil, false
	}
	body := strings.TrimSuffix(string(r.Line[1:]), "\n")
	return strings.Fields(body), true
}

// Text returns the payload without its newline.
func (r Record) Text() string {
	return strings.TrimSuffix(string(r.Line), "\n")
}
