package transcript

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"proglog/internal/tai64n"
)

// ErrTruncated is reported for a final record without its newline, which
// is what a crash in the middle of a write leaves behind.
var ErrTruncated = errors.New("truncated record")

type TranscriptReader interface {
	// Channel returns a channel which emits Records. It is closed after
	// the last record or after the first record carrying an Error.
	Channel() <-chan Record

	// Records returns all records, stopping at the first malformed one.
	Records() ([]Record, error)
}

type IoReader struct {
	reader *bufio.Reader
}

var _ TranscriptReader = &IoReader{}

func NewReader(reader io.Reader) *IoReader {
	return &IoReader{reader: bufio.NewReader(reader)}
}

func (r *IoReader) Channel() <-chan Record {
	channel := make(chan Record)
	go func() {
		defer close(channel)
		for {
			rec, eof := r.next()
			if eof {
				return
			}
			channel <- rec
			if rec.Error != nil {
				return
			}
		}
	}()
	return channel
}

func (r *IoReader) Records() ([]Record, error) {
	var records []Record
	for {
		rec, eof := r.next()
		if eof {
			return records, nil
		}
		if rec.Error != nil {
			return records, rec.Error
		}
		records = append(records, rec)
	}
}

// next reads one record. The bool is true at a clean end of input.
func (r *IoReader) next() (Record, bool) {
	var rec Record
	line, err := r.reader.ReadBytes('\n')
	if err != nil && err != io.EOF {
		rec.Error = fmt.Errorf("reading record: %w", err)
		return rec, false
	}
	if len(line) == 0 {
		return rec, true
	}
	if line[len(line)-1] != '\n' {
		rec.Error = fmt.Errorf("%w: %q", ErrTruncated, line)
		return rec, false
	}
	if len(line) < tai64n.Size+1 {
		rec.Error = fmt.Errorf("record too short: %q", line)
		return rec, false
	}

	ts, err := tai64n.Decode(line)
	if err != nil {
		rec.Error = fmt.Errorf("parsing label: %w", err)
		return rec, false
	}
	copy(rec.Label[:], line[:tai64n.Size])
	rec.Timestamp = ts
	rec.Line = line[tai64n.Size:]
	return rec, false
}
