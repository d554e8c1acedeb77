// Package tai64n encodes wall-clock samples as external TAI64N labels.
//
// A label is '@', 24 lowercase hex digits and a trailing space. The hex
// digits are the big-endian 8-byte seconds field (Unix seconds shifted by
// 2^62+10) followed by the big-endian 4-byte nanoseconds field. The fixed
// width and big-endian layout make bytewise order equal time order.
package tai64n

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Size is the length of a label in bytes.
const Size = 26

// Offset is added to Unix seconds to obtain the external seconds field.
const Offset uint64 = 4611686018427387914

// ErrMalformed is returned when the input is not a label.
var ErrMalformed = errors.New("malformed tai64n label")

// Label is one encoded timestamp. It is a value type; every call to Encode
// returns a fresh one.
type Label [Size]byte

// Encode converts t to its label.
func Encode(t time.Time) Label {
	var pack [12]byte
	binary.BigEndian.PutUint64(pack[0:8], Offset+uint64(t.Unix()))
	binary.BigEndian.PutUint32(pack[8:12], uint32(t.Nanosecond()))

	var l Label
	l[0] = '@'
	hex.Encode(l[1:Size-1], pack[:])
	l[Size-1] = ' '
	return l
}

// Now encodes the current wall-clock time.
func Now() Label {
	return Encode(time.Now())
}

// Bytes returns the label as a byte slice.
func (l Label) Bytes() []byte {
	return l[:]
}

func (l Label) String() string {
	return string(l[:])
}

// Time decodes the label back to a time.Time.
func (l Label) Time() (time.Time, error) {
	return Decode(l[:])
}

// Decode parses the first Size bytes of b as a label.
func Decode(b []byte) (time.Time, error) {
	if len(b) < Size || b[0] != '@' || b[Size-1] != ' ' {
		return time.Time{}, ErrMalformed
	}
	var pack [12]byte
	for _, c := range b[1 : Size-1] {
		// Uppercase hex is never produced by Encode.
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return time.Time{}, fmt.Errorf("%w: invalid hex digit %q", ErrMalformed, c)
		}
	}
	if _, err := hex.Decode(pack[:], b[1:Size-1]); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	secs := binary.BigEndian.Uint64(pack[0:8])
	nsec := binary.BigEndian.Uint32(pack[8:12])
	if nsec >= 1e9 {
		return time.Time{}, fmt.Errorf("%w: nanoseconds out of range", ErrMalformed)
	}
	return time.Unix(int64(secs-Offset), int64(nsec)), nil
}

// Parse is Decode for strings.
func Parse(s string) (time.Time, error) {
	return Decode([]byte(s))
}
