package watcher

import (
	"bytes"
	"time"

	"proglog/internal/tai64n"
)

// Sink splits reads into newline-terminated records and fans them out to a
// route's destinations.
type Sink struct {
	now func() time.Time
}

// NewSink returns a sink stamping records with now. A nil now means
// time.Now.
func NewSink(now func() time.Time) *Sink {
	if now == nil {
		now = time.Now
	}
	return &Sink{now: now}
}

// Deliver handles one read from r.Source. Every complete line gets the same
// label. Each labeled destination receives all records of this read, each
// one synced before the next destination is written. A trailing partial line
// is kept on the route until a later read completes it. Unlabeled
// destinations receive buf unchanged; what a buffered destination does not
// accept right away waits in the route's backlog.
func (s *Sink) Deliver(r *Route, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	label := tai64n.Encode(s.now())

	// Only the new bytes can hold a newline; the pending part has none.
	start := len(r.pending)
	r.pending = append(r.pending, buf...)
	if i := bytes.LastIndexByte(buf, '\n'); i >= 0 {
		end := start + i + 1
		complete := r.pending[:end]
		for len(complete) > 0 {
			j := bytes.IndexByte(complete, '\n')
			rec := complete[:j+1]
			complete = complete[j+1:]
			for _, d := range r.Destinations {
				if !d.Labeled {
					continue
				}
				if err := d.WriteRecord(label, rec); err != nil {
					return err
				}
			}
		}
		n := copy(r.pending, r.pending[end:])
		r.pending = r.pending[:n]
	}

	for _, d := range r.Destinations {
		if d.Labeled {
			continue
		}
		if d.Buffered {
			if err := r.enqueue(d.Descriptor, buf); err != nil {
				return err
			}
			continue
		}
		if err := d.Write(buf); err != nil {
			return err
		}
		if err := d.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Resume retries the backlog of r. Afterwards r.Stalled reports whether
// anything is still waiting.
func (s *Sink) Resume(r *Route) error {
	for _, d := range r.Destinations {
		queued := r.backlog[d.Descriptor]
		if len(queued) == 0 {
			continue
		}
		n, err := d.TryWrite(queued)
		if err != nil {
			return err
		}
		r.backlog[d.Descriptor] = queued[n:]
		if n == len(queued) {
			delete(r.backlog, d.Descriptor)
		}
	}
	return nil
}

// Flush writes out a pending partial line, terminated with a newline so the
// transcript stays line framed. It runs at end of stream and for routes
// still open when the session ends.
func (s *Sink) Flush(r *Route) error {
	if len(r.pending) == 0 {
		return nil
	}
	rec := append(r.pending, '\n')
	r.pending = nil
	label := tai64n.Encode(s.now())
	for _, d := range r.Destinations {
		if !d.Labeled {
			continue
		}
		if err := d.WriteRecord(label, rec); err != nil {
			return err
		}
	}
	return nil
}
