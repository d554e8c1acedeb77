package watcher

import (
	"errors"
	"fmt"
)

// Destination is one fan-out target of a route. Labeled destinations get
// line-framed, timestamped records; the others get the bytes as read.
type Destination struct {
	*Descriptor
	Labeled bool

	// Buffered marks a non-blocking destination. Bytes it does not accept
	// wait on the route, and the route's source is not read until they
	// have been delivered.
	Buffered bool
}

// Route copies everything read from Source to Destinations. Element zero
// is always the shared transcript, which the route references but does not
// own. The remaining destinations belong to the route.
type Route struct {
	Name         string
	Source       *Descriptor
	Destinations []Destination

	// partial line carried over to the next read of Source
	pending []byte

	// bytes a buffered destination has not accepted yet
	backlog map[*Descriptor][]byte
}

// NewRoute builds a route whose first destination is transcript.
func NewRoute(name string, source, transcript *Descriptor, owned ...Destination) *Route {
	dests := make([]Destination, 0, 1+len(owned))
	dests = append(dests, Destination{Descriptor: transcript, Labeled: true})
	dests = append(dests, owned...)
	return &Route{
		Name:         name,
		Source:       source,
		Destinations: dests,
	}
}

// Transcript returns the shared destination.
func (r *Route) Transcript() *Descriptor {
	return r.Destinations[0].Descriptor
}

// Owned returns the destinations this route releases on teardown.
func (r *Route) Owned() []Destination {
	return r.Destinations[1:]
}

// Pending returns the buffered partial line.
func (r *Route) Pending() []byte {
	return r.pending
}

// Stalled reports whether a buffered destination still has bytes queued.
func (r *Route) Stalled() bool {
	return len(r.backlog) > 0
}

// Waiting returns the destinations with queued bytes.
func (r *Route) Waiting() []*Descriptor {
	var ds []*Descriptor
	for _, d := range r.Destinations {
		if len(r.backlog[d.Descriptor]) > 0 {
			ds = append(ds, d.Descriptor)
		}
	}
	return ds
}

// enqueue writes what d accepts now and queues the rest.
func (r *Route) enqueue(d *Descriptor, p []byte) error {
	if queued := r.backlog[d]; len(queued) > 0 {
		r.backlog[d] = append(queued, p...)
		return nil
	}
	n, err := d.TryWrite(p)
	if err != nil {
		return err
	}
	if n < len(p) {
		if r.backlog == nil {
			r.backlog = make(map[*Descriptor][]byte)
		}
		r.backlog[d] = append([]byte(nil), p[n:]...)
	}
	return nil
}

// discardBacklog drops queued bytes that can no longer be delivered.
func (r *Route) discardBacklog() int {
	n := 0
	for _, q := range r.backlog {
		n += len(q)
	}
	r.backlog = nil
	return n
}

// Routes names the three routes of a session.
type Routes struct {
	Input  *Route // operator stdin -> child stdin
	Output *Route // child stdout -> operator stdout
	Error  *Route // child stderr -> operator stderr
}

// List returns the routes in fixed order: input, output, error.
func (rs Routes) List() []*Route {
	list := make([]*Route, 0, 3)
	for _, r := range []*Route{rs.Input, rs.Output, rs.Error} {
		if r != nil {
			list = append(list, r)
		}
	}
	return list
}

// Table owns the transcript and the routes that share it.
type Table struct {
	Transcript *Descriptor
	Routes     Routes

	closed bool
}

// NewTable checks that every route shares transcript as its first
// destination.
func NewTable(transcript *Descriptor, routes Routes) (*Table, error) {
	for _, r := range routes.List() {
		if r.Transcript() != transcript {
			return nil, fmt.Errorf("route %s does not start with the transcript", r.Name)
		}
	}
	return &Table{Transcript: transcript, Routes: routes}, nil
}

// Close releases the transcript and every descriptor the routes still hold
// open, each exactly once. Later calls do nothing.
func (t *Table) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	if t.Transcript.State() == StateOpen {
		if err := t.Transcript.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range t.Routes.List() {
		if r.Source.State() == StateOpen {
			if err := r.Source.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		for _, d := range r.Owned() {
			if d.State() == StateOpen {
				if err := d.Close(); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	return errors.Join(errs...)
}
