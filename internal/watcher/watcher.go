// Package watcher is the single-threaded reactor that relays a child's
// standard streams and tees them into a transcript.
//
// A Watcher owns a Table of three routes that share one transcript
// descriptor. It blocks in epoll until a source or the child's exit
// notifier is ready, drains every ready source completely before moving to
// the next one, and tears a route down when its source reaches end of
// stream. Once the child has been reaped it runs a final drain and stops.
//
// A route whose buffered destination (the child's stdin pipe) is full
// stops reading its source until the destination drains, so the reactor
// never blocks on a child that is itself blocked writing output.
package watcher

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultBufferSize is the size of a single read from a source.
const DefaultBufferSize = 4096

// Phase is the reactor state.
type Phase int

const (
	PhaseRunning Phase = iota
	PhaseChildDeadDraining
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseChildDeadDraining:
		return "child-dead-draining"
	case PhaseTerminated:
		return "terminated"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Options tune a Watcher.
type Options struct {
	// BufferSize is the maximum number of bytes per read.
	BufferSize int

	// DrainOnce stops after exactly one drain pass once the child is dead.
	// Otherwise passes repeat until one of them reads nothing.
	DrainOnce bool

	// Now is the clock used for labels. Nil means time.Now.
	Now func() time.Time
}

// Watcher multiplexes the sources of a Table into their destinations.
type Watcher struct {
	table  *Table
	active []*Route
	child  Child
	exitFD int
	sink   *Sink
	poller *poller
	buf    []byte
	opts   Options

	// buffered destination fd -> route waiting for it to become writable
	waiting map[int]*Route

	phase      Phase
	status     ExitStatus
	progressed bool
}

// New registers every route source and the child's exit notifier.
func New(table *Table, child Child, opts Options) (*Watcher, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	exitFD := child.ExitFD()
	if exitFD < 0 {
		return nil, errors.New("child has no exit notifier")
	}

	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		table:  table,
		active: table.Routes.List(),
		child:  child,
		exitFD: exitFD,
		sink:   NewSink(opts.Now),
		poller: p,
		buf:     make([]byte, opts.BufferSize),
		opts:    opts,
		waiting: make(map[int]*Route),
	}
	for _, r := range w.active {
		if err := p.add(r.Source.Fd()); err != nil {
			_ = p.close()
			return nil, fmt.Errorf("failed to watch %s: %w", r.Source.Name(), err)
		}
	}
	if err := p.add(exitFD); err != nil {
		_ = p.close()
		return nil, fmt.Errorf("failed to watch child exit: %w", err)
	}
	return w, nil
}

// Phase returns the current reactor state.
func (w *Watcher) Phase() Phase {
	return w.phase
}

// Active returns the routes whose source has not reached end of stream.
func (w *Watcher) Active() []*Route {
	return slices.Clone(w.active)
}

// Run loops until the child has died and the final drain is done. It
// returns the child's exit status; a child killed by a signal is reported
// through the returned error as well. Partial lines of routes still open at
// the end are written to the transcript before Run returns.
func (w *Watcher) Run() (ExitStatus, error) {
	defer func() { _ = w.poller.close() }()

	for w.phase != PhaseTerminated {
		w.progressed = false
		ready, err := w.poller.wait(w.phase == PhaseRunning)
		if err != nil {
			return ExitStatus{}, err
		}
		for _, fd := range ready {
			if r, ok := w.waiting[fd]; ok {
				if err := w.resume(r); err != nil {
					return ExitStatus{}, err
				}
				continue
			}
			r := w.routeBySource(fd)
			if r == nil || r.Stalled() {
				continue
			}
			// Input is never forwarded to a dead child.
			if w.phase == PhaseChildDeadDraining && r == w.table.Routes.Input {
				continue
			}
			if err := w.drain(r); err != nil {
				return ExitStatus{}, err
			}
		}

		switch w.phase {
		case PhaseRunning:
			status, dead, err := w.child.Reap()
			if err != nil {
				return ExitStatus{}, err
			}
			if dead {
				w.status = status
				w.setPhase(PhaseChildDeadDraining)
				if err := w.poller.remove(w.exitFD); err != nil {
					return ExitStatus{}, err
				}
				if err := w.abandonInput(); err != nil {
					return ExitStatus{}, err
				}
			}
		case PhaseChildDeadDraining:
			if w.opts.DrainOnce || !w.progressed {
				w.setPhase(PhaseTerminated)
			}
		}
	}

	// Sources held open by a grandchild, or left after a single drain pass,
	// never reach end of stream.
	for _, r := range w.active {
		if err := w.sink.Flush(r); err != nil {
			return ExitStatus{}, err
		}
	}
	return w.status, w.status.Err()
}

func (w *Watcher) setPhase(p Phase) {
	slog.Debug("Watcher phase change", "from", w.phase, "to", p)
	w.phase = p
}

func (w *Watcher) routeBySource(fd int) *Route {
	for _, r := range w.active {
		if r.Source.Fd() == fd {
			return r
		}
	}
	return nil
}

// drain reads r.Source until it would block or ends. Reads after the
// first are guarded by a zero-timeout poll so the source never needs
// O_NONBLOCK.
func (w *Watcher) drain(r *Route) error {
	for first := true; ; first = false {
		if !first {
			ok, err := r.Source.readable()
			if err != nil {
				return fmt.Errorf("failed to drain %s: %w", r.Source.Name(), err)
			}
			if !ok {
				return nil
			}
		}
		n, err := r.Source.read(w.buf)
		switch {
		case err == unix.EAGAIN:
			return nil
		case err == unix.EIO:
			// terminal hangup
			return w.removeRoute(r)
		case err != nil:
			return fmt.Errorf("failed to read from %s: %w", r.Source.Name(), os.NewSyscallError("read", err))
		case n == 0:
			return w.removeRoute(r)
		}
		w.progressed = true
		if err := w.sink.Deliver(r, w.buf[:n]); err != nil {
			return err
		}
		if r.Stalled() {
			return w.stall(r)
		}
	}
}

// stall parks r until its buffered destinations can take more bytes.
func (w *Watcher) stall(r *Route) error {
	if err := w.poller.pause(r.Source.Fd()); err != nil {
		return err
	}
	for _, d := range r.Waiting() {
		if err := w.poller.addWritable(d.Fd()); err != nil {
			return fmt.Errorf("failed to watch %s: %w", d.Name(), err)
		}
		w.waiting[d.Fd()] = r
	}
	slog.Debug("Route stalled", "route", r.Name)
	return nil
}

// resume delivers r's backlog and reads its source again once nothing is
// left queued.
func (w *Watcher) resume(r *Route) error {
	if err := w.sink.Resume(r); err != nil {
		return err
	}
	if r.Stalled() {
		return nil
	}
	if err := w.unwatchWaiting(r); err != nil {
		return err
	}
	return w.poller.resume(r.Source.Fd())
}

func (w *Watcher) unwatchWaiting(r *Route) error {
	for fd, waiting := range w.waiting {
		if waiting != r {
			continue
		}
		if err := w.poller.remove(fd); err != nil {
			return err
		}
		delete(w.waiting, fd)
	}
	return nil
}

// abandonInput drops input the dead child will never read.
func (w *Watcher) abandonInput() error {
	r := w.table.Routes.Input
	if r == nil || !r.Stalled() {
		return nil
	}
	if err := w.unwatchWaiting(r); err != nil {
		return err
	}
	if n := r.discardBacklog(); n > 0 {
		slog.Debug("Discarded input for exited child", "bytes", n)
	}
	return nil
}

// removeRoute tears down a route whose source reached end of stream. The
// shared transcript stays open.
func (w *Watcher) removeRoute(r *Route) error {
	if err := w.sink.Flush(r); err != nil {
		return err
	}
	if err := w.unwatchWaiting(r); err != nil {
		return err
	}
	if err := w.poller.remove(r.Source.Fd()); err != nil {
		return err
	}
	if err := r.Source.Close(); err != nil {
		return err
	}
	for _, d := range r.Owned() {
		if err := d.Close(); err != nil {
			return err
		}
	}
	w.active = slices.DeleteFunc(w.active, func(a *Route) bool { return a == r })
	slog.Debug("Route closed", "route", r.Name, "remaining", len(w.active))
	return nil
}
