package watcher

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"proglog/internal/tai64n"
)

// ErrAlreadyClosed is returned when a descriptor is released twice.
var ErrAlreadyClosed = errors.New("descriptor already closed")

// State is the lifecycle state of a Descriptor.
type State int

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Descriptor is a named OS file descriptor with explicit ownership. Only
// its owner calls Close, and only once.
type Descriptor struct {
	name  string
	fd    int
	state State
}

// NewDescriptor takes ownership of fd.
func NewDescriptor(name string, fd int) *Descriptor {
	return &Descriptor{name: name, fd: fd}
}

func (d *Descriptor) Name() string { return d.name }

func (d *Descriptor) Fd() int { return d.fd }

func (d *Descriptor) State() State { return d.state }

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s(fd=%d, %s)", d.name, d.fd, d.state)
}

// Close releases the descriptor. A second call returns ErrAlreadyClosed.
func (d *Descriptor) Close() error {
	if d.state != StateOpen {
		return fmt.Errorf("%s: %w", d.name, ErrAlreadyClosed)
	}
	d.state = StateClosing
	err := unix.Close(d.fd)
	d.state = StateClosed
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", d.name, os.NewSyscallError("close", err))
	}
	return nil
}

// Write writes all of p. A descriptor that turns out to be non-blocking is
// waited on until it accepts more bytes.
func (d *Descriptor) Write(p []byte) error {
	for len(p) > 0 {
		n, err := unix.Write(d.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			if err := waitWritable(d.fd); err != nil {
				return fmt.Errorf("failed to write to %s: %w", d.name, err)
			}
			continue
		case err != nil:
			return fmt.Errorf("failed to write to %s: %w", d.name, os.NewSyscallError("write", err))
		}
		p = p[n:]
	}
	return nil
}

// TryWrite writes as much of p as the descriptor accepts without blocking
// and returns the number of bytes written. The descriptor must be in
// non-blocking mode; a full pipe is not an error.
func (d *Descriptor) TryWrite(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(d.fd, p[written:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return written, nil
		case err != nil:
			return written, fmt.Errorf("failed to write to %s: %w", d.name, os.NewSyscallError("write", err))
		}
		written += n
	}
	return written, nil
}

// Sync forces written data to stable storage. Descriptors that cannot be
// synced (pipes, terminals) report EINVAL, which is not an error here.
func (d *Descriptor) Sync() error {
	for {
		err := unix.Fsync(d.fd)
		switch err {
		case nil, unix.EINVAL:
			return nil
		case unix.EINTR:
			continue
		}
		return fmt.Errorf("failed to sync %s: %w", d.name, os.NewSyscallError("fsync", err))
	}
}

// WriteRecord writes label followed by payload in a single write and syncs.
func (d *Descriptor) WriteRecord(label tai64n.Label, payload []byte) error {
	rec := make([]byte, 0, tai64n.Size+len(payload))
	rec = append(rec, label.Bytes()...)
	rec = append(rec, payload...)
	if err := d.Write(rec); err != nil {
		return err
	}
	return d.Sync()
}

func (d *Descriptor) read(buf []byte) (int, error) {
	for {
		n, err := unix.Read(d.fd, buf)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// readable reports whether a read would return without blocking.
func (d *Descriptor) readable() (bool, error) {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, os.NewSyscallError("poll", err)
		}
		if n == 0 {
			return false, nil
		}
		if fds[0].Revents&unix.POLLNVAL != 0 {
			return false, os.NewSyscallError("poll", unix.EBADF)
		}
		return fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0, nil
	}
}

func waitWritable(fd int) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return os.NewSyscallError("poll", err)
		}
		return nil
	}
}
