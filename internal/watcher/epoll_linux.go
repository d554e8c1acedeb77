//go:build linux

package watcher

import (
	"os"
	"slices"

	"golang.org/x/sys/unix"
)

// poller waits for readiness on a set of descriptors with epoll. Descriptors
// epoll refuses to watch (regular files, /dev/null) never block on read, so
// they are reported ready on every wait.
type poller struct {
	epfd        int
	events      []unix.EpollEvent
	alwaysReady []int
	paused      map[int]bool
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &poller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, 8),
		paused: make(map[int]bool),
	}, nil
}

func (p *poller) add(fd int) error {
	return p.register(fd, unix.EPOLLIN)
}

// addWritable watches fd until it can take more bytes.
func (p *poller) addWritable(fd int) error {
	return p.register(fd, unix.EPOLLOUT)
}

func (p *poller) register(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	if err == unix.EPERM {
		p.alwaysReady = append(p.alwaysReady, fd)
		return nil
	}
	if err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

// remove must run before fd is closed: the registration belongs to the open
// file description, which may outlive fd when it has been duplicated.
func (p *poller) remove(fd int) error {
	if p.paused[fd] {
		delete(p.paused, fd)
		if !slices.Contains(p.alwaysReady, fd) {
			return nil
		}
	}
	if i := slices.Index(p.alwaysReady, fd); i >= 0 {
		p.alwaysReady = slices.Delete(p.alwaysReady, i, i+1)
		return nil
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

// pause stops reporting fd until resume. Level-triggered readiness would
// otherwise wake every wait. The fd leaves the epoll set entirely, since
// hangup and error events are reported even with an empty event mask.
func (p *poller) pause(fd int) error {
	if p.paused[fd] {
		return nil
	}
	p.paused[fd] = true
	if slices.Contains(p.alwaysReady, fd) {
		return nil
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

func (p *poller) resume(fd int) error {
	if !p.paused[fd] {
		return nil
	}
	delete(p.paused, fd)
	if slices.Contains(p.alwaysReady, fd) {
		return nil
	}
	return p.register(fd, unix.EPOLLIN)
}

func (p *poller) ready() []int {
	var fds []int
	for _, fd := range p.alwaysReady {
		if !p.paused[fd] {
			fds = append(fds, fd)
		}
	}
	return fds
}

// wait returns the ready descriptors in the order epoll reports them,
// followed by the always-ready ones that are not paused. With block set and nothing always
// ready it sleeps until some descriptor becomes ready.
func (p *poller) wait(block bool) ([]int, error) {
	always := p.ready()
	timeout := -1
	if !block || len(always) > 0 {
		timeout = 0
	}
	for {
		n, err := unix.EpollWait(p.epfd, p.events, timeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, os.NewSyscallError("epoll_wait", err)
		}
		ready := make([]int, 0, n+len(always))
		for _, ev := range p.events[:n] {
			ready = append(ready, int(ev.Fd))
		}
		ready = append(ready, always...)
		return ready, nil
	}
}

func (p *poller) close() error {
	if p.epfd < 0 {
		return nil
	}
	err := unix.Close(p.epfd)
	p.epfd = -1
	if err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}
