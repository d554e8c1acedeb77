// Package launcher starts the child program on fresh pipes and reports its
// termination to the reactor.
package launcher

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"proglog/internal/watcher"
)

// Process is a started child. Stdin is the write end of the child's stdin
// pipe; Stdout and Stderr are the read ends of its output pipes. All three
// are non-blocking and the caller takes ownership of them.
type Process struct {
	Stdin  *watcher.Descriptor
	Stdout *watcher.Descriptor
	Stderr *watcher.Descriptor

	proc     *os.Process
	pid      int
	exitFD   int
	released bool

	// SIGCHLD fallback when pidfd_open is unavailable
	sigchld    chan os.Signal
	notifyW    int
	notifyDone chan struct{}

	reaped   bool
	lastStat watcher.ExitStatus
}

var _ watcher.Child = (*Process)(nil)

// pidfdOpen is replaced in tests to exercise the SIGCHLD fallback.
var pidfdOpen = unix.PidfdOpen

type pipe struct {
	r, w int
}

func newPipe() (pipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return pipe{}, os.NewSyscallError("pipe2", err)
	}
	return pipe{r: fds[0], w: fds[1]}, nil
}

func closeAll(fds ...int) {
	for _, fd := range fds {
		if fd >= 0 {
			_ = unix.Close(fd)
		}
	}
}

// Start runs argv with its standard streams attached to new pipes.
func Start(argv []string, dir string) (*Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("no command given")
	}

	in, err := newPipe()
	if err != nil {
		return nil, err
	}
	out, err := newPipe()
	if err != nil {
		closeAll(in.r, in.w)
		return nil, err
	}
	errp, err := newPipe()
	if err != nil {
		closeAll(in.r, in.w, out.r, out.w)
		return nil, err
	}

	// The child ends are handed over as *os.File so exec places them on
	// fd 0, 1 and 2 directly without copying goroutines.
	childIn := os.NewFile(uintptr(in.r), "child-stdin")
	childOut := os.NewFile(uintptr(out.w), "child-stdout")
	childErr := os.NewFile(uintptr(errp.w), "child-stderr")

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdin = childIn
	cmd.Stdout = childOut
	cmd.Stderr = childErr

	startErr := cmd.Start()

	// The parent never uses the child ends.
	_ = childIn.Close()
	_ = childOut.Close()
	_ = childErr.Close()

	if startErr != nil {
		closeAll(in.w, out.r, errp.r)
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], startErr)
	}

	for _, fd := range []int{in.w, out.r, errp.r} {
		if err := unix.SetNonblock(fd, true); err != nil {
			closeAll(in.w, out.r, errp.r)
			_ = cmd.Process.Kill()
			_, _ = unix.Wait4(cmd.Process.Pid, nil, 0, nil)
			_ = cmd.Process.Release()
			return nil, os.NewSyscallError("fcntl", err)
		}
	}

	p := &Process{
		Stdin:   watcher.NewDescriptor("child stdin", in.w),
		Stdout:  watcher.NewDescriptor("child stdout", out.r),
		Stderr:  watcher.NewDescriptor("child stderr", errp.r),
		proc:    cmd.Process,
		pid:     cmd.Process.Pid,
		exitFD:  -1,
		notifyW: -1,
	}
	if err := p.openExitNotifier(); err != nil {
		_ = cmd.Process.Kill()
		_, _ = unix.Wait4(p.pid, nil, 0, nil)
		_ = cmd.Process.Release()
		p.closeStreams()
		return nil, err
	}

	slog.Debug("Child started", "pid", p.pid, "argv", argv)
	return p, nil
}

// openExitNotifier prefers a pidfd, which becomes readable when the child
// terminates. Kernels without pidfd_open get a self-pipe written on every
// SIGCHLD.
func (p *Process) openExitNotifier() error {
	fd, err := pidfdOpen(p.pid, 0)
	if err == nil {
		unix.CloseOnExec(fd)
		p.exitFD = fd
		return nil
	}
	// Seccomp profiles of older container runtimes answer EPERM.
	if err != unix.ENOSYS && err != unix.EPERM {
		return os.NewSyscallError("pidfd_open", err)
	}

	slog.Debug("pidfd_open unavailable, using SIGCHLD", "pid", p.pid, "error", err)
	np, err := newPipe()
	if err != nil {
		return err
	}
	for _, fd := range []int{np.r, np.w} {
		if err := unix.SetNonblock(fd, true); err != nil {
			closeAll(np.r, np.w)
			return os.NewSyscallError("fcntl", err)
		}
	}
	p.exitFD = np.r
	p.notifyW = np.w
	p.sigchld = make(chan os.Signal, 1)
	p.notifyDone = make(chan struct{})
	signal.Notify(p.sigchld, syscall.SIGCHLD)
	go func(ch <-chan os.Signal, w int, done chan<- struct{}) {
		defer close(done)
		for range ch {
			_, _ = unix.Write(w, []byte{0})
		}
	}(p.sigchld, np.w, p.notifyDone)
	// The child may have exited before Notify; make the first wait return.
	_, _ = unix.Write(np.w, []byte{0})
	return nil
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.pid
}

// ExitFD implements watcher.Child.
func (p *Process) ExitFD() int {
	return p.exitFD
}

// Reap implements watcher.Child with a non-blocking wait4.
func (p *Process) Reap() (watcher.ExitStatus, bool, error) {
	if p.reaped {
		return p.lastStat, true, nil
	}
	if p.notifyW >= 0 {
		var buf [64]byte
		for {
			if n, _ := unix.Read(p.exitFD, buf[:]); n <= 0 {
				break
			}
		}
	}

	var ws unix.WaitStatus
	for {
		pid, err := unix.Wait4(p.pid, &ws, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return watcher.ExitStatus{}, false, os.NewSyscallError("wait4", err)
		}
		if pid == 0 {
			return watcher.ExitStatus{}, false, nil
		}
		break
	}

	switch {
	case ws.Exited():
		p.lastStat = watcher.ExitStatus{Code: ws.ExitStatus()}
	case ws.Signaled():
		p.lastStat = watcher.ExitStatus{Signaled: true, Signal: syscall.Signal(ws.Signal())}
	default:
		return watcher.ExitStatus{}, false, nil
	}
	p.reaped = true
	slog.Debug("Child reaped", "pid", p.pid, "code", p.lastStat.Code, "signaled", p.lastStat.Signaled)
	return p.lastStat, true, nil
}

// Signal delivers sig to the child. It is safe to call from any goroutine;
// after the child has been reaped, or after Close, it returns an error.
func (p *Process) Signal(sig os.Signal) error {
	return p.proc.Signal(sig)
}

// Close releases the exit notifier and the runtime's process handle. The
// stream descriptors belong to the caller and are not touched.
func (p *Process) Close() error {
	if !p.released {
		// The child is reaped with wait4, so cmd.Wait never frees this.
		_ = p.proc.Release()
		p.released = true
	}
	if p.sigchld != nil {
		signal.Stop(p.sigchld)
		close(p.sigchld)
		<-p.notifyDone
		p.sigchld = nil
	}
	var err error
	if p.exitFD >= 0 {
		if cerr := unix.Close(p.exitFD); cerr != nil {
			err = os.NewSyscallError("close", cerr)
		}
		p.exitFD = -1
	}
	if p.notifyW >= 0 {
		_ = unix.Close(p.notifyW)
		p.notifyW = -1
	}
	return err
}

func (p *Process) closeStreams() {
	for _, d := range []*watcher.Descriptor{p.Stdin, p.Stdout, p.Stderr} {
		if d.State() == watcher.StateOpen {
			_ = d.Close()
		}
	}
}
