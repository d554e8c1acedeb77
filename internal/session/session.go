// Package session runs one audited child: it opens the transcript, starts
// the child, wires the three routes and hands them to the reactor.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"proglog/internal/config"
	"proglog/internal/launcher"
	"proglog/internal/sysmon"
	"proglog/internal/tai64n"
	"proglog/internal/watcher"
	"proglog/pkg/transcript"
)

// ErrUsage is returned when no child command is given.
var ErrUsage = errors.New("usage: proglog [--log=<PATH>] <PROG> [<ARG>...]")

// Session is the operator side of one run.
type Session struct {
	Config *config.Config

	// Operator streams. The session works on duplicates, so these stay
	// open after Run returns.
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File

	// Dir is the child's working directory; empty means the current one.
	Dir string
}

// New returns a session on the process' own standard streams.
func New(cfg *config.Config) *Session {
	return &Session{
		Config: cfg,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes argv and returns the child's exit code. A child killed by a
// signal yields exit code 1 and a *watcher.ChildSignaledError. Any other
// error is a fatal failure of the session itself.
func (s *Session) Run(argv []string) (int, error) {
	if len(argv) == 0 {
		return 1, ErrUsage
	}

	tfd, err := unix.Open(s.Config.LogPath, unix.O_WRONLY|unix.O_CREAT|unix.O_APPEND|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return 1, fmt.Errorf("failed to open transcript %s: %w", s.Config.LogPath, os.NewSyscallError("open", err))
	}
	tr := watcher.NewDescriptor("transcript", tfd)

	// Released here until the route table takes them over.
	pending := []*watcher.Descriptor{tr}
	defer func() {
		for _, d := range pending {
			if d.State() == watcher.StateOpen {
				_ = d.Close()
			}
		}
	}()

	if err := tr.WriteRecord(tai64n.Now(), transcript.FormatCommand(argv)); err != nil {
		return 1, err
	}

	in, err := dupOperator(s.Stdin, "operator stdin")
	if err != nil {
		return 1, err
	}
	pending = append(pending, in)
	out, err := dupOperator(s.Stdout, "operator stdout")
	if err != nil {
		return 1, err
	}
	pending = append(pending, out)
	errOut, err := dupOperator(s.Stderr, "operator stderr")
	if err != nil {
		return 1, err
	}
	pending = append(pending, errOut)

	if restore := saveTerminal(in.Fd()); restore != nil {
		defer restore()
	}

	proc, err := launcher.Start(argv, s.Dir)
	if err != nil {
		return 1, err
	}
	defer func() { _ = proc.Close() }()
	pending = append(pending, proc.Stdin, proc.Stdout, proc.Stderr)
	logChild(proc.Pid())

	stopForwarding := forwardSignals(proc)
	defer stopForwarding()

	table, err := watcher.NewTable(tr, watcher.Routes{
		Input:  watcher.NewRoute("input", in, tr, watcher.Destination{Descriptor: proc.Stdin, Buffered: true}),
		Output: watcher.NewRoute("output", proc.Stdout, tr, watcher.Destination{Descriptor: out, Labeled: s.Config.LabelOutput}),
		Error:  watcher.NewRoute("error", proc.Stderr, tr, watcher.Destination{Descriptor: errOut, Labeled: s.Config.LabelOutput}),
	})
	if err != nil {
		return 1, err
	}
	pending = nil

	w, err := watcher.New(table, proc, watcher.Options{
		BufferSize: s.Config.BufferSize,
		DrainOnce:  s.Config.DrainOnce,
	})
	if err != nil {
		_ = table.Close()
		return 1, err
	}

	status, runErr := w.Run()
	closeErr := table.Close()

	if runErr != nil {
		return 1, runErr
	}
	if closeErr != nil {
		return 1, fmt.Errorf("failed to shut down session: %w", closeErr)
	}
	return status.Code, nil
}

// dupOperator duplicates an operator stream so that route teardown never
// closes the process' own descriptor.
func dupOperator(f *os.File, name string) (*watcher.Descriptor, error) {
	fd, err := unix.FcntlInt(f.Fd(), unix.F_DUPFD_CLOEXEC, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to duplicate %s: %w", name, os.NewSyscallError("fcntl", err))
	}
	return watcher.NewDescriptor(name, fd), nil
}

// saveTerminal records the terminal mode of fd, if it is a terminal, and
// returns a function restoring it.
func saveTerminal(fd int) func() {
	if !term.IsTerminal(fd) {
		return nil
	}
	state, err := term.GetState(fd)
	if err != nil {
		slog.Warn("Failed to save terminal state", "error", err)
		return nil
	}
	return func() {
		if err := term.Restore(fd, state); err != nil {
			slog.Warn("Failed to restore terminal state", "error", err)
		}
	}
}

func logChild(pid int) {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	info, err := sysmon.Describe(int32(pid))
	if err != nil {
		slog.Debug("Child exited before it could be described", "pid", pid, "error", err)
		return
	}
	slog.Debug("Child running", "pid", info.PID, "name", info.Name, "cmdline", info.Cmdline, "status", info.Status)
}

// forwardSignals keeps termination requests from killing the session
// before the child. SIGTERM and SIGHUP are passed on to the child. SIGINT
// and SIGQUIT come from the terminal, which already sends them to the
// child's process group, so they are only absorbed.
func forwardSignals(proc *launcher.Process) (stop func()) {
	signals := make(chan os.Signal, 4)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for sig := range signals {
			switch sig {
			case syscall.SIGTERM, syscall.SIGHUP:
				if err := proc.Signal(sig); err != nil {
					slog.Debug("Failed to forward signal", "signal", sig, "error", err)
				}
			default:
				slog.Debug("Signal absorbed", "signal", sig)
			}
		}
	}()
	return func() {
		signal.Stop(signals)
		close(signals)
		<-done
	}
}
