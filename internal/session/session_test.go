package session

import (
	"bytes"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"proglog/internal/config"
	"proglog/internal/launcher"
	"proglog/internal/watcher"
	"proglog/pkg/transcript"
)

type testSession struct {
	*Session
	logPath    string
	stdoutPath string
	stderrPath string
}

func newTestSession(t *testing.T) *testSession {
	t.Helper()
	dir := t.TempDir()

	stdin, err := os.Open(os.DevNull)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stdin.Close() })

	stdoutPath := filepath.Join(dir, "stdout")
	stdout, err := os.Create(stdoutPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stdout.Close() })

	stderrPath := filepath.Join(dir, "stderr")
	stderr, err := os.Create(stderrPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stderr.Close() })

	cfg := config.Default()
	cfg.LogPath = filepath.Join(dir, "transcript")

	return &testSession{
		Session: &Session{
			Config: cfg,
			Stdin:  stdin,
			Stdout: stdout,
			Stderr: stderr,
		},
		logPath:    cfg.LogPath,
		stdoutPath: stdoutPath,
		stderrPath: stderrPath,
	}
}

func (s *testSession) records(t *testing.T) []transcript.Record {
	t.Helper()
	f, err := os.Open(s.logPath)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	records, err := transcript.NewReader(f).Records()
	require.NoError(t, err)
	return records
}

func texts(records []transcript.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, string(r.Line))
	}
	return out
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRun_Echo(t *testing.T) {
	s := newTestSession(t)

	code, err := s.Run([]string{"echo", "hello"})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	records := s.records(t)
	require.Len(t, records, 2)
	assert.Equal(t, "$ echo hello\n", string(records[0].Line))
	assert.Equal(t, "hello\n", string(records[1].Line))
	assert.False(t, records[1].Timestamp.Before(records[0].Timestamp))

	assert.Equal(t, "hello\n", readFile(t, s.stdoutPath))
	assert.Empty(t, readFile(t, s.stderrPath))
}

func TestRun_ExitCode(t *testing.T) {
	s := newTestSession(t)

	code, err := s.Run([]string{"sh", "-c", "exit 42"})
	require.NoError(t, err)
	assert.Equal(t, 42, code)
	assert.Equal(t, []string{"$ sh -c exit 42\n"}, texts(s.records(t)))
}

func TestRun_Signaled(t *testing.T) {
	s := newTestSession(t)

	code, err := s.Run([]string{"sh", "-c", "echo before; kill -9 $$"})
	require.Error(t, err)
	assert.NotEqual(t, 0, code)

	var signaled *watcher.ChildSignaledError
	require.ErrorAs(t, err, &signaled)
	assert.Equal(t, syscall.SIGKILL, signaled.Signal)
	assert.Equal(t, "terminated by signal 9 (SIGKILL)", err.Error())

	assert.Equal(t, []string{"$ sh -c echo before; kill -9 $$\n", "before\n"}, texts(s.records(t)))
}

func TestRun_StdinFromFile(t *testing.T) {
	s := newTestSession(t)

	inPath := filepath.Join(t.TempDir(), "input")
	require.NoError(t, os.WriteFile(inPath, []byte("one\ntwo\n"), 0o600))
	in, err := os.Open(inPath)
	require.NoError(t, err)
	defer func() { _ = in.Close() }()
	s.Stdin = in

	code, err := s.Run([]string{"cat"})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	// Typed input and the echoed output both land in the transcript.
	records := texts(s.records(t))
	require.NotEmpty(t, records)
	assert.Equal(t, "$ cat\n", records[0])
	assert.ElementsMatch(t, []string{"one\n", "two\n", "one\n", "two\n"}, records[1:])
	assert.Equal(t, "one\ntwo\n", readFile(t, s.stdoutPath))
}

func TestRun_LargeInputThroughCat(t *testing.T) {
	s := newTestSession(t)

	// Far more than a pipe holds, so cat blocks writing while proglog still
	// has input for it.
	var input []byte
	line := append(bytes.Repeat([]byte{'y'}, 4095), '\n')
	for len(input) < 1024*1024 {
		input = append(input, line...)
	}
	inPath := filepath.Join(t.TempDir(), "input")
	require.NoError(t, os.WriteFile(inPath, input, 0o600))
	in, err := os.Open(inPath)
	require.NoError(t, err)
	defer func() { _ = in.Close() }()
	s.Stdin = in

	type result struct {
		code int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		code, err := s.Run([]string{"cat"})
		done <- result{code, err}
	}()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, 0, res.code)
	case <-time.After(30 * time.Second):
		t.Fatal("session did not finish relaying input through cat")
	}

	assert.True(t, bytes.Equal(input, []byte(readFile(t, s.stdoutPath))))
	lines := bytes.Count(input, []byte("\n"))
	assert.Len(t, s.records(t), 1+2*lines)
}

func TestRun_BackgroundHoldsOutputOpen(t *testing.T) {
	s := newTestSession(t)

	code, err := s.Run([]string{"sh", "-c", "printf 'Password: '; sleep 2 &"})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	assert.Equal(t, "Password: ", readFile(t, s.stdoutPath))
	assert.Equal(t, []string{"$ sh -c printf 'Password: '; sleep 2 &\n", "Password: \n"}, texts(s.records(t)))
}

func TestRun_PartialLine(t *testing.T) {
	s := newTestSession(t)

	code, err := s.Run([]string{"sh", "-c", "printf 'no newline' >&2"})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	// The operator sees the bytes as written; the transcript ends the record.
	assert.Equal(t, "no newline", readFile(t, s.stderrPath))
	assert.Equal(t, []string{"$ sh -c printf 'no newline' >&2\n", "no newline\n"}, texts(s.records(t)))
}

func TestRun_LabelOutput(t *testing.T) {
	s := newTestSession(t)
	s.Config.LabelOutput = true

	_, err := s.Run([]string{"sh", "-c", "echo out; echo err >&2"})
	require.NoError(t, err)

	for path, want := range map[string]string{s.stdoutPath: "out\n", s.stderrPath: "err\n"} {
		f, err := os.Open(path)
		require.NoError(t, err)
		records, err := transcript.NewReader(f).Records()
		_ = f.Close()
		require.NoError(t, err)
		require.Len(t, records, 1, path)
		assert.Equal(t, want, string(records[0].Line))
	}
}

func TestRun_Appends(t *testing.T) {
	s := newTestSession(t)

	_, err := s.Run([]string{"echo", "first"})
	require.NoError(t, err)
	_, err = s.Run([]string{"echo", "second"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"$ echo first\n", "first\n",
		"$ echo second\n", "second\n",
	}, texts(s.records(t)))

	info, err := os.Stat(s.logPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRun_OperatorStreamsStayOpen(t *testing.T) {
	s := newTestSession(t)

	_, err := s.Run([]string{"true"})
	require.NoError(t, err)

	_, err = s.Stdout.WriteString("still usable\n")
	assert.NoError(t, err)
	_, err = unix.FcntlInt(s.Stdin.Fd(), unix.F_GETFD, 0)
	assert.NoError(t, err)
}

func TestRun_MissingProgram(t *testing.T) {
	s := newTestSession(t)

	code, err := s.Run([]string{"/nonexistent/proglog-test-program"})
	require.Error(t, err)
	assert.Equal(t, 1, code)
	assert.Contains(t, err.Error(), "failed to start")

	// The command record is written before the child is started.
	assert.Equal(t, []string{"$ /nonexistent/proglog-test-program\n"}, texts(s.records(t)))
}

func TestRun_Usage(t *testing.T) {
	s := newTestSession(t)

	code, err := s.Run(nil)
	require.ErrorIs(t, err, ErrUsage)
	assert.Equal(t, 1, code)
	_, statErr := os.Stat(s.logPath)
	assert.True(t, os.IsNotExist(statErr), "no transcript without a command")
}

func TestRun_UnwritableTranscript(t *testing.T) {
	s := newTestSession(t)
	s.Config.LogPath = filepath.Join(t.TempDir(), "missing", "transcript")

	code, err := s.Run([]string{"true"})
	require.Error(t, err)
	assert.Equal(t, 1, code)
	assert.Contains(t, err.Error(), "failed to open transcript")
}

func TestRun_TerminalStdin(t *testing.T) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("no pty available: %v", err)
	}
	defer func() { _ = ptmx.Close() }()
	defer func() { _ = tty.Close() }()

	before, err := unix.IoctlGetTermios(int(tty.Fd()), unix.TCGETS)
	require.NoError(t, err)

	s := newTestSession(t)
	s.Stdin = tty

	code, err := s.Run([]string{"sh", "-c", "echo done"})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	after, err := unix.IoctlGetTermios(int(tty.Fd()), unix.TCGETS)
	require.NoError(t, err)
	assert.Equal(t, *before, *after, "terminal mode must be restored")

	flags, err := unix.FcntlInt(tty.Fd(), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.Zero(t, flags&unix.O_NONBLOCK, "operator terminal must stay blocking")
}

// readLine reads byte by byte so nothing past the newline is consumed.
func readLine(t *testing.T, fd int) string {
	t.Helper()
	var line []byte
	b := make([]byte, 1)
	for {
		n, err := unix.Read(fd, b)
		if err == unix.EINTR {
			continue
		}
		require.NoError(t, err)
		require.Equal(t, 1, n, "unexpected end of stream after %q", line)
		line = append(line, b[0])
		if b[0] == '\n' {
			return string(line)
		}
	}
}

func TestForwardSignals(t *testing.T) {
	proc, err := launcher.Start([]string{"sh", "-c", `trap 'echo hup; exit 5' HUP; echo ready; while :; do sleep 0.05; done`}, "")
	require.NoError(t, err)
	defer func() {
		for _, d := range []*watcher.Descriptor{proc.Stdin, proc.Stdout, proc.Stderr} {
			_ = d.Close()
		}
		_ = proc.Close()
	}()
	require.NoError(t, unix.SetNonblock(proc.Stdout.Fd(), false))

	require.Equal(t, "ready\n", readLine(t, proc.Stdout.Fd()))

	stop := forwardSignals(proc)
	defer stop()
	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGHUP))

	assert.Equal(t, "hup\n", readLine(t, proc.Stdout.Fd()))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, dead, err := proc.Reap()
		require.NoError(t, err)
		if dead {
			assert.Equal(t, 5, status.Code)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("child did not exit after SIGHUP")
}
