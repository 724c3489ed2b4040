// Package oracle runs a candidate ChunkSet's materialization under the
// configured command template and resource limits, and classifies the
// execution as FAIL or PASS against a FailurePredicate.
//
// An Oracle owns all child-process and pipe lifecycle for a query: every
// exit path, including a timeout, an early substring match, and an error,
// releases the tempfile, closes every fd, and reaps the child exactly once.
package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/calvinalkan/ddmin/internal/cache"
	"github.com/calvinalkan/ddmin/internal/chunkset"
	"github.com/calvinalkan/ddmin/internal/cmdtemplate"
	"github.com/calvinalkan/ddmin/internal/materializer"
	"github.com/calvinalkan/ddmin/internal/predicate"
)

// Oracle is the deterministic, memoizable, total boolean function over
// candidate ChunkSets that the ddmin engine searches against.
type Oracle struct {
	Original   io.ReaderAt
	Template   *cmdtemplate.Template
	Predicate  *predicate.Predicate
	Mat        *materializer.Materializer
	Cache      *cache.Cache
	Shell      bool
	StdinInput bool

	// OnTimeout, when non-nil, is called once per timed-out query so the
	// caller can log it. Never invoked for any other outcome.
	OnTimeout func()
}

// Query classifies cs as FAIL or PASS. Cache hits never invoke the
// subject.
func (o *Oracle) Query(ctx context.Context, cs chunkset.ChunkSet) (bool, error) {
	norm := cs.Normalize()

	if fail, ok := o.Cache.Get(norm); ok {
		return fail, nil
	}

	fail, err := o.run(ctx, norm)
	if err != nil {
		return false, err
	}

	o.Cache.Put(norm, fail)

	return fail, nil
}

// run executes one oracle query against the subject (a cache miss).
func (o *Oracle) run(ctx context.Context, cs chunkset.ChunkSet) (bool, error) {
	data, err := cs.Materialize(o.Original)
	if err != nil {
		return false, fmt.Errorf("materializing candidate: %w", err)
	}

	path, release, err := o.Mat.Write(bytes.NewReader(data), chunkset.ChunkSet{{Start: 0, End: int64(len(data))}})
	if err != nil {
		return false, fmt.Errorf("writing tempfile: %w", err)
	}
	defer release()

	absPath, err := materializer.AbsPath(path)
	if err != nil {
		return false, fmt.Errorf("resolving tempfile path: %w", err)
	}

	expanded, err := cmdtemplate.Expand(o.Template, absPath, data)
	if err != nil {
		return false, fmt.Errorf("expanding command template: %w", err)
	}

	var argv []string
	if o.Shell {
		argv = []string{"sh", "-c", expanded.ShellCommand}
	} else {
		argv = expanded.Argv
	}

	return o.supervise(ctx, argv, path)
}

// fdEventKind distinguishes the three things a watched-fd reader goroutine
// can report.
type fdEventKind int

const (
	evMatch fdEventKind = iota
	evEOF
	evErr
)

type fdEvent struct {
	fd   int
	kind fdEventKind
	err  error
}

const readBufSize = 64 * 1024

// supervise forks the child, watches its fds against the predicate, and
// classifies the outcome. Watched fds and the timeout fan into channels and
// a single select statement multiplexes them, so the supervisor blocks in
// exactly one place.
func (o *Oracle) supervise(ctx context.Context, argv []string, stdinPath string) (bool, error) {
	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // argv is user-controlled by design (the command template)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cleanup, err := o.wireFilesAndStdin(cmd, stdinPath)
	if err != nil {
		return false, err
	}
	defer cleanup()

	watched, err := o.watchedReadEnds(cmd)
	if err != nil {
		return false, err
	}
	defer closeAll(watched)

	if startErr := cmd.Start(); startErr != nil {
		o.closeChildSideWriteEnds(cmd)

		// A candidate whose command cannot be resolved or exec'd simply
		// does not reproduce the failure. Only a genuine fork/resource
		// error is fatal.
		var execErr *exec.Error
		if errors.As(startErr, &execErr) || errors.Is(startErr, os.ErrNotExist) ||
			errors.Is(startErr, os.ErrPermission) || errors.Is(startErr, syscall.ENOEXEC) {
			return false, nil
		}

		return false, fmt.Errorf("%w: %w", errForkFailed, startErr)
	}

	o.closeChildSideWriteEnds(cmd)

	events := make(chan fdEvent, len(watched))
	for fd, r := range watched {
		go watchFd(fd, r, o.Predicate.Writes, events)
	}

	waitCh := make(chan *os.ProcessState, 1)

	go func() {
		_ = cmd.Wait()
		waitCh <- cmd.ProcessState
	}()

	var timeoutCh <-chan time.Time
	if o.Predicate.TimeoutMs > 0 {
		timer := time.NewTimer(time.Duration(o.Predicate.TimeoutMs) * time.Millisecond)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	matched, timedOut, state, err := o.waitForVerdict(ctx, cmd, events, waitCh, timeoutCh, len(watched))
	if err != nil {
		return false, err
	}

	if timedOut {
		if o.OnTimeout != nil {
			o.OnTimeout()
		}

		return false, nil // a timeout is never a failure
	}

	if matched {
		return true, nil // substring match short-circuits status/signal classification
	}

	return classify(state, o.Predicate), nil
}

// waitForVerdict multiplexes watched-fd events, process exit, the timeout,
// and outer cancellation in a single select loop: the one place the
// supervisor blocks. A substring match or the timer firing kills the whole
// process group so Wait() reaps promptly. The child exiting is terminal
// only when no watched fds remain open: a subject can write a watched
// substring and exit before the reader goroutine is scheduled, so every
// watched fd is drained to EOF (which arrives promptly once the child is
// dead and the parent's write-end copies are closed) before the verdict is
// classified by exit status. With no watched fds at all, the reap itself is
// the terminal event.
func (o *Oracle) waitForVerdict(
	ctx context.Context, cmd *exec.Cmd, events <-chan fdEvent, waitCh <-chan *os.ProcessState,
	timeoutCh <-chan time.Time, openFds int,
) (matched, timedOut bool, state *os.ProcessState, err error) {
	var exited *os.ProcessState

	reap := func() *os.ProcessState {
		if exited != nil {
			return exited
		}

		return <-waitCh
	}

	wait := waitCh

	for {
		select {
		case ev := <-events:
			if ev.kind == evMatch {
				killGroup(cmd)

				return true, false, reap(), nil
			}

			openFds--
			if openFds == 0 {
				return false, false, reap(), nil
			}

		case s := <-wait:
			if openFds == 0 {
				return false, false, s, nil
			}

			// Watched fds may still hold buffered bytes; keep draining
			// them to EOF before classifying.
			exited = s
			wait = nil

		case <-timeoutCh:
			killGroup(cmd)

			return false, true, reap(), nil

		case <-ctx.Done():
			killGroup(cmd)
			_ = reap()

			return false, false, nil, ctx.Err()
		}
	}
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// The child got its own process group before exec, so killing its
	// negated pid reaches every descendant it spawned too.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// classify reports FAIL iff the process exited with a status in the
// predicate's status set, or was killed by a signal in the predicate's
// signal set.
func classify(state *os.ProcessState, pred *predicate.Predicate) bool {
	if state == nil {
		return false
	}

	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		return false
	}

	if ws.Exited() && pred.Status[ws.ExitStatus()] {
		return true
	}

	if ws.Signaled() && pred.Signal[int(ws.Signal())] {
		return true
	}

	return false
}

// watchFd reads r until EOF, testing each incoming read (plus the trailing
// bytes of the previous read, to catch matches that straddle a read
// boundary) against every substring watched on fd. It reports the first
// outcome (match, EOF, or error) and then returns; matches are never
// double-counted, so one event is enough.
func watchFd(fd int, r *os.File, writes []predicate.WriteSpec, events chan<- fdEvent) {
	var substrings []string
	for _, w := range writes {
		if w.Fd == fd {
			substrings = append(substrings, w.Substring)
		}
	}

	maxLen := longestLen(substrings)

	tail := make([]byte, 0, maxLen)
	buf := make([]byte, readBufSize)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			window := append(append([]byte{}, tail...), buf[:n]...)

			for _, s := range substrings {
				if s != "" && bytes.Contains(window, []byte(s)) {
					events <- fdEvent{fd: fd, kind: evMatch}

					return
				}
			}

			tail = trimTail(window, maxLen)
		}

		if err != nil {
			if err == io.EOF {
				events <- fdEvent{fd: fd, kind: evEOF}
			} else {
				events <- fdEvent{fd: fd, kind: evErr, err: err}
			}

			return
		}
	}
}

// trimTail keeps the last maxLen-1 bytes of window: the longest suffix that
// could still be the prefix of a match straddling the next read.
func trimTail(window []byte, maxLen int) []byte {
	keep := maxLen - 1
	if keep <= 0 {
		return nil
	}

	if len(window) <= keep {
		return append([]byte{}, window...)
	}

	return append([]byte{}, window[len(window)-keep:]...)
}

func longestLen(substrings []string) int {
	max := 0
	for _, s := range substrings {
		if len(s) > max {
			max = len(s)
		}
	}

	return max
}

// wireFilesAndStdin sets up the child's stdin (either a read-only open of
// stdinPath when stdin-input mode is on, or a pipe whose write end the
// parent closes immediately so the child sees EOF) and unwatched
// stdout/stderr (dup'd from /dev/null). Returns a cleanup func that closes
// every file this call opened that the child doesn't own after Start.
func (o *Oracle) wireFilesAndStdin(cmd *exec.Cmd, stdinPath string) (func(), error) {
	var toClose []*os.File

	cleanup := func() {
		for _, f := range toClose {
			_ = f.Close()
		}
	}

	stdin, err := o.stdinSource(stdinPath, &toClose)
	if err != nil {
		cleanup()

		return nil, err
	}

	cmd.Stdin = stdin

	devnull, err := openDevNull()
	if err != nil {
		cleanup()

		return nil, err
	}

	toClose = append(toClose, devnull)

	if !o.watchesFd(1) {
		cmd.Stdout = devnull
	}

	if !o.watchesFd(2) {
		cmd.Stderr = devnull
	}

	return cleanup, nil
}

func (o *Oracle) stdinSource(stdinPath string, toClose *[]*os.File) (*os.File, error) {
	if o.StdinInput {
		f, err := os.Open(stdinPath) //nolint:gosec // stdinPath is our own tempfile
		if err != nil {
			return nil, fmt.Errorf("opening tempfile for stdin: %w", err)
		}

		*toClose = append(*toClose, f)

		return f, nil
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}

	_ = w.Close() // parent closes its write end immediately: child sees EOF on stdin
	*toClose = append(*toClose, r)

	return r, nil
}

func openDevNull() (*os.File, error) {
	f, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", os.DevNull, err)
	}

	return f, nil
}

func (o *Oracle) watchesFd(fd int) bool {
	for _, w := range o.Predicate.Writes {
		if w.Fd == fd {
			return true
		}
	}

	return false
}

// watchedReadEnds creates one pipe per distinct watched fd and wires its
// write end into cmd (via Stdout/Stderr for fd 1/2, via ExtraFiles for any
// other fd — Go's os/exec always maps ExtraFiles to consecutive descriptors
// starting at 3, so gaps between watched fd numbers are padded with
// /dev/null so the requested fd number lines up for the child).
func (o *Oracle) watchedReadEnds(cmd *exec.Cmd) (map[int]*os.File, error) {
	reads := make(map[int]*os.File)

	var writeEnds []*os.File

	fail := func(err error) (map[int]*os.File, error) {
		closeAll(reads)

		for _, f := range writeEnds {
			_ = f.Close()
		}

		for _, f := range cmd.ExtraFiles {
			if f != nil {
				_ = f.Close()
			}
		}

		return nil, err
	}

	var extraMax int

	for _, w := range o.Predicate.Writes {
		if w.Fd > 2 && w.Fd > extraMax {
			extraMax = w.Fd
		}
	}

	for fd := 1; fd <= 2; fd++ {
		if !o.watchesFd(fd) {
			continue
		}

		r, w, err := os.Pipe()
		if err != nil {
			return fail(fmt.Errorf("creating pipe for fd %d: %w", fd, err))
		}

		reads[fd] = r
		writeEnds = append(writeEnds, w)

		if fd == 1 {
			cmd.Stdout = w
		} else {
			cmd.Stderr = w
		}
	}

	if extraMax > 2 {
		cmd.ExtraFiles = make([]*os.File, extraMax-2)

		for fd := 3; fd <= extraMax; fd++ {
			if o.watchesFd(fd) {
				r, w, err := os.Pipe()
				if err != nil {
					return fail(fmt.Errorf("creating pipe for fd %d: %w", fd, err))
				}

				reads[fd] = r
				cmd.ExtraFiles[fd-3] = w

				continue
			}

			dn, err := openDevNull()
			if err != nil {
				return fail(err)
			}

			cmd.ExtraFiles[fd-3] = dn
		}
	}

	return reads, nil
}

// closeChildSideWriteEnds closes the parent's copies of the pipe write ends
// now that Start has dup'd them into the child, so EOF propagates correctly
// once the child exits.
func (o *Oracle) closeChildSideWriteEnds(cmd *exec.Cmd) {
	if f, ok := cmd.Stdout.(*os.File); ok && o.watchesFd(1) {
		_ = f.Close()
	}

	if f, ok := cmd.Stderr.(*os.File); ok && o.watchesFd(2) {
		_ = f.Close()
	}

	for _, f := range cmd.ExtraFiles {
		if f != nil {
			_ = f.Close()
		}
	}
}

func closeAll(files map[int]*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
