// Package cli implements the ddmin command line: flag parsing,
// FailurePredicate/CommandTemplate compilation, engine invocation, and
// exit-code mapping.
package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/calvinalkan/ddmin/internal/cache"
	"github.com/calvinalkan/ddmin/internal/chunkset"
	"github.com/calvinalkan/ddmin/internal/engine"
	"github.com/calvinalkan/ddmin/internal/materializer"
	"github.com/calvinalkan/ddmin/internal/oracle"
)

const (
	exitOK     = 0
	exitConfig = 1

	// shutdownGrace bounds how long a cancelled run waits for the in-flight
	// oracle query to kill and reap its child before giving up.
	shutdownGrace = 5 * time.Second
)

// Run is ddmin's single entry point: parse flags, compile the predicate and
// command template, run the engine, write the minimized output, and return
// a process exit code. stdin is the default input source and must be an
// *os.File so it can be seeked to determine its length; sigCh
// may be nil (e.g. in tests) to disable signal-triggered cancellation.
func Run(stdin *os.File, stdout, stderr io.Writer, args []string, sigCh <-chan os.Signal) int {
	fs, vals := newFlagSet()

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(stdout, fs)

			return exitOK
		}

		fprintErr(stderr, err)

		return exitConfig
	}

	positional := fs.Args()
	if len(positional) == 0 {
		fprintErr(stderr, errNoCommand)

		return exitConfig
	}

	if len(positional) > 1 {
		fprintErr(stderr, errTooManyArgs)

		return exitConfig
	}

	cfg, err := compile(fs, vals, positional[0])
	if err != nil {
		fprintErr(stderr, err)

		return exitConfig
	}

	ioh := NewIO(stderr, clampVerbosity(vals.verbosity))

	original, size, closeOriginal, err := openInput(stdin, vals.inputPath)
	if err != nil {
		fprintErr(stderr, err)

		return exitConfig
	}
	defer closeOriginal()

	oc := &oracle.Oracle{
		Original:   original,
		Template:   cfg.template,
		Predicate:  cfg.predicate,
		Mat:        materializer.New(""),
		Cache:      cache.New(),
		Shell:      vals.shell,
		StdinInput: cfg.template.StdinMode,
		OnTimeout:  func() { ioh.Logf(1, "query timed out after %dms, classifying PASS", cfg.predicate.TimeoutMs) },
	}

	result, err := runEngine(oc, size, sigCh, ioh)
	if err != nil {
		// Both the "initial input does not fail" user error and any other
		// engine/oracle failure exit 1; the distinction only matters for
		// the message shown.
		fprintErr(stderr, err)

		return exitConfig
	}

	ioh.Logf(2, "cache stats: %d hits, %d misses", oc.Cache.Stats().Hits, oc.Cache.Stats().Misses)

	if err := writeResult(result, original, vals.outputPath, stdout); err != nil {
		fprintErr(stderr, err)

		return exitConfig
	}

	return exitOK
}

// runEngine runs the ddmin search in a goroutine so an incoming signal can
// cancel the in-flight Oracle query, which releases its tempfile, pipes,
// and child on the way out.
func runEngine(oc *oracle.Oracle, size int64, sigCh <-chan os.Signal, ioh *IO) (chunkset.ChunkSet, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		result chunkset.ChunkSet
		err    error
	}

	done := make(chan outcome, 1)

	go func() {
		r, err := engine.Run(ctx, oc, size)
		done <- outcome{result: r, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-sigCh:
		ioh.Logf(1, "signal received, cancelling in-flight query")
		cancel()
	}

	select {
	case o := <-done:
		return o.result, o.err
	case <-time.After(shutdownGrace):
		return nil, fmt.Errorf("shutdown timed out waiting for oracle query to cancel")
	}
}

func writeResult(result chunkset.ChunkSet, original io.ReaderAt, outputPath string, stdout io.Writer) error {
	data, err := result.Materialize(original)
	if err != nil {
		return fmt.Errorf("materializing minimized result: %w", err)
	}

	if outputPath == "" {
		if _, err := stdout.Write(data); err != nil {
			return fmt.Errorf("writing result to stdout: %w", err)
		}

		return nil
	}

	if err := atomic.WriteFile(outputPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing result to %s: %w", outputPath, err)
	}

	return nil
}

func openInput(stdin *os.File, path string) (r io.ReaderAt, size int64, cleanup func(), err error) {
	if path != "" {
		f, openErr := os.Open(path) //nolint:gosec // path is an explicit user-provided CLI flag
		if openErr != nil {
			return nil, 0, func() {}, fmt.Errorf("opening input %s: %w", path, openErr)
		}

		info, statErr := f.Stat()
		if statErr != nil {
			_ = f.Close()

			return nil, 0, func() {}, fmt.Errorf("stat input %s: %w", path, statErr)
		}

		return f, info.Size(), func() { _ = f.Close() }, nil
	}

	end, seekErr := stdin.Seek(0, io.SeekEnd)
	if seekErr != nil {
		return nil, 0, func() {}, errNonSeekableInput
	}

	if _, err := stdin.Seek(0, io.SeekStart); err != nil {
		return nil, 0, func() {}, errNonSeekableInput
	}

	return stdin, end, func() {}, nil
}

func clampVerbosity(v int) int {
	const maxVerbosity = 3
	if v > maxVerbosity {
		return maxVerbosity
	}

	return v
}

func fprintErr(w io.Writer, err error) {
	msg := fmt.Sprintf("ddmin: error: %v", err)
	if isTerminal(w) {
		msg = "\x1b[31m" + msg + "\x1b[0m"
	}

	_, _ = fmt.Fprintln(w, msg)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	_, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)

	return err == nil
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintln(w, "Usage: ddmin [flags] <command>")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Minimizes a failing test case by removing bytes from --input (default stdin)")
	_, _ = fmt.Fprintln(w, "while <command>, run against each candidate, keeps failing.")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Flags:")

	var buf strings.Builder

	fs.SetOutput(&buf)
	fs.PrintDefaults()
	_, _ = fmt.Fprint(w, buf.String())
}
