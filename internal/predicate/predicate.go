// Package predicate compiles the raw CLI-level failure description
// (status codes, signals, watched-fd substrings, timeout) into the
// immutable FailurePredicate the Oracle evaluates against a child process.
package predicate

import (
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	maxStatus          = 255
	maxSignal          = 64
	defaultTimeoutMs   = 1000
	shellSignalExitBit = 0x80
)

// WriteSpec is a single (fd, substring) watch: seeing substring on fd is a
// failure.
type WriteSpec struct {
	Fd        int
	Substring string
}

// Predicate is the compiled, immutable description of what counts as a
// failure. Its four conditions are ORed.
type Predicate struct {
	Status    map[int]bool
	Signal    map[int]bool
	Writes    []WriteSpec
	TimeoutMs int

	// PCFilter is a hook for a future program-counter match clause. It is
	// never invoked: debugger attach / PC-address filtering is not
	// implemented.
	PCFilter func(pid int) bool
}

// Raw holds the uncompiled CLI-level inputs.
type Raw struct {
	// StatusLists holds one entry per repeated --status flag; each entry is
	// itself a comma list of tokens.
	StatusLists []string

	// SignalLists holds one entry per repeated --signal flag.
	SignalLists []string

	// Segfaults is true when --segfaults was given (alias for
	// --signal SIGSEGV).
	Segfaults bool

	// Writes holds one entry per repeated --writes-to/--writes/
	// --writes-to-stderr flag.
	Writes []WriteSpec

	// Shell is true when --shell was given.
	Shell bool

	// TimeoutMs is nil when --timeout/-t was not given (defaults to 1000).
	TimeoutMs *int
}

// ParseFd parses the file-descriptor token of a --writes-to pair. 0 is
// stdin, 1 stdout, 2 stderr, >2 an inherited extra descriptor; negative
// values are rejected.
func ParseFd(tok string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(tok))
	if err != nil || n < 0 {
		return 0, errInvalidFdToken
	}

	return n, nil
}

// Compile validates and compiles raw into an immutable Predicate.
func Compile(raw Raw) (*Predicate, error) {
	status, err := compileStatusSet(raw.StatusLists)
	if err != nil {
		return nil, err
	}

	signalLists := raw.SignalLists
	if raw.Segfaults {
		signalLists = append(append([]string{}, signalLists...), "SIGSEGV")
	}

	signal, err := compileSignalSet(signalLists)
	if err != nil {
		return nil, err
	}

	if raw.Shell {
		for s := range signal {
			status[s|shellSignalExitBit] = true
		}

		signal = map[int]bool{}
	}

	if len(status) == 0 && len(signal) == 0 && len(raw.Writes) == 0 {
		status = fullRange(1, maxStatus)
	}

	timeoutMs := defaultTimeoutMs
	if raw.TimeoutMs != nil {
		if *raw.TimeoutMs < 0 {
			return nil, errInvalidTimeout
		}

		timeoutMs = *raw.TimeoutMs
	}

	return &Predicate{
		Status:    status,
		Signal:    signal,
		Writes:    append([]WriteSpec{}, raw.Writes...),
		TimeoutMs: timeoutMs,
	}, nil
}

// compileStatusSet implements the S+ \ S- convention for status codes in
// [0,255], with ranges L-H (H<L yields an empty range, not an error).
func compileStatusSet(lists []string) (map[int]bool, error) {
	plus, minus, err := compileRangeSet(lists, 0, maxStatus, errInvalidStatusToken, errInvalidStatusRange)
	if err != nil {
		return nil, err
	}

	if len(plus) == 0 && len(minus) > 0 {
		plus = fullRange(0, maxStatus)
	}

	return subtract(plus, minus), nil
}

// compileSignalSet implements the same S+ \ S- convention for signals in
// [1,64], accepting both integers and mnemonic names, with ANY expanding to
// the full range.
func compileSignalSet(lists []string) (map[int]bool, error) {
	plus := map[int]bool{}
	minus := map[int]bool{}

	for _, list := range lists {
		for _, rawTok := range strings.Split(list, ",") {
			tok := strings.TrimSpace(rawTok)
			if tok == "" {
				continue
			}

			negate := strings.HasPrefix(tok, "~")
			if negate {
				tok = tok[1:]
			}

			dest := plus
			if negate {
				dest = minus
			}

			vals, err := parseSignalToken(tok)
			if err != nil {
				return nil, err
			}

			for _, v := range vals {
				dest[v] = true
			}
		}
	}

	if len(plus) == 0 && len(minus) > 0 {
		plus = fullRange(1, maxSignal)
	}

	return subtract(plus, minus), nil
}

func parseSignalToken(tok string) ([]int, error) {
	upper := strings.ToUpper(tok)
	if upper == "ANY" {
		out := make([]int, 0, maxSignal)
		for i := 1; i <= maxSignal; i++ {
			out = append(out, i)
		}

		return out, nil
	}

	if n, ok := signalByName(upper); ok {
		return []int{n}, nil
	}

	n, err := strconv.Atoi(tok)
	if err != nil {
		return nil, errInvalidSignalToken
	}

	if n < 1 || n > maxSignal {
		return nil, errInvalidSignalToken
	}

	return []int{n}, nil
}

// signalByName accepts both the bare mnemonic (SEGV) and the SIG-prefixed
// form (SIGSEGV).
func signalByName(upper string) (int, bool) {
	name := upper
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}

	sig, ok := signalTable[name]
	if !ok {
		return 0, false
	}

	return int(sig), true
}

var signalTable = map[string]unix.Signal{
	"SIGHUP":    unix.SIGHUP,
	"SIGINT":    unix.SIGINT,
	"SIGQUIT":   unix.SIGQUIT,
	"SIGILL":    unix.SIGILL,
	"SIGTRAP":   unix.SIGTRAP,
	"SIGABRT":   unix.SIGABRT,
	"SIGBUS":    unix.SIGBUS,
	"SIGFPE":    unix.SIGFPE,
	"SIGKILL":   unix.SIGKILL,
	"SIGUSR1":   unix.SIGUSR1,
	"SIGSEGV":   unix.SIGSEGV,
	"SIGUSR2":   unix.SIGUSR2,
	"SIGPIPE":   unix.SIGPIPE,
	"SIGALRM":   unix.SIGALRM,
	"SIGTERM":   unix.SIGTERM,
	"SIGCHLD":   unix.SIGCHLD,
	"SIGCONT":   unix.SIGCONT,
	"SIGSTOP":   unix.SIGSTOP,
	"SIGTSTP":   unix.SIGTSTP,
	"SIGTTIN":   unix.SIGTTIN,
	"SIGTTOU":   unix.SIGTTOU,
	"SIGURG":    unix.SIGURG,
	"SIGXCPU":   unix.SIGXCPU,
	"SIGXFSZ":   unix.SIGXFSZ,
	"SIGVTALRM": unix.SIGVTALRM,
	"SIGPROF":   unix.SIGPROF,
	"SIGWINCH":  unix.SIGWINCH,
	"SIGIO":     unix.SIGIO,
	"SIGSYS":    unix.SIGSYS,
}

// compileRangeSet parses comma lists of N or L-H tokens (optionally
// ~-prefixed) shared by any [lo,hi]-bounded integer predicate.
func compileRangeSet(lists []string, lo, hi int, tokenErr, rangeErr error) (plus, minus map[int]bool, err error) {
	plus = map[int]bool{}
	minus = map[int]bool{}

	for _, list := range lists {
		for _, rawTok := range strings.Split(list, ",") {
			tok := strings.TrimSpace(rawTok)
			if tok == "" {
				continue
			}

			negate := strings.HasPrefix(tok, "~")
			if negate {
				tok = tok[1:]
			}

			vals, rerr := parseRangeToken(tok, lo, hi, tokenErr, rangeErr)
			if rerr != nil {
				return nil, nil, rerr
			}

			dest := plus
			if negate {
				dest = minus
			}

			for _, v := range vals {
				dest[v] = true
			}
		}
	}

	return plus, minus, nil
}

func parseRangeToken(tok string, lo, hi int, tokenErr, rangeErr error) ([]int, error) {
	low, high, ok := strings.Cut(tok, "-")
	if !ok {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, tokenErr
		}

		if n < lo || n > hi {
			return nil, rangeErr
		}

		return []int{n}, nil
	}

	l, err := strconv.Atoi(low)
	if err != nil {
		return nil, tokenErr
	}

	h, err := strconv.Atoi(high)
	if err != nil {
		return nil, tokenErr
	}

	if l < lo || l > hi || h < lo || h > hi {
		return nil, rangeErr
	}

	if h < l {
		// An empty range is valid, not an error.
		return nil, nil
	}

	out := make([]int, 0, h-l+1)
	for v := l; v <= h; v++ {
		out = append(out, v)
	}

	return out, nil
}

func fullRange(lo, hi int) map[int]bool {
	out := make(map[int]bool, hi-lo+1)
	for v := lo; v <= hi; v++ {
		out[v] = true
	}

	return out
}

func subtract(a, b map[int]bool) map[int]bool {
	out := make(map[int]bool, len(a))

	for v := range a {
		if !b[v] {
			out[v] = true
		}
	}

	return out
}
