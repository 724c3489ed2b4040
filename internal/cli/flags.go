package cli

import (
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/ddmin/internal/cmdtemplate"
	"github.com/calvinalkan/ddmin/internal/predicate"
)

// flagValues holds the raw, uncompiled CLI input before
// predicate.Compile/cmdtemplate.Parse run.
type flagValues struct {
	inputPath      string
	outputPath     string
	verbosity      int
	statusLists    []string
	signalLists    []string
	segfaults      bool
	writesTo       []string // raw "<fd> <substring>" pairs, one per --writes-to
	writes         []string // --writes aliases, substring only (fd 1)
	writesToStderr []string // --writes-to-stderr aliases, substring only (fd 2)
	writeToStdin   bool
	timeoutMs      int
	shell          bool
}

const (
	defaultTimeoutMsFlag = 1000
	writesToStdoutFd     = 1
	writesToStderrFd     = 2
)

// newFlagSet builds the single pflag.FlagSet ddmin parses. Interspersed
// parsing is off so flags after the <command> template stay part of the
// template; the default usage output is discarded so callers control error
// formatting.
func newFlagSet() (*flag.FlagSet, *flagValues) {
	fs := flag.NewFlagSet("ddmin", flag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(&strings.Builder{})

	v := &flagValues{}

	fs.StringVarP(&v.inputPath, "input", "i", "", "source file (default: stdin, must be seekable)")
	fs.StringVarP(&v.outputPath, "output", "o", "", "destination (default: stdout)")
	fs.CountVarP(&v.verbosity, "verbose", "v", "increase verbosity (repeatable, 0..3)")
	fs.StringArrayVar(&v.statusLists, "status", nil, "status-code predicate, e.g. 1,3-5 or ~0 (repeatable)")
	fs.StringArrayVar(&v.signalLists, "signal", nil, "signal predicate, e.g. SIGSEGV or ANY (repeatable)")
	fs.BoolVar(&v.segfaults, "segfaults", false, "alias for --signal SIGSEGV")
	fs.StringArrayVar(&v.writesTo, "writes-to", nil, `"<fd> <substring>": substring on fd is a failure (repeatable)`)
	fs.StringArrayVar(&v.writes, "writes", nil, "alias for --writes-to 1 <substring>")
	fs.StringArrayVar(&v.writesToStderr, "writes-to-stderr", nil, "alias for --writes-to 2 <substring>")
	fs.BoolVar(&v.writeToStdin, "write-to-stdin", false, "feed the test case on the child's stdin")
	fs.IntVarP(&v.timeoutMs, "timeout", "t", defaultTimeoutMsFlag, "timeout in ms (0 disables)")
	fs.BoolVar(&v.shell, "shell", false, "wrap the command via sh -c")

	return fs, v
}

// compiledConfig is the fully-compiled configuration for one ddmin run.
type compiledConfig struct {
	predicate *predicate.Predicate
	template  *cmdtemplate.Template
}

// compile turns the raw flag values and the positional <command> template
// into a compiled Predicate and Template, applying the --writes/
// --writes-to-stderr/--segfaults aliasing rules. fs is consulted only for
// fs.Changed("timeout"), which distinguishes an explicit --timeout 1000
// from the flag being omitted.
func compile(fs *flag.FlagSet, v *flagValues, commandTemplate string) (*compiledConfig, error) {
	writes, err := compileWrites(v)
	if err != nil {
		return nil, err
	}

	raw := predicate.Raw{
		StatusLists: v.statusLists,
		SignalLists: v.signalLists,
		Segfaults:   v.segfaults,
		Writes:      writes,
		Shell:       v.shell,
	}

	if fs.Changed("timeout") {
		t := v.timeoutMs
		raw.TimeoutMs = &t
	}

	pred, err := predicate.Compile(raw)
	if err != nil {
		return nil, err
	}

	tmpl, err := cmdtemplate.Parse(commandTemplate, v.shell)
	if err != nil {
		return nil, err
	}

	if v.writeToStdin {
		tmpl.StdinMode = true
	}

	return &compiledConfig{predicate: pred, template: tmpl}, nil
}

// compileWrites merges --writes-to, --writes, and --writes-to-stderr into
// one []predicate.WriteSpec list.
func compileWrites(v *flagValues) ([]predicate.WriteSpec, error) {
	var out []predicate.WriteSpec

	for _, raw := range v.writesTo {
		fdTok, substr, ok := strings.Cut(strings.TrimSpace(raw), " ")
		if !ok {
			return nil, errBadWritesTo
		}

		fd, err := predicate.ParseFd(fdTok)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errBadWritesTo, raw)
		}

		out = append(out, predicate.WriteSpec{Fd: fd, Substring: substr})
	}

	for _, s := range v.writes {
		out = append(out, predicate.WriteSpec{Fd: writesToStdoutFd, Substring: s})
	}

	for _, s := range v.writesToStderr {
		out = append(out, predicate.WriteSpec{Fd: writesToStderrFd, Substring: s})
	}

	return out, nil
}
