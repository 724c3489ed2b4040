package cli

import (
	"fmt"
	"io"
)

// IO gates diagnostic lines (timeouts, cache behavior) behind the
// -v/--verbose level (0..3). Diagnostics go to stderr only: stdout is
// reserved for the minimized test case itself.
type IO struct {
	errOut    io.Writer
	verbosity int
}

// NewIO returns an IO writing diagnostics to errOut, gated at the given
// verbosity level.
func NewIO(errOut io.Writer, verbosity int) *IO {
	return &IO{errOut: errOut, verbosity: verbosity}
}

// Logf writes a formatted diagnostic line iff the configured verbosity is
// at least level.
func (o *IO) Logf(level int, format string, a ...any) {
	if o.verbosity < level {
		return
	}

	_, _ = fmt.Fprintf(o.errOut, "ddmin: "+format+"\n", a...)
}
