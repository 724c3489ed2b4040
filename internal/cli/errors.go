package cli

import "errors"

// Configuration errors: all reported to stderr and exit 1 before any child
// is ever spawned.
var (
	errNoCommand        = errors.New("missing required <command> argument")
	errTooManyArgs      = errors.New("expected exactly one <command> argument (quote it if it contains spaces)")
	errNonSeekableInput = errors.New("input must be seekable (redirect from a regular file, or use --input)")
	errBadWritesTo      = errors.New(`--writes-to expects "<fd> <substring>"`)
)
