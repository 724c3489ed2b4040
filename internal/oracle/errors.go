package oracle

import "errors"

// errForkFailed is fatal and covers genuine fork/resource errors from
// exec.Cmd.Start. Executable-resolution failures (*exec.Error, e.g. command
// not found) and exec failures (missing file, permission denied, ENOEXEC)
// are not wrapped in it: a candidate whose command cannot be exec'd does not
// reproduce the failure and classifies PASS instead.
var errForkFailed = errors.New("oracle: failed to start child process")
