package engine

import "errors"

// ErrInitialDoesNotFail is returned when the Oracle classifies the original,
// unreduced input as PASS: there is nothing to minimize.
var ErrInitialDoesNotFail = errors.New("engine: initial input does not fail")
