package cmdtemplate

import "errors"

var (
	errUnterminatedQuote = errors.New("unterminated quoted string in command template")
	errNulInTempfile     = errors.New("temp file contents contain a NUL byte, cannot splice into shell command")
)
