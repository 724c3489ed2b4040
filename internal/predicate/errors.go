package predicate

import "errors"

var (
	errInvalidStatusToken = errors.New("invalid status token")
	errInvalidStatusRange = errors.New("status code out of range [0,255]")
	errInvalidSignalToken = errors.New("invalid signal token")
	errInvalidFdToken     = errors.New("invalid watched file descriptor")
	errInvalidTimeout     = errors.New("invalid timeout")
)
