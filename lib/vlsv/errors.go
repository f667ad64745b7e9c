package vlsv

import (
	"errors"
	"fmt"
)

// Every failure returned by this package wraps one of these, so callers can
// test for the kind of failure with errors.Is.
var (
	ErrNotOpen   = errors.New("file is not open")
	ErrNotFound  = errors.New("no tag matches the query")
	ErrMalformed = errors.New("malformed array metadata")
	ErrRange     = errors.New("requested region exceeds the array")
	ErrShortRead = errors.New("fewer bytes read than requested")
	ErrNoBatch   = errors.New("no batched read in progress")
	ErrWrite     = errors.New("collective write failed")
)

// statusCodes maps error kinds onto the single byte broadcast by the master
// process. Zero means success.
var statusCodes = []error{
	nil, ErrNotOpen, ErrNotFound, ErrMalformed, ErrRange, ErrShortRead,
	ErrNoBatch, ErrWrite,
}

const unknownStatus = byte(255)

func statusCode(err error) byte {
	if err == nil {
		return 0
	}
	for i := 1; i < len(statusCodes); i++ {
		if errors.Is(err, statusCodes[i]) {
			return byte(i)
		}
	}
	return unknownStatus
}

// statusError is the error seen by worker processes when the master reports
// a failure.
func statusError(code byte, master int) error {
	if int(code) < len(statusCodes) {
		return fmt.Errorf("%w (reported by master process %d)",
			statusCodes[code], master)
	}
	return fmt.Errorf("master process %d failed to read the footer", master)
}
