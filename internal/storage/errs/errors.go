package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for the storage engine. Handlers map these to transport
// codes; everything else is treated as an internal I/O failure.
var (
	ErrPathTraversal = errors.New("path escapes storage root")
	ErrForbidden     = errors.New("reserved name")
	ErrConflict      = errors.New("destination already exists")
	ErrNotFound      = errors.New("item not found")
	ErrBusy          = errors.New("resource busy")
	ErrIO            = errors.New("i/o failure")
)

// IO wraps an underlying filesystem error as an IOFailure while keeping the
// original cause out of anything surfaced to callers.
func IO(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrIO, err)
}

// ItemResult reports the outcome of one item within a batch operation.
type ItemResult struct {
	Path   string `json:"path"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Partial carries per-item outcomes for a batch operation in which at least
// one item failed. Batch operations never abort on the first failure.
type Partial struct {
	Results []ItemResult
}

func (p *Partial) Error() string {
	return fmt.Sprintf("partial failure: %d of %d items failed", p.Failed(), len(p.Results))
}

// Failed returns the number of failed items.
func (p *Partial) Failed() int {
	n := 0
	for _, r := range p.Results {
		if !r.OK {
			n++
		}
	}
	return n
}

// Sanitize returns a caller-safe message for err. Sentinel errors pass
// through; anything else collapses to a generic message.
func Sanitize(err error) string {
	for _, sentinel := range []error{ErrPathTraversal, ErrForbidden, ErrConflict, ErrNotFound, ErrBusy} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	if errors.Is(err, ErrIO) {
		return ErrIO.Error()
	}
	return "operation failed"
}
