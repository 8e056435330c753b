package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIOWrapsSentinel(t *testing.T) {
	err := IO("rename", errors.New("permission denied on /secret/location"))
	assert.ErrorIs(t, err, ErrIO)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, ErrNotFound.Error(), Sanitize(fmt.Errorf("context: %w", ErrNotFound)))
	assert.Equal(t, ErrBusy.Error(), Sanitize(ErrBusy))

	// Internal detail must not leak through sanitized messages.
	sanitized := Sanitize(IO("rename", errors.New("open /secret/location: eacces")))
	assert.Equal(t, ErrIO.Error(), sanitized)
	assert.NotContains(t, sanitized, "/secret/location")

	assert.Equal(t, "operation failed", Sanitize(errors.New("anything else")))
}

func TestPartial(t *testing.T) {
	p := &Partial{Results: []ItemResult{
		{Path: "a", OK: true},
		{Path: "b", OK: false, Detail: "item not found"},
		{Path: "c", OK: false, Detail: "resource busy"},
	}}

	assert.Equal(t, 2, p.Failed())
	assert.Equal(t, "partial failure: 2 of 3 items failed", p.Error())

	var target *Partial
	assert.ErrorAs(t, fmt.Errorf("batch: %w", p), &target)
}
