// Copyright 2025 James Ross
package schema

import (
	"strconv"
	"strings"
)

// Rules accumulates field checks and renders them as a dotted-path → message
// map, generalizing dog-core's Rules builder (which joined failures into one
// message) to the explicit per-field map this spec requires.
type Rules struct {
	errs map[string]string
}

// NewRules returns an empty Rules accumulator.
func NewRules() *Rules {
	return &Rules{errs: map[string]string{}}
}

// NonEmpty records a violation at path if value is empty (after trimming).
func (r *Rules) NonEmpty(path, value string) *Rules {
	if strings.TrimSpace(value) == "" {
		r.errs[path] = "must not be empty"
	}
	return r
}

// MinLen records a violation at path if value is shorter than min runes.
func (r *Rules) MinLen(path, value string, min int) *Rules {
	if len([]rune(value)) < min {
		r.errs[path] = minLenMessage(min)
	}
	return r
}

// MaxLen records a violation at path if value is longer than max runes.
func (r *Rules) MaxLen(path, value string, max int) *Rules {
	if len([]rune(value)) > max {
		r.errs[path] = maxLenMessage(max)
	}
	return r
}

// OneOf records a violation at path if value is not among allowed.
func (r *Rules) OneOf(path, value string, allowed ...string) *Rules {
	for _, a := range allowed {
		if value == a {
			return r
		}
	}
	r.errs[path] = "must be one of " + strings.Join(allowed, ", ")
	return r
}

// Check returns the accumulated violations, for use as the return value of a
// ValidateFn.
func (r *Rules) Check() map[string]string {
	return r.errs
}

func minLenMessage(min int) string {
	return "must be at least " + strconv.Itoa(min) + " characters"
}

func maxLenMessage(max int) string {
	return "must be at most " + strconv.Itoa(max) + " characters"
}
