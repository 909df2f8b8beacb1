package wasm

import (
	"errors"
	"fmt"
)

// ErrMalformedBinary is the sentinel every binary-decoding failure wraps:
// bad preamble, bad LEB128, section payload over/underrun, unknown
// section id out of order, unknown opcode.
var ErrMalformedBinary = errors.New("wasm: malformed binary")

// ErrValidation is the sentinel every structural-validity failure wraps:
// bad index, limits violation, signature mismatch, duplicate export,
// wrong start-function type.
var ErrValidation = errors.New("wasm: validation error")

// malformed builds an error from format/args that wraps
// ErrMalformedBinary.
func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrMalformedBinary}, args...)...)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}
