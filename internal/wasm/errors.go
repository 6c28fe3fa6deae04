package wasm

import "errors"

var (
	ErrInvalidByte        = errors.New("invalid byte")
	ErrInvalidMagicNumber = errors.New("invalid magic number")
	ErrInvalidVersion     = errors.New("invalid version header")
	ErrInvalidSectionID   = errors.New("invalid section id")
	// ErrUnbalancedControl is returned when an end or else has no open frame to match, or a body ends with frames
	// still open.
	ErrUnbalancedControl = errors.New("unbalanced control flow")
)
