// Package rgerr defines the sentinel error kinds shared across the reg
// (replayable event-graph) packages, per the error taxonomy in the core
// specification.
package rgerr

import "github.com/pkg/errors"

var (
	// ErrUnknownVersion is returned when an LV or Id is referenced but not
	// present in the causal graph.
	ErrUnknownVersion = errors.New("reg: unknown version")

	// ErrMissingParents is returned when a remote operation references
	// parents absent from the local causal graph.
	ErrMissingParents = errors.New("reg: missing parents")

	// ErrInvalidLength is returned for a zero-length or negative-length
	// operation span.
	ErrInvalidLength = errors.New("reg: invalid length")

	// ErrCorruptState is returned when a replay invariant is violated,
	// e.g. retreating an item that is not currently inserted.
	ErrCorruptState = errors.New("reg: corrupt replay state")

	// ErrInvalidSeq is returned when assigning a local seq lower than the
	// agent's next valid seq.
	ErrInvalidSeq = errors.New("reg: invalid seq")
)
