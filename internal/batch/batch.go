package batch

import (
	"errors"
	"fmt"
)

var (
	// ErrArrayLengthMismatch is returned when parallel input arrays differ
	// in length.
	ErrArrayLengthMismatch = errors.New("array length mismatch")

	// ErrBatchTooLarge is returned when a batch exceeds the configured
	// maximum size.
	ErrBatchTooLarge = errors.New("batch too large")

	// ErrEmptyBatch is returned for zero-element batches.
	ErrEmptyBatch = errors.New("empty batch")
)

// ValidateSize checks that a batch is non-empty and within the maximum.
// Batch limits bound the worst-case work done inside one serialized
// execution slot, so they are enforced before any entry is processed.
func ValidateSize(n, max int) error {
	if n == 0 {
		return ErrEmptyBatch
	}
	if n > max {
		return fmt.Errorf("%w: %d entries, max %d", ErrBatchTooLarge, n, max)
	}
	return nil
}

// ValidateParallel checks two parallel arrays for equal length and size.
func ValidateParallel(lenA, lenB, max int) error {
	if lenA != lenB {
		return fmt.Errorf("%w: %d vs %d", ErrArrayLengthMismatch, lenA, lenB)
	}
	return ValidateSize(lenA, max)
}

// Result reports the outcome of one batch entry. Entries are independent:
// a failed entry never rolls back committed siblings.
type Result struct {
	Index int
	Err   error
}

// Report collects per-entry outcomes for a partially-failed batch.
type Report struct {
	Results []Result
}

// Succeeded counts entries with no error.
func (r *Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts entries with an error.
func (r *Report) Failed() int {
	return len(r.Results) - r.Succeeded()
}

// Append records the outcome of entry i.
func (r *Report) Append(i int, err error) {
	r.Results = append(r.Results, Result{Index: i, Err: err})
}
