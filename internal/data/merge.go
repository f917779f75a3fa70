package data

import "github.com/pkg/errors"

// Zipped merges N aligned cursors into a lazy sequence of N-tuples: tuple i
// holds line i of every input. Iteration stops at the shortest input. No
// reordering, no buffering beyond the one item drawn per input per step.
type Zipped struct {
	cursors        []*Cursor
	failOnMisalign bool
	err            error
	done           bool
}

// Zip combines aligned cursors positionally.
func Zip(cursors ...*Cursor) *Zipped {
	return &Zipped{cursors: cursors}
}

// FailOnMisalign makes uneven exhaustion an error instead of silently
// truncating to the shortest input.
func (z *Zipped) FailOnMisalign() *Zipped {
	z.failOnMisalign = true
	return z
}

// Next yields the next aligned tuple, one entry per input cursor.
func (z *Zipped) Next() ([][]int, bool) {
	if z.done || z.err != nil {
		return nil, false
	}
	tuple := make([][]int, len(z.cursors))
	live := 0
	for i, c := range z.cursors {
		item, ok := c.Next()
		if !ok {
			continue
		}
		tuple[i] = item
		live++
	}
	for _, c := range z.cursors {
		if err := c.Err(); err != nil {
			z.err = err
			z.done = true
			return nil, false
		}
	}
	if live == len(z.cursors) {
		return tuple, true
	}
	z.done = true
	if live > 0 && z.failOnMisalign {
		z.err = errors.Errorf("aligned inputs exhausted unevenly: %d of %d still producing", live, len(z.cursors))
	}
	return nil, false
}

// Err reports the first error encountered while merging.
func (z *Zipped) Err() error { return z.err }

// Close closes every underlying cursor.
func (z *Zipped) Close() error {
	var first error
	for _, c := range z.cursors {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
