package data

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// LineFunc encodes one newline-stripped text line into an id sequence.
type LineFunc func(line string) []int

// Cursor is a single-pass iterator over the lines of one or more text files.
// Each Next call reads one line, strips the trailing newline, splits on
// whitespace implicitly via the LineFunc and yields the encoded ids. Files
// are opened lazily in order and closed when exhausted. A Cursor cannot be
// restarted; mint a fresh one from a Source to read again.
type Cursor struct {
	paths []string
	proc  LineFunc
	idx   int
	f     *os.File
	sc    *bufio.Scanner
	err   error
	done  bool
}

// NewCursor builds a single-pass cursor over paths, applying proc per line.
func NewCursor(paths []string, proc LineFunc) *Cursor {
	return &Cursor{paths: paths, proc: proc}
}

// Next yields the next encoded line. The second return is false once the
// file set is exhausted or an error occurred; check Err afterwards.
func (c *Cursor) Next() ([]int, bool) {
	if c.done || c.err != nil {
		return nil, false
	}
	for {
		if c.sc == nil {
			if c.idx >= len(c.paths) {
				c.done = true
				return nil, false
			}
			f, err := os.Open(c.paths[c.idx])
			if err != nil {
				c.err = errors.Wrap(err, "open input file")
				return nil, false
			}
			c.f = f
			c.sc = bufio.NewScanner(f)
			c.sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
			c.idx++
		}
		if c.sc.Scan() {
			line := strings.TrimSuffix(c.sc.Text(), "\r")
			return c.proc(line), true
		}
		if err := c.sc.Err(); err != nil {
			c.err = errors.Wrapf(err, "read %s", c.paths[c.idx-1])
			c.closeCurrent()
			return nil, false
		}
		c.closeCurrent()
	}
}

func (c *Cursor) closeCurrent() {
	if c.f != nil {
		c.f.Close()
		c.f = nil
	}
	c.sc = nil
}

// Err reports the first error encountered while iterating.
func (c *Cursor) Err() error { return c.err }

// Close releases the current file handle early. Safe on an exhausted cursor.
func (c *Cursor) Close() error {
	c.done = true
	if c.f != nil {
		err := c.f.Close()
		c.f = nil
		c.sc = nil
		return err
	}
	return nil
}

// Source is a re-iterable description of a file-backed line sequence. It is
// distinct from Cursor on purpose: a Source can be iterated any number of
// times, each Iter returning an independent single-pass Cursor.
type Source struct {
	paths []string
	proc  LineFunc
}

// NewSource describes a line sequence over paths encoded by proc.
func NewSource(paths []string, proc LineFunc) *Source {
	return &Source{paths: paths, proc: proc}
}

// Iter mints a fresh cursor reading from the start of the file set.
func (s *Source) Iter() *Cursor {
	return NewCursor(s.paths, s.proc)
}

// Stat verifies every file in the set exists, so that a missing input fails
// at construction time rather than mid-iteration.
func (s *Source) Stat() error {
	for _, p := range s.paths {
		if _, err := os.Stat(p); err != nil {
			return errors.Wrap(err, "stat input file")
		}
	}
	return nil
}
