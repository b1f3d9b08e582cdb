package smart

import (
	"compress/zlib"
)

// defaultBodyBudget caps get_parent_map response bodies at roughly 64KB of
// compressed data. The estimate deliberately measures compressed size: the
// body ships compressed, so raw line length is the wrong budget currency.
const defaultBodyBudget = 64 * 1024

// sizeEstimator tracks the approximate compressed size of the lines added
// so far. Flushing after every add makes the estimate pessimistic, which is
// the safe direction for a response size cap.
type sizeEstimator struct {
	counter countingWriter
	zw      *zlib.Writer
	budget  int
}

type countingWriter struct{ n int }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += len(p)
	return len(p), nil
}

func newSizeEstimator(budget int) *sizeEstimator {
	if budget <= 0 {
		budget = defaultBodyBudget
	}
	e := &sizeEstimator{budget: budget}
	e.zw = zlib.NewWriter(&e.counter)
	return e
}

// Add feeds one line into the estimate.
func (e *sizeEstimator) Add(line []byte) {
	e.zw.Write(line)
}

// Full reports whether the budget is exhausted.
func (e *sizeEstimator) Full() bool {
	e.zw.Flush()
	return e.counter.n >= e.budget
}
