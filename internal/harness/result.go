package harness

// Result collects the outcome of one scenario run.
type Result struct {
	// Name is the scenario name.
	Name string

	// Errors lists every expectation that failed, in step order.
	Errors []string
}

func NewResult(name string) *Result {
	return &Result{Name: name}
}

// AddError records one failed expectation.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// Passed reports whether every expectation held.
func (r *Result) Passed() bool {
	return len(r.Errors) == 0
}
