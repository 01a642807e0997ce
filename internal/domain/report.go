package domain

import "fmt"

// Report summarizes one stage run.
type Report struct {
	Stage    string
	Done     int
	Skipped  int
	Excluded int
	Failures Failures
}

// Fail records a per-item failure.
func (r *Report) Fail(item string, err error) { r.Failures.Add(item, err) }

// Failed returns the number of failed items.
func (r *Report) Failed() int { return r.Failures.Len() }

func (r *Report) String() string {
	s := fmt.Sprintf("%s: %d done, %d skipped, %d failed", r.Stage, r.Done, r.Skipped, r.Failed())
	if r.Excluded > 0 {
		s += fmt.Sprintf(", %d excluded", r.Excluded)
	}
	return s
}
