// Package batch carries the outcome of a batch run over many users.
package batch

import (
	"errors"
	"fmt"
)

// Report counts outcomes. Err joins every failure; a non-nil Err never means
// the run stopped early.
type Report struct {
	Job     string `json:"job"`
	Window  string `json:"window"`
	Posted  int    `json:"posted"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
	Err     error  `json:"-"`
}

func (r *Report) Fail(err error) {
	r.Failed++
	r.Err = errors.Join(r.Err, err)
}

func (r Report) String() string {
	return fmt.Sprintf("%s[%s]: posted=%d skipped=%d failed=%d", r.Job, r.Window, r.Posted, r.Skipped, r.Failed)
}
