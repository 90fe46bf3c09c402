// Package approval defines the submit/approve/reject audit record attached
// to a submitted run.
package approval

import "time"

// Decision is the outcome recorded on an approval; empty while pending.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// Approval is the one-to-one audit record for a submitted run.
type Approval struct {
	ID            string     `json:"id"`
	RunID         string     `json:"run_id"`
	SubmittedByID string     `json:"submitted_by_id"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	Decision      Decision   `json:"decision,omitempty"`
	DecidedByID   string     `json:"decided_by_id,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	Comment       string     `json:"comment,omitempty"`
}

// Pending reports whether the approval is awaiting a decision.
func (a *Approval) Pending() bool {
	return a.Decision == ""
}

// DecideRequest is the body of approve/reject calls.
type DecideRequest struct {
	Comment string `json:"comment,omitempty"`
}
