// Package dispatch owns the job and offer lifecycle.
//
// Valid job status graph:
//
//	draft ──► pending_payment ──► searching ──► assigned ──► completed
//	  │              │                │             │
//	  ├──► manual_review ◄────────────┤             │
//	  │              │                │             │
//	  └──────────────┴────────────────┴─────────────┴──► cancelled
//
// completed and cancelled are terminal. manual_review can only be cancelled.
package dispatch

import "smider/broker-service/internal/model"

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[model.JobStatus][]model.JobStatus{
	model.JobDraft:          {model.JobManualReview, model.JobPendingPayment, model.JobCancelled},
	model.JobPendingPayment: {model.JobSearching, model.JobCancelled},
	model.JobSearching:      {model.JobAssigned, model.JobManualReview, model.JobCancelled},
	model.JobAssigned:       {model.JobCompleted, model.JobCancelled},
	model.JobManualReview:   {model.JobCancelled},
	// completed and cancelled are terminal
}

// IsTransitionAllowed returns true when moving from → to is permitted by the
// state machine.
func IsTransitionAllowed(from, to model.JobStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false // terminal
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s model.JobStatus) bool {
	_, ok := validTransitions[s]
	return !ok
}
