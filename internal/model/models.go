// Package model defines the domain entities shared by the broker packages.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus mirrors the jobs.status column.
type JobStatus string

const (
	JobDraft          JobStatus = "draft"
	JobPendingPayment JobStatus = "pending_payment"
	JobSearching      JobStatus = "searching"
	JobAssigned       JobStatus = "assigned"
	JobCompleted      JobStatus = "completed"
	JobCancelled      JobStatus = "cancelled"
	JobManualReview   JobStatus = "manual_review"
)

// ParseJobStatus converts a raw string to a JobStatus, returning an error for
// unknown values.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	switch st {
	case JobDraft, JobPendingPayment, JobSearching, JobAssigned,
		JobCompleted, JobCancelled, JobManualReview:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// OfferStatus mirrors the job_offers.status column.
type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferDeclined OfferStatus = "declined"
	OfferExpired  OfferStatus = "expired"
)

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Job is a priced request for work, owned by the dispatch service once created.
type Job struct {
	ID             string          `json:"id"`
	CustomerID     string          `json:"customerId"`
	Category       Category        `json:"category"`
	Payload        json.RawMessage `json:"payload"`
	Hours          float64         `json:"hours"`
	PriceMin       int             `json:"priceMin"`
	PriceMax       int             `json:"priceMax"`
	Status         JobStatus       `json:"status"`
	PaymentHoldRef *string         `json:"paymentHoldRef,omitempty"`
	Location       Location        `json:"location"`
	Address        string          `json:"address,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Contractor is a registered company that can receive offers.
type Contractor struct {
	ID              string     `json:"id"`
	CompanyName     string     `json:"companyName"`
	OrgNr           string     `json:"orgNr,omitempty"`
	Categories      []Category `json:"categories"`
	Location        *Location  `json:"location,omitempty"`
	ServiceRadiusKm *float64   `json:"serviceRadiusKm,omitempty"`
	Available       *bool      `json:"available,omitempty"`
}

// Serves reports whether the contractor is registered for category c.
func (c *Contractor) Serves(cat Category) bool {
	for _, k := range c.Categories {
		if k == cat {
			return true
		}
	}
	return false
}

// Offer is a time-boxed proposal of a job to one contractor.
type Offer struct {
	ID           string      `json:"id"`
	JobID        string      `json:"jobId"`
	ContractorID string      `json:"contractorId"`
	Status       OfferStatus `json:"status"`
	ExpiresAt    time.Time   `json:"expiresAt"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Lapsed reports whether a pending offer has passed its window at now.
func (o *Offer) Lapsed(now time.Time) bool {
	return o.Status == OfferPending && o.ExpiresAt.Before(now)
}

// EffectiveStatus is the status a reader should see at now: a pending offer
// past its window is expired even if no sweep has run yet.
func (o *Offer) EffectiveStatus(now time.Time) OfferStatus {
	if o.Lapsed(now) {
		return OfferExpired
	}
	return o.Status
}
