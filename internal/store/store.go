// Package store persists jobs, contractors and offers. Every status write is
// a compare-and-swap on the current status; the accept race is settled inside
// one transaction.
package store

import (
	"context"
	"errors"
	"time"

	"smider/broker-service/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional update found the row in a
	// different state than expected.
	ErrConflict = errors.New("status changed concurrently")
)

// Store is implemented by the Postgres and SQLite backends.
type Store interface {
	Migrate(ctx context.Context) error

	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	// ListJobsByCustomer returns the customer's jobs, newest first.
	ListJobsByCustomer(ctx context.Context, customerID string) ([]model.Job, error)
	// TransitionJob sets the job status to `to` only if it is currently `from`.
	TransitionJob(ctx context.Context, id string, from, to model.JobStatus) error
	SetPaymentHold(ctx context.Context, id, holdRef string) error

	UpsertContractor(ctx context.Context, c *model.Contractor) error
	GetContractor(ctx context.Context, id string) (*model.Contractor, error)
	ListContractors(ctx context.Context) ([]model.Contractor, error)

	// CreateOffers inserts the offers, skipping any (job, contractor) pair
	// that already has one, and returns the inserted offers.
	CreateOffers(ctx context.Context, offers []model.Offer) ([]model.Offer, error)
	GetOffer(ctx context.Context, id string) (*model.Offer, error)
	ListOffersByJob(ctx context.Context, jobID string) ([]model.Offer, error)
	// ListOffersByContractor returns the contractor's offers, newest first.
	ListOffersByContractor(ctx context.Context, contractorID string) ([]model.Offer, error)
	TransitionOffer(ctx context.Context, id string, from, to model.OfferStatus) error
	// AcceptOffer atomically moves the job searching → assigned, the offer
	// pending → accepted (only while expires_at > now) and declines the job's
	// other pending offers. Any miss rolls back with ErrConflict. It returns
	// the number of offers declined.
	AcceptOffer(ctx context.Context, jobID, offerID string, now time.Time) (int64, error)
	// DeclinePendingOffers declines every pending offer of the job.
	DeclinePendingOffers(ctx context.Context, jobID string) (int64, error)
	// ExpireOffers marks pending offers with expires_at < now as expired.
	ExpireOffers(ctx context.Context, now time.Time) (int64, error)
}
