// Package payment places, checks and releases card holds for job prices.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// HoldStatus is the coarse state of a hold.
type HoldStatus string

const (
	// HoldPending means the customer has not completed authorization yet.
	HoldPending    HoldStatus = "pending"
	HoldAuthorized HoldStatus = "authorized"
	HoldCanceled   HoldStatus = "canceled"
)

// ErrUnknownHold is returned for a hold reference the provider does not know.
var ErrUnknownHold = errors.New("unknown payment hold")

// Hold is a placed authorization. ClientSecret is handed to the customer's
// browser to complete card authorization.
type Hold struct {
	Ref          string     `json:"ref"`
	ClientSecret string     `json:"clientSecret,omitempty"`
	Status       HoldStatus `json:"status"`
}

// Authorizer places holds for an amount in whole currency units.
type Authorizer interface {
	Authorize(ctx context.Context, amount int, currency, jobID string) (*Hold, error)
	Status(ctx context.Context, ref string) (HoldStatus, error)
	Cancel(ctx context.Context, ref string) error
}

// Demo authorizes every hold immediately and keeps state in memory. It is
// only wired in demo mode.
type Demo struct {
	mu    sync.Mutex
	holds map[string]HoldStatus
}

func NewDemo() *Demo {
	return &Demo{holds: make(map[string]HoldStatus)}
}

func (d *Demo) Authorize(_ context.Context, amount int, currency, _ string) (*Hold, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d %s", amount, currency)
	}
	ref := "demo_" + uuid.NewString()
	d.mu.Lock()
	d.holds[ref] = HoldAuthorized
	d.mu.Unlock()
	return &Hold{Ref: ref, Status: HoldAuthorized}, nil
}

func (d *Demo) Status(_ context.Context, ref string) (HoldStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.holds[ref]
	if !ok {
		return "", ErrUnknownHold
	}
	return st, nil
}

func (d *Demo) Cancel(_ context.Context, ref string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.holds[ref]; !ok {
		return ErrUnknownHold
	}
	d.holds[ref] = HoldCanceled
	return nil
}
