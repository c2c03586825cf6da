// Package scheduler wires up the cron job that periodically expires offers
// whose response window has passed.
package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Expirer marks lapsed pending offers expired and reports how many changed.
type Expirer interface {
	ExpireOffers(ctx context.Context) (int64, error)
}

// Scheduler wraps robfig/cron and manages the expiry sweep.
type Scheduler struct {
	cron    *cron.Cron
	expirer Expirer
	spec    string // cron spec, e.g. "@every 1m"
}

// New creates a Scheduler that sweeps on spec.
func New(expirer Expirer, spec string) *Scheduler {
	if spec == "" {
		spec = "@every 1m"
	}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		expirer: expirer,
		spec:    spec,
	}
}

// Start registers the sweep and starts the scheduler. One sweep also runs
// immediately so offers that lapsed while the process was down are marked.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	log.Printf("[scheduler] Cron started, spec: %s", s.spec)

	go s.Sweep(ctx)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Println("[scheduler] Cron stopped")
}

// Sweep runs one expiry pass.
func (s *Scheduler) Sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := s.expirer.ExpireOffers(ctx)
	if err != nil {
		log.Printf("[scheduler] ExpireOffers error: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[scheduler] Expired %d offer(s)", n)
	}
}
