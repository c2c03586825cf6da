package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"smider/broker-service/internal/scheduler"
)

type countingExpirer struct {
	calls atomic.Int32
	err   error
}

func (c *countingExpirer) ExpireOffers(context.Context) (int64, error) {
	c.calls.Add(1)
	return 1, c.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStart_SweepsImmediatelyAndOnSchedule(t *testing.T) {
	exp := &countingExpirer{}
	s := scheduler.New(exp, "@every 1s")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return exp.calls.Load() >= 1 })
	waitFor(t, func() bool { return exp.calls.Load() >= 2 })
}

func TestStart_InvalidSpec(t *testing.T) {
	s := scheduler.New(&countingExpirer{}, "every now and then")
	if err := s.Start(context.Background()); err == nil {
		t.Error("Start with invalid spec should fail")
	}
}

func TestSweep_ErrorIsNotFatal(t *testing.T) {
	exp := &countingExpirer{err: errors.New("db down")}
	s := scheduler.New(exp, "")
	s.Sweep(context.Background())
	s.Sweep(context.Background())
	if got := exp.calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestSweep_CancelledContextSkips(t *testing.T) {
	exp := &countingExpirer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	scheduler.New(exp, "").Sweep(ctx)
	if got := exp.calls.Load(); got != 0 {
		t.Errorf("calls = %d, want 0", got)
	}
}
