package cron

import (
	"context"
	"errors"
	"testing"
)

type stubSweeper struct {
	runs int
	err  error
}

func (s *stubSweeper) Sweep(_ context.Context) error {
	s.runs++
	return s.err
}

func TestReconcileJob_RunsSweep(t *testing.T) {
	sweeper := &stubSweeper{}
	job, err := NewReconcileJob(ReconcileJobParams{Sweeper: sweeper})
	if err != nil {
		t.Fatalf("NewReconcileJob: %v", err)
	}
	if job.Name() != "reconciliation" {
		t.Fatalf("unexpected job name %q", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sweeper.runs != 1 {
		t.Fatalf("expected one sweep, got %d", sweeper.runs)
	}
}

func TestReconcileJob_PropagatesSweepError(t *testing.T) {
	job, err := NewReconcileJob(ReconcileJobParams{Sweeper: &stubSweeper{err: errors.New("provider down")}})
	if err != nil {
		t.Fatalf("NewReconcileJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected sweep error to propagate")
	}
}

func TestNewReconcileJob_Validation(t *testing.T) {
	if _, err := NewReconcileJob(ReconcileJobParams{}); err == nil {
		t.Fatal("expected error when sweeper missing")
	}
}
