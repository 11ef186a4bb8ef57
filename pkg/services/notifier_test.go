package services

import (
	"context"
	"errors"
	"testing"
)

type flakySink struct {
	err   error
	calls int
}

func (s *flakySink) Notify(ctx context.Context, recipients []string, subject, body string) error {
	s.calls++
	return s.err
}

func TestLogNotifier_Notify(t *testing.T) {
	n := NewLogNotifier()
	err := n.Notify(context.Background(), []string{"ops@example.com"}, "Job x: success", "done")
	if err != nil {
		t.Errorf("Notify() error = %v, want nil", err)
	}
}

func TestBreakerNotifier_PassThrough(t *testing.T) {
	sink := &flakySink{}
	n := NewBreakerNotifier(sink)

	if err := n.Notify(context.Background(), []string{"a@example.com"}, "s", "b"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if sink.calls != 1 {
		t.Errorf("inner sink called %d times, want 1", sink.calls)
	}
}

func TestBreakerNotifier_TripsAfterConsecutiveFailures(t *testing.T) {
	sink := &flakySink{err: errors.New("smtp down")}
	n := NewBreakerNotifier(sink)

	for i := 0; i < 5; i++ {
		if err := n.Notify(context.Background(), []string{"a@example.com"}, "s", "b"); err == nil {
			t.Fatalf("Notify() #%d succeeded, want failure", i+1)
		}
	}
	callsAtTrip := sink.calls

	// The breaker is open now; further attempts are rejected without
	// touching the channel
	if err := n.Notify(context.Background(), []string{"a@example.com"}, "s", "b"); err == nil {
		t.Fatal("Notify() succeeded with an open breaker")
	}
	if sink.calls != callsAtTrip {
		t.Errorf("inner sink called %d times after trip, want %d", sink.calls, callsAtTrip)
	}
}
