package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type recordingSender struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (s *recordingSender) Send(_ context.Context, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	return s.err
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func TestDispatchDedupsIdenticalMessages(t *testing.T) {
	sender := &recordingSender{}
	d := NewAlertDispatcher(sender, 5*time.Minute, zerolog.Nop())

	d.Dispatch(context.Background(), "backend down")
	d.Dispatch(context.Background(), "backend down")
	d.Dispatch(context.Background(), "backend down")

	if got := sender.count(); got != 1 {
		t.Fatalf("sent = %d, want 1 inside dedup window", got)
	}
}

func TestDispatchAllowsDistinctMessages(t *testing.T) {
	sender := &recordingSender{}
	d := NewAlertDispatcher(sender, 5*time.Minute, zerolog.Nop())

	d.Dispatch(context.Background(), "item a failed")
	d.Dispatch(context.Background(), "item b failed")

	if got := sender.count(); got != 2 {
		t.Fatalf("sent = %d, want 2 for distinct messages", got)
	}
}

func TestDispatchResendsAfterWindowExpires(t *testing.T) {
	sender := &recordingSender{}
	d := NewAlertDispatcher(sender, 5*time.Minute, zerolog.Nop())

	base := time.Now()
	d.now = func() time.Time { return base }
	d.Dispatch(context.Background(), "backend down")

	d.now = func() time.Time { return base.Add(6 * time.Minute) }
	d.Dispatch(context.Background(), "backend down")

	if got := sender.count(); got != 2 {
		t.Fatalf("sent = %d, want 2 after window expiry", got)
	}
}

func TestDispatchRateLimitedMessageStaysEligible(t *testing.T) {
	sender := &recordingSender{}
	d := NewAlertDispatcher(sender, 5*time.Minute, zerolog.Nop())
	d.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	d.Dispatch(context.Background(), "item a failed")
	d.Dispatch(context.Background(), "item b failed")
	if got := sender.count(); got != 1 {
		t.Fatalf("sent = %d, want 1 while limiter saturated", got)
	}

	// A message dropped by the limiter was never delivered; once capacity
	// returns it must go out rather than be suppressed as a duplicate.
	d.limiter = rate.NewLimiter(rate.Inf, 1)
	d.Dispatch(context.Background(), "item b failed")
	if got := sender.count(); got != 2 {
		t.Fatalf("sent = %d, want 2 after limiter capacity returns", got)
	}
}

func TestDispatchSwallowsSendFailures(t *testing.T) {
	sender := &recordingSender{err: errors.New("webhook down")}
	d := NewAlertDispatcher(sender, 5*time.Minute, zerolog.Nop())

	// Must not panic or propagate.
	d.Dispatch(context.Background(), "backend down")

	if got := sender.count(); got != 1 {
		t.Fatalf("sent = %d, want 1 attempt", got)
	}
}

func TestDispatchNilSafety(t *testing.T) {
	var d *AlertDispatcher
	d.Dispatch(context.Background(), "ignored")

	d = NewAlertDispatcher(nil, time.Minute, zerolog.Nop())
	d.Dispatch(context.Background(), "ignored")
}

func TestNotifierNilPublisherIsSilent(t *testing.T) {
	n := NewNotifier(nil, nil, zerolog.Nop())
	n.OperatorAlert(context.Background(), "nobody listening")

	var nilNotifier *Notifier
	nilNotifier.OperatorAlert(context.Background(), "still fine")
}
