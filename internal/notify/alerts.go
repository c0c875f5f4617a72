package notify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"atelier/internal/observability"
)

// Sender delivers a single alert message to the operator channel.
type Sender interface {
	Send(ctx context.Context, message string) error
}

// WebhookSender posts alerts as JSON to an HTTP webhook.
type WebhookSender struct {
	URL    string
	Client *http.Client
}

func (s *WebhookSender) Send(ctx context.Context, message string) error {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	body, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// AlertDispatcher sends operator alerts with dedup and rate limiting so a
// repeated identical failure does not become an alert storm. Delivery errors
// are logged and swallowed; alerting never fails the caller.
type AlertDispatcher struct {
	sender  Sender
	window  time.Duration
	limiter *rate.Limiter
	logger  zerolog.Logger
	now     func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewAlertDispatcher builds a dispatcher with the given dedup window. A
// window of zero defaults to five minutes.
func NewAlertDispatcher(sender Sender, window time.Duration, logger zerolog.Logger) *AlertDispatcher {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &AlertDispatcher{
		sender: sender,
		window: window,
		// One alert per two seconds sustained, short bursts allowed.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 5),
		logger:  logger,
		now:     time.Now,
		seen:    make(map[string]time.Time),
	}
}

// Dispatch delivers the message unless an identical message was delivered
// inside the dedup window or the rate limiter is saturated.
func (d *AlertDispatcher) Dispatch(ctx context.Context, message string) {
	if d == nil || d.sender == nil || message == "" {
		return
	}
	key := messageKey(message)
	now := d.now()

	d.mu.Lock()
	last, dup := d.seen[key]
	if dup && now.Sub(last) < d.window {
		d.mu.Unlock()
		observability.AlertsSuppressed.Inc()
		return
	}
	// Consult the limiter before marking the message seen; a message dropped
	// here was never delivered, so it must stay eligible for a later attempt.
	if !d.limiter.Allow() {
		d.mu.Unlock()
		observability.AlertsSuppressed.Inc()
		d.logger.Warn().Msg("notify: alert rate limit exceeded, dropping")
		return
	}
	d.seen[key] = now
	d.pruneLocked(now)
	d.mu.Unlock()
	if err := d.sender.Send(ctx, message); err != nil {
		d.logger.Warn().Err(err).Msg("notify: alert delivery failed")
	}
}

func (d *AlertDispatcher) pruneLocked(now time.Time) {
	for key, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, key)
		}
	}
}

func messageKey(message string) string {
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:8])
}
