// Package executor drives one work item through its stage flow and owns the
// charge/refund protocol around the external generation call. The executor is
// the recovery boundary: backend errors never escape it, they are converted
// into a terminal stage plus, when the item was charged, exactly one
// compensating refund.
package executor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"atelier/internal/credit"
	"atelier/internal/domain"
	"atelier/internal/notify"
	"atelier/internal/observability"
	"atelier/internal/pricing"
	"atelier/internal/providers/genai"
	"atelier/internal/storage"
)

// User-visible failure messages. They are deliberately distinct from the
// internal error detail, which goes to logs and operator alerts only.
const (
	MsgInsufficientCredits = "Not enough credits. Top up your balance and try again."
	MsgGenerationFailed    = "Generation failed. Your credits have been refunded."
	MsgChargeFailed        = "Generation could not be started. Please try again."
	MsgCancelled           = "Cancelled by user."
	MsgInvalidInput        = "The request payload could not be processed."
)

// Invoker is the external generation collaborator boundary.
type Invoker interface {
	Generate(ctx context.Context, req genai.GenerateRequest) (*genai.GenerateResult, error)
}

// Config controls retry policy and per-class concurrency caps.
type Config struct {
	RetryAttempts         int
	RetryBackoff          time.Duration
	GenerationConcurrency int64
	LightConcurrency      int64
}

// DefaultConfig returns the executor defaults: three attempts with a doubling
// two-second backoff, four concurrent generation-class items.
func DefaultConfig() Config {
	return Config{
		RetryAttempts:         3,
		RetryBackoff:          2 * time.Second,
		GenerationConcurrency: 4,
		LightConcurrency:      16,
	}
}

// ItemInput is the decoded work item payload.
type ItemInput struct {
	Prompt    string     `json:"prompt"`
	Reference []MediaRef `json:"reference,omitempty"`
}

// MediaRef is one base64-encoded reference media blob in the item payload.
type MediaRef struct {
	MIME string `json:"mime"`
	Data string `json:"data"`
}

// ItemOutput is the persisted result attached to a completed item.
type ItemOutput struct {
	Media []OutputMedia `json:"media,omitempty"`
	Text  string        `json:"text,omitempty"`
}

// OutputMedia points at one stored result blob.
type OutputMedia struct {
	MIME       string `json:"mime"`
	StorageKey string `json:"storage_key"`
	Bytes      int    `json:"bytes"`
}

// Executor processes claimed work items.
type Executor struct {
	items    domain.WorkItemRepository
	credits  *credit.Service
	prices   *pricing.Table
	backend  Invoker
	notifier *notify.Notifier
	store    *storage.FileStore
	cfg      Config
	logger   zerolog.Logger

	genSem   *semaphore.Weighted
	lightSem *semaphore.Weighted

	// sleep is replaced in tests to keep backoff out of the clock.
	sleep func(time.Duration)
}

// New assembles an executor.
func New(items domain.WorkItemRepository, credits *credit.Service, prices *pricing.Table, backend Invoker, notifier *notify.Notifier, store *storage.FileStore, cfg Config, logger zerolog.Logger) *Executor {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultConfig().RetryAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if cfg.GenerationConcurrency <= 0 {
		cfg.GenerationConcurrency = DefaultConfig().GenerationConcurrency
	}
	if cfg.LightConcurrency <= 0 {
		cfg.LightConcurrency = DefaultConfig().LightConcurrency
	}
	return &Executor{
		items:    items,
		credits:  credits,
		prices:   prices,
		backend:  backend,
		notifier: notifier,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		genSem:   semaphore.NewWeighted(cfg.GenerationConcurrency),
		lightSem: semaphore.NewWeighted(cfg.LightConcurrency),
		sleep:    time.Sleep,
	}
}

// Acquire blocks until a concurrency slot for the class is free. The
// generation-class cap bounds load on the external backend and keeps slow
// calls from starving the credit lock.
func (e *Executor) Acquire(ctx context.Context, class domain.QueueClass) error {
	return e.sem(class).Acquire(ctx, 1)
}

// Release frees a slot taken by Acquire.
func (e *Executor) Release(class domain.QueueClass) {
	e.sem(class).Release(1)
}

func (e *Executor) sem(class domain.QueueClass) *semaphore.Weighted {
	if class == domain.QueueClassLight {
		return e.lightSem
	}
	return e.genSem
}

// Process runs one claimed work item to a terminal stage. The item arrives in
// the validating stage. Process never returns an error to the caller; every
// failure path ends in a failed stage with bookkeeping done.
func (e *Executor) Process(ctx context.Context, item *domain.WorkItem) {
	logger := e.logger.With().Str("item_id", item.ID).Str("kind", string(item.Kind)).Logger()
	flow := domain.FlowFor(item.Kind)

	if item.Kind.Class() == domain.QueueClassGeneration {
		observability.InFlightGenerations.Inc()
		defer observability.InFlightGenerations.Dec()
	}

	input, err := decodeInput(item.Input)
	if err != nil {
		logger.Error().Err(err).Msg("executor: invalid item payload")
		e.fail(ctx, item, MsgInvalidInput)
		return
	}

	if flowHas(flow, domain.StagePreparing) {
		if !e.advance(ctx, item, domain.StagePreparing) {
			logger.Info().Msg("executor: item cancelled before preparing")
			return
		}
	}

	// Cancellation race guard: the item may have been force-failed while it
	// sat in the queue or while media was being prepared.
	if e.terminated(ctx, item.ID) {
		logger.Info().Msg("executor: item already terminal, skipping charge")
		return
	}

	cost := e.prices.ItemCost(item.Kind, item.Model)
	ref := item.Ref()
	if _, err := e.credits.Charge(ctx, item.OwnerID, cost, ref); err != nil {
		if err == domain.ErrInsufficientCredits {
			logger.Info().Int64("cost", cost).Msg("executor: insufficient credits")
			e.fail(ctx, item, MsgInsufficientCredits)
			return
		}
		logger.Error().Err(err).Msg("executor: charge failed")
		// No charge happened on this branch, so the message must not
		// promise a refund.
		e.fail(ctx, item, MsgChargeFailed)
		return
	}

	// The charge may have waited on the account lock; re-check before
	// spending backend capacity. The charge has happened, so a cancellation
	// seen here must be compensated.
	if e.terminated(ctx, item.ID) {
		logger.Info().Msg("executor: cancelled after charge, refunding")
		e.compensate(ctx, item.OwnerID, ref)
		return
	}

	if !e.advance(ctx, item, domain.StageGenerating) {
		e.compensate(ctx, item.OwnerID, ref)
		return
	}

	result, err := e.invokeWithRetry(ctx, item, genai.GenerateRequest{
		Prompt:    input.Prompt,
		Reference: decodeReference(input.Reference),
		Variants:  item.Variants,
		RequestID: item.ID,
	})

	// A user cancellation that raced with the call wins: discard any result,
	// refund the charge, leave the item failed.
	if e.terminated(ctx, item.ID) {
		logger.Info().Msg("executor: cancelled during generation, discarding result")
		e.compensate(ctx, item.OwnerID, ref)
		return
	}

	if err != nil {
		logger.Error().Err(err).Msg("executor: generation failed terminally")
		e.compensate(ctx, item.OwnerID, ref)
		e.fail(ctx, item, MsgGenerationFailed)
		e.notifier.OperatorAlert(ctx, fmt.Sprintf("work item %s (%s) failed: %v", item.ID, item.Kind, err))
		observability.ItemsProcessed.WithLabelValues(string(item.Kind), "failed").Inc()
		return
	}

	if !e.advance(ctx, item, domain.StageSaving) {
		e.compensate(ctx, item.OwnerID, ref)
		return
	}

	output, err := e.saveResult(ctx, item, result)
	if err != nil {
		logger.Error().Err(err).Msg("executor: saving result failed")
		e.compensate(ctx, item.OwnerID, ref)
		e.fail(ctx, item, MsgGenerationFailed)
		e.notifier.OperatorAlert(ctx, fmt.Sprintf("work item %s (%s) failed saving: %v", item.ID, item.Kind, err))
		observability.ItemsProcessed.WithLabelValues(string(item.Kind), "failed").Inc()
		return
	}
	if err := e.items.SetOutput(ctx, item.ID, output); err != nil {
		logger.Error().Err(err).Msg("executor: persist output failed")
	}

	if !e.advance(ctx, item, domain.StageComplete) {
		// Cancelled between saving and completion; the result stays
		// discarded and the charge comes back.
		e.compensate(ctx, item.OwnerID, ref)
		return
	}
	observability.ItemsProcessed.WithLabelValues(string(item.Kind), "complete").Inc()
	logger.Info().Int64("cost", cost).Msg("executor: item complete")
}

// invokeWithRetry calls the backend up to the configured attempt count with
// doubling backoff. Only transient errors retry; a non-retryable kind is
// terminal on first occurrence.
func (e *Executor) invokeWithRetry(ctx context.Context, item *domain.WorkItem, req genai.GenerateRequest) (*genai.GenerateResult, error) {
	backoff := e.cfg.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= e.cfg.RetryAttempts; attempt++ {
		result, err := e.backend.Generate(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !genai.IsTransient(err) {
			return nil, err
		}
		if attempt == e.cfg.RetryAttempts {
			break
		}
		// No point waiting out the backoff for an item nobody wants anymore.
		if e.terminated(ctx, item.ID) {
			return nil, fmt.Errorf("item cancelled during retry: %w", lastErr)
		}
		observability.ExternalCallRetries.Inc()
		e.logger.Warn().Err(err).
			Str("item_id", item.ID).
			Int("attempt", attempt).
			Msg("executor: transient backend failure, retrying")
		e.sleep(backoff)
		backoff *= 2
	}
	return nil, fmt.Errorf("after %d attempts: %w", e.cfg.RetryAttempts, lastErr)
}

// advance writes the next stage and broadcasts it. It reports false when the
// item turned terminal underneath us, which callers treat as a cancellation.
func (e *Executor) advance(ctx context.Context, item *domain.WorkItem, to domain.Stage) bool {
	applied, err := e.items.Advance(ctx, item.ID, to)
	if err != nil {
		e.logger.Error().Err(err).Str("item_id", item.ID).Str("to", string(to)).Msg("executor: advance failed")
		return false
	}
	if !applied {
		return false
	}
	item.Progress = to
	e.notifier.ItemProgress(ctx, item)
	return true
}

// fail force-sets the failed stage with a user-visible message. The write is
// a no-op when the item is already terminal, so a late failure never
// overwrites a completed item.
func (e *Executor) fail(ctx context.Context, item *domain.WorkItem, message string) {
	applied, err := e.items.Fail(ctx, item.ID, message)
	if err != nil {
		e.logger.Error().Err(err).Str("item_id", item.ID).Msg("executor: fail write failed")
		return
	}
	if applied {
		item.Progress = domain.StageFailed
		item.ErrorMessage = message
		e.notifier.ItemProgress(ctx, item)
	}
}

// compensate refunds whatever spend is still outstanding for the trackable.
func (e *Executor) compensate(ctx context.Context, ownerID string, ref domain.TrackableRef) {
	if _, err := e.credits.CompensateIfCharged(ctx, ownerID, ref); err != nil {
		e.logger.Error().Err(err).
			Str("owner_id", ownerID).
			Str("ref_id", ref.ID).
			Msg("executor: compensating refund failed")
		e.notifier.OperatorAlert(ctx, fmt.Sprintf("compensating refund failed for %s %s: %v", ref.Kind, ref.ID, err))
	}
}

// terminated re-reads the item and reports whether it reached a terminal
// stage. Cancellation is a direct state write, so polling at checkpoints is
// the only reliable way to observe it.
func (e *Executor) terminated(ctx context.Context, id string) bool {
	current, err := e.items.Get(ctx, id)
	if err != nil {
		e.logger.Error().Err(err).Str("item_id", id).Msg("executor: reload item failed")
		return true
	}
	return current.Progress.Terminal()
}

func (e *Executor) saveResult(ctx context.Context, item *domain.WorkItem, result *genai.GenerateResult) ([]byte, error) {
	output := ItemOutput{Text: result.Text}
	for i, m := range result.Media {
		key := fmt.Sprintf("generated/%s/%02d%s", item.ID, i+1, extensionForMIME(m.MIME))
		if e.store != nil {
			saved, err := e.store.Write(ctx, key, m.Data)
			if err != nil {
				return nil, fmt.Errorf("write media: %w", err)
			}
			key = saved
		}
		output.Media = append(output.Media, OutputMedia{
			MIME:       m.MIME,
			StorageKey: key,
			Bytes:      len(m.Data),
		})
	}
	return json.Marshal(output)
}

func decodeInput(raw []byte) (*ItemInput, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	var input ItemInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if input.Prompt == "" {
		return nil, fmt.Errorf("payload has no prompt")
	}
	return &input, nil
}

func decodeReference(refs []MediaRef) []genai.Media {
	var out []genai.Media
	for _, r := range refs {
		data, err := base64.StdEncoding.DecodeString(r.Data)
		if err != nil || len(data) == 0 {
			continue
		}
		mime := r.MIME
		if mime == "" {
			mime = "image/png"
		}
		out = append(out, genai.Media{MIME: mime, Data: data})
	}
	return out
}

func flowHas(flow domain.Flow, stage domain.Stage) bool {
	for _, s := range flow.Stages() {
		if s == stage {
			return true
		}
	}
	return false
}

func extensionForMIME(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "video/mp4":
		return ".mp4"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}
