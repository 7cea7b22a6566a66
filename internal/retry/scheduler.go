// Package retry re-sends failed delivery attempts on their original
// channel with linear backoff, handing off to the dispatcher's
// fallback chain once the channel's attempt budget is spent.
package retry

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/example/clinic-notify/internal/adapters/common"
	"github.com/example/clinic-notify/internal/content"
	"github.com/example/clinic-notify/internal/dispatch"
	"github.com/example/clinic-notify/internal/events"
	"github.com/example/clinic-notify/internal/metrics"
	"github.com/example/clinic-notify/internal/models"
	"github.com/example/clinic-notify/internal/store"
)

// Fallback is the dispatcher surface the scheduler re-enters when a
// channel exhausts its retries.
type Fallback interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*models.DispatchOutcome, error)
}

// Config contains the retry policy. The values are deliberate policy
// constants, not derived: the n-th resend waits n*BackoffUnit, and a
// channel gets at most MaxAttempts tries in total (first send
// included).
type Config struct {
	MaxAttempts int
	BackoffUnit time.Duration
	Concurrency int
	// SweepInterval is a cron spec for reloading due persisted
	// retries, which covers timers lost to a restart.
	SweepInterval string
}

// Dependencies collects the runtime collaborators for the scheduler.
type Dependencies struct {
	Store     store.DeliveryStore
	Directory store.RecipientDirectory
	Adapters  []common.Adapter
	Builder   *content.Builder
	Fallback  Fallback
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Scheduler owns the asynchronous retry lifecycle. Schedule never
// blocks the caller: the wait and resend run on their own goroutine,
// bounded by a semaphore.
type Scheduler struct {
	cfg       Config
	store     store.DeliveryStore
	directory store.RecipientDirectory
	adapters  map[string]common.Adapter
	builder   *content.Builder
	fallback  Fallback
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time

	sem  *semaphore.Weighted
	cron *cron.Cron

	mu      sync.Mutex
	pending map[string]struct{} // attempt ids with a retry in flight

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler constructs a retry scheduler.
func NewScheduler(cfg Config, deps Dependencies) (*Scheduler, error) {
	if cfg.MaxAttempts < 1 {
		return nil, errors.New("retry: max attempts must be >= 1")
	}
	if cfg.BackoffUnit <= 0 {
		return nil, errors.New("retry: backoff unit must be positive")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if deps.Store == nil {
		return nil, errors.New("retry: delivery store dependency is required")
	}
	if deps.Directory == nil {
		return nil, errors.New("retry: recipient directory dependency is required")
	}
	if deps.Builder == nil {
		return nil, errors.New("retry: content builder dependency is required")
	}
	if len(deps.Adapters) == 0 {
		return nil, errors.New("retry: at least one adapter is required")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "retry_scheduler").Logger()

	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	adapters := make(map[string]common.Adapter, len(deps.Adapters))
	for _, a := range deps.Adapters {
		if a != nil {
			adapters[a.Channel()] = a
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:       cfg,
		store:     deps.Store,
		directory: deps.Directory,
		adapters:  adapters,
		builder:   deps.Builder,
		fallback:  deps.Fallback,
		publisher: publisher,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       nowFunc,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		pending:   make(map[string]struct{}),
		baseCtx:   ctx,
		cancel:    cancel,
	}

	if cfg.SweepInterval != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(cfg.SweepInterval, s.sweep); err != nil {
			cancel()
			return nil, errors.New("retry: invalid sweep interval spec")
		}
	}

	return s, nil
}

// Start launches the periodic sweep of due persisted retries.
func (s *Scheduler) Start() {
	if s.cron != nil {
		s.cron.Start()
	}
}

// Stop cancels in-flight waits and stops the sweeper. Running resends
// are allowed to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	s.cancel()
	s.wg.Wait()
}

// Schedule implements dispatch.Retrier. It increments the attempt's
// retry counter, persists the due time and queues the resend without
// blocking the caller.
func (s *Scheduler) Schedule(attempt *models.DeliveryAttempt, exclude []string) {
	if attempt == nil {
		return
	}

	if !s.claim(attempt.ID) {
		return
	}
	exclude = append([]string(nil), exclude...)

	newCount, err := s.store.IncrementRetry(s.baseCtx, attempt.ID, attempt.ErrorMessage, nil)
	if err != nil {
		s.logger.Error().Err(err).Str("attempt_id", attempt.ID).Msg("failed to increment retry count")
		s.forget(attempt.ID)
		return
	}

	delay := time.Duration(newCount) * s.cfg.BackoffUnit
	due := s.now().Add(delay)
	if err := s.store.MarkFailed(s.baseCtx, attempt.ID, attempt.ErrorMessage, &due); err != nil {
		s.logger.Error().Err(err).Str("attempt_id", attempt.ID).Msg("failed to persist retry due time")
	}
	s.publishEvent(attempt, events.EventRetryScheduled, attempt.ErrorMessage, newCount)
	if s.metrics != nil {
		s.metrics.RetriesScheduled.Inc()
	}

	s.logger.Info().
		Str("attempt_id", attempt.ID).
		Str("channel", attempt.Channel).
		Int("retry_count", newCount).
		Dur("delay", delay).
		Msg("retry scheduled")

	s.spawn(attempt.ID, delay, exclude)
}

// sweep reloads persisted due retries. It exists for crash recovery:
// the in-process timers above are lost on restart, the rows are not.
// A swept retry has lost its original exclude set; the dispatcher's
// eligibility checks still prevent revisiting opted-out channels.
func (s *Scheduler) sweep() {
	due, err := s.store.DueRetries(s.baseCtx, s.now(), 100)
	if err != nil {
		s.logger.Error().Err(err).Msg("retry sweep query failed")
		return
	}
	for _, attempt := range due {
		if !s.claim(attempt.ID) {
			continue
		}
		s.spawn(attempt.ID, 0, nil)
	}
}

// spawn queues one resend after the delay. The claim on the attempt id
// is released only on a terminal outcome inside run, so a rescheduled
// resend keeps the claim across cycles.
func (s *Scheduler) spawn(attemptID string, delay time.Duration, exclude []string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if !s.wait(delay) {
			s.forget(attemptID)
			return
		}
		s.run(attemptID, exclude)
	}()
}

// run performs one same-channel resend for the attempt.
func (s *Scheduler) run(attemptID string, exclude []string) {
	if err := s.sem.Acquire(s.baseCtx, 1); err != nil {
		s.forget(attemptID)
		return
	}
	defer s.sem.Release(1)

	ctx := s.baseCtx
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		s.logger.Error().Err(err).Str("attempt_id", attemptID).Msg("retry target vanished")
		s.forget(attemptID)
		return
	}
	if attempt.Status != models.StatusFailed {
		// Already resolved elsewhere (webhook confirmation, sweep race).
		s.forget(attemptID)
		return
	}

	recipient, err := s.directory.Lookup(ctx, attempt.RecipientID)
	if err != nil {
		s.logger.Error().Err(err).Str("attempt_id", attempt.ID).Msg("recipient lookup failed for retry")
		s.giveUp(ctx, attempt, "recipient lookup failed")
		s.forget(attempt.ID)
		return
	}

	adapter, ok := s.adapters[attempt.Channel]
	if !ok || !recipient.CanReceive(attempt.Channel) {
		s.exhaust(ctx, attempt, recipient, "channel no longer available", exclude)
		s.forget(attempt.ID)
		return
	}

	var appointment *models.Appointment
	if attempt.AppointmentID != "" {
		appointment = &models.Appointment{ID: attempt.AppointmentID, PatientID: recipient.ID}
	}
	bundle := s.builder.Build(attempt.Type, recipient, appointment)
	msg := dispatch.MessageFor(attempt.Channel, recipient, bundle, attempt)

	result, sendErr := adapter.Send(ctx, msg)
	if result != nil && result.Success {
		if err := s.store.MarkSent(ctx, attempt.ID, result.SentAt, result.ProviderMessageID, result.Meta); err != nil {
			s.logger.Error().Err(err).Str("attempt_id", attempt.ID).Msg("failed to mark retried attempt sent")
		}
		s.publishEvent(attempt, events.EventSent, "", attempt.RetryCount)
		s.logger.Info().
			Str("attempt_id", attempt.ID).
			Str("channel", attempt.Channel).
			Int("retry_count", attempt.RetryCount).
			Msg("retry succeeded")
		s.forget(attempt.ID)
		return
	}

	errMsg := "send failed"
	if result != nil && result.Error != "" {
		errMsg = result.Error
	} else if sendErr != nil {
		errMsg = sendErr.Error()
	}

	attemptNumber := attempt.RetryCount + 1
	if !common.Retryable(sendErr) || attemptNumber >= s.cfg.MaxAttempts {
		s.exhaust(ctx, attempt, recipient, errMsg, exclude)
		s.forget(attempt.ID)
		return
	}

	// Still within budget: bump the counter and wait out the next
	// linear step.
	newCount, err := s.store.IncrementRetry(ctx, attempt.ID, errMsg, nil)
	if err != nil {
		s.logger.Error().Err(err).Str("attempt_id", attempt.ID).Msg("failed to increment retry count")
		s.forget(attempt.ID)
		return
	}
	delay := time.Duration(newCount) * s.cfg.BackoffUnit
	due := s.now().Add(delay)
	if err := s.store.MarkFailed(ctx, attempt.ID, errMsg, &due); err != nil {
		s.logger.Error().Err(err).Str("attempt_id", attempt.ID).Msg("failed to persist retry due time")
	}
	s.publishEvent(attempt, events.EventRetryScheduled, errMsg, newCount)
	if s.metrics != nil {
		s.metrics.RetriesScheduled.Inc()
	}

	s.spawn(attempt.ID, delay, exclude)
}

// exhaust marks the channel spent and re-enters the dispatcher's
// fallback chain with the channel excluded, so the notification moves
// on instead of being dropped.
func (s *Scheduler) exhaust(ctx context.Context, attempt *models.DeliveryAttempt, recipient *models.Recipient, errMsg string, exclude []string) {
	if err := s.store.MarkFailed(ctx, attempt.ID, errMsg, nil); err != nil {
		s.logger.Error().Err(err).Str("attempt_id", attempt.ID).Msg("failed to mark attempt exhausted")
	}
	s.publishEvent(attempt, events.EventExhausted, errMsg, attempt.RetryCount)
	if s.metrics != nil {
		s.metrics.RetryExhausted.Inc()
	}

	exclude = append(append([]string(nil), exclude...), attempt.Channel)
	s.logger.Warn().
		Str("attempt_id", attempt.ID).
		Str("channel", attempt.Channel).
		Strs("exclude", exclude).
		Msg("channel retries exhausted, falling back")

	if s.fallback == nil {
		return
	}
	outcome, err := s.fallback.Dispatch(ctx, dispatch.Request{
		Recipient:   recipient,
		Type:        attempt.Type,
		Appointment: appointmentRef(attempt),
		Exclude:     exclude,
	})
	if err != nil {
		evt := s.logger.Error().Err(err).Str("attempt_id", attempt.ID)
		if outcome != nil {
			evt = evt.Int("fallback_attempts", outcome.TotalAttempts)
		}
		evt.Msg("fallback after exhaustion failed")
	}
}

func (s *Scheduler) giveUp(ctx context.Context, attempt *models.DeliveryAttempt, errMsg string) {
	if err := s.store.MarkFailed(ctx, attempt.ID, errMsg, nil); err != nil {
		s.logger.Error().Err(err).Str("attempt_id", attempt.ID).Msg("failed to mark attempt terminal")
	}
	s.publishEvent(attempt, events.EventExhausted, errMsg, attempt.RetryCount)
}

// claim reserves the attempt id so a duplicate schedule (or a sweep
// racing an in-flight timer) cannot double-run it.
func (s *Scheduler) claim(attemptID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pending[attemptID]; exists {
		return false
	}
	s.pending[attemptID] = struct{}{}
	return true
}

func (s *Scheduler) forget(attemptID string) {
	s.mu.Lock()
	delete(s.pending, attemptID)
	s.mu.Unlock()
}

func (s *Scheduler) wait(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.baseCtx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Scheduler) publishEvent(attempt *models.DeliveryAttempt, eventType, errMsg string, retryCount int) {
	err := s.publisher.Publish(s.baseCtx, events.StatusEvent{
		AttemptID:   attempt.ID,
		RecipientID: attempt.RecipientID,
		Channel:     attempt.Channel,
		Type:        attempt.Type,
		EventType:   eventType,
		RetryCount:  retryCount,
		Error:       errMsg,
		Timestamp:   s.now(),
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("attempt_id", attempt.ID).
			Str("event", eventType).
			Msg("failed to publish status event")
	}
}

func appointmentRef(attempt *models.DeliveryAttempt) *models.Appointment {
	if attempt.AppointmentID == "" {
		return nil
	}
	return &models.Appointment{ID: attempt.AppointmentID, PatientID: attempt.RecipientID}
}
