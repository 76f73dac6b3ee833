package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	e "github.com/gartstein/enroll/internal/registration/errors"
	"github.com/gartstein/enroll/internal/registration/events"
	"github.com/gartstein/enroll/internal/registration/models"
	"github.com/gartstein/enroll/internal/registration/schedule"
	"go.uber.org/zap"
)

// scheduleCASRetries bounds optimistic-concurrency retries when two
// requests race to persist the same auto transition.
const scheduleCASRetries = 3

// ScheduleService evaluates and persists the global open/closed gate.
type ScheduleService struct {
	repo     Repository
	producer EventProducer
	logger   *zap.Logger
}

// NewScheduleService constructs a ScheduleService.
func NewScheduleService(repo Repository, producer EventProducer, logger *zap.Logger) *ScheduleService {
	return &ScheduleService{
		repo:     repo,
		producer: producer,
		logger:   logger.Named("schedule_service"),
	}
}

// Current returns the schedule after applying any auto transition due at
// now. Transitions are persisted with a compare-and-swap and retried a
// bounded number of times when another request wins the race.
func (s *ScheduleService) Current(ctx context.Context, now time.Time) (*models.Schedule, error) {
	var current *models.Schedule

	op := func() error {
		sched, err := s.repo.GetSchedule(ctx)
		if err != nil {
			if errors.Is(err, e.ErrNotFound) {
				// Nothing persisted yet: the documented default, closed
				// until an operator opens the system.
				current = models.DefaultSchedule()
				return nil
			}
			return backoff.Permanent(err)
		}

		decision := schedule.Evaluate(now, sched)
		if !decision.Changed {
			current = sched
			return nil
		}

		if err := s.repo.SaveScheduleIf(ctx, sched.UpdatedAt, decision.IsOpen, decision.AutoClosed); err != nil {
			if errors.Is(err, e.ErrConflict) {
				return err // re-read and re-evaluate
			}
			return backoff.Permanent(err)
		}
		sched.IsOpen = decision.IsOpen
		sched.AutoClosed = decision.AutoClosed
		current = sched

		s.logger.Info("schedule auto transition",
			zap.Bool("is_open", sched.IsOpen),
			zap.Bool("auto_closed", sched.AutoClosed),
		)
		go func() {
			s.producer.Produce(events.ScheduleChanged, "schedule", sched)
		}()
		return nil
	}

	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), scheduleCASRetries))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate schedule: %w", err)
	}
	return current, nil
}

// Set applies a manual schedule write. Manual writes always clear the
// auto-closed marker, re-arming the next auto-close/auto-open cycle.
func (s *ScheduleService) Set(ctx context.Context, patch *models.SchedulePatch) (*models.Schedule, error) {
	if patch.OpenTime != "" && !schedule.ValidClock(patch.OpenTime) {
		return nil, fmt.Errorf("%w: open time must be HH:MM", e.ErrInvalidInput)
	}
	if patch.CloseTime != "" && !schedule.ValidClock(patch.CloseTime) {
		return nil, fmt.Errorf("%w: close time must be HH:MM", e.ErrInvalidInput)
	}
	if patch.AutoSchedule && (patch.OpenTime == "" || patch.CloseTime == "") {
		return nil, fmt.Errorf("%w: auto schedule requires open and close times", e.ErrInvalidInput)
	}

	sched := &models.Schedule{
		ID:           models.ScheduleID,
		IsOpen:       patch.IsOpen,
		Message:      patch.Message,
		AutoSchedule: patch.AutoSchedule,
		OpenTime:     patch.OpenTime,
		CloseTime:    patch.CloseTime,
		AutoClosed:   false,
		CodesActive:  patch.CodesActive,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.repo.SaveSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("failed to save schedule: %w", err)
	}
	go func() {
		s.producer.Produce(events.ScheduleChanged, "schedule", sched)
	}()
	return sched, nil
}
