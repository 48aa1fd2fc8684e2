package worker

import (
	"context"
	"errors"
	"time"

	"github.com/storefronthq/storefront/internal/domain/job"
	"github.com/storefronthq/storefront/internal/jobs"
	"github.com/storefronthq/storefront/internal/notifications"
)

// ProcessOne claims and executes a single job. It reports whether a job was
// claimed; execution failures are absorbed into retry scheduling.
func (w *Worker) ProcessOne(ctx context.Context, executorID string) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)

	j, err := w.repo.ClaimNext(claimCtx, executorID)
	cancel()

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return false, nil
		}

		return false, err
	}

	if w.prom != nil {
		w.prom.JobsInFlight.Inc()
		defer w.prom.JobsInFlight.Dec()
	}

	start := time.Now()

	err = w.execute(ctx, j)

	if err != nil {
		w.handleFailure(ctx, j, err)
		w.observeJob(j.Type, "retry_or_failed", start)
		return true, nil
	}

	err = w.repo.MarkDone(ctx, j.ID)

	if err != nil {
		_ = w.repo.MarkFailed(ctx, j.ID, "mark_done_failed: "+err.Error())
		w.observeJob(j.Type, "failed", start)
		return true, err
	}

	w.log.Info("job done", "job_id", j.ID, "type", j.Type, "attempts", j.Attempts)
	w.observeJob(j.Type, "done", start)

	return true, nil
}

func (w *Worker) execute(ctx context.Context, j job.Job) error {
	payload, err := jobs.DecodePayload(j)

	if err != nil {
		return err
	}

	if err := jobs.ValidatePayload(jobs.JobType(j.Type), payload); err != nil {
		return err
	}

	switch p := payload.(type) {
	case jobs.OrderConfirmationPayload:
		return w.notifier.SendOrderConfirmation(ctx, notifications.SendOrderConfirmationInput{
			Email:       p.Email,
			Name:        p.Name,
			OrderID:     p.OrderID,
			OrderNumber: p.OrderNumber,
			TotalPrice:  p.TotalPrice,
		})
	default:
		return jobs.ErrInvalidJobType
	}
}

func (w *Worker) handleFailure(ctx context.Context, j job.Job, cause error) {
	// a structurally broken payload will never succeed, don't retry it
	permanent := errors.Is(cause, jobs.ErrInvalidJobType) ||
		errors.Is(cause, jobs.ErrInvalidJobPayload) ||
		errors.Is(cause, jobs.ErrPayloadTypeMismatch)

	// Attempts counts completed tries; this one makes it j.Attempts+1.
	if permanent || j.Attempts+1 >= j.MaxAttempts {
		if err := w.repo.MarkFailed(ctx, j.ID, cause.Error()); err != nil {
			w.log.Error("mark failed error", "job_id", j.ID, "error", err)
		}
		w.log.Warn("job failed permanently", "job_id", j.ID, "type", j.Type, "attempts", j.Attempts+1, "cause", cause.Error())
		return
	}

	delay := ExponentialBackoff(j.Attempts)
	runAt := time.Now().UTC().Add(delay)

	if err := w.repo.Reschedule(ctx, j.ID, runAt, cause.Error()); err != nil {
		w.log.Error("reschedule error", "job_id", j.ID, "error", err)
		return
	}

	w.log.Warn("job rescheduled", "job_id", j.ID, "type", j.Type, "attempt", j.Attempts+1, "delay", delay.String(), "cause", cause.Error())
}

func (w *Worker) observeJob(jobType, result string, start time.Time) {
	if w.prom == nil {
		return
	}
	w.prom.JobResults.WithLabelValues(jobType, result).Inc()
	w.prom.JobDuration.WithLabelValues(jobType, result).Observe(time.Since(start).Seconds())
}
