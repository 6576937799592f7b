package monitoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"simwatch/internal/mq"
	"simwatch/internal/store"
	"simwatch/pkg/events"
)

// ScheduleWarningCheck publishes the delayed message used to detect a
// late job. The delay is the time remaining until the job's expected
// completion, clamped to zero, floored to whole seconds and padded by
// one second so delivery jitter cannot fire the check early.
func ScheduleWarningCheck(ctx context.Context, pub mq.Publisher, log *slog.Logger, jobType mq.JobType, job *store.Job, now time.Time) error {
	code, ok := mq.WarningCheckCode(jobType)
	if !ok {
		return fmt.Errorf("monitoring: no warning-check code for job type %s", jobType)
	}

	delay := WarningCheckDelay(job.ExecutionStartDate, job.WarningDelay, now)
	log.Info("scheduling job late warning check",
		"job_uid", job.UID, "delay_ms", delay.Milliseconds())

	env := mq.New(code, map[string]any{
		"job_uid":        job.UID,
		"simulation_uid": job.SimulationUID,
	})
	return pub.Publish(ctx, env, mq.WithDelay(delay))
}

// WarningCheckDelay computes the broker delay for a warning check:
// floor(max(expected-now, 0)) + 1 second.
func WarningCheckDelay(jobStart time.Time, warningDelaySeconds int64, now time.Time) time.Duration {
	expected := jobStart.Add(time.Duration(warningDelaySeconds) * time.Second)
	delta := expected.Sub(now)
	if delta < 0 {
		delta = 0
	}
	seconds := int64(delta.Seconds())
	return time.Duration(seconds+1) * time.Second
}

// WarningCheckHandler consumes the delayed check messages. The check
// is fire-and-verify: a job that completed in the meantime simply
// passes the check, since the scheduled message is never cancelled.
type WarningCheckHandler struct {
	store store.Gateway
	pub   mq.Publisher
	log   *slog.Logger
}

// NewWarningCheckHandler wires the warning-check pipeline.
func NewWarningCheckHandler(g store.Gateway, pub mq.Publisher, log *slog.Logger) *WarningCheckHandler {
	return &WarningCheckHandler{store: g, pub: pub, log: log}
}

// Handle implements mq.Handler.
func (h *WarningCheckHandler) Handle(ctx context.Context, env *mq.Envelope) error {
	jobUID := env.String("job_uid")
	simulationUID := env.String("simulation_uid")
	if jobUID == "" || simulationUID == "" {
		return fmt.Errorf("warning check %s is missing job_uid or simulation_uid", env.Props.MessageID)
	}

	job, err := h.store.RetrieveJob(ctx, nil, jobUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.log.Warn("warning check for unknown job", "job_uid", jobUID)
			return nil
		}
		return err
	}
	if !job.IsRunning() {
		return nil
	}

	sim, err := h.store.RetrieveSimulation(ctx, nil, simulationUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if sim.IsObsolete {
		return nil
	}

	h.log.Warn("job has exceeded its warning delay",
		"job_uid", jobUID, "simulation_uid", simulationUID, "warning_delay_s", job.WarningDelay)

	out := mq.New(mq.CodeFrontEnd, events.Notification(events.JobLate, jobUID, simulationUID))
	return h.pub.Publish(ctx, out)
}
