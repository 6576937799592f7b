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

// jobEndContext is the per-message working state of the job-end
// pipeline.
type jobEndContext struct {
	mq.State

	env *mq.Envelope
	tx  store.Tx

	jobType         mq.JobType
	isError         bool
	isSimulationEnd bool
	endDate         time.Time

	jobUID        string
	simulationUID string
	simulation    *store.Simulation
}

// JobEndHandler consumes job-end messages, both normal completions and
// fatal errors, including the codes that also terminate the owning
// simulation.
type JobEndHandler struct {
	store store.Gateway
	pub   mq.Publisher
	log   *slog.Logger
	now   func() time.Time
}

// NewJobEndHandler wires the job-end pipeline.
func NewJobEndHandler(g store.Gateway, pub mq.Publisher, log *slog.Logger) *JobEndHandler {
	return &JobEndHandler{
		store: g,
		pub:   pub,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Handle implements mq.Handler.
func (h *JobEndHandler) Handle(ctx context.Context, env *mq.Envelope) error {
	jobType, ok := mq.JobEndType(env.Props.Type)
	if !ok {
		return fmt.Errorf("monitoring: %s is not a job-end code", env.Props.Type)
	}

	pc := &jobEndContext{
		env:             env,
		jobType:         jobType,
		isError:         mq.IsFatal(env.Props.Type),
		isSimulationEnd: mq.IsSimulationEnd(env.Props.Type),
		endDate:         env.Props.Timestamp,
	}

	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	pc.tx = tx

	pipeline := mq.Pipeline[*jobEndContext]{
		Name: "monitoring-job-end",
		Tasks: []mq.Task[*jobEndContext]{
			h.unpackContent,
			h.persistJob,
			h.persistSimulation,
			h.triggerSupervision,
			h.enqueueFrontEndJobNotification,
			h.enqueueFrontEndSimulationNotification,
		},
		Log: h.log,
	}
	if err := pipeline.Execute(ctx, pc); err != nil {
		return err
	}
	return tx.Commit()
}

func (h *JobEndHandler) unpackContent(ctx context.Context, pc *jobEndContext) error {
	pc.jobUID = pc.env.String("jobuid")
	pc.simulationUID = pc.env.String("simuid")
	if pc.jobUID == "" || pc.simulationUID == "" {
		return fmt.Errorf("job-end message %s is missing jobuid or simuid", pc.env.Props.MessageID)
	}
	return nil
}

// persistJob records the terminal job state. An end event for an
// unknown job means the start was never received; that is an expected
// abort, not a fault.
func (h *JobEndHandler) persistJob(ctx context.Context, pc *jobEndContext) error {
	err := h.store.PersistJobEnd(ctx, pc.tx, pc.endDate, pc.isError, pc.jobUID, pc.simulationUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.log.Warn("job-end for unknown job", "job_uid", pc.jobUID, "type", pc.env.Props.Type)
			pc.Abort()
			return nil
		}
		return err
	}
	return nil
}

func (h *JobEndHandler) persistSimulation(ctx context.Context, pc *jobEndContext) error {
	if !pc.isSimulationEnd {
		return nil
	}
	sim, err := h.store.PersistSimulationEnd(ctx, pc.tx, pc.endDate, pc.isError, pc.simulationUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.log.Warn("simulation-end for unknown simulation", "simulation_uid", pc.simulationUID)
			pc.Abort()
			return nil
		}
		return err
	}
	pc.simulation = sim
	return nil
}

// triggerSupervision opens a supervision for a failing compute job:
// the period failure counter is bumped and a format trigger is
// enqueued for the supervisor.
func (h *JobEndHandler) triggerSupervision(ctx context.Context, pc *jobEndContext) error {
	if !pc.isError || pc.jobType != mq.JobTypeComputing {
		return nil
	}
	if err := h.store.IncrementLatestPeriodFailure(ctx, pc.tx, pc.simulationUID); err != nil {
		return err
	}
	sup, err := h.store.CreateSupervision(ctx, pc.tx, pc.simulationUID, pc.jobUID)
	if err != nil {
		return err
	}
	env := mq.New(mq.CodeSupervisionFormat, map[string]any{
		"supervision_id": sup.ID,
		"job_uid":        pc.jobUID,
		"simulation_uid": pc.simulationUID,
	})
	return h.pub.Publish(ctx, env)
}

// enqueueFrontEndJobNotification emits the job-level event; the
// simulation-ending codes are announced as simulation events instead.
func (h *JobEndHandler) enqueueFrontEndJobNotification(ctx context.Context, pc *jobEndContext) error {
	if pc.isSimulationEnd {
		return nil
	}
	eventType := events.JobComplete
	if pc.isError {
		eventType = events.JobError
	}
	env := mq.New(mq.CodeFrontEnd, events.Notification(eventType, pc.jobUID, pc.simulationUID))
	return h.pub.Publish(ctx, env)
}

// enqueueFrontEndSimulationNotification emits the simulation-level
// event. Skipped when the start event was never received (no hashid)
// or when this incarnation has been superseded by a restart.
func (h *JobEndHandler) enqueueFrontEndSimulationNotification(ctx context.Context, pc *jobEndContext) error {
	if !pc.isSimulationEnd {
		return nil
	}
	if pc.simulation == nil || pc.simulation.HashID == nil {
		return nil
	}

	active, err := h.store.RetrieveActiveSimulation(ctx, pc.tx, *pc.simulation.HashID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if active.UID != pc.simulation.UID {
		return nil
	}

	eventType := events.SimulationComplete
	if pc.isError {
		eventType = events.SimulationError
	}
	env := mq.New(mq.CodeFrontEnd, events.Notification(eventType, pc.jobUID, pc.simulationUID))
	return h.pub.Publish(ctx, env)
}
