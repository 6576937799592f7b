// Package monitoring contains the message-driven pipelines that track
// simulation and job lifecycle.
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

// jobStartContext is the per-message working state of the job-start
// pipeline.
type jobStartContext struct {
	mq.State

	env *mq.Envelope
	tx  store.Tx

	jobType   mq.JobType
	isStartup bool

	jobUID            string
	simulationUID     string
	accountingProject *string
	schedulerID       *string
	warningDelay      int64
	ppName            *string
	ppDate            *string
	ppDimension       *string
	ppComponent       *string
	ppFile            *string

	job *store.Job
}

// JobStartHandler consumes job-start messages: it upserts the job,
// schedules the warning-delay check and notifies the front end.
type JobStartHandler struct {
	store               store.Gateway
	pub                 mq.Publisher
	defaultWarningDelay int64
	log                 *slog.Logger
	now                 func() time.Time
}

// NewJobStartHandler wires the job-start pipeline.
func NewJobStartHandler(g store.Gateway, pub mq.Publisher, defaultWarningDelay int64, log *slog.Logger) *JobStartHandler {
	return &JobStartHandler{
		store:               g,
		pub:                 pub,
		defaultWarningDelay: defaultWarningDelay,
		log:                 log,
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

// Handle implements mq.Handler.
func (h *JobStartHandler) Handle(ctx context.Context, env *mq.Envelope) error {
	jobType, ok := mq.JobStartType(env.Props.Type)
	if !ok {
		return fmt.Errorf("monitoring: %s is not a job-start code", env.Props.Type)
	}

	pc := &jobStartContext{
		env:       env,
		jobType:   jobType,
		isStartup: mq.IsStartup(env.Props.Type),
	}

	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	pc.tx = tx

	pipeline := mq.Pipeline[*jobStartContext]{
		Name: "monitoring-job-start",
		Tasks: []mq.Task[*jobStartContext]{
			h.dropObsoletes,
			h.unpackContent,
			h.persistSimulation,
			h.persistJob,
			h.persistSimulationUpdates,
			h.recordJobPeriod,
			h.enqueueWarningDelayCheck,
			h.enqueueFrontEndNotification,
		},
		Log: h.log,
	}
	if err := pipeline.Execute(ctx, pc); err != nil {
		return err
	}
	return tx.Commit()
}

// dropObsoletes drops messages in a format no longer emitted by
// supported producers. The legacy marker is a top-level "command"
// field.
func (h *JobStartHandler) dropObsoletes(ctx context.Context, pc *jobStartContext) error {
	if pc.env.Has("command") {
		h.log.Warn("dropping job-start in obsolete format", "message_id", pc.env.Props.MessageID)
		pc.Abort()
	}
	return nil
}

func (h *JobStartHandler) unpackContent(ctx context.Context, pc *jobStartContext) error {
	pc.jobUID = pc.env.String("jobuid")
	pc.simulationUID = pc.env.String("simuid")
	if pc.jobUID == "" || pc.simulationUID == "" {
		return fmt.Errorf("job-start message %s is missing jobuid or simuid", pc.env.Props.MessageID)
	}

	pc.accountingProject = optString(pc.env, "accountingProject")
	pc.schedulerID = optString(pc.env, "jobSchedulerID")
	pc.ppName = optString(pc.env, "postProcessingName")
	pc.ppDate = optString(pc.env, "postProcessingDate")
	pc.ppDimension = optString(pc.env, "postProcessingDimn")
	pc.ppComponent = optString(pc.env, "postProcessingComp")
	pc.ppFile = optString(pc.env, "postProcessingFile")

	pc.warningDelay = h.defaultWarningDelay
	if d, ok := pc.env.Int64("jobWarningDelay"); ok && d > 0 {
		pc.warningDelay = d
	}
	return nil
}

// persistSimulation records the simulation itself on startup messages,
// which carry the simulation descriptors, and obsoletes any
// incarnation superseded by this restart.
func (h *JobStartHandler) persistSimulation(ctx context.Context, pc *jobStartContext) error {
	if !pc.isStartup {
		return nil
	}

	start := pc.env.Props.Timestamp
	sim := &store.Simulation{
		UID:                pc.simulationUID,
		HashID:             optString(pc.env, "hashid"),
		Name:               pc.env.String("name"),
		ComputeNodeLogin:   optString(pc.env, "computeNodeLogin"),
		ComputeNodeMachine: optString(pc.env, "computeNodeMachine"),
		ExecutionStartDate: &start,
	}
	persisted, err := h.store.PersistSimulationStart(ctx, pc.tx, sim)
	if err != nil {
		return err
	}
	if persisted.HashID != nil {
		return h.store.MarkSupersededSimulations(ctx, pc.tx, *persisted.HashID, persisted.UID)
	}
	return nil
}

func (h *JobStartHandler) persistJob(ctx context.Context, pc *jobStartContext) error {
	job := &store.Job{
		UID:                     pc.jobUID,
		SimulationUID:           pc.simulationUID,
		Type:                    pc.jobType,
		AccountingProject:       pc.accountingProject,
		SchedulerID:             pc.schedulerID,
		IsStartup:               pc.isStartup,
		WarningDelay:            pc.warningDelay,
		ExecutionStartDate:      pc.env.Props.Timestamp,
		PostProcessingName:      pc.ppName,
		PostProcessingDate:      pc.ppDate,
		PostProcessingDimension: pc.ppDimension,
		PostProcessingComponent: pc.ppComponent,
		PostProcessingFile:      pc.ppFile,
	}
	persisted, err := h.store.PersistJobStart(ctx, pc.tx, job)
	if err != nil {
		return err
	}
	pc.job = persisted
	return nil
}

// persistSimulationUpdates ensures a simulation with a fresh compute
// job is no longer considered to be in an error state.
func (h *JobStartHandler) persistSimulationUpdates(ctx context.Context, pc *jobStartContext) error {
	if pc.jobType != mq.JobTypeComputing {
		return nil
	}
	return h.store.ClearSimulationError(ctx, pc.tx, pc.simulationUID)
}

// recordJobPeriod stores the output period a compute-job start
// reports, when the producer includes one.
func (h *JobStartHandler) recordJobPeriod(ctx context.Context, pc *jobStartContext) error {
	if pc.jobType != mq.JobTypeComputing {
		return nil
	}
	periodID, ok := pc.env.Int64("periodId")
	if !ok {
		return nil
	}
	period := &store.JobPeriod{
		SimulationUID:   pc.simulationUID,
		PeriodID:        int(periodID),
		PeriodDateBegin: optTime(pc.env, "periodDateBegin"),
		PeriodDateEnd:   optTime(pc.env, "periodDateEnd"),
	}
	return h.store.RecordJobPeriod(ctx, pc.tx, period)
}

func (h *JobStartHandler) enqueueWarningDelayCheck(ctx context.Context, pc *jobStartContext) error {
	return ScheduleWarningCheck(ctx, h.pub, h.log, pc.jobType, pc.job, h.now())
}

// enqueueFrontEndNotification notifies the front end of the job start.
// Skipped while the simulation start event has not been received, or
// once the simulation has been superseded by a restart.
func (h *JobStartHandler) enqueueFrontEndNotification(ctx context.Context, pc *jobStartContext) error {
	sim, err := h.store.RetrieveSimulation(ctx, pc.tx, pc.simulationUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if sim.IsObsolete {
		return nil
	}
	env := mq.New(mq.CodeFrontEnd, events.Notification(events.JobStart, pc.jobUID, pc.simulationUID))
	return h.pub.Publish(ctx, env)
}

func optString(env *mq.Envelope, key string) *string {
	if s := env.String(key); s != "" && s != "N/A" {
		return &s
	}
	return nil
}

func optTime(env *mq.Envelope, key string) *time.Time {
	raw := env.String(key)
	if raw == "" {
		return nil
	}
	ts, err := mq.ParseTimestamp(raw)
	if err != nil {
		return nil
	}
	return &ts
}
