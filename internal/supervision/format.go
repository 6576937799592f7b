package supervision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"simwatch/internal/mail"
	"simwatch/internal/mq"
	"simwatch/internal/store"
)

// formatContext is the per-message working state of the format
// pipeline.
type formatContext struct {
	mq.State

	env *mq.Envelope
	tx  store.Tx

	supervisionID int64
	supervision   *store.Supervision
	simulation    *store.Simulation
	job           *store.Job
}

// FormatHandler consumes supervision format triggers: it verifies the
// failure is worth correcting, renders the corrective script and hands
// it to the dispatcher queue.
type FormatHandler struct {
	store            Gateway
	pub              mq.Publisher
	auth             Authorizer
	alerter          mail.Alerter
	maxPeriodFailure int
	log              *slog.Logger
	now              func() time.Time
}

// NewFormatHandler wires the format pipeline.
func NewFormatHandler(g Gateway, pub mq.Publisher, auth Authorizer, alerter mail.Alerter, maxPeriodFailure int, log *slog.Logger) *FormatHandler {
	return &FormatHandler{
		store:            g,
		pub:              pub,
		auth:             auth,
		alerter:          alerter,
		maxPeriodFailure: maxPeriodFailure,
		log:              log,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Handle implements mq.Handler.
func (h *FormatHandler) Handle(ctx context.Context, env *mq.Envelope) error {
	pc := &formatContext{env: env}

	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	pc.tx = tx

	pipeline := mq.Pipeline[*formatContext]{
		Name: "supervision-format",
		Tasks: []mq.Task[*formatContext]{
			h.unpackContent,
			h.retrieveEntities,
			h.authorize,
			h.verifyFailureCount,
			h.formatScript,
			h.enqueueDispatch,
		},
		Log: h.log,
	}
	if err := pipeline.Execute(ctx, pc); err != nil {
		return err
	}
	return tx.Commit()
}

func (h *FormatHandler) unpackContent(ctx context.Context, pc *formatContext) error {
	id, ok := pc.env.Int64("supervision_id")
	if !ok {
		return fmt.Errorf("format trigger %s carries no supervision_id", pc.env.Props.MessageID)
	}
	pc.supervisionID = id
	return nil
}

func (h *FormatHandler) retrieveEntities(ctx context.Context, pc *formatContext) error {
	sup, err := h.store.RetrieveSupervision(ctx, pc.tx, pc.supervisionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.log.Warn("format trigger for unknown supervision", "supervision_id", pc.supervisionID)
			pc.Abort()
			return nil
		}
		return err
	}
	pc.supervision = sup

	sim, err := h.store.RetrieveSimulation(ctx, pc.tx, sup.SimulationUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.log.Warn("format trigger for unknown simulation",
				"supervision_id", pc.supervisionID, "simulation_uid", sup.SimulationUID)
			pc.Abort()
			return nil
		}
		return err
	}
	if sim.ComputeNodeLogin == nil {
		h.log.Warn("simulation has no compute node login yet, skipping supervision",
			"supervision_id", pc.supervisionID, "simulation_uid", sup.SimulationUID)
		pc.Abort()
		return nil
	}
	pc.simulation = sim

	job, err := h.store.RetrieveJob(ctx, pc.tx, sup.JobUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.log.Warn("format trigger for unknown job",
				"supervision_id", pc.supervisionID, "job_uid", sup.JobUID)
			pc.Abort()
			return nil
		}
		return err
	}
	pc.job = job
	return nil
}

func (h *FormatHandler) authorize(ctx context.Context, pc *formatContext) error {
	login, machine := "", ""
	if pc.simulation.ComputeNodeLogin != nil {
		login = *pc.simulation.ComputeNodeLogin
	}
	if pc.simulation.ComputeNodeMachine != nil {
		machine = *pc.simulation.ComputeNodeMachine
	}
	if err := h.auth.Authorize(login, machine); err != nil {
		h.log.Warn("supervision not authorized, skipping",
			"supervision_id", pc.supervisionID, "login", login, "machine", machine, "error", err)
		pc.Abort()
	}
	return nil
}

// verifyFailureCount stops the correction loop once a period has
// failed too often: the user is mailed once and the operator takes
// over. The first output period is never supervised.
func (h *FormatHandler) verifyFailureCount(ctx context.Context, pc *formatContext) error {
	period, err := h.store.RetrieveLatestJobPeriod(ctx, pc.tx, pc.supervision.SimulationUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.log.Warn("no output period recorded, skipping supervision",
				"supervision_id", pc.supervisionID, "simulation_uid", pc.supervision.SimulationUID)
			pc.Abort()
			return nil
		}
		return err
	}
	if period.FailureCount > h.maxPeriodFailure {
		h.log.Warn("period failure limit exceeded, supervision suspended",
			"supervision_id", pc.supervisionID,
			"simulation_uid", pc.supervision.SimulationUID,
			"period_id", period.PeriodID,
			"failure_count", period.FailureCount)
		subject := fmt.Sprintf("supervision %d: output period %d failed %d times, supervision suspended",
			pc.supervisionID, period.PeriodID, period.FailureCount)
		body := fmt.Sprintf(
			"Simulation %s failed %d times during output period %d, more than the %d allowed.\n\n"+
				"Automatic resubmission is suspended for this simulation. Manual intervention is required.",
			pc.supervision.SimulationUID, period.FailureCount, period.PeriodID, h.maxPeriodFailure)
		if err := h.alerter.SendAlert(ctx, subject, body); err != nil {
			h.log.Error("failed to alert on suspended supervision",
				"supervision_id", pc.supervisionID, "error", err)
		}
		pc.Abort()
		return nil
	}
	if period.PeriodID == 1 {
		h.log.Warn("failure during first output period, skipping supervision",
			"supervision_id", pc.supervisionID,
			"simulation_uid", pc.supervision.SimulationUID)
		pc.Abort()
	}
	return nil
}

func (h *FormatHandler) formatScript(ctx context.Context, pc *formatContext) error {
	script, err := FormatScript(pc.supervision, pc.simulation, pc.job, h.now())
	if err != nil {
		return err
	}
	return h.store.SaveSupervisionScript(ctx, pc.tx, pc.supervisionID, script)
}

func (h *FormatHandler) enqueueDispatch(ctx context.Context, pc *formatContext) error {
	env := mq.New(mq.CodeSupervisionDispatch, map[string]any{
		"supervision_id": pc.supervisionID,
	})
	return h.pub.Publish(ctx, env)
}
