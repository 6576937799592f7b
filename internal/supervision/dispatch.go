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

// dispatchRetryBase is the delay before the first dispatch retry; each
// further retry doubles it.
const dispatchRetryBase = 30 * time.Second

// dispatchContext is the per-message working state of the dispatch
// pipeline.
type dispatchContext struct {
	mq.State

	env *mq.Envelope
	tx  store.Tx

	supervisionID int64
	supervision   *store.Supervision
	priorTries    int
	login         string
	machine       string

	dispatchErr error
}

// DispatchHandler consumes supervision dispatch triggers: it runs the
// formatted script on the compute node, records the attempt and either
// schedules a retry or alerts the operator once the attempts are
// exhausted.
type DispatchHandler struct {
	store      Gateway
	pub        mq.Publisher
	auth       Authorizer
	dispatcher Dispatcher
	alerter    mail.Alerter
	maxTries   int
	log        *slog.Logger
	now        func() time.Time
}

// NewDispatchHandler wires the dispatch pipeline.
func NewDispatchHandler(g Gateway, pub mq.Publisher, auth Authorizer, dispatcher Dispatcher, alerter mail.Alerter, maxTries int, log *slog.Logger) *DispatchHandler {
	return &DispatchHandler{
		store:      g,
		pub:        pub,
		auth:       auth,
		dispatcher: dispatcher,
		alerter:    alerter,
		maxTries:   maxTries,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Handle implements mq.Handler.
func (h *DispatchHandler) Handle(ctx context.Context, env *mq.Envelope) error {
	pc := &dispatchContext{env: env}

	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	pc.tx = tx

	pipeline := mq.Pipeline[*dispatchContext]{
		Name: "supervision-dispatch",
		Tasks: []mq.Task[*dispatchContext]{
			h.unpackContent,
			h.retrieveEntities,
			h.authorize,
			h.dispatch,
			h.recordAttempt,
			h.applyRetryPolicy,
		},
		Log: h.log,
	}
	if err := pipeline.Execute(ctx, pc); err != nil {
		return err
	}
	return tx.Commit()
}

func (h *DispatchHandler) unpackContent(ctx context.Context, pc *dispatchContext) error {
	id, ok := pc.env.Int64("supervision_id")
	if !ok {
		return fmt.Errorf("dispatch trigger %s carries no supervision_id", pc.env.Props.MessageID)
	}
	pc.supervisionID = id
	return nil
}

func (h *DispatchHandler) retrieveEntities(ctx context.Context, pc *dispatchContext) error {
	sup, err := h.store.RetrieveSupervision(ctx, pc.tx, pc.supervisionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.log.Warn("dispatch trigger for unknown supervision", "supervision_id", pc.supervisionID)
			pc.Abort()
			return nil
		}
		return err
	}
	if sup.Script == nil {
		h.log.Warn("supervision has no formatted script", "supervision_id", pc.supervisionID)
		pc.Abort()
		return nil
	}
	pc.supervision = sup
	pc.priorTries = sup.DispatchTryCount

	sim, err := h.store.RetrieveSimulation(ctx, pc.tx, sup.SimulationUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.log.Warn("dispatch trigger for unknown simulation",
				"supervision_id", pc.supervisionID, "simulation_uid", sup.SimulationUID)
			pc.Abort()
			return nil
		}
		return err
	}
	if sim.ComputeNodeLogin != nil {
		pc.login = *sim.ComputeNodeLogin
	}
	if sim.ComputeNodeMachine != nil {
		pc.machine = *sim.ComputeNodeMachine
	}
	return nil
}

// authorize re-checks the allowlist: the configuration may have changed
// between formatting and dispatch.
func (h *DispatchHandler) authorize(ctx context.Context, pc *dispatchContext) error {
	if err := h.auth.Authorize(pc.login, pc.machine); err != nil {
		h.log.Warn("dispatch not authorized, skipping",
			"supervision_id", pc.supervisionID, "login", pc.login, "machine", pc.machine, "error", err)
		pc.Abort()
	}
	return nil
}

func (h *DispatchHandler) dispatch(ctx context.Context, pc *dispatchContext) error {
	pc.dispatchErr = h.dispatcher.Dispatch(ctx, pc.login, pc.machine, *pc.supervision.Script)
	if pc.dispatchErr != nil {
		h.log.Error("script dispatch failed",
			"supervision_id", pc.supervisionID, "machine", pc.machine, "error", pc.dispatchErr)
	} else {
		h.log.Info("script dispatched",
			"supervision_id", pc.supervisionID, "login", pc.login, "machine", pc.machine)
	}
	return nil
}

// recordAttempt stamps every try, failed or not, so the row always
// reflects the latest outcome.
func (h *DispatchHandler) recordAttempt(ctx context.Context, pc *dispatchContext) error {
	var dispatchError *string
	if pc.dispatchErr != nil {
		msg := pc.dispatchErr.Error()
		dispatchError = &msg
	}
	return h.store.RecordDispatchAttempt(ctx, pc.tx, pc.supervisionID, h.now(), dispatchError)
}

// applyRetryPolicy schedules a delayed retry after a failed attempt,
// doubling the delay each time. Once the attempts are exhausted the
// operator is alerted instead.
func (h *DispatchHandler) applyRetryPolicy(ctx context.Context, pc *dispatchContext) error {
	if pc.dispatchErr == nil {
		return nil
	}

	try := pc.priorTries + 1
	if try < h.maxTries {
		delay := dispatchRetryBase * (1 << (try - 1))
		h.log.Info("scheduling dispatch retry",
			"supervision_id", pc.supervisionID, "try", try, "delay", delay.String())
		env := mq.New(mq.CodeSupervisionDispatch, map[string]any{
			"supervision_id": pc.supervisionID,
		})
		return h.pub.Publish(ctx, env, mq.WithDelay(delay))
	}

	subject := fmt.Sprintf("supervision %d: dispatch abandoned after %d attempts", pc.supervisionID, try)
	body := fmt.Sprintf(
		"The corrective script for supervision %d could not be dispatched to %s@%s.\n\n"+
			"Simulation: %s\nJob: %s\nLast error: %v\n\nManual intervention is required.",
		pc.supervisionID, pc.login, pc.machine,
		pc.supervision.SimulationUID, pc.supervision.JobUID, pc.dispatchErr)
	if err := h.alerter.SendAlert(ctx, subject, body); err != nil {
		h.log.Error("failed to alert operator", "supervision_id", pc.supervisionID, "error", err)
	}
	return nil
}
