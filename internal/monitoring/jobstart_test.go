package monitoring

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"simwatch/internal/mq"
	"simwatch/internal/store"
	"simwatch/pkg/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startEnvelope(code mq.Code, content map[string]any) *mq.Envelope {
	env := mq.New(code, content)
	env.Props.Timestamp = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return env
}

func TestJobStart_PersistsJobAndSchedulesWarningCheck(t *testing.T) {
	g := newMockGateway()
	pub := &mockPublisher{}
	h := NewJobStartHandler(g, pub, 3600, testLogger())
	h.now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 30, 0, time.UTC) }

	env := startEnvelope(mq.CodeComputeJobStart, map[string]any{
		"jobuid":          "job-1",
		"simuid":          "sim-1",
		"jobWarningDelay": "120",
	})
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(g.persistedJobs) != 1 {
		t.Fatalf("got %d persisted jobs, want 1", len(g.persistedJobs))
	}
	job := g.persistedJobs[0]
	if job.UID != "job-1" || job.SimulationUID != "sim-1" {
		t.Errorf("unexpected job identity: %+v", job)
	}
	if job.Type != mq.JobTypeComputing || job.IsStartup {
		t.Errorf("unexpected job classification: type=%s startup=%v", job.Type, job.IsStartup)
	}
	if job.WarningDelay != 120 {
		t.Errorf("got warning delay %d, want 120", job.WarningDelay)
	}

	checks := pub.byType(mq.CodeComputeWarningCheck)
	if len(checks) != 1 {
		t.Fatalf("got %d warning checks, want 1", len(checks))
	}
	// Job started at 9:00:00 with a 120s delay; now is 9:00:30, so the
	// remaining 90s is padded by one second.
	if d := pub.published[0].delay; d != 91*time.Second {
		t.Errorf("got check delay %v, want 91s", d)
	}

	if g.tx.commits != 1 {
		t.Errorf("got %d commits, want 1", g.tx.commits)
	}
}

func TestJobStart_DefaultsWarningDelay(t *testing.T) {
	g := newMockGateway()
	pub := &mockPublisher{}
	h := NewJobStartHandler(g, pub, 3600, testLogger())

	env := startEnvelope(mq.CodePostProcessingJobStart, map[string]any{
		"jobuid": "job-1",
		"simuid": "sim-1",
	})
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if g.persistedJobs[0].WarningDelay != 3600 {
		t.Errorf("got warning delay %d, want default 3600", g.persistedJobs[0].WarningDelay)
	}
	if len(pub.byType(mq.CodePostProcessingWarningCheck)) != 1 {
		t.Error("expected a post-processing warning check")
	}
}

func TestJobStart_StartupPersistsSimulationAndSupersedes(t *testing.T) {
	g := newMockGateway()
	obsoleteUID := "sim-old"
	hash := "hash-1"
	g.simulations[obsoleteUID] = &store.Simulation{UID: obsoleteUID, HashID: &hash}

	pub := &mockPublisher{}
	h := NewJobStartHandler(g, pub, 3600, testLogger())

	env := startEnvelope(mq.CodeSimulationStart, map[string]any{
		"jobuid":             "job-1",
		"simuid":             "sim-1",
		"hashid":             hash,
		"name":               "v3.historical",
		"computeNodeLogin":   "p86dupont",
		"computeNodeMachine": "curie",
	})
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(g.persistedSimulations) != 1 {
		t.Fatalf("got %d persisted simulations, want 1", len(g.persistedSimulations))
	}
	sim := g.persistedSimulations[0]
	if sim.UID != "sim-1" || sim.Name != "v3.historical" {
		t.Errorf("unexpected simulation: %+v", sim)
	}
	if len(g.supersededHashIDs) != 1 || g.supersededHashIDs[0] != hash {
		t.Errorf("superseded hashids: %v", g.supersededHashIDs)
	}
	if !g.persistedJobs[0].IsStartup {
		t.Error("startup job should be flagged")
	}
}

func TestJobStart_ObsoleteFormatAborts(t *testing.T) {
	g := newMockGateway()
	pub := &mockPublisher{}
	h := NewJobStartHandler(g, pub, 3600, testLogger())

	env := startEnvelope(mq.CodeComputeJobStart, map[string]any{
		"command": "some legacy command",
		"jobuid":  "job-1",
		"simuid":  "sim-1",
	})
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(g.persistedJobs) != 0 {
		t.Error("legacy message must not persist a job")
	}
	if len(pub.published) != 0 {
		t.Error("legacy message must not publish")
	}
}

func TestJobStart_MissingUIDsFails(t *testing.T) {
	g := newMockGateway()
	h := NewJobStartHandler(g, &mockPublisher{}, 3600, testLogger())

	env := startEnvelope(mq.CodeComputeJobStart, map[string]any{"jobuid": "job-1"})
	if err := h.Handle(context.Background(), env); err == nil {
		t.Error("expected error for missing simuid")
	}
	if g.tx.commits != 0 {
		t.Error("failed pipeline must not commit")
	}
}

func TestJobStart_ComputeClearsSimulationErrorAndRecordsPeriod(t *testing.T) {
	g := newMockGateway()
	g.simulations["sim-1"] = &store.Simulation{UID: "sim-1"}
	pub := &mockPublisher{}
	h := NewJobStartHandler(g, pub, 3600, testLogger())

	env := startEnvelope(mq.CodeComputeJobStart, map[string]any{
		"jobuid":          "job-1",
		"simuid":          "sim-1",
		"periodId":        float64(3),
		"periodDateBegin": "2026-01-01T00:00:00Z",
		"periodDateEnd":   "2026-01-31T23:59:59Z",
	})
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(g.clearedErrors) != 1 || g.clearedErrors[0] != "sim-1" {
		t.Errorf("cleared errors: %v", g.clearedErrors)
	}
	if len(g.recordedPeriods) != 1 {
		t.Fatalf("got %d recorded periods, want 1", len(g.recordedPeriods))
	}
	if g.recordedPeriods[0].PeriodID != 3 {
		t.Errorf("got period id %d, want 3", g.recordedPeriods[0].PeriodID)
	}

	fe := pub.byType(mq.CodeFrontEnd)
	if len(fe) != 1 {
		t.Fatalf("got %d front-end notifications, want 1", len(fe))
	}
	if fe[0].Content["event_type"] != events.JobStart {
		t.Errorf("got event type %v", fe[0].Content["event_type"])
	}
}

func TestJobStart_NoFrontEndNotificationWithoutSimulation(t *testing.T) {
	g := newMockGateway()
	pub := &mockPublisher{}
	h := NewJobStartHandler(g, pub, 3600, testLogger())

	env := startEnvelope(mq.CodePostProcessingJobStart, map[string]any{
		"jobuid": "job-1",
		"simuid": "sim-unknown",
	})
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(pub.byType(mq.CodeFrontEnd)) != 0 {
		t.Error("no notification expected while the simulation start is missing")
	}
	if len(pub.byType(mq.CodePostProcessingWarningCheck)) != 1 {
		t.Error("warning check must still be scheduled")
	}
}

func TestJobStart_NAFieldsStoredAsNull(t *testing.T) {
	g := newMockGateway()
	h := NewJobStartHandler(g, &mockPublisher{}, 3600, testLogger())

	env := startEnvelope(mq.CodeComputeJobStart, map[string]any{
		"jobuid":            "job-1",
		"simuid":            "sim-1",
		"accountingProject": "N/A",
		"jobSchedulerID":    "847291",
	})
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	job := g.persistedJobs[0]
	if job.AccountingProject != nil {
		t.Errorf("N/A accounting project should be nil, got %q", *job.AccountingProject)
	}
	if job.SchedulerID == nil || *job.SchedulerID != "847291" {
		t.Error("scheduler id should survive")
	}
}
