package monitoring

import (
	"context"
	"testing"
	"time"

	"simwatch/internal/mq"
	"simwatch/internal/store"
	"simwatch/pkg/events"
)

func TestWarningCheckDelay(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		delay int64
		now   time.Time
		want  time.Duration
	}{
		{"full delay remaining", 600, start, 601 * time.Second},
		{"half elapsed", 600, start.Add(300 * time.Second), 301 * time.Second},
		{"already late", 600, start.Add(2 * time.Hour), 1 * time.Second},
		{"fractional second floored", 600, start.Add(299*time.Second + 400*time.Millisecond), 301 * time.Second},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := WarningCheckDelay(start, c.delay, c.now); got != c.want {
				t.Errorf("got %v, want %v", got, c.want)
			}
		})
	}
}

func TestWarningCheck_RunningJobIsLate(t *testing.T) {
	g := newMockGateway()
	g.jobs["job-1"] = &store.Job{UID: "job-1", SimulationUID: "sim-1", WarningDelay: 600}
	g.simulations["sim-1"] = &store.Simulation{UID: "sim-1"}
	pub := &mockPublisher{}
	h := NewWarningCheckHandler(g, pub, testLogger())

	env := startEnvelope(mq.CodeComputeWarningCheck, map[string]any{
		"job_uid":        "job-1",
		"simulation_uid": "sim-1",
	})
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	fe := pub.byType(mq.CodeFrontEnd)
	if len(fe) != 1 || fe[0].Content["event_type"] != events.JobLate {
		t.Errorf("front-end notifications: %v", fe)
	}
}

func TestWarningCheck_CompletedJobPasses(t *testing.T) {
	g := newMockGateway()
	end := time.Now().UTC()
	g.jobs["job-1"] = &store.Job{UID: "job-1", SimulationUID: "sim-1", ExecutionEndDate: &end}
	g.simulations["sim-1"] = &store.Simulation{UID: "sim-1"}
	pub := &mockPublisher{}
	h := NewWarningCheckHandler(g, pub, testLogger())

	env := startEnvelope(mq.CodeComputeWarningCheck, map[string]any{
		"job_uid":        "job-1",
		"simulation_uid": "sim-1",
	})
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(pub.published) != 0 {
		t.Error("a completed job must not be flagged late")
	}
}

func TestWarningCheck_ObsoleteSimulationStaysSilent(t *testing.T) {
	g := newMockGateway()
	g.jobs["job-1"] = &store.Job{UID: "job-1", SimulationUID: "sim-1"}
	g.simulations["sim-1"] = &store.Simulation{UID: "sim-1", IsObsolete: true}
	pub := &mockPublisher{}
	h := NewWarningCheckHandler(g, pub, testLogger())

	env := startEnvelope(mq.CodeComputeWarningCheck, map[string]any{
		"job_uid":        "job-1",
		"simulation_uid": "sim-1",
	})
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(pub.published) != 0 {
		t.Error("an obsolete simulation must not be flagged")
	}
}

func TestWarningCheck_UnknownJobIsDropped(t *testing.T) {
	g := newMockGateway()
	pub := &mockPublisher{}
	h := NewWarningCheckHandler(g, pub, testLogger())

	env := startEnvelope(mq.CodeComputeWarningCheck, map[string]any{
		"job_uid":        "job-ghost",
		"simulation_uid": "sim-1",
	})
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(pub.published) != 0 {
		t.Error("an unknown job must not publish")
	}
}

func TestNewRouter_CoversAllMonitoringCodes(t *testing.T) {
	g := newMockGateway()
	r, err := NewRouter(g, &mockPublisher{}, 3600, testLogger())
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	if err := r.Validate(Codes...); err != nil {
		t.Errorf("router incomplete: %v", err)
	}
}
