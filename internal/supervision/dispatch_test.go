package supervision

import (
	"context"
	"errors"
	"testing"
	"time"

	"simwatch/internal/mq"
	"simwatch/internal/store"
)

func seedDispatchFixtures(g *mockGateway, tries int) *store.Supervision {
	g.simulations["sim-1"] = &store.Simulation{
		UID:                "sim-1",
		ComputeNodeLogin:   ptr("p86dupont"),
		ComputeNodeMachine: ptr("curie"),
	}
	sup := &store.Supervision{
		ID:               1,
		SimulationUID:    "sim-1",
		JobUID:           "job-1",
		Script:           ptr("#!/bin/bash\necho relaunch\n"),
		DispatchTryCount: tries,
	}
	g.supervisions[1] = sup
	return sup
}

func dispatchTrigger(id int64) *mq.Envelope {
	return mq.New(mq.CodeSupervisionDispatch, map[string]any{"supervision_id": id})
}

func TestDispatch_SuccessRecordsCleanAttempt(t *testing.T) {
	g := newMockGateway()
	seedDispatchFixtures(g, 0)
	pub := &mockPublisher{}
	d := &mockDispatcher{}
	alerts := &mockAlerter{}
	h := NewDispatchHandler(g, pub, NewLoginAllowlist([]string{"p86dupont"}), d, alerts, 4, testLogger())

	if err := h.Handle(context.Background(), dispatchTrigger(1)); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(d.calls) != 1 || d.calls[0] != "p86dupont@curie" {
		t.Errorf("dispatch calls: %v", d.calls)
	}
	if len(g.attempts) != 1 {
		t.Fatalf("got %d attempts, want 1", len(g.attempts))
	}
	if g.attempts[0].err != nil {
		t.Errorf("successful attempt must record a nil error, got %q", *g.attempts[0].err)
	}
	if len(pub.published) != 0 {
		t.Error("a successful dispatch must not schedule a retry")
	}
	if len(alerts.subjects) != 0 {
		t.Error("a successful dispatch must not alert")
	}
}

func TestDispatch_FailureSchedulesBackedOffRetry(t *testing.T) {
	cases := []struct {
		tries int
		want  time.Duration
	}{
		{0, 30 * time.Second},
		{1, 60 * time.Second},
		{2, 120 * time.Second},
	}
	for _, c := range cases {
		g := newMockGateway()
		seedDispatchFixtures(g, c.tries)
		pub := &mockPublisher{}
		d := &mockDispatcher{err: errors.New("connection refused")}
		alerts := &mockAlerter{}
		h := NewDispatchHandler(g, pub, NewLoginAllowlist([]string{"p86dupont"}), d, alerts, 4, testLogger())

		if err := h.Handle(context.Background(), dispatchTrigger(1)); err != nil {
			t.Fatalf("Handle failed: %v", err)
		}

		if g.attempts[0].err == nil {
			t.Error("failed attempt must record the error")
		}
		if len(pub.published) != 1 || pub.published[0].Props.Type != mq.CodeSupervisionDispatch {
			t.Fatalf("tries=%d published: %v", c.tries, pub.published)
		}
		if pub.delays[0] != c.want {
			t.Errorf("tries=%d got retry delay %v, want %v", c.tries, pub.delays[0], c.want)
		}
		if len(alerts.subjects) != 0 {
			t.Errorf("tries=%d must not alert yet", c.tries)
		}
	}
}

func TestDispatch_ExhaustedTriesAlertOperator(t *testing.T) {
	g := newMockGateway()
	seedDispatchFixtures(g, 3)
	pub := &mockPublisher{}
	d := &mockDispatcher{err: errors.New("connection refused")}
	alerts := &mockAlerter{}
	h := NewDispatchHandler(g, pub, NewLoginAllowlist([]string{"p86dupont"}), d, alerts, 4, testLogger())

	if err := h.Handle(context.Background(), dispatchTrigger(1)); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(pub.published) != 0 {
		t.Error("exhausted supervision must not retry")
	}
	if len(alerts.subjects) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts.subjects))
	}
}

func TestDispatch_NoScriptAborts(t *testing.T) {
	g := newMockGateway()
	sup := seedDispatchFixtures(g, 0)
	sup.Script = nil
	d := &mockDispatcher{}
	h := NewDispatchHandler(g, &mockPublisher{}, NewLoginAllowlist([]string{"p86dupont"}), d, &mockAlerter{}, 4, testLogger())

	if err := h.Handle(context.Background(), dispatchTrigger(1)); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(d.calls) != 0 {
		t.Error("a supervision without a script must not dispatch")
	}
	if len(g.attempts) != 0 {
		t.Error("no attempt should be recorded")
	}
}

func TestDispatch_UnknownSimulationAborts(t *testing.T) {
	g := newMockGateway()
	seedDispatchFixtures(g, 0)
	delete(g.simulations, "sim-1")
	d := &mockDispatcher{}
	h := NewDispatchHandler(g, &mockPublisher{}, NewLoginAllowlist([]string{"p86dupont"}), d, &mockAlerter{}, 4, testLogger())

	if err := h.Handle(context.Background(), dispatchTrigger(1)); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(d.calls) != 0 {
		t.Error("a deleted simulation must not dispatch")
	}
	if len(g.attempts) != 0 {
		t.Error("no attempt should be recorded")
	}
}

func TestDispatch_UnauthorizedSkips(t *testing.T) {
	g := newMockGateway()
	seedDispatchFixtures(g, 0)
	d := &mockDispatcher{}
	h := NewDispatchHandler(g, &mockPublisher{}, NewLoginAllowlist(nil), d, &mockAlerter{}, 4, testLogger())

	if err := h.Handle(context.Background(), dispatchTrigger(1)); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(d.calls) != 0 {
		t.Error("an unauthorized login must not dispatch")
	}
}

func TestAllowlist(t *testing.T) {
	a := NewLoginAllowlist([]string{"p86dupont"})
	if err := a.Authorize("p86dupont", "curie"); err != nil {
		t.Errorf("listed login refused: %v", err)
	}
	if err := a.Authorize("intruder", "curie"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
	if err := a.Authorize("", "curie"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("empty login: got %v, want ErrUnauthorized", err)
	}
	if err := NewLoginAllowlist(nil).Authorize("anyone", "curie"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("empty allowlist must refuse: %v", err)
	}
}
