package mq

import (
	"context"
	"log/slog"
)

// Version is reported as the producer version on platform-generated
// messages.
const Version = "1.2.0"

// Aborter is the abort flag every pipeline context must expose. A task
// sets the flag to stop the remaining normal tasks; side effects
// already applied are not rolled back and must be idempotent.
type Aborter interface {
	Aborted() bool
}

// State is the mutable working state embedded in pipeline contexts.
type State struct {
	abort bool
}

// Abort marks the pipeline context as aborted.
func (s *State) Abort() { s.abort = true }

// Aborted reports whether the context was aborted.
func (s *State) Aborted() bool { return s.abort }

// Task is a single processing step applied to a per-message context.
type Task[C Aborter] func(ctx context.Context, pc C) error

// Pipeline executes an ordered task list against a per-message
// context. Tasks run exactly once per delivery attempt; there is no
// retry inside the executor. When a task fails, the remaining normal
// tasks are skipped, the error tasks run (releasing connections and
// the like), and the original error is returned so the consumer's
// ack/retry logic sees it.
type Pipeline[C Aborter] struct {
	Name       string
	Tasks      []Task[C]
	ErrorTasks []Task[C]
	Log        *slog.Logger
}

// Execute runs the pipeline over pc. A context whose abort flag is set
// on entry to a task makes that task (and all later ones) a no-op;
// error tasks always run on failure.
func (p *Pipeline[C]) Execute(ctx context.Context, pc C) error {
	for _, task := range p.Tasks {
		if pc.Aborted() {
			break
		}
		if err := task(ctx, pc); err != nil {
			p.runErrorTasks(ctx, pc)
			return err
		}
	}
	return nil
}

func (p *Pipeline[C]) runErrorTasks(ctx context.Context, pc C) {
	for _, task := range p.ErrorTasks {
		if err := task(ctx, pc); err != nil && p.Log != nil {
			p.Log.Warn("pipeline error task failed",
				"pipeline", p.Name, "error", err)
		}
	}
}
