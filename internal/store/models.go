// Package store contains the database layer for simwatch.
package store

import (
	"time"

	"simwatch/internal/mq"
)

// Simulation is one incarnation of a monitored simulation. Restarting
// a simulation creates a new incarnation sharing the same hash
// identifier; the superseded rows are flagged obsolete so that at most
// one row per hashid is active at a time.
type Simulation struct {
	UID                string
	HashID             *string
	Name               string
	ExecutionState     string
	IsError            bool
	IsObsolete         bool
	ComputeNodeLogin   *string
	ComputeNodeMachine *string
	ExecutionStartDate *time.Time
	ExecutionEndDate   *time.Time
	CreatedAt          time.Time
}

// Job is a compute or post-processing job owned by a simulation.
// Jobs are created by job-start events, mutated to a terminal state by
// job-end events, and never physically deleted by the pipeline.
type Job struct {
	UID                string
	SimulationUID      string
	Type               mq.JobType
	AccountingProject  *string
	SchedulerID        *string
	IsStartup          bool
	IsError            bool
	WarningDelay       int64 // seconds
	ExecutionStartDate time.Time
	ExecutionEndDate   *time.Time

	PostProcessingName      *string
	PostProcessingDate      *string
	PostProcessingDimension *string
	PostProcessingComponent *string
	PostProcessingFile      *string

	CreatedAt time.Time
}

// IsRunning reports whether the job has not yet reached a terminal
// state.
func (j *Job) IsRunning() bool {
	return j.ExecutionEndDate == nil
}

// Supervision tracks the formatting and remote dispatch of a
// corrective script for a failing compute job. DispatchTryCount
// increments on every attempt, success or failure; DispatchError is
// nil iff the most recent attempt succeeded.
type Supervision struct {
	ID               int64
	SimulationUID    string
	JobUID           string
	Script           *string
	DispatchTryCount int
	DispatchDate     *time.Time
	DispatchError    *string
	CreatedAt        time.Time
}

// JobPeriod is an output period of a simulation, with the count of
// compute-job failures recorded within it.
type JobPeriod struct {
	SimulationUID   string
	PeriodID        int
	PeriodDateBegin *time.Time
	PeriodDateEnd   *time.Time
	FailureCount    int
}

// EmailStats records the per-email outcome of the decode pipeline.
type EmailStats struct {
	EmailServerID       string
	EmailUID            string
	Rejected            bool
	ArrivalDate         *time.Time
	DispatchDate        *time.Time
	Incoming            int
	ErrorsDecodingB64   int
	ErrorsDecodingJSON  int
	ErrorsEncodingAMQP  int
	Excluded            int
	Incorrelateable     int
	Outgoing            int
	OutgoingByType      map[mq.Code]int
	CreatedAt           time.Time
}
