// Package mq contains the message envelope, the type-code table and the
// pipeline executor shared by every broker consumer.
package mq

// Code identifies the schema of a message body and selects the handler
// pipeline. Codes are stable strings and are matched exactly.
type Code string

const (
	// Simulation lifecycle.
	CodeSimulationStart Code = "0000"
	CodeSimulationEnd   Code = "0100"

	// Compute jobs.
	CodeComputeJobStart Code = "1000"
	CodeComputeJobEnd   Code = "1100"
	CodeComputeJobFatal Code = "1999"

	// Post-processing jobs.
	CodePostProcessingJobStart Code = "2000"
	CodePostProcessingJobEnd   Code = "2100"
	CodePostProcessingJobFatal Code = "2999"

	// Post-processing jobs spawned by the checker.
	CodeCheckerJobStart Code = "3000"
	CodeCheckerJobEnd   Code = "3100"
	CodeCheckerJobFatal Code = "3999"

	// Warning-delay checks, one per job kind.
	CodeComputeWarningCheck        Code = "1199"
	CodePostProcessingWarningCheck Code = "2199"
	CodeCheckerWarningCheck        Code = "3199"

	// Environment snapshot and metrics payloads sourced from email
	// attachments. Consumed by external services; the decoder only
	// routes them.
	CodeEnvironmentData Code = "7010"
	CodeMetrics         Code = "7100"

	// Supervision triggers.
	CodeSupervisionFormat   Code = "8000"
	CodeSupervisionDispatch Code = "8200"

	// Simulation deletion, handled by an external consumer.
	CodeSimulationDelete Code = "8888"

	// Front-end notification fan-out.
	CodeFrontEnd Code = "9000"

	// SMTP bridge message referencing a mailbox UID.
	CodeSMTPBridge Code = "9999"
)

// JobType classifies a job record.
type JobType string

const (
	JobTypeComputing                 JobType = "computing"
	JobTypePostProcessing            JobType = "post-processing"
	JobTypePostProcessingFromChecker JobType = "post-processing-from-checker"
)

// jobStartTypes maps job-start codes to job types. The map is total
// over the supported start codes: adding a new start code requires
// extending it, never inferring.
var jobStartTypes = map[Code]JobType{
	CodeSimulationStart:        JobTypeComputing,
	CodeComputeJobStart:        JobTypeComputing,
	CodePostProcessingJobStart: JobTypePostProcessing,
	CodeCheckerJobStart:        JobTypePostProcessingFromChecker,
}

// jobEndTypes maps job-end codes to job types, total over the
// supported end codes.
var jobEndTypes = map[Code]JobType{
	CodeSimulationEnd:          JobTypeComputing,
	CodeComputeJobEnd:          JobTypeComputing,
	CodeComputeJobFatal:        JobTypeComputing,
	CodePostProcessingJobEnd:   JobTypePostProcessing,
	CodePostProcessingJobFatal: JobTypePostProcessing,
	CodeCheckerJobEnd:          JobTypePostProcessingFromChecker,
	CodeCheckerJobFatal:        JobTypePostProcessingFromChecker,
}

// warningCheckCodes maps job types to their warning-delay check code.
var warningCheckCodes = map[JobType]Code{
	JobTypeComputing:                 CodeComputeWarningCheck,
	JobTypePostProcessing:            CodePostProcessingWarningCheck,
	JobTypePostProcessingFromChecker: CodeCheckerWarningCheck,
}

// fatalCodes is the set of job-end codes that flag the job as errored.
var fatalCodes = map[Code]struct{}{
	CodeComputeJobFatal:        {},
	CodePostProcessingJobFatal: {},
	CodeCheckerJobFatal:        {},
}

// simulationEndCodes is the set of job-end codes that also terminate
// the owning simulation.
var simulationEndCodes = map[Code]struct{}{
	CodeSimulationEnd:   {},
	CodeComputeJobFatal: {},
}

// JobStartType returns the job type for a job-start code.
func JobStartType(c Code) (JobType, bool) {
	t, ok := jobStartTypes[c]
	return t, ok
}

// JobEndType returns the job type for a job-end code.
func JobEndType(c Code) (JobType, bool) {
	t, ok := jobEndTypes[c]
	return t, ok
}

// WarningCheckCode returns the warning-delay check code for a job type.
func WarningCheckCode(t JobType) (Code, bool) {
	c, ok := warningCheckCodes[t]
	return c, ok
}

// IsFatal reports whether a job-end code signifies a fatal error.
func IsFatal(c Code) bool {
	_, ok := fatalCodes[c]
	return ok
}

// IsSimulationEnd reports whether a job-end code also ends the
// simulation.
func IsSimulationEnd(c Code) bool {
	_, ok := simulationEndCodes[c]
	return ok
}

// IsStartup reports whether a start code marks the startup compute job
// of a simulation.
func IsStartup(c Code) bool {
	return c == CodeSimulationStart
}
