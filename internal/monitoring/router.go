package monitoring

import (
	"log/slog"

	"simwatch/internal/mq"
	"simwatch/internal/store"
)

// Codes is the full set of type codes the monitor consumes.
var Codes = []mq.Code{
	mq.CodeSimulationStart,
	mq.CodeComputeJobStart,
	mq.CodePostProcessingJobStart,
	mq.CodeCheckerJobStart,
	mq.CodeSimulationEnd,
	mq.CodeComputeJobEnd,
	mq.CodeComputeJobFatal,
	mq.CodePostProcessingJobEnd,
	mq.CodePostProcessingJobFatal,
	mq.CodeCheckerJobEnd,
	mq.CodeCheckerJobFatal,
	mq.CodeComputeWarningCheck,
	mq.CodePostProcessingWarningCheck,
	mq.CodeCheckerWarningCheck,
}

// NewRouter builds the monitor's routing table: every job-start,
// job-end and warning-check code bound to its pipeline.
func NewRouter(g store.Gateway, pub mq.Publisher, defaultWarningDelay int64, log *slog.Logger) (*mq.Router, error) {
	start := NewJobStartHandler(g, pub, defaultWarningDelay, log)
	end := NewJobEndHandler(g, pub, log)
	warn := NewWarningCheckHandler(g, pub, log)

	r := mq.NewRouter()
	r.Register(mq.CodeSimulationStart, start)
	r.Register(mq.CodeComputeJobStart, start)
	r.Register(mq.CodePostProcessingJobStart, start)
	r.Register(mq.CodeCheckerJobStart, start)

	r.Register(mq.CodeSimulationEnd, end)
	r.Register(mq.CodeComputeJobEnd, end)
	r.Register(mq.CodeComputeJobFatal, end)
	r.Register(mq.CodePostProcessingJobEnd, end)
	r.Register(mq.CodePostProcessingJobFatal, end)
	r.Register(mq.CodeCheckerJobEnd, end)
	r.Register(mq.CodeCheckerJobFatal, end)

	r.Register(mq.CodeComputeWarningCheck, warn)
	r.Register(mq.CodePostProcessingWarningCheck, warn)
	r.Register(mq.CodeCheckerWarningCheck, warn)

	if err := r.Validate(Codes...); err != nil {
		return nil, err
	}
	return r, nil
}
