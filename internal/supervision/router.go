package supervision

import (
	"context"
	"log/slog"

	"simwatch/internal/mail"
	"simwatch/internal/mq"
	"simwatch/internal/store"
)

// Gateway is the slice of the store the supervisor needs.
type Gateway interface {
	BeginTx(ctx context.Context) (store.Tx, error)
	RetrieveSimulation(ctx context.Context, tx store.DBTransaction, uid string) (*store.Simulation, error)
	RetrieveJob(ctx context.Context, tx store.DBTransaction, uid string) (*store.Job, error)
	RetrieveLatestJobPeriod(ctx context.Context, tx store.DBTransaction, simulationUID string) (*store.JobPeriod, error)
	store.SupervisionStore
}

// Codes is the full set of type codes the supervisor consumes.
var Codes = []mq.Code{
	mq.CodeSupervisionFormat,
	mq.CodeSupervisionDispatch,
}

// RouterConfig holds the supervisor policy knobs.
type RouterConfig struct {
	MaxPeriodFailures int
	MaxDispatchTries  int
}

// NewRouter builds the supervisor's routing table.
func NewRouter(g Gateway, pub mq.Publisher, auth Authorizer, dispatcher Dispatcher, alerter mail.Alerter, cfg RouterConfig, log *slog.Logger) (*mq.Router, error) {
	r := mq.NewRouter()
	r.Register(mq.CodeSupervisionFormat, NewFormatHandler(g, pub, auth, alerter, cfg.MaxPeriodFailures, log))
	r.Register(mq.CodeSupervisionDispatch, NewDispatchHandler(g, pub, auth, dispatcher, alerter, cfg.MaxDispatchTries, log))

	if err := r.Validate(Codes...); err != nil {
		return nil, err
	}
	return r, nil
}
