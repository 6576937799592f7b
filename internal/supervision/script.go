package supervision

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"simwatch/internal/store"
)

// scriptTemplate is the corrective script executed on the compute node
// to clean up and resubmit the failed job.
var scriptTemplate = template.Must(template.New("supervision").Parse(`#!/bin/bash
# supervision {{.SupervisionID}}
# simulation: {{.SimulationName}} ({{.SimulationUID}})
# job: {{.JobUID}}
# generated: {{.GeneratedAt}}
set -euo pipefail

{{if .SchedulerID}}scancel {{.SchedulerID}} 2>/dev/null || true
{{end}}{{if .AccountingProject}}export ACCOUNTING_PROJECT={{.AccountingProject}}
{{end}}cd "${SIMULATION_HOME:?}/{{.SimulationName}}"
./clean_PeriodLength.job
./TS_remove_failed.job {{.JobUID}}
sbatch Job_{{.SimulationName}}
`))

type scriptParams struct {
	SupervisionID     int64
	SimulationUID     string
	SimulationName    string
	JobUID            string
	SchedulerID       string
	AccountingProject string
	GeneratedAt       string
}

// FormatScript renders the corrective script for a supervision.
func FormatScript(sup *store.Supervision, sim *store.Simulation, job *store.Job, now time.Time) (string, error) {
	params := scriptParams{
		SupervisionID:  sup.ID,
		SimulationUID:  sim.UID,
		SimulationName: sim.Name,
		JobUID:         job.UID,
		GeneratedAt:    now.Format(time.RFC3339),
	}
	if job.SchedulerID != nil {
		params.SchedulerID = *job.SchedulerID
	}
	if job.AccountingProject != nil {
		params.AccountingProject = *job.AccountingProject
	}

	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("supervision: format script: %w", err)
	}
	return buf.String(), nil
}
