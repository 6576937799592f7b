// Package events defines the front-end notification vocabulary
// published on the broker for web clients.
package events

// Event types carried in front-end notification payloads.
const (
	JobStart           = "job_start"
	JobComplete        = "job_complete"
	JobError           = "job_error"
	JobLate            = "job_late"
	SimulationComplete = "simulation_complete"
	SimulationError    = "simulation_error"
)

// Notification builds the body of a front-end notification message.
func Notification(eventType, jobUID, simulationUID string) map[string]any {
	return map[string]any{
		"event_type":     eventType,
		"job_uid":        jobUID,
		"simulation_uid": simulationUID,
	}
}
