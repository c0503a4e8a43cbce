// Package jobs contains the background worker and its task definitions.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIntegrityScan sweeps the permission ledger for orphaned records.
	TaskIntegrityScan = "permission:integrity_scan"
)

// IntegrityScanPayload carries scheduling metadata for a ledger sweep.
type IntegrityScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	Purge        bool      `json:"purge"`
}

// NewIntegrityScanTask constructs an Asynq task for the ledger sweep.
func NewIntegrityScanTask(at time.Time, purge bool) (*asynq.Task, error) {
	payload := IntegrityScanPayload{ScheduledFor: at, Purge: purge}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIntegrityScan, body, asynq.Queue(QueueDefault)), nil
}
