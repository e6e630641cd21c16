// Package queue defines the maintenance tasks the worker consumes and
// the producers that feed them: a cron scheduler for the recurring runs
// and a client for one-off triggers.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	TypePurgeExpired = "maintenance:purge_expired"
	TypeSweepOrphans = "maintenance:sweep_orphans"
)

// Trigger values recorded in maintenance payloads.
const (
	TriggerCron    = "cron"
	TriggerStartup = "startup"
)

// MaintenancePayload is shared by both task types. It deliberately
// carries no timestamps: scheduled tasks are built once at registration
// and re-enqueued verbatim, so anything time-like would go stale.
type MaintenancePayload struct {
	Trigger string `json:"trigger,omitempty"`
}

func NewPurgeExpiredTask(payload MaintenancePayload) (*asynq.Task, error) {
	return newMaintenanceTask(TypePurgeExpired, payload)
}

func NewSweepOrphansTask(payload MaintenancePayload) (*asynq.Task, error) {
	return newMaintenanceTask(TypeSweepOrphans, payload)
}

func newMaintenanceTask(taskType string, payload MaintenancePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal maintenance payload: %w", err)
	}
	return asynq.NewTask(taskType, body), nil
}

// ParseMaintenancePayload tolerates an empty body so tasks enqueued by
// external tooling without a payload still run.
func ParseMaintenancePayload(task *asynq.Task) (MaintenancePayload, error) {
	if len(task.Payload()) == 0 {
		return MaintenancePayload{}, nil
	}
	var payload MaintenancePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return MaintenancePayload{}, fmt.Errorf("unmarshal maintenance payload: %w", err)
	}
	return payload, nil
}
