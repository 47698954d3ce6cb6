package types

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a scheduled task. It must return promptly once ctx is done.
type Job func(ctx context.Context) error

type CronManager interface {
	LifecycleManager
	Add(jobName, spec string, job Job) error
	Remove(jobName string) error
	Trigger(jobName string) error
	Jobs() []JobEntry
}

type JobEntry struct {
	ID           cron.EntryID  `json:"-"`
	Name         string        `json:"name"`
	Spec         string        `json:"spec"`
	AddedAt      time.Time     `json:"added_at"`
	LastRun      time.Time     `json:"last_run,omitempty"`
	NextRun      time.Time     `json:"next_run,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	RunCount     int64         `json:"run_count"`
	ErrorCount   int64         `json:"error_count"`
	LastError    string        `json:"last_error,omitempty"`
}
