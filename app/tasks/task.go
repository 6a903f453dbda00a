package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TaskType string

const (
	TaskTypeSyncFeed         TaskType = "sync_feed"
	TaskTypeSyncFeedConfig   TaskType = "sync_feed_config"
	TaskTypeSweepSummaries   TaskType = "sweep_summaries"
	TaskTypeCleanupSummaries TaskType = "cleanup_summaries"
)

// TaskInterface is a unit of background work. Tasks are never retried inline;
// a failed task waits for its next scheduled turn.
type TaskInterface interface {
	Execute(ctx context.Context) error
	GetID() string
	GetType() TaskType
	GetSubject() string
	Start()
	GetDuration() time.Duration
}

type Task struct {
	ID        string
	Type      TaskType
	Subject   string // feed name, feed id or subsystem the task works on
	StartedAt *time.Time
}

func (t *Task) GetID() string {
	return t.ID
}

func (t *Task) GetType() TaskType {
	return t.Type
}

func (t *Task) GetSubject() string {
	return t.Subject
}

func (t *Task) Start() {
	now := time.Now()
	t.StartedAt = &now
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return time.Since(*t.StartedAt)
}

func NewTask(taskType TaskType, subject string) Task {
	return Task{
		ID:      uuid.NewString(),
		Type:    taskType,
		Subject: subject,
	}
}
