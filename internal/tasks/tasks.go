// Package tasks defines the asynq task types of the notification fan-out.
package tasks

import (
	"chatalarm/backend/internal/config"
	"chatalarm/backend/internal/notify"
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const (
	TypeMessageFanout = "notify:message"
	TypeSocialFanout  = "notify:social"

	QueueNotifications = "notifications"
)

func NewMessageFanoutTask(ev notify.MessageEvent) (*asynq.Task, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeMessageFanout, payload), nil
}

func NewSocialFanoutTask(ev notify.SocialEvent) (*asynq.Task, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSocialFanout, payload), nil
}

// TaskEnqueuer is the part of asynq.Client the dispatcher uses.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher implements notify.Dispatcher by enqueueing asynq tasks.
type Dispatcher struct {
	client TaskEnqueuer
}

func NewDispatcher(client TaskEnqueuer) *Dispatcher {
	return &Dispatcher{client: client}
}

func (d *Dispatcher) DispatchMessage(ctx context.Context, ev notify.MessageEvent) error {
	task, err := NewMessageFanoutTask(ev)
	if err != nil {
		return fmt.Errorf("encode message fan-out task: %w", err)
	}
	return d.enqueue(ctx, task, logrus.Fields{"room_id": ev.RoomID, "message_id": ev.MessageID})
}

func (d *Dispatcher) DispatchSocial(ctx context.Context, ev notify.SocialEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	task, err := NewSocialFanoutTask(ev)
	if err != nil {
		return fmt.Errorf("encode social fan-out task: %w", err)
	}
	return d.enqueue(ctx, task, logrus.Fields{"category": ev.Category, "user_id": ev.RecipientID})
}

func (d *Dispatcher) enqueue(ctx context.Context, task *asynq.Task, fields logrus.Fields) error {
	info, err := d.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueNotifications),
		asynq.MaxRetry(config.FanoutRetries),
		asynq.Timeout(config.FanoutTimeout),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	logrus.WithFields(fields).WithField("task_id", info.ID).Debugf("Enqueued %s", task.Type())
	return nil
}

var _ notify.Dispatcher = (*Dispatcher)(nil)
