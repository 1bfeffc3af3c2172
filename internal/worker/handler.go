package worker

import (
	"chatalarm/backend/internal/notify"
	"chatalarm/backend/internal/tasks"
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// FanoutHandler runs queued notification fan-out tasks.
type FanoutHandler struct {
	fanout *notify.Fanout
}

func NewFanoutHandler(fanout *notify.Fanout) *FanoutHandler {
	return &FanoutHandler{fanout: fanout}
}

func taskLogger(ctx context.Context, t *asynq.Task) *logrus.Entry {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	retry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	return logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     retry,
		"max_retry": maxRetry,
	})
}

// ProcessMessage implements asynq.HandlerFunc for tasks.TypeMessageFanout.
func (h *FanoutHandler) ProcessMessage(ctx context.Context, t *asynq.Task) error {
	log := taskLogger(ctx, t)

	var ev notify.MessageEvent
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		log.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	outcomes, err := h.fanout.HandleMessage(ctx, ev)
	if err != nil {
		return fmt.Errorf("message fan-out for %s: %w", ev.MessageID, err)
	}
	log.WithField("message_id", ev.MessageID).Debugf("Message fan-out done, %d recipients", len(outcomes))
	return nil
}

// ProcessSocial implements asynq.HandlerFunc for tasks.TypeSocialFanout.
func (h *FanoutHandler) ProcessSocial(ctx context.Context, t *asynq.Task) error {
	log := taskLogger(ctx, t)

	var ev notify.SocialEvent
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		log.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if _, err := h.fanout.HandleSocial(ctx, ev); err != nil {
		return fmt.Errorf("%s fan-out for %s: %w", ev.Category, ev.RecipientID, err)
	}
	return nil
}

// Register adds the handlers to mux.
func (h *FanoutHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(tasks.TypeMessageFanout, h.ProcessMessage)
	mux.HandleFunc(tasks.TypeSocialFanout, h.ProcessSocial)
}
