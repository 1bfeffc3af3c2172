package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Dispatcher hands events to the fan-out without blocking the caller on its result.
// A returned error only means the event could not be handed over.
type Dispatcher interface {
	DispatchMessage(ctx context.Context, ev MessageEvent) error
	DispatchSocial(ctx context.Context, ev SocialEvent) error
}

// InlineDispatcher runs the fan-out on a goroutine of the current process.
type InlineDispatcher struct {
	fanout  *Fanout
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewInlineDispatcher creates an InlineDispatcher. Each event gets timeout to finish.
func NewInlineDispatcher(fanout *Fanout, timeout time.Duration) *InlineDispatcher {
	return &InlineDispatcher{fanout: fanout, timeout: timeout}
}

// DispatchMessage never fails. The caller's context is not inherited since the
// event outlives the request that produced it.
func (d *InlineDispatcher) DispatchMessage(_ context.Context, ev MessageEvent) error {
	d.run(func(ctx context.Context) error {
		_, err := d.fanout.HandleMessage(ctx, ev)
		return err
	}, logrus.Fields{"room_id": ev.RoomID, "message_id": ev.MessageID})
	return nil
}

func (d *InlineDispatcher) DispatchSocial(_ context.Context, ev SocialEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	d.run(func(ctx context.Context) error {
		_, err := d.fanout.HandleSocial(ctx, ev)
		return err
	}, logrus.Fields{"category": ev.Category, "user_id": ev.RecipientID})
	return nil
}

func (d *InlineDispatcher) run(job func(context.Context) error, fields logrus.Fields) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := job(ctx); err != nil {
			logrus.WithFields(fields).WithError(err).Error("Notification fan-out failed")
		}
	}()
}

// Wait blocks until every dispatched event has been handled.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
