// Package stream delivers conversation events to observers: a live hub fed by
// the turn runner, a replayer and a follower that read the history ledger, an
// SSE encoder, and a Redis forwarder for observers in other processes.
package stream

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/dyluth/agora/pkg/blackboard"
)

// Emitter receives stream events in order.
type Emitter interface {
	Emit(ctx context.Context, e blackboard.Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, e blackboard.Event) error

func (f EmitterFunc) Emit(ctx context.Context, e blackboard.Event) error {
	return f(ctx, e)
}

// MultiEmitter sends every event to each emitter in turn. All emitters see
// the event even when an earlier one fails; the errors are joined.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(ctx context.Context, e blackboard.Event) error {
	var errs []error
	for _, em := range m {
		if em == nil {
			continue
		}
		if err := em.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EventPublisher publishes stream events to other processes.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e blackboard.Event) error
}

// Forwarder publishes events through an EventPublisher (normally the Redis
// blackboard client). Publish failures are logged and never reach the
// caller, so an unavailable Redis cannot stall a conversation.
type Forwarder struct {
	publisher EventPublisher
	logger    *zap.Logger
}

// NewForwarder creates a forwarder.
func NewForwarder(publisher EventPublisher, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{publisher: publisher, logger: logger.With(zap.String("component", "forwarder"))}
}

func (f *Forwarder) Emit(ctx context.Context, e blackboard.Event) error {
	if err := f.publisher.PublishEvent(ctx, e); err != nil {
		f.logger.Warn("failed to forward stream event",
			zap.String("event_type", string(e.Type)),
			zap.Error(err))
	}
	return nil
}

// Relay copies events from a blackboard subscription into emit until ctx is
// cancelled, the subscription closes, or a terminal event has been relayed.
// Undecodable messages are logged and skipped.
func Relay(ctx context.Context, sub *blackboard.Subscription[blackboard.Event], emit Emitter, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	events := sub.Events()
	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := emit.Emit(ctx, e); err != nil {
				return err
			}
			if e.Type.Terminal() {
				return nil
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("skipping undecodable stream event", zap.Error(err))
		}
	}
}
