package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for run records, round
// records and event fan-out. All keys and channels are namespaced with the
// instance name. The client is safe for concurrent use.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new blackboard client for the specified instance.
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// NewClientFromURL parses a redis:// URL and creates a client for instanceName.
func NewClientFromURL(url, instanceName string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return NewClient(opts, instanceName)
}

// Instance returns the instance name this client is scoped to.
func (c *Client) Instance() string {
	return c.instanceName
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SaveRun writes a run record and indexes it by start time.
// Calling it again with the same ID replaces the record.
func (c *Client) SaveRun(ctx context.Context, r *Run) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	hash, err := RunToHash(r)
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}

	if err := c.rdb.HSet(ctx, RunKey(c.instanceName, r.ID), hash).Err(); err != nil {
		return fmt.Errorf("failed to write run to Redis: %w", err)
	}

	z := redis.Z{Score: RunScore(r.StartedAtMs), Member: r.ID}
	if err := c.rdb.ZAdd(ctx, RunsIndexKey(c.instanceName), z).Err(); err != nil {
		return fmt.Errorf("failed to index run: %w", err)
	}

	return nil
}

// GetRun retrieves a run record by ID.
// Returns (nil, redis.Nil) if the run doesn't exist.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	hashData, err := c.rdb.HGetAll(ctx, RunKey(c.instanceName, runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	run, err := HashToRun(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize run: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, most recently started first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		return []*Run{}, nil
	}

	ids, err := c.rdb.ZRevRange(ctx, RunsIndexKey(c.instanceName), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*Run, 0, len(ids))
	for _, id := range ids {
		run, err := c.GetRun(ctx, id)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// ScanRunIDs returns the IDs of stored runs that start with prefix, most
// recently started first.
func (c *Client) ScanRunIDs(ctx context.Context, prefix string) ([]string, error) {
	ids, err := c.rdb.ZRevRange(ctx, RunsIndexKey(c.instanceName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan runs: %w", err)
	}

	matches := make([]string, 0, 1)
	for _, id := range ids {
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}
	return matches, nil
}

// RecordRound stores a resolved round, indexes it under its run and publishes
// it to agora:{instance}:round_events.
func (c *Client) RecordRound(ctx context.Context, r *RoundEvent) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid round: %w", err)
	}

	hash, err := RoundToHash(r)
	if err != nil {
		return fmt.Errorf("failed to serialize round: %w", err)
	}

	key := RoundKey(c.instanceName, r.RunID, r.Round)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write round to Redis: %w", err)
	}

	z := redis.Z{Score: RoundScore(r.Round), Member: key}
	if err := c.rdb.ZAdd(ctx, RoundsIndexKey(c.instanceName, r.RunID), z).Err(); err != nil {
		return fmt.Errorf("failed to index round: %w", err)
	}

	roundJSON, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal round for event: %w", err)
	}
	if err := c.rdb.Publish(ctx, RoundEventsChannel(c.instanceName), roundJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish round event: %w", err)
	}

	return nil
}

// ListRounds returns every recorded round of a run in round order.
// Returns an empty slice for unknown runs.
func (c *Client) ListRounds(ctx context.Context, runID string) ([]*RoundEvent, error) {
	members, err := c.rdb.ZRangeWithScores(ctx, RoundsIndexKey(c.instanceName, runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}

	rounds := make([]*RoundEvent, 0, len(members))
	for _, m := range members {
		key, ok := m.Member.(string)
		if !ok {
			continue
		}
		hashData, err := c.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read round %d: %w", RoundFromScore(m.Score), err)
		}
		if len(hashData) == 0 {
			continue
		}
		round, err := HashToRound(hashData)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize round %d: %w", RoundFromScore(m.Score), err)
		}
		rounds = append(rounds, round)
	}
	return rounds, nil
}

// PublishEvent publishes a stream event to agora:{instance}:stream_events.
func (c *Client) PublishEvent(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := c.rdb.Publish(ctx, StreamEventsChannel(c.instanceName), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish stream event: %w", err)
	}
	return nil
}

// Subscription represents an active Pub/Sub subscription delivering decoded
// values of type T. Caller must call Close() when done.
type Subscription[T any] struct {
	events <-chan T
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of decoded messages.
// The channel is closed when the subscription is closed or the context is cancelled.
func (s *Subscription[T]) Events() <-chan T {
	return s.events
}

// Errors returns the channel of decode errors. Undecodable messages are
// skipped and the subscription continues.
func (s *Subscription[T]) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription[T]) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeEvents subscribes to stream events for this instance.
//
// Redis Pub/Sub is at-most-once: a subscriber that is not connected when an
// event is published never sees it.
func (c *Client) SubscribeEvents(ctx context.Context) (*Subscription[Event], error) {
	return subscribe(ctx, c.rdb, StreamEventsChannel(c.instanceName), func(payload []byte) (Event, error) {
		var e Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return Event{}, fmt.Errorf("failed to unmarshal stream event: %w", err)
		}
		return e, e.Validate()
	})
}

// SubscribeRoundEvents subscribes to round events for this instance.
func (c *Client) SubscribeRoundEvents(ctx context.Context) (*Subscription[*RoundEvent], error) {
	return subscribe(ctx, c.rdb, RoundEventsChannel(c.instanceName), func(payload []byte) (*RoundEvent, error) {
		var r RoundEvent
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal round event: %w", err)
		}
		return &r, nil
	})
}

func subscribe[T any](ctx context.Context, rdb *redis.Client, channel string, decode func([]byte) (T, error)) (*Subscription[T], error) {
	pubsub := rdb.Subscribe(ctx, channel)

	// Wait for the subscription to be confirmed so that nothing published
	// after we return is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	eventsChan := make(chan T, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				value, err := decode([]byte(msg.Payload))
				if err != nil {
					select {
					case errorsChan <- err:
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- value:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription[T]{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
