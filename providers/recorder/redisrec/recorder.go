package redisrec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/leofalp/mosaik/core/engine"
	"github.com/leofalp/mosaik/core/graph"
	"github.com/leofalp/mosaik/providers/observability"
	backend "github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "mosaik"
	defaultMaxLen = 10000
)

// ErrRunNotRecorded is returned when Redis holds nothing for a run.
var ErrRunNotRecorded = errors.New("run not recorded")

// Recorder writes engine events to Redis.
type Recorder struct {
	client   *backend.Client
	prefix   string
	maxLen   int64
	observer observability.Provider
}

type Option func(*Recorder)

// WithPrefix sets the key prefix. Empty keeps "mosaik".
func WithPrefix(prefix string) Option {
	return func(recorder *Recorder) {
		if prefix != "" {
			recorder.prefix = prefix
		}
	}
}

// WithMaxLen sets the approximate number of events kept per run stream.
// Zero disables trimming.
func WithMaxLen(maxLen int64) Option {
	return func(recorder *Recorder) {
		recorder.maxLen = maxLen
	}
}

// WithObserver reports recording failures through observer.
func WithObserver(observer observability.Provider) Option {
	return func(recorder *Recorder) {
		recorder.observer = observer
	}
}

// New creates a recorder with its own client.
func New(address, password string, db int, opts ...Option) *Recorder {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(client, opts...)
}

// NewFromClient creates a recorder on an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Recorder {
	recorder := &Recorder{
		client: client,
		prefix: defaultPrefix,
		maxLen: defaultMaxLen,
	}
	for _, opt := range opts {
		opt(recorder)
	}
	return recorder
}

// Ping checks connectivity.
func (recorder *Recorder) Ping(ctx context.Context) error {
	if err := recorder.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	return nil
}

// Close releases the client.
func (recorder *Recorder) Close() error {
	return recorder.client.Close()
}

func (recorder *Recorder) runKey(runID engine.RunID) string {
	return recorder.prefix + ":run:" + string(runID)
}

func (recorder *Recorder) streamKey(runID engine.RunID) string {
	return recorder.runKey(runID) + ":events"
}

func (recorder *Recorder) indexKey() string {
	return recorder.prefix + ":runs"
}

// Record stores one event.
func (recorder *Recorder) Record(ctx context.Context, event engine.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := recorder.client.Pipeline()
	pipe.XAdd(ctx, &backend.XAddArgs{
		Stream: recorder.streamKey(event.RunID),
		MaxLen: recorder.maxLen,
		Approx: recorder.maxLen > 0,
		Values: map[string]any{
			"seq":   strconv.FormatUint(event.Seq, 10),
			"type":  string(event.Type),
			"event": data,
		},
	})

	runKey := recorder.runKey(event.RunID)
	switch {
	case event.Type == engine.EventRunStarted:
		pipe.HSet(ctx, runKey,
			"run_id", string(event.RunID),
			"nodes", len(event.Nodes),
			"started_at", event.Time.UnixMilli(),
		)
	case event.Terminal():
		pipe.HIncrBy(ctx, runKey, string(event.Status), 1)
	case event.Type == engine.EventRunFinished:
		pipe.HSet(ctx, runKey,
			"run_id", string(event.RunID),
			"outcome", string(event.Status),
			"finished_at", event.Time.UnixMilli(),
		)
		pipe.ZAdd(ctx, recorder.indexKey(), backend.Z{
			Score:  float64(event.Time.UnixMilli()),
			Member: string(event.RunID),
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// Consume records every event delivered to subscription until ctx ends or
// the sink closes. Failed writes are logged and skipped so a Redis outage
// never stalls the engine.
func (recorder *Recorder) Consume(ctx context.Context, subscription *engine.Subscription) error {
	defer subscription.Close()
	for {
		event, err := subscription.Next(ctx)
		if err != nil {
			if errors.Is(err, engine.ErrSinkClosed) || errors.Is(err, engine.ErrSubscriptionClosed) {
				return nil
			}
			return err
		}
		if err := recorder.Record(ctx, event); err != nil && recorder.observer != nil {
			recorder.observer.Warn(ctx, "Event not recorded",
				observability.String(observability.AttrRunID, string(event.RunID)),
				observability.Int64("event.seq", int64(event.Seq)),
				observability.Error(err),
			)
		}
	}
}

// History returns the recorded events of a run in publication order.
func (recorder *Recorder) History(ctx context.Context, runID engine.RunID) ([]engine.Event, error) {
	messages, err := recorder.client.XRange(ctx, recorder.streamKey(runID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotRecorded, runID)
	}

	events := make([]engine.Event, 0, len(messages))
	for _, message := range messages {
		raw, _ := message.Values["event"].(string)
		var event engine.Event
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %s: %w", message.ID, err)
		}
		events = append(events, event)
	}
	return events, nil
}

// RunSummary is the stored digest of a finished run.
type RunSummary struct {
	RunID      engine.RunID `json:"run_id"`
	Outcome    graph.Status `json:"outcome"`
	Nodes      int          `json:"nodes"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Cancelled  int          `json:"cancelled"`
	StartedAt  time.Time    `json:"started_at,omitzero"`
	FinishedAt time.Time    `json:"finished_at,omitzero"`
}

// Summary returns the stored digest of one run.
func (recorder *Recorder) Summary(ctx context.Context, runID engine.RunID) (RunSummary, error) {
	fields, err := recorder.client.HGetAll(ctx, recorder.runKey(runID)).Result()
	if err != nil {
		return RunSummary{}, fmt.Errorf("failed to read run summary: %w", err)
	}
	if len(fields) == 0 {
		return RunSummary{}, fmt.Errorf("%w: %s", ErrRunNotRecorded, runID)
	}
	return summaryFromHash(runID, fields), nil
}

// RecentRuns returns up to limit finished runs, most recent first.
func (recorder *Recorder) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		return nil, nil
	}
	runIDs, err := recorder.client.ZRevRange(ctx, recorder.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run index: %w", err)
	}

	pipe := recorder.client.Pipeline()
	commands := make([]*backend.MapStringStringCmd, len(runIDs))
	for index, runID := range runIDs {
		commands[index] = pipe.HGetAll(ctx, recorder.runKey(engine.RunID(runID)))
	}
	if len(runIDs) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to read run summaries: %w", err)
		}
	}

	summaries := make([]RunSummary, 0, len(runIDs))
	for index, command := range commands {
		summaries = append(summaries, summaryFromHash(engine.RunID(runIDs[index]), command.Val()))
	}
	return summaries, nil
}

func summaryFromHash(runID engine.RunID, fields map[string]string) RunSummary {
	number := func(key string) int64 {
		value, _ := strconv.ParseInt(fields[key], 10, 64)
		return value
	}
	instant := func(key string) time.Time {
		if fields[key] == "" {
			return time.Time{}
		}
		return time.UnixMilli(number(key))
	}

	return RunSummary{
		RunID:      runID,
		Outcome:    graph.Status(fields["outcome"]),
		Nodes:      int(number("nodes")),
		Succeeded:  int(number(string(graph.StatusSucceeded))),
		Failed:     int(number(string(graph.StatusFailed))),
		Cancelled:  int(number(string(graph.StatusCancelled))),
		StartedAt:  instant("started_at"),
		FinishedAt: instant("finished_at"),
	}
}
