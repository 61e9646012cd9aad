package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "crmflow:runs"

// Redis keeps the run ids in a list trimmed to the capacity and each run as a JSON document
// under its own key. Documents of evicted runs are removed on prepend.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
	size   int
	prefix string
}

type RedisOption func(*Redis)

// WithPrefix namespaces the keys, mostly useful to isolate tests.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

func NewRedis(ctx context.Context, logger *slog.Logger, url string, size int, opts ...RedisOption) (*Redis, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	r := &Redis{
		client: client,
		logger: logger.With("module", "history", "backend", "redis"),
		size:   normalizeSize(size),
		prefix: defaultPrefix,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

func (r *Redis) listKey() string {
	return r.prefix + ":ids"
}

func (r *Redis) runKey(id string) string {
	return r.prefix + ":run:" + id
}

func (r *Redis) Prepend(ctx context.Context, run *models.WorkflowRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	var evicted *redis.StringSliceCmd

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.runKey(run.ID), payload, 0)
		pipe.LPush(ctx, r.listKey(), run.ID)
		evicted = pipe.LRange(ctx, r.listKey(), int64(r.size), -1)
		pipe.LTrim(ctx, r.listKey(), 0, int64(r.size-1))

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to prepend run %s: %w", run.ID, err)
	}

	ids := evicted.Val()
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.runKey(id))
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.logger.WarnContext(ctx, "Failed to remove evicted runs", "count", len(keys), "error", err)
	}

	return nil
}

func (r *Redis) Update(ctx context.Context, run *models.WorkflowRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	ok, err := r.client.SetXX(ctx, r.runKey(run.ID), payload, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", run.ID, err)
	}

	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}

	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (*models.WorkflowRun, error) {
	payload, err := r.client.Get(ctx, r.runKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}

		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}

	return decodeRun(payload)
}

func (r *Redis) List(ctx context.Context, workflowID string) ([]*models.WorkflowRun, error) {
	ids, err := r.client.LRange(ctx, r.listKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*models.WorkflowRun, 0, len(ids))
	if len(ids) == 0 {
		return runs, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.runKey(id))
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load runs: %w", err)
	}

	for _, value := range values {
		payload, ok := value.(string)
		if !ok {
			continue
		}

		run, err := decodeRun([]byte(payload))
		if err != nil {
			return nil, err
		}

		if workflowID != "" && run.WorkflowID != workflowID {
			continue
		}

		runs = append(runs, run)
	}

	return runs, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func decodeRun(payload []byte) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	if err := json.Unmarshal(payload, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}

	return &run, nil
}
