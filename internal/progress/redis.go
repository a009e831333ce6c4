package progress

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "sitepolygons:upload:"

// RedisReporter stores the latest update of each job in a hash that expires
// after ttl.
type RedisReporter struct {
	client *redis.Client
	ttl    time.Duration
}

// OpenRedis connects to addr. It does not ping; the first report does.
func OpenRedis(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func NewRedisReporter(client *redis.Client, ttl time.Duration) *RedisReporter {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisReporter{client: client, ttl: ttl}
}

func Key(jobID string) string {
	return keyPrefix + jobID
}

func (r *RedisReporter) Report(ctx context.Context, update Update) error {
	if r.client == nil || update.JobID == "" {
		return nil
	}
	key := Key(update.JobID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"processed": update.Processed,
		"total":     update.Total,
		"state":     update.State,
		"message":   update.Message,
	})
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish progress for %s: %w", update.JobID, err)
	}
	return nil
}

// Get returns the latest update for a job.
func (r *RedisReporter) Get(ctx context.Context, jobID string) (Update, error) {
	fields, err := r.client.HGetAll(ctx, Key(jobID)).Result()
	if err != nil {
		return Update{}, fmt.Errorf("failed to read progress for %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return Update{}, ErrUnknownJob
	}
	return parseFields(jobID, fields), nil
}

// ErrUnknownJob is returned when no progress was ever published for a job.
var ErrUnknownJob = errors.New("unknown upload job")

func parseFields(jobID string, fields map[string]string) Update {
	processed, _ := strconv.Atoi(fields["processed"])
	total, _ := strconv.Atoi(fields["total"])
	return Update{
		JobID:     jobID,
		Processed: processed,
		Total:     total,
		State:     fields["state"],
		Message:   fields["message"],
	}
}
