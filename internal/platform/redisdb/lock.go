package redisdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/arthurhealth/caregraph-etl/internal/config"
	"github.com/arthurhealth/caregraph-etl/internal/platform/envutil"
	"github.com/arthurhealth/caregraph-etl/internal/platform/logger"
)

// RunLock serializes runs of one pipeline across processes. Optional
// collaborator: New returns (nil, nil) when no address is configured and a
// nil *RunLock acquires trivially.
type RunLock struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)

func New(cfg config.Redis, log *logger.Logger) (*RunLock, error) {
	if log == nil {
		return nil, fmt.Errorf("redisdb: logger required")
	}

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisdb: ping: %w", err)
	}

	return &RunLock{
		log: log.With("service", "RunLock"),
		rdb: rdb,
		ttl: envutil.Duration("RUN_LOCK_TTL", 2*time.Hour),
	}, nil
}

func lockKey(pipeline string) string {
	return "caregraph:run-lock:" + pipeline
}

// Acquire takes the lock for runID. ok=false means another run holds it. The
// TTL bounds how long a crashed holder can block successors.
func (l *RunLock) Acquire(ctx context.Context, pipeline, runID string) (bool, error) {
	if l == nil || l.rdb == nil {
		return true, nil
	}
	ok, err := l.rdb.SetNX(ctx, lockKey(pipeline), runID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redisdb: acquire run lock: %w", err)
	}
	return ok, nil
}

// Release deletes the lock only when runID still holds it. Failures are
// logged and swallowed: the TTL reclaims the key either way.
func (l *RunLock) Release(ctx context.Context, pipeline, runID string) {
	if l == nil || l.rdb == nil {
		return
	}
	if err := releaseScript.Run(ctx, l.rdb, []string{lockKey(pipeline)}, runID).Err(); err != nil && err != goredis.Nil {
		l.log.Warn("run lock release failed (continuing)", "pipeline", pipeline, "run_id", runID, "error", err)
	}
}

func (l *RunLock) Close() error {
	if l == nil || l.rdb == nil {
		return nil
	}
	return l.rdb.Close()
}
