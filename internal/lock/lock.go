// Package lock guards report mutations so that at most one amend, copy,
// import or refresh runs per report at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tse-report-engine/internal/domain"
)

// ErrLocked is returned when the report is already being changed.
var ErrLocked = errors.New("report is locked by another operation")

// Release frees a held lock.
type Release func()

// Locker acquires per-report locks.
type Locker interface {
	Acquire(ctx context.Context, reportID int64) (Release, error)
}

// Key returns the lock key of a report.
func Key(reportID int64) string {
	return fmt.Sprintf("tse-report:lock:%d", reportID)
}

// NewLocker builds the locker selected by the configuration: redis when a
// URL is set, in-process otherwise.
func NewLocker(config domain.LockConfig, logger *logrus.Logger) (Locker, error) {
	if config.RedisURL == "" {
		return NewLocalLocker(), nil
	}
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisLocker(client, config, logger), nil
}

// LocalLocker holds locks in process memory.
type LocalLocker struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[int64]struct{})}
}

// Acquire takes the lock or fails immediately with ErrLocked.
func (l *LocalLocker) Acquire(_ context.Context, reportID int64) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[reportID]; busy {
		return nil, fmt.Errorf("%w: %d", ErrLocked, reportID)
	}
	l.held[reportID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, reportID)
			l.mu.Unlock()
		})
	}, nil
}

// only the holder of the token may delete the key
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares locks between processes through redis keys that
// expire after a TTL.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	wait   time.Duration
	logger *logrus.Logger
}

// NewRedisLocker creates a redis backed locker.
func NewRedisLocker(client *redis.Client, config domain.LockConfig, logger *logrus.Logger) *RedisLocker {
	if config.TTL == 0 {
		config.TTL = 5 * time.Minute
	}
	if config.Retry == 0 {
		config.Retry = 100 * time.Millisecond
	}
	return &RedisLocker{
		client: client,
		ttl:    config.TTL,
		retry:  config.Retry,
		wait:   config.Wait,
		logger: logger,
	}
}

// Acquire takes the lock, retrying until the configured wait elapses.
func (r *RedisLocker) Acquire(ctx context.Context, reportID int64) (Release, error) {
	key := Key(reportID)
	token := uuid.New().String()
	deadline := time.Now().Add(r.wait)

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %d", ErrLocked, reportID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retry):
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
			r.logger.WithFields(logrus.Fields{
				"key":   key,
				"error": err,
			}).Warn("Failed to release lock")
		}
	}, nil
}

// Close closes the redis client.
func (r *RedisLocker) Close() error {
	return r.client.Close()
}
