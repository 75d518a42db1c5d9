package cluster

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// RedisConfig holds connection parameters for the Redis-backed directory.
type RedisConfig struct {
	Addrs    []string
	Password string
	Key      string
	TTL      time.Duration
}

// RedisDirectory keeps coordinator addresses in a sorted set scored by the
// unix time of their last heartbeat. Members older than ttl are considered
// gone.
type RedisDirectory struct {
	client rueidis.Client
	key    string
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewRedisDirectory(cfg RedisConfig, logger *zap.Logger) (*RedisDirectory, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("redis addrs is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Password:     cfg.Password,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	return newRedisDirectory(client, cfg.Key, cfg.TTL, logger), nil
}

func newRedisDirectory(client rueidis.Client, key string, ttl time.Duration, logger *zap.Logger) *RedisDirectory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisDirectory{
		client: client,
		key:    key,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

func (d *RedisDirectory) RandomAddress(ctx context.Context) (string, error) {
	cmd := d.client.B().Zrangebyscore().Key(d.key).Min(d.cutoff()).Max("+inf").Build()
	addrs, err := d.client.Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return "", fmt.Errorf("list coordinators: %w", err)
	}
	if len(addrs) == 0 {
		return "", ErrNoCoordinator
	}
	return addrs[rand.IntN(len(addrs))], nil
}

// Register announces addr and refreshes it every interval until ctx is done,
// at which point the entry is removed. It blocks.
func (d *RedisDirectory) Register(ctx context.Context, addr string, interval time.Duration) error {
	if err := d.heartbeat(ctx, addr); err != nil {
		return err
	}
	d.logger.Info("registered with coordinator directory", zap.String("addr", addr), zap.String("key", d.key))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return d.deregister(addr)
		case <-ticker.C:
			if err := d.heartbeat(ctx, addr); err != nil && ctx.Err() == nil {
				d.logger.Warn("coordinator heartbeat failed", zap.String("addr", addr), zap.Error(err))
			}
		}
	}
}

func (d *RedisDirectory) Close() {
	d.client.Close()
}

func (d *RedisDirectory) heartbeat(ctx context.Context, addr string) error {
	now := float64(d.now().Unix())
	cmds := rueidis.Commands{
		d.client.B().Zadd().Key(d.key).ScoreMember().ScoreMember(now, addr).Build(),
		d.client.B().Zremrangebyscore().Key(d.key).Min("-inf").Max("(" + d.cutoff()).Build(),
	}
	for _, res := range d.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("heartbeat %s: %w", addr, err)
		}
	}
	return nil
}

func (d *RedisDirectory) deregister(addr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cmd := d.client.B().Zrem().Key(d.key).Member(addr).Build()
	if err := d.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("deregister %s: %w", addr, err)
	}
	d.logger.Info("deregistered from coordinator directory", zap.String("addr", addr))
	return nil
}

func (d *RedisDirectory) cutoff() string {
	return strconv.FormatInt(d.now().Add(-d.ttl).Unix(), 10)
}
