package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceTTL = 90 * time.Second

// presence records which instances hold live sessions for a user
type presence interface {
	Join(ctx context.Context, userID string) error
	Leave(ctx context.Context, userID string) error
	Refresh(ctx context.Context, userIDs []string) error
	Online(ctx context.Context, userID string) (bool, error)
}

// redisPresence keeps one sorted set per user. Members are instance ids
// scored by the unix time their claim lapses, so an instance that dies
// without cleaning up stops counting once its heartbeat stops.
type redisPresence struct {
	rdb        redis.UniversalClient
	instanceID string
	ttl        time.Duration
	now        func() time.Time
}

func newRedisPresence(rdb redis.UniversalClient, instanceID string) *redisPresence {
	return &redisPresence{rdb: rdb, instanceID: instanceID, ttl: presenceTTL, now: time.Now}
}

func (p *redisPresence) Join(ctx context.Context, userID string) error {
	return p.Refresh(ctx, []string{userID})
}

func (p *redisPresence) Refresh(ctx context.Context, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	now := p.now()
	expires := float64(now.Add(p.ttl).Unix())
	stale := "(" + strconv.FormatInt(now.Unix(), 10)
	_, err := p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range userIDs {
			key := presencePrefix + id
			pipe.ZRemRangeByScore(ctx, key, "-inf", stale)
			pipe.ZAdd(ctx, key, redis.Z{Score: expires, Member: p.instanceID})
			pipe.Expire(ctx, key, p.ttl)
		}
		return nil
	})
	return err
}

func (p *redisPresence) Leave(ctx context.Context, userID string) error {
	return p.rdb.ZRem(ctx, presencePrefix+userID, p.instanceID).Err()
}

func (p *redisPresence) Online(ctx context.Context, userID string) (bool, error) {
	n, err := p.rdb.ZCount(ctx, presencePrefix+userID, strconv.FormatInt(p.now().Unix(), 10), "+inf").Result()
	if err == redis.Nil {
		return false, nil
	}
	return n > 0, err
}
