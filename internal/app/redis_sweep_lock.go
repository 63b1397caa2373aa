package app

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSweepLock coordinates sweep ticks across replicas with a SET NX EX
// lock. It is deliberately best-effort: when Redis is unreachable the sweep
// proceeds anyway, because the sweep transition is already concurrency-safe.
type RedisSweepLock struct {
	client redis.UniversalClient
	key    string
}

func NewRedisSweepLock(client redis.UniversalClient, prefix string) *RedisSweepLock {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "settlement:lock"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisSweepLock{
		client: client,
		key:    trimmedPrefix + ":release_sweep",
	}
}

// TryAcquire returns true when this replica should run the current tick. The
// lock expires just short of the ttl so the next tick can be claimed again.
func (l *RedisSweepLock) TryAcquire(ctx context.Context, ttl time.Duration) bool {
	if l == nil || l.client == nil {
		return true
	}
	if ttl > time.Second {
		ttl -= time.Second
	}

	acquired, err := l.client.SetNX(ctx, l.key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		log.Printf("level=warn component=sweeper msg=\"sweep lock unavailable; proceeding without coordination\" err=%v", err)
		return true
	}
	return acquired
}
