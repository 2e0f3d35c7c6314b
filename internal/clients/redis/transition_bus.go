package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	types "github.com/yungbote/wwfm-backend/internal/domain/ratings"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

const DefaultTransitionChannel = "wwfm:transitions"

// TransitionBus publishes display transition events for the presentation
// layer, which subscribes to the channel itself.
type TransitionBus interface {
	PublishTransition(ctx context.Context, ev types.TransitionEvent) error
	Client() goredis.UniversalClient
	Close() error
}

type transitionBus struct {
	log     *logger.Logger
	rdb     goredis.UniversalClient
	channel string
}

// NewTransitionBusFromEnv dials REDIS_ADDR and publishes on
// REDIS_TRANSITION_CHANNEL.
func NewTransitionBusFromEnv(log *logger.Logger) (TransitionBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewTransitionBus(log, rdb, os.Getenv("REDIS_TRANSITION_CHANNEL")), nil
}

func NewTransitionBus(log *logger.Logger, rdb goredis.UniversalClient, channel string) TransitionBus {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultTransitionChannel
	}
	return &transitionBus{
		log:     log.With("service", "RedisTransitionBus"),
		rdb:     rdb,
		channel: channel,
	}
}

func (b *transitionBus) PublishTransition(ctx context.Context, ev types.TransitionEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis transition bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *transitionBus) Client() goredis.UniversalClient {
	if b == nil {
		return nil
	}
	return b.rdb
}

func (b *transitionBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
