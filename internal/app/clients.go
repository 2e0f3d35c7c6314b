package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/yungbote/wwfm-backend/internal/clients/redis"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

type Clients struct {
	TransitionBus redis.TransitionBus
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	// Redis
	var bus redis.TransitionBus
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		b, err := redis.NewTransitionBusFromEnv(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis transition bus: %w", err)
		}
		bus = b
	}

	return Clients{TransitionBus: bus}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.TransitionBus != nil {
		_ = c.TransitionBus.Close()
	}
}
