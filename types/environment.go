package types

import (
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

type Environment struct {
	Cron        *cron.Cron
	RedisClient *redis.Client
	RateLimiter *redis_rate.Limiter
}

func NewEnvironment(redisClient *redis.Client) *Environment {
	env := &Environment{
		Cron:        cron.New(),
		RedisClient: redisClient,
	}
	if redisClient != nil {
		env.RateLimiter = redis_rate.NewLimiter(redisClient)
	}
	return env
}
