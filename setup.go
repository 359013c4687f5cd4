package main

import (
	"context"
	"crypto/rand"
	"strconv"
	"time"

	"github.com/go-kit/log/level"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/queue"
	"github.com/sourcedrop/sourcedrop-server/repository"
	"github.com/sourcedrop/sourcedrop-server/services"
	"github.com/sourcedrop/sourcedrop-server/types"
	"github.com/sourcedrop/sourcedrop-server/util"
)

// how long an interrupted upload or deletion may leave temp files behind
const staleObjectAge = time.Hour

// Configure DB Repositories and create DB Selector
func ConfigDBSelector() *repository.CouchDBSelector {
	dbSelector, err := repository.NewDBSelectorFromConfig(global.Conf.Database, global.Conf.CouchDB)
	if err != nil {
		level.Error(global.Logger).Log("msg", "Failed to create repositories", "err", err)
		panic(err)
	}
	return dbSelector
}

// initRedis returns nil when no redis is configured
func initRedis(conf global.Config) *redis.Client {
	if conf.Redis.Host == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Host + ":" + strconv.Itoa(conf.Redis.Port),
		Username: conf.Redis.Username,
		Password: conf.Redis.Password,
		DB:       1,
	})

	// clears all rate limit data ignoring potential errors
	rCtx, rCancel := context.WithTimeout(context.Background(), time.Second*10)
	defer rCancel()
	_ = client.FlushDB(rCtx).Err()

	return client
}

// ConfigTaskRunner starts the configured key generation runner. The asynq
// server is nil for the local runner.
func ConfigTaskRunner(vault *services.KeyVaultService) (queue.TaskRunner, *asynq.Server) {
	var secret *[32]byte
	if global.Conf.Queue.SecretHex != "" {
		s, err := util.ParseHexKey(global.Conf.Queue.SecretHex)
		if err != nil {
			panic(err)
		}
		secret = s
	} else {
		// local jobs never leave the process, a per run key is enough
		secret = new([32]byte)
		if _, err := rand.Read(secret[:]); err != nil {
			panic(err)
		}
	}
	kq := queue.NewKeyQueue(vault, secret)

	if global.Conf.Queue.Type != "asynq" {
		return queue.NewLocalRunner(kq, global.Conf.Queue.Concurrency, 0), nil
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     global.Conf.Redis.Host + ":" + strconv.Itoa(global.Conf.Redis.Port),
		Username: global.Conf.Redis.Username,
		Password: global.Conf.Redis.Password,
		DB:       2,
	}
	taskServer, mux := queue.NewAsynqServer(redisOpt, global.Conf.Queue.Concurrency, global.Conf.Mode, kq)
	if err := taskServer.Start(mux); err != nil {
		panic(err)
	}
	return queue.NewAsynqRunner(redisOpt, secret, global.Conf.Queue.MaxRetry), taskServer
}

// ConfigSweeper removes temp files and tombstones left by interrupted
// requests, once on startup and then every hour
func ConfigSweeper(store *services.StoreService, environment *types.Environment) {
	sweep := func() {
		removed, err := store.SweepStale(staleObjectAge)
		if err != nil {
			level.Error(global.Logger).Log("msg", "failed to sweep stale objects", "err", err)
			return
		}
		if removed > 0 {
			level.Info(global.Logger).Log("msg", "swept stale objects", "removed", removed)
		}
	}
	environment.Cron.AddFunc("@every 1h", sweep)
	environment.Cron.Start()
	go sweep() // run once on startup
}
