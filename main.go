package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-kit/log/level"
	"github.com/sourcedrop/sourcedrop-server/apiroutes"
	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/services"
	"github.com/sourcedrop/sourcedrop-server/types"
	"golang.org/x/sys/unix"
)

func main() {
	var (
		configFile string
	)
	// configuration file optional path. Default:  current dir with  filename conf.yaml
	flag.StringVar(&configFile, "c", "conf.yaml", "Configuration file path.")
	flag.StringVar(&configFile, "config", "conf.yaml", "Configuration file path.")
	flag.Usage = usage
	flag.Parse()

	// loading configuration file
	conf, err := global.LoadConfig(configFile)
	if err != nil {
		level.Error(global.Logger).Log("msg", "conf.yaml failed to load", "err", err)
		panic("Failed to load conf.yaml")
	}
	global.Conf = conf

	rClient := initRedis(global.Conf)
	if rClient != nil {
		defer rClient.Close()
	}
	if global.Conf.RateLimit.Enabled && rClient == nil {
		level.Warn(global.Logger).Log("msg", "rate limiting enabled without redis, requests are not limited")
	}

	env := types.NewEnvironment(rClient)
	defer env.Cron.Stop()

	dbSelector := ConfigDBSelector()
	defer dbSelector.Close()

	vault, err := services.NewKeyVaultService(global.Conf.Keys, global.Conf.Operator)
	if err != nil {
		panic(err)
	}
	store, err := services.NewStoreService(global.Conf.Storage, vault)
	if err != nil {
		panic(err)
	}
	ConfigSweeper(store, env)

	// initialize the key generation queue
	runner, taskServer := ConfigTaskRunner(vault)

	// configure routes
	router := apiroutes.NewAPIRouter(&global.Conf)
	router = apiroutes.ConfigRoutes(router, dbSelector, vault, store, runner, env)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", global.Conf.Host, global.Conf.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// server wait to shutdown monitoring channels
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, unix.SIGTERM)

	go func() {
		<-quit
		level.Info(global.Logger).Log("msg", "shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			level.Error(global.Logger).Log("msg", "server shutdown failed", "err", err)
		}
		// stop accepting jobs, then let running ones finish
		runner.Shutdown()
		if taskServer != nil {
			taskServer.Shutdown()
		}
		close(done)
	}()

	level.Info(global.Logger).Log("msg", "Server is ready to handle requests", "port", global.Conf.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("%v\n", err))
	}

	<-done
}

// usage will print out the flag options for the server.
func usage() {
	usageStr := `Usage: sourcedrop-server [options]
	Server Options:
	-c, --config <file>              Configuration file path
`
	fmt.Printf("%s\n", usageStr)
	os.Exit(0)
}
