// File: slotbook/main.go
package main

import (
	"os"
	"os/signal"
	"syscall"

	"slotbook/api"
	"slotbook/cache"
	"slotbook/config"
	"slotbook/services/booking"
	"slotbook/utils"

	"github.com/hibiken/asynq"
)

func main() {
	config.LoadConfig()
	logger := utils.GetLogger()

	utils.InitCache()
	store := cache.NewRedisStore(utils.GetCacheClient(), config.AppConfig.CachePrefix)
	appCache := cache.New(store, utils.RealClock(), logger)

	docs := api.NewDocsClient(
		config.AppConfig.SlotsDocURL,
		config.AppConfig.ClubDocURL,
		utils.RealClock(),
		logger,
	)

	redisOpt := asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisQueueDB,
	}
	watcher := booking.NewWatcher(
		redisOpt, docs, appCache,
		config.AppConfig.CacheTTL(),
		config.AppConfig.WatcherInterval(),
		logger,
	)

	// The embedding frontend builds the per-user Flow; this process serves
	// the background settlement checks that outlive any single session.
	srv := booking.RunWorker(redisOpt, watcher, logger)
	logger.Sugar().Info("main: payment watcher worker running")

	// Wait for an OS signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Sugar().Info("main: shutting down...")

	srv.Shutdown()
	if err := watcher.Close(); err != nil {
		logger.Sugar().Warnf("main: watcher close failed: %v", err)
	}
	logger.Sugar().Info("main: stopped gracefully")
}
