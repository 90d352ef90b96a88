package main

import (
	stdcontext "context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-kit/log/level"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"wordwatch/internal/cache"
	"wordwatch/internal/context"
	"wordwatch/internal/dbstore"
	"wordwatch/internal/discord"
	"wordwatch/internal/pipeline"
	"wordwatch/internal/queue"
)

const (
	envQueueSize     = "scan.queue_size"
	defaultQueueSize = 1024
)

func queueSize(ctx context.Ctx) int {
	raw := os.Getenv(envQueueSize)
	if raw == "" {
		return defaultQueueSize
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size < 1 {
		level.Warn(ctx.Log()).Log("msg", "invalid scan queue size, using default", "value", raw, "default", defaultQueueSize)
		return defaultQueueSize
	}
	return size
}

func main() {
	err := godotenv.Load("config/.env")
	if err != nil {
		panic(errors.Wrap(err, "Error loading .env file"))
	}

	ctx := context.New(stdcontext.Background())
	store, err := dbstore.New(ctx)
	if err != nil {
		panic(errors.Wrap(err, "failed to create store"))
	}

	ruleCache := cache.New()
	scanQueue := queue.New(queueSize(ctx))

	discordClient, err := discord.New(ctx, store, ruleCache, scanQueue)
	if err != nil {
		panic(errors.Wrap(err, "failed to create discord client"))
	}
	if err := <-discordClient.Ready(); err != nil {
		panic(errors.Wrap(err, "failed to start"))
	}

	scanner := pipeline.New(ctx, ruleCache, scanQueue, discordClient)

	// queued messages are still scanned after the signal; Run returns once
	// the queue is drained
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		level.Info(ctx.Log()).Log("msg", "shutting down")
		scanQueue.Close()
	}()

	scanner.Run()

	if err := discordClient.Close(); err != nil {
		level.Error(ctx.Log()).Log("msg", "failed to close discord session", "error", err.Error())
	}
	level.Info(ctx.Log()).Log("msg", "application terminated")
}
