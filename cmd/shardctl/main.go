// Command shardctl boots a single node of the shard orchestration cluster,
// either as the coordinator or as a worker, depending on its configuration.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hashicorp/go-uuid"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"

	"github.com/kettlecord/shardctl/internal/config"
	"github.com/kettlecord/shardctl/internal/coordination"
	"github.com/kettlecord/shardctl/internal/eventbus"
	"github.com/kettlecord/shardctl/internal/gateway"
	"github.com/kettlecord/shardctl/internal/ratelimit"
	"github.com/kettlecord/shardctl/internal/restclient"
	"github.com/kettlecord/shardctl/internal/statecache"
	"github.com/kettlecord/shardctl/structs/discord"
)

func main() {
	configPath := flag.String("config", "shardctl.yaml", "path to the node configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "shardctl:", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("shardctl exited with error")
	}
}

func run(ctx context.Context, cfg *config.Configuration, logger zerolog.Logger) error {
	limiter := ratelimit.New(logger)
	defer limiter.Close()

	rest := restclient.New(cfg.Token, limiter, logger)

	coordClient := coordination.NewClient(logger)
	server := coordination.NewServer(listenAddr(cfg.ListenURL), logger)

	events := buildEventBus(cfg, logger)
	cache := buildStateCache(cfg, logger)

	processID, err := uuid.GenerateUUID()
	if err != nil {
		return err
	}

	bootstrapping := cfg.ClusterURL == cfg.ListenURL

	if bootstrapping {
		totalShards := cfg.Sharding.ShardCount
		if cfg.Sharding.AutoSharded {
			totalShards = coordination.DiscoverTotalShards(ctx, rest, logger)
		}

		coord := coordination.NewCoordinator(processID, cfg.ListenURL, cfg.OriginalCoordinator, totalShards, coordClient, logger)
		coord.WithEnrichment(events, cache)
		coord.RegisterHandlers(server)
		coord.Start(ctx)

		logger.Info().Str("process_id", processID).Int("total_shards", totalShards).Msg("booted as coordinator")

		return serveUntilDone(ctx, server, logger)
	}

	// A node configured as the original coordinator but pointed at a
	// different ClusterURL is recovering after being superseded: reclaim the
	// role from whichever temporary coordinator currently holds it instead
	// of registering as a plain worker.
	if cfg.OriginalCoordinator {
		coord := coordination.NewCoordinator(processID, cfg.ListenURL, true, 1, coordClient, logger)
		coord.WithEnrichment(events, cache)
		coord.RegisterHandlers(server)

		if err := coord.AttemptResumption(ctx, cfg.ClusterURL); err != nil {
			return xerrors.Errorf("original coordinator resumption: %w", err)
		}

		coord.Start(ctx)

		logger.Info().Str("process_id", processID).Int("total_shards", coord.TotalShards).Msg("resumed as original coordinator")

		return serveUntilDone(ctx, server, logger)
	}

	identity := gateway.Identity{
		Token:          cfg.Token,
		Intents:        cfg.Bot.Intents,
		LargeThreshold: cfg.Bot.LargeThreshold,
		Compress:       cfg.Bot.Compression,
		Properties: discord.IdentifyProperties{
			OS:      "linux",
			Browser: "shardctl",
			Device:  "shardctl",
		},
	}

	onShardError := func(err error) {
		logger.Error().Err(err).Msg("shard terminated with an unrecoverable error")
	}

	shards := gateway.NewShardManager(identity, nil, onShardError, logger)

	worker, err := coordination.NewWorker(cfg.ListenURL, cfg.ClusterURL, cfg.OriginalCoordinator, shards, coordClient, server, logger)
	if err != nil {
		return err
	}

	if err := worker.Start(ctx); err != nil {
		return err
	}

	logger.Info().Str("process_id", worker.ProcessID).Msg("booted as worker")

	return serveUntilDone(ctx, server, logger)
}

// serveUntilDone blocks in ListenAndServe until ctx is cancelled, then
// shuts the CoordinationServer down gracefully.
func serveUntilDone(ctx context.Context, server *coordination.Server, logger zerolog.Logger) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		return server.Shutdown()
	case err := <-errCh:
		return err
	}
}

func buildEventBus(cfg *config.Configuration, logger zerolog.Logger) *eventbus.Publisher {
	if !cfg.NATS.Enabled {
		return nil
	}

	pub, err := eventbus.Connect(cfg.NATS.URL, cfg.NATS.Cluster, "shardctl", cfg.NATS.Subject, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("event bus unavailable, continuing without it")
		return nil
	}

	return pub
}

func buildStateCache(cfg *config.Configuration, logger zerolog.Logger) *statecache.Cache {
	if !cfg.Redis.Enabled {
		return nil
	}

	return statecache.New(cfg.Redis.Addr, cfg.Redis.Prefix, logger)
}

// listenAddr strips a "http://" or "https://" scheme from a configured
// ListenURL, since fasthttp.Server.ListenAndServe wants a bare host:port.
func listenAddr(listenURL string) string {
	listenURL = strings.TrimPrefix(listenURL, "https://")
	listenURL = strings.TrimPrefix(listenURL, "http://")

	return listenURL
}
