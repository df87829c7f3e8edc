package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coolguy916/Monitor-Framework-ALBON/internal/logger"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/store"
	"github.com/coolguy916/Monitor-Framework-ALBON/ws"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the configuration file")
	flag.Parse()

	cfg, err := readConfig(*configPath)
	if err != nil {
		bootLog := logger.New(false)
		bootLog.Fatal().Err(err).Msg("failed to read configuration")
	}

	log := logger.New(cfg.DebugMode)
	log.Info().Str("app", cfg.AppName).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverCfg := ws.DefaultConfig(cfg.Server.Addr)
	serverCfg.MaxConnections = cfg.Server.MaxConnections
	serverCfg.RequestTimeout = parseDuration(cfg.Server.RequestTimeout, 30*time.Second)
	serverCfg.HeartbeatInterval = parseDuration(cfg.Server.HeartbeatInterval, 30*time.Second)
	if cfg.Server.HeartbeatTimeoutMultiplier > 0 {
		serverCfg.HeartbeatTimeoutMultiplier = cfg.Server.HeartbeatTimeoutMultiplier
	}
	if cfg.Server.MaxPayloadSize > 0 {
		serverCfg.MaxPayloadSize = cfg.Server.MaxPayloadSize
	}

	serverCfg.AuthPolicy = cfg.Auth.Policy
	serverCfg.AuthToken = cfg.Auth.Token
	serverCfg.EnableValidation = cfg.Patterns.Validation
	serverCfg.EnableRequestResponse = cfg.Patterns.RequestResponse
	serverCfg.EnablePubSub = cfg.Patterns.PubSub
	serverCfg.EnableRPC = cfg.Patterns.RPC
	serverCfg.EnableStreaming = cfg.Patterns.Streaming
	serverCfg.EnableBinary = cfg.Patterns.Binary
	serverCfg.IngestTable = cfg.Ingest.Table
	serverCfg.RequiredFields = cfg.Ingest.RequiredFields
	serverCfg.EncryptedFields = cfg.Ingest.EncryptedFields
	serverCfg.Logger = log

	if cfg.Ingest.EncryptionKey != "" {
		enc, err := store.NewFieldEncryptor([]byte(cfg.Ingest.EncryptionKey))
		if err != nil {
			log.Fatal().Err(err).Msg("invalid encryption key")
		}
		serverCfg.Encryptor = enc
	}

	if cfg.Database.Host != "" {
		mongoStore, err := store.ConnectMongo(ctx, store.MongoConfig{
			Host:             cfg.Database.Host,
			Port:             cfg.Database.Port,
			Username:         cfg.Database.Username,
			Password:         cfg.Database.Password,
			Database:         cfg.Database.Database,
			AppName:          cfg.AppName,
			ConnectTimeout:   parseDuration(cfg.Database.ConnectTimeout, 15*time.Second),
			OperationTimeout: parseDuration(cfg.Database.OperationTimeout, 10*time.Second),
			MinPoolSize:      cfg.Database.MinPoolSize,
			MaxPoolSize:      cfg.Database.MaxPoolSize,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := mongoStore.Close(closeCtx); err != nil {
				log.Error().Err(err).Msg("failed to close database connection")
			}
		}()
		serverCfg.Store = mongoStore
	} else {
		// Store stays nil: ingest validates and acknowledges but drops
		// the payload.
		log.Warn().Msg("no database configured, ingest payloads are validated but not persisted")
	}

	server := ws.New(serverCfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Stop(stopCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("server terminated")
	}
	log.Info().Msg("shutdown complete")
}
