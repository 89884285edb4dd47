// Command matrixd serves the LinkTum matrix platform API: contract read
// views, orchestrated registrations and level purchases, team reports and
// the live event feed.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/linktum-network/matrix-service/internal/app/httpapi"
	"github.com/linktum-network/matrix-service/internal/app/services/admin"
	"github.com/linktum-network/matrix-service/internal/app/services/orchestrator"
	"github.com/linktum-network/matrix-service/internal/app/services/stats"
	"github.com/linktum-network/matrix-service/internal/app/services/team"
	"github.com/linktum-network/matrix-service/internal/app/storage"
	"github.com/linktum-network/matrix-service/internal/app/storage/memory"
	"github.com/linktum-network/matrix-service/internal/app/storage/postgres"
	"github.com/linktum-network/matrix-service/internal/cache"
	"github.com/linktum-network/matrix-service/internal/chain"
	"github.com/linktum-network/matrix-service/internal/chain/events"
	"github.com/linktum-network/matrix-service/internal/config"
	"github.com/linktum-network/matrix-service/internal/middleware"
	"github.com/linktum-network/matrix-service/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("matrixd").WithError(err).Error("loading configuration")
		os.Exit(1)
	}
	log := logger.New("matrixd", cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("service exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var signer chain.Signer
	if cfg.Chain.PrivateKey != "" {
		var err error
		signer, err = chain.NewPrivateKeySigner(cfg.Chain.PrivateKey)
		if err != nil {
			return err
		}
	}

	gateway, err := chain.Dial(ctx, chain.Config{
		RPCURL:          cfg.Chain.RPCURL,
		MatrixAddress:   common.HexToAddress(cfg.Chain.MatrixAddress),
		TokenAddress:    common.HexToAddress(cfg.Chain.TokenAddress),
		Signer:          signer,
		ReadsPerSecond:  cfg.Chain.ReadsPerSec,
		ReadBurst:       cfg.Chain.ReadBurst,
		ConfirmInterval: cfg.Chain.ConfirmEvery,
	}, log.WithField("component", "chain"))
	if err != nil {
		return err
	}
	defer gateway.Close()

	var store storage.TransactionStore
	if cfg.Database.DSN != "" {
		pg, err := postgres.Open(cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		store = pg
		log.Info("using postgres transaction store")
	} else {
		store = memory.New()
		log.Warn("no database configured, transaction history is in-memory only")
	}

	var snapshotStore stats.Store
	if cfg.Redis.Addr != "" {
		c, err := cache.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, "matrix")
		if err != nil {
			return err
		}
		defer c.Close()
		snapshotStore = c
	}

	orch := orchestrator.New(gateway, store, log.WithField("component", "orchestrator"))
	if err := orch.Reconcile(ctx); err != nil {
		log.WithError(err).Warn("reconciling stale transactions failed")
	}

	statsSvc := stats.New(gateway, snapshotStore, log.WithField("component", "stats"))
	if err := statsSvc.Start(ctx, cfg.Stats.Schedule); err != nil {
		return err
	}
	defer statsSvc.Stop()

	opts := httpapi.Options{
		Limiter: middleware.NewRateLimiter(cfg.Server.RequestsPerSecond, cfg.Server.Burst, log.WithField("component", "ratelimit")),
	}
	opts.Limiter.StartCleanup(10 * time.Minute)

	if cfg.Auth.AdminSecret != "" {
		opts.Admin = admin.New(gateway, log.WithField("component", "admin"))
		opts.Auth = middleware.NewAdminAuth(cfg.Auth.AdminSecret, log.WithField("component", "auth"))
	} else {
		log.Warn("no admin secret configured, admin surface disabled")
	}

	if cfg.Chain.WSURL != "" {
		stream := events.NewStream(cfg.Chain.WSURL, common.HexToAddress(cfg.Chain.MatrixAddress), log.WithField("component", "events"))
		if err := stream.Start(ctx); err != nil {
			return err
		}
		defer stream.Stop()

		opts.Hub = httpapi.NewHub(log.WithField("component", "events-hub"))
		go opts.Hub.Run(stream.Events())
	} else {
		log.Warn("no websocket endpoint configured, event feed disabled")
	}

	aggregator := team.New(gateway, log.WithField("component", "team"))
	server := httpapi.New(gateway, orch, aggregator, statsSvc, opts, log.WithField("component", "httpapi"))

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("http server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
