package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"

	"github.com/motion-rep-tracker/internal/api"
	"github.com/motion-rep-tracker/internal/ble"
	"github.com/motion-rep-tracker/internal/config"
	"github.com/motion-rep-tracker/internal/connection"
	"github.com/motion-rep-tracker/internal/exercise"
	"github.com/motion-rep-tracker/internal/service"
	"github.com/motion-rep-tracker/internal/storage"
	"github.com/motion-rep-tracker/internal/storage/cassandra"
	"github.com/motion-rep-tracker/internal/storage/redis"
	"github.com/motion-rep-tracker/internal/storage/remote"
	"github.com/motion-rep-tracker/internal/stream"
	"github.com/motion-rep-tracker/internal/tracker"
	"github.com/motion-rep-tracker/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New()
	log.SetDebug(cfg.Debug)

	repo, closeStore, err := openStore(cfg, log)
	if err != nil {
		log.Error("Failed to initialize session store", logger.Err(err), logger.F("backend", cfg.Store.Backend))
		os.Exit(1)
	}
	defer closeStore()
	log.Info("Session store ready", logger.F("backend", cfg.Store.Backend))

	sessions := service.NewSessionService(repo, log)

	adapter := newAdapter(cfg)
	manager := connection.NewManager(adapter, log, connection.Options{
		ServiceUUID:        cfg.BLE.ServiceUUID,
		CharacteristicUUID: cfg.BLE.CharacteristicUUID,
	})

	aggregator := exercise.New(exercise.Params{
		Threshold:       cfg.Detector.Threshold,
		Debounce:        cfg.Detector.Debounce,
		HistoryCapacity: cfg.Detector.HistoryCapacity,
	}, log)

	opts := tracker.Options{}
	if cfg.Store.Autosave {
		opts.Sessions = sessions
	}
	tr := tracker.New(manager, aggregator, log, opts)

	nc := startMirror(cfg, tr, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go aggregator.RunTimer(ctx, cfg.Detector.TimerInterval)

	handler := api.NewHandler(sessions, tr, log, api.Options{
		ScanTimeout:    cfg.BLE.ScanTimeout,
		ConnectTimeout: cfg.BLE.ConnectTimeout,
	})

	router := chi.NewRouter()
	router.Use(api.RequestIDMiddleware)
	router.Use(middleware.RealIP)
	router.Use(api.LoggingMiddleware(log))
	router.Use(middleware.Recoverer)
	router.Mount("/", handler.Routes())

	server := &http.Server{
		Addr:    cfg.Address(),
		Handler: router,
	}

	go func() {
		log.Info("Server starting", logger.F("address", cfg.Address()), logger.F("ble_mode", cfg.BLE.Mode))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", logger.Err(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Err(err))
	}

	// Stopping here autosaves a running session before the store closes.
	if err := tr.StopSession(shutdownCtx); err != nil {
		log.Warn("Stop command not delivered", logger.Err(err))
	}
	if err := tr.Close(); err != nil {
		log.Warn("Device cleanup failed", logger.Err(err))
	}
	cancel()

	if nc != nil {
		if err := nc.Drain(); err != nil {
			log.Warn("NATS drain failed", logger.Err(err))
		}
	}

	log.Info("Server exited")
}

func newAdapter(cfg *config.Config) ble.Adapter {
	if cfg.BLE.Mode == config.BLEModeTinyGo {
		return ble.NewTinyGo()
	}
	simCfg := ble.DefaultSimConfig()
	simCfg.ServiceUUID = cfg.BLE.ServiceUUID
	simCfg.CharacteristicUUID = cfg.BLE.CharacteristicUUID
	return ble.NewSim(simCfg)
}

func openStore(cfg *config.Config, log *logger.Logger) (storage.SessionRepository, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreCassandra:
		client, err := cassandra.NewClient(cfg.Cassandra, log)
		if err != nil {
			return nil, nil, err
		}
		return cassandra.NewRepository(client, log, cfg.Cassandra.Timeout), client.Close, nil
	case config.StoreRedis:
		store, err := redis.NewStore(cfg.Redis, log)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.StoreRemote:
		return remote.NewClient(cfg.Store.RemoteURL), func() {}, nil
	default:
		return storage.NewMemoryStorage(), func() {}, nil
	}
}

// startMirror republishes samples and stats on NATS when a URL is configured.
// A broker that is down at startup only disables the mirror.
func startMirror(cfg *config.Config, tr *tracker.Tracker, log *logger.Logger) *nats.Conn {
	if cfg.NATS.URL == "" {
		return nil
	}

	nc, err := stream.Connect(cfg.NATS.URL)
	if err != nil {
		log.Warn("NATS unavailable, live mirror disabled", logger.Err(err), logger.F("url", cfg.NATS.URL))
		return nil
	}

	mirror := stream.NewMirror(nc, cfg.NATS.SubjectPrefix, log)
	tr.Manager().SubscribeSamples(mirror.PublishSample)
	tr.Aggregator().SubscribeStats(mirror.PublishStats)

	log.Info("NATS mirror enabled",
		logger.F("samples", mirror.SamplesSubject()),
		logger.F("stats", mirror.StatsSubject()))
	return nc
}
