// Package node wires the engine together from config: storage, metrics, fee
// sources, sponsors, and the entry point, plus the background jobs that keep
// them healthy.
package node

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sutrapulse/aa-engine/core/backup"
	"github.com/sutrapulse/aa-engine/core/config"
	"github.com/sutrapulse/aa-engine/core/engine"
	"github.com/sutrapulse/aa-engine/metrics"
	"github.com/sutrapulse/aa-engine/pkg/feerate"
	"github.com/sutrapulse/aa-engine/pkg/logger"
	"github.com/sutrapulse/aa-engine/storage"
	"github.com/sutrapulse/aa-engine/version"
)

type Status string

const (
	initStatus     Status = "init"
	runningStatus  Status = "running"
	shutdownStatus Status = "shutdown"
)

// RunWithConfig loads the config at configPath, builds a node, and runs it
// until SIGINT or SIGTERM.
func RunWithConfig(configPath string) error {
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", configPath, err)
	}

	n, err := NewNode(cfg)
	if err != nil {
		return fmt.Errorf("initialize node: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return n.Start(ctx)
}

// Node owns the full engine stack for one chain.
type Node struct {
	mu     sync.Mutex
	status Status

	config  *config.Config
	logger  logger.Logger
	db      storage.Storage
	metrics *metrics.PromMetrics

	registry   *prometheus.Registry
	events     *engine.EventStream
	state      *engine.WorldState
	factory    *engine.Factory
	entryPoint *engine.EntryPoint

	fees       feerate.Source
	feeCache   *feerate.Cached
	ethClient  *ethclient.Client
	scheduler  gocron.Scheduler
	httpServer *http.Server
	backups    *backup.Service
}

func NewNode(cfg *config.Config) (*Node, error) {
	log := logger.EnsureLogger(cfg.Logger)

	db, err := storage.NewWithPath(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open storage at %s: %w", cfg.StoragePath, err)
	}
	if err := db.Setup(); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewPromMetrics(registry)

	n := &Node{
		status:   initStatus,
		config:   cfg,
		logger:   log,
		db:       db,
		metrics:  m,
		registry: registry,
	}

	n.events = engine.NewEventStream(db, log)
	n.state = engine.NewWorldState()
	n.factory = engine.NewFactory(engine.FactoryConfig{
		Address:          cfg.Factory,
		EntryPoint:       cfg.EntryPoint,
		State:            n.state,
		Events:           n.events,
		DB:               db,
		Logger:           log,
		OnAccountCreated: m.IncAccountsCreated,
	})

	if err := n.setupFees(); err != nil {
		return nil, err
	}

	n.entryPoint = engine.NewEntryPoint(engine.EntryPointConfig{
		Address: cfg.EntryPoint,
		ChainID: cfg.ChainID,
		State:   n.state,
		Factory: n.factory,
		Fees:    n.fees,
		Events:  n.events,
		Logger:  log,
		Metrics: m,
	})

	n.setupSponsors()
	return n, nil
}

// setupFees picks the fee source: live EIP-1559 quotes behind retry and a TTL
// cache when an RPC url is configured, a static quote otherwise.
func (n *Node) setupFees() error {
	var inner feerate.Source
	if n.config.RpcURL != "" {
		client, err := ethclient.Dial(n.config.RpcURL)
		if err != nil {
			return fmt.Errorf("dial rpc %s: %w", n.config.RpcURL, err)
		}
		n.ethClient = client
		inner = feerate.NewRetrying(feerate.NewClientSource(client), feerate.DefaultRetryConfig())
	} else {
		inner = feerate.NewStatic(n.config.BaseFee, n.config.PriorityFee)
	}

	cached, err := feerate.NewCached(inner, n.config.FeeQuoteTTL, n.metrics)
	if err != nil {
		return fmt.Errorf("build fee cache: %w", err)
	}
	n.feeCache = cached
	n.fees = cached
	return nil
}

func (n *Node) setupSponsors() {
	for _, spec := range n.config.EthSponsors {
		s := engine.NewEthSponsor(engine.EthSponsorConfig{
			Address:    spec.Address,
			Owner:      spec.Owner,
			EntryPoint: n.config.EntryPoint,
			MinDeposit: spec.MinDeposit,
			State:      n.state,
			Events:     n.events,
		})
		n.entryPoint.RegisterSponsor(s)
		n.logger.Infof("registered native sponsor address=%s owner=%s", spec.Address.Hex(), spec.Owner.Hex())
	}

	for _, spec := range n.config.TokenSponsors {
		s := engine.NewTokenSponsor(engine.TokenSponsorConfig{
			Address:    spec.Address,
			Owner:      spec.Owner,
			EntryPoint: n.config.EntryPoint,
			Events:     n.events,
		})
		for _, tok := range spec.Tokens {
			if err := s.SetExchangeRate(spec.Owner, tok.Address, tok.Rate); err != nil {
				n.logger.Errorf("register token %s on sponsor %s: %v", tok.Address.Hex(), spec.Address.Hex(), err)
			}
		}
		n.entryPoint.RegisterSponsor(s)
		n.logger.Infof("registered token sponsor address=%s tokens=%d", spec.Address.Hex(), len(spec.Tokens))
	}
}

// EntryPoint exposes the batch processor for embedding callers.
func (n *Node) EntryPoint() *engine.EntryPoint { return n.entryPoint }

// Factory exposes the account factory.
func (n *Node) Factory() *engine.Factory { return n.factory }

// Events exposes the engine's event stream.
func (n *Node) Events() *engine.EventStream { return n.events }

// State exposes the world state, mainly for seeding balances in tooling.
func (n *Node) State() *engine.WorldState { return n.state }

// Start runs background jobs and blocks until ctx is cancelled, then shuts
// everything down.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	n.status = runningStatus
	n.mu.Unlock()
	n.logger.Infof("starting aa-engine node version=%s commit=%s chain=%s",
		version.Get(), version.Commit(), n.config.ChainID.String())

	if err := n.startScheduler(); err != nil {
		return err
	}
	if n.config.MetricsAddr != "" {
		n.startMetricsServer()
	}
	if n.config.BackupDir != "" {
		n.backups = backup.NewService(n.logger, n.db, n.config.BackupDir)
		if err := n.backups.StartPeriodicBackup(n.config.BackupInterval); err != nil {
			return err
		}
	}

	<-ctx.Done()
	n.logger.Info("shutdown signal received")
	return n.Stop()
}

func (n *Node) startScheduler() error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	n.scheduler = scheduler

	_, err = scheduler.NewJob(
		gocron.DurationJob(n.config.VacuumInterval),
		gocron.NewTask(func() {
			if err := n.db.Vacuum(); err != nil {
				n.logger.Errorf("storage vacuum: %v", err)
				return
			}
			n.logger.Debugf("storage vacuum completed path=%s", n.db.DbPath())
		}),
	)
	if err != nil {
		return fmt.Errorf("schedule vacuum job: %w", err)
	}

	scheduler.Start()
	return nil
}

func (n *Node) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{}))
	n.httpServer = &http.Server{Addr: n.config.MetricsAddr, Handler: mux}

	go func() {
		n.logger.Infof("metrics server listening on %s", n.config.MetricsAddr)
		if err := n.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.logger.Errorf("metrics server: %v", err)
		}
	}()
}

// Stop tears the node down in reverse dependency order.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.status == shutdownStatus {
		n.mu.Unlock()
		return nil
	}
	n.status = shutdownStatus
	n.mu.Unlock()

	if n.backups != nil {
		n.backups.StopPeriodicBackup()
	}
	if n.scheduler != nil {
		if err := n.scheduler.Shutdown(); err != nil {
			n.logger.Errorf("stop scheduler: %v", err)
		}
	}
	if n.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.httpServer.Shutdown(ctx); err != nil {
			n.logger.Errorf("stop metrics server: %v", err)
		}
	}
	if n.feeCache != nil {
		if err := n.feeCache.Close(); err != nil {
			n.logger.Errorf("close fee cache: %v", err)
		}
	}
	if n.ethClient != nil {
		n.ethClient.Close()
	}
	n.events.Close()
	if err := n.db.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	n.logger.Info("node stopped")
	return nil
}
