// Command acdctld is the agent-facing call-center control plane server:
// session/dispatch layer, agent channel FSM, and replicated queue manager,
// wired together and served over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/yoonka/acdctl/internal/authstore"
	"github.com/yoonka/acdctl/internal/cdr"
	"github.com/yoonka/acdctl/internal/config"
	"github.com/yoonka/acdctl/internal/configstore"
	"github.com/yoonka/acdctl/internal/dispatcher"
	"github.com/yoonka/acdctl/internal/domain"
	"github.com/yoonka/acdctl/internal/endpoint"
	"github.com/yoonka/acdctl/internal/events"
	acdmw "github.com/yoonka/acdctl/internal/middleware"
	"github.com/yoonka/acdctl/internal/queue"
	"github.com/yoonka/acdctl/internal/rsakeys"
	"github.com/yoonka/acdctl/internal/sessiontable"
	"github.com/yoonka/acdctl/internal/staticfiles"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting acdctld", "port", cfg.Port, "node_id", cfg.Cluster.NodeID)

	store, err := configstore.NewSQLite(cfg.DBPath, cfg.Retry.DatabaseMaxRetries, cfg.Retry.DatabaseRetryBaseDelay)
	if err != nil {
		slog.Error("failed to initialize config store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("failed to close config store", "error", closeErr)
		}
	}()
	slog.Info("config store connected", "path", cfg.DBPath)

	rsaKeys, err := rsakeys.Load(cfg.RSA.KeyPath)
	if err != nil {
		slog.Error("failed to load RSA key", "path", cfg.RSA.KeyPath, "error", err)
		os.Exit(1)
	}
	slog.Info("RSA key loaded", "path", cfg.RSA.KeyPath)

	// authstore is an external collaborator per spec.md §1; the in-memory
	// reference implementation is seeded from the bootstrap agent env vars
	// until a durable auth store is wired in.
	auth := authstore.NewInMemory()
	if login := os.Getenv("ACD_BOOTSTRAP_AGENT_LOGIN"); login != "" {
		password := os.Getenv("ACD_BOOTSTRAP_AGENT_PASSWORD")
		if err := auth.AddAgent(domain.Agent{Login: login, Profile: "voice"}, password); err != nil {
			slog.Error("failed to seed bootstrap agent", "error", err)
			os.Exit(1)
		}
		slog.Info("bootstrap agent seeded", "login", login)
	}

	sessions := sessiontable.New()
	sink := cdr.NewInMemory()
	evMgr := events.New()
	epMgr := endpoint.NewManager(nil, 3, 250*time.Millisecond, logger)

	elector, membership, err := buildCluster(cfg, logger)
	if err != nil {
		slog.Error("failed to initialize cluster coordination", "error", err)
		os.Exit(1)
	}

	queueMgr := queue.New(cfg.Cluster.NodeID, elector, membership, store, nil, logger)
	defer queueMgr.Close()

	staticfiles.WarnMissingRoots(logger, cfg.Static.AgentRoot, cfg.Static.ContribRoot, cfg.Static.DynamicRoot)
	static := staticfiles.New(cfg.Static.AgentRoot, cfg.Static.ContribRoot, cfg.Static.DynamicRoot, nil, logger)

	d := dispatcher.New(cfg, sessions, rsaKeys, auth, store, queueMgr, sink, evMgr, epMgr, static, logger)

	r := d.Router()
	r.Use(acdmw.CORS([]string{"*"}))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // long-poll responses can legitimately take up to PollTimeout
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped successfully")
}

// buildCluster wires real etcd/serf coordination when cluster endpoints are
// configured, falling back to single-node local/static implementations —
// the mode a standalone deployment or local development run uses.
func buildCluster(cfg *config.Config, logger *slog.Logger) (queue.Elector, queue.Membership, error) {
	if len(cfg.Cluster.EtcdEndpoints) == 0 || len(cfg.Cluster.SerfSeeds) == 0 {
		slog.Info("running single-node: local elector + static membership")
		return queue.NewLocalElector(), queue.NewStaticMembership(), nil
	}

	client, err := newEtcdClient(cfg.Cluster.EtcdEndpoints)
	if err != nil {
		return nil, nil, err
	}

	elector, err := queue.NewEtcdElector(client, cfg.Cluster.EtcdPrefix, cfg.Cluster.NodeID, logger)
	if err != nil {
		return nil, nil, err
	}

	membership, err := queue.NewSerfMembership(cfg.Cluster.NodeID, cfg.Cluster.SerfBindAddr, cfg.Cluster.SerfSeeds, logger)
	if err != nil {
		return nil, nil, err
	}

	return elector, membership, nil
}

// newEtcdClient dials the configured etcd endpoints for leader election.
func newEtcdClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}
