// Command controlplane runs the agent immune control plane: it ingests
// vitals, runs the detect → diagnose → quarantine → heal → validate tick
// loop, and serves the approval/control HTTP and WebSocket surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"os/signal"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/agentimmune/control-plane/pkg/api"
	"github.com/agentimmune/control-plane/pkg/baseline"
	"github.com/agentimmune/control-plane/pkg/cache"
	"github.com/agentimmune/control-plane/pkg/config"
	"github.com/agentimmune/control-plane/pkg/correlator"
	"github.com/agentimmune/control-plane/pkg/diagnosis"
	"github.com/agentimmune/control-plane/pkg/enforcement"
	"github.com/agentimmune/control-plane/pkg/events"
	"github.com/agentimmune/control-plane/pkg/executor"
	"github.com/agentimmune/control-plane/pkg/healer"
	"github.com/agentimmune/control-plane/pkg/lifecycle"
	"github.com/agentimmune/control-plane/pkg/memory"
	"github.com/agentimmune/control-plane/pkg/orchestrator"
	"github.com/agentimmune/control-plane/pkg/sentinel"
	"github.com/agentimmune/control-plane/pkg/store/memstore"
	"github.com/agentimmune/control-plane/pkg/store/postgres"
	"github.com/agentimmune/control-plane/pkg/telemetry"
	"github.com/agentimmune/control-plane/pkg/version"
	"github.com/agentimmune/control-plane/pkg/vitals"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpAddr := ":" + getEnv("HTTP_PORT", "8080")
	runID := uuid.NewString()

	log.Printf("Starting agent immune control plane (%s)", version.Full())
	log.Printf("HTTP address: %s", httpAddr)
	log.Printf("Run id: %s", runID)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tunables, err := config.LoadTunablesFromEnv()
	if err != nil {
		log.Fatalf("Failed to load tunables: %v", err)
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:      getEnv("OTEL_ENABLED", "false") == "true",
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:     getEnv("OTEL_INSECURE", "true") == "true",
		ServiceName:  "agent-immune-control-plane",
	})
	if err != nil {
		log.Fatalf("Failed to set up telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Printf("Error shutting down telemetry: %v", err)
		}
	}()
	metrics := telemetry.NewMetrics()

	c := cache.New(tunables.CacheDir)
	c.SetRunID(runID)
	cacheStop := make(chan struct{})
	go c.StartFlushLoop(tunables.CacheFlushInterval, cacheStop)
	defer func() {
		close(cacheStop)
		c.Shutdown()
	}()

	st, pgStore, dbPing, closeStore := buildStore(ctx, runID)
	defer closeStore()

	buf := vitals.NewBuffer()
	learner := baseline.NewLearner(baseline.Config{
		MinSamples:     tunables.BaselineMinSamples,
		Span:           tunables.BaselineSpan,
		WindowCapacity: 200,
		FlushEveryN:    100,
		FastSpan:       tunables.BaselineFastSpan,
	}, nil)
	sent := sentinel.New(sentinel.Config{
		Threshold:         tunables.SentinelThreshold,
		StdDevFloorFactor: tunables.SentinelFloorFactor,
		SampleWindow:      5,
	})
	corr := correlator.New(correlator.Config{
		FleetWideThreshold:    tunables.FleetWideThreshold,
		PartialFleetThreshold: tunables.PartialThreshold,
		RecentWindow:          5 * time.Second,
	}, buf, learner, sent)
	diag := diagnosis.New()
	mem := memory.New()
	lc := lifecycle.New(lifecycle.Config{
		SuspectTicks:    tunables.SuspectTicks,
		DrainTimeout:    tunables.DrainTimeout,
		ProbationTicks:  tunables.ProbationTicks,
		SevereThreshold: tunables.SevereDeviation,
	}, nil)
	h := healer.New(buildExecutor())
	enf := buildEnforcement()

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.SevereDeviation = tunables.SevereDeviation
	orchCfg.ApprovalThreshold = tunables.ApprovalThreshold
	orchCfg.HealingStepDelay = tunables.HealingStepDelay
	orchCfg.BaselineAdaptTicks = tunables.BaselineAdaptTicks
	orchCfg.DrainTimeout = tunables.DrainTimeout

	orch := orchestrator.New(orchCfg, buf, learner, sent, corr, diag, mem, h, lc, enf, st)

	connManager, stopListener := buildEvents(ctx, pgStore, orch, metrics)
	defer stopListener()

	server := api.NewServer(orch, connManager)
	if dbPing != nil {
		server.SetDBPing(dbPing)
	}

	go runTickLoop(ctx, orch, metrics, tunables.TickInterval)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", httpAddr)
		errCh <- server.Start(httpAddr)
	}()

	select {
	case <-ctx.Done():
		log.Printf("Shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), tunables.ShutdownDrainTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}
}

// buildStore constructs the orchestrator's audit store from STORE_BACKEND
// (postgres or memory, default memory). For postgres it also returns the
// concrete *postgres.Store (for event catchup/LISTEN wiring) and a liveness
// ping func for /health; for memory both are nil.
func buildStore(ctx context.Context, runID string) (orchestrator.Store, *postgres.Store, func(context.Context) error, func()) {
	backend := getEnv("STORE_BACKEND", "memory")
	if backend != "postgres" {
		log.Printf("Store backend: memory (in-process, not shared across instances)")
		return memstore.New(), nil, nil, func() {}
	}

	cfg, err := postgres.LoadConfigFromEnv(runID)
	if err != nil {
		log.Fatalf("Failed to load postgres store config: %v", err)
	}
	pgStore, err := postgres.NewClient(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to postgres store: %v", err)
	}
	log.Printf("Store backend: postgres (%s:%d/%s)", cfg.Host, cfg.Port, cfg.Database)

	return pgStore, pgStore, func(pingCtx context.Context) error {
		return pgStore.DB().PingContext(pingCtx)
	}, func() {
		if err := pgStore.Close(); err != nil {
			log.Printf("Error closing postgres store: %v", err)
		}
	}
}

// buildEvents wires dashboard event delivery. Catchup and cross-instance
// fanout (via LISTEN/NOTIFY) require postgres; a memory-backed deployment
// gets a ConnectionManager with no catchup, serving only connections made
// to this one process.
func buildEvents(ctx context.Context, pgStore *postgres.Store, orch *orchestrator.Orchestrator, metrics *telemetry.Metrics) (*events.ConnectionManager, func()) {
	writeTimeout := 10 * time.Second

	if pgStore == nil {
		manager := events.NewConnectionManager(nil, writeTimeout)
		orch.WithEventCallback(func(ev orchestrator.Event) { metrics.Observe(ev) })
		return manager, func() {}
	}

	publisher := events.NewEventPublisher(pgStore.DB())
	bridge := events.NewBridge(ctx, publisher)
	catchup := events.NewStoreCatchupAdapter(pgStore)
	manager := events.NewConnectionManager(catchup, writeTimeout)

	connString := buildListenDSN()
	listener := events.NewNotifyListener(connString, manager)
	if err := listener.Start(ctx); err != nil {
		log.Printf("Warning: failed to start NOTIFY listener, live cross-instance fanout disabled: %v", err)
	} else {
		manager.SetListener(listener)
	}

	orch.WithEventCallback(func(ev orchestrator.Event) {
		bridge.Forward(ev)
		metrics.Observe(ev)
	})

	return manager, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		listener.Stop(stopCtx)
	}
}

func buildListenDSN() string {
	port, _ := strconv.Atoi(getEnv("STORE_DB_PORT", "5432"))
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		getEnv("STORE_DB_HOST", "localhost"), port,
		getEnv("STORE_DB_USER", "immune"), os.Getenv("STORE_DB_PASSWORD"),
		getEnv("STORE_DB_NAME", "immune"), getEnv("STORE_DB_SSLMODE", "disable"),
	)
}

// buildExecutor picks the healing-action executor via HEALER_EXECUTOR
// (simulated, gateway, process, container; default simulated — no live
// collaborator wired by default, per pkg/collaborators' documented seams).
func buildExecutor() healer.Executor {
	switch getEnv("HEALER_EXECUTOR", "simulated") {
	case "gateway":
		return executor.NewGateway(nil)
	case "process":
		return executor.NewProcess()
	case "container":
		return executor.NewContainer(executor.NewSimulated())
	default:
		return executor.NewSimulated()
	}
}

// buildEnforcement picks the BLOCK/UNBLOCK/DRAIN backend via
// ENFORCEMENT_BACKEND (none, gateway, process, container; default none).
func buildEnforcement() enforcement.Strategy {
	switch getEnv("ENFORCEMENT_BACKEND", "none") {
	case "gateway":
		return enforcement.NewGateway(nil)
	case "process":
		return enforcement.NewProcess()
	case "container":
		return enforcement.NewContainer()
	default:
		return enforcement.NewNoOp()
	}
}

// runTickLoop drives the orchestrator's cooperative tick loop at
// tickInterval until ctx is cancelled, recording a span and a duration
// histogram per tick (§4.10, ambient observability).
func runTickLoop(ctx context.Context, orch *orchestrator.Orchestrator, metrics *telemetry.Metrics, tickInterval time.Duration) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickCtx, end := telemetry.StartTickSpan(ctx, "fleet")
			start := time.Now()
			orch.Tick(tickCtx)
			metrics.RecordTickDuration(time.Since(start))
			end(nil)
		}
	}
}
