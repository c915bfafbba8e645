// Command gateway is the acquisition gateway's entry point: it loads the
// declarative source/sink configuration, constructs the acquisition engine
// and its collaborators, starts the control-plane HTTP server, and runs
// until a termination signal arrives.
//
// Usage:
//
//	go run ./cmd/gateway -config gateway.yaml
//	go build -o gateway ./cmd/gateway && ./gateway -config /etc/acqgateway/gateway.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jeeves-cluster-organization/acqgateway/internal/buffer"
	"github.com/jeeves-cluster-organization/acqgateway/internal/bus"
	"github.com/jeeves-cluster-organization/acqgateway/internal/configwatch"
	"github.com/jeeves-cluster-organization/acqgateway/internal/controlplane"
	"github.com/jeeves-cluster-organization/acqgateway/internal/driver"
	"github.com/jeeves-cluster-organization/acqgateway/internal/engine"
	"github.com/jeeves-cluster-organization/acqgateway/internal/mapping"
	"github.com/jeeves-cluster-organization/acqgateway/internal/obslog"
	"github.com/jeeves-cluster-organization/acqgateway/internal/transport"

	// Blank-imported so each driver subpackage's init() registers itself
	// into driver.Default, the same compile-time "plugin by tag" wiring
	// database/sql uses for its own drivers (spec §9 Design Note).
	_ "github.com/jeeves-cluster-organization/acqgateway/internal/driver/httpdrv"
	_ "github.com/jeeves-cluster-organization/acqgateway/internal/driver/modbus"
	_ "github.com/jeeves-cluster-organization/acqgateway/internal/driver/mqttdrv"
	_ "github.com/jeeves-cluster-organization/acqgateway/internal/driver/opcua"
	_ "github.com/jeeves-cluster-organization/acqgateway/internal/driver/stub"
)

// config is this binary's resolved startup configuration: flags provide the
// file paths, environment variables provide the deployment-tunable knobs
// spec §6 names ("log level, API listen port, max buffer size, retention
// days, optional control-plane API key").
type config struct {
	sourcesPath string
	mappingPath string
	logLevel    obslog.Level
	listenPort  string
	maxBufSize  int
	retainDays  int
	controlKey  string
}

func resolveConfig() config {
	sourcesPath := flag.String("config", "gateway.yaml", "path to the source/sink configuration document")
	mappingPath := flag.String("mapping", "", "path to the mapping rule catalog (empty keeps the catalog in memory only)")
	flag.Parse()

	cfg := config{
		sourcesPath: *sourcesPath,
		mappingPath: *mappingPath,
		logLevel:    obslog.ParseLevel(os.Getenv("ACQGATEWAY_LOG_LEVEL")),
		listenPort:  envOrDefault("ACQGATEWAY_PORT", "8080"),
		maxBufSize:  envIntOrDefault("ACQGATEWAY_MAX_BUFFER_SIZE", buffer.DefaultMaxSize),
		retainDays:  envIntOrDefault("ACQGATEWAY_RETENTION_DAYS", 7),
		controlKey:  os.Getenv("ACQGATEWAY_API_KEY"),
	}
	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func main() {
	cfg := resolveConfig()
	log := obslog.NewWithLevel(cfg.logLevel)

	log.Info("gateway_starting", "config", cfg.sourcesPath, "port", cfg.listenPort)

	watcher := configwatch.New(cfg.sourcesPath, log.Bind("component", "configwatch"))
	if err := watcher.Load(); err != nil {
		log.Error("gateway_config_load_failed", "error", err.Error())
		os.Exit(1)
	}
	doc := watcher.Current()

	mappingEngine := mapping.NewEngine(cfg.mappingPath, log.Bind("component", "mapping"))
	if err := mappingEngine.Load(); err != nil {
		log.Warn("gateway_mapping_load_failed", "error", err.Error())
	}

	eventBus := bus.NewInMemoryBusWithLogger(5*time.Second, bus.NoopLogger())

	bufferStore := buffer.New(
		buffer.WithMaxSize(cfg.maxBufSize),
		buffer.WithRetention(time.Duration(cfg.retainDays)*24*time.Hour),
		buffer.WithLogger(log.Bind("component", "buffer")),
	)
	bufferStore.StartEvictionSweep()
	defer bufferStore.StopEvictionSweep()

	fanout := transport.BuildFanout(doc.Sinks, bufferStore, eventBus, log.Bind("component", "transport"))

	eng := engine.New(driver.Default, eventBus, mappingEngine, bufferStore, fanout, log.Bind("component", "engine"))

	ctx := context.Background()
	if err := eng.LoadSources(ctx, doc.Sources); err != nil {
		log.Error("gateway_load_sources_failed", "error", err.Error())
		os.Exit(1)
	}
	if err := eng.Start(ctx); err != nil {
		log.Error("gateway_engine_start_failed", "error", err.Error())
		os.Exit(1)
	}
	log.Info("gateway_engine_started", "source_count", len(eng.SourceIDs()))

	cp := controlplane.New(eng, watcher, cfg.controlKey, log.Bind("component", "controlplane"))
	server := &http.Server{
		Addr:              ":" + cfg.listenPort,
		Handler:           cp.Router(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info("gateway_listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("gateway_server_error", "error", err.Error())
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("gateway_shutdown_signal_received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("gateway_http_shutdown_error", "error", err.Error())
	}

	if err := eng.Stop(shutdownCtx); err != nil {
		log.Warn("gateway_engine_stop_error", "error", err.Error())
	}

	fmt.Println("gateway stopped")
}
