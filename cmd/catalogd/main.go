// Command catalogd is the process entrypoint: it loads configuration,
// boots the Registry, opens the Graph Writer, and serves health and
// metrics endpoints while the write core is available to other
// in-process or RPC-fronted callers. Grounded on the teacher's
// cmd/server/main.go: an urfave/cli/v2 App with a small command set, a
// signal-driven graceful shutdown, and an http.Server for ancillary
// endpoints — generalized from a GraphQL API server to a catalog daemon
// with no outer query API of its own (SPEC_FULL.md's Non-goals exclude a
// query/search API layer).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	catalog "github.com/syssam/metacatalog"
	"github.com/syssam/metacatalog/internal/config"
	"github.com/syssam/metacatalog/internal/logging"
	"github.com/syssam/metacatalog/internal/metrics"
	"github.com/syssam/metacatalog/internal/registry"
	"github.com/syssam/metacatalog/internal/session"
	"github.com/syssam/metacatalog/internal/store"
	"github.com/syssam/metacatalog/internal/synth"
)

func main() {
	app := &cli.App{
		Name:  "catalogd",
		Usage: "Registry-driven metadata catalog daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to catalogd.toml", EnvVars: []string{"CATALOGD_CONFIG"}},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the catalog daemon",
				Action: runServe,
			},
			{
				Name:   "bootstrap",
				Usage:  "Create the store's tables if they don't already exist",
				Action: runBootstrap,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadAll(c *cli.Context) (*config.Config, *zap.Logger, *registry.Registry, *store.Conn, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Log.Level)

	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		logger.Error("registry failed to load", zap.Error(err))
		return nil, nil, nil, nil, fmt.Errorf("load registry: %w", err)
	}

	conn, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, logger, reg, conn, nil
}

func runBootstrap(c *cli.Context) error {
	_, logger, _, conn, err := loadAll(c)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Bootstrap(c.Context); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	logger.Info("store bootstrapped", zap.String("driver", conn.Dialect()))
	return nil
}

func runServe(c *cli.Context) error {
	cfg, logger, reg, conn, err := loadAll(c)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer logger.Sync()

	if err := conn.Bootstrap(c.Context); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	writer := store.NewWriter(conn, store.WithLogger(logger), store.WithRecorder(metrics.Recorder{}))
	coordOpts := []session.Option{session.WithLogger(logger)}
	if cfg.Session.MaxAttempts > 0 {
		coordOpts = append(coordOpts, session.WithRetryPolicy(cfg.Session.MaxAttempts, session.DefaultBaseDelay, session.DefaultMaxDelay))
	}
	coord := session.New(int64(cfg.Session.MaxConcurrent), coordOpts...)

	synthesizer, err := synth.New(reg, writer, coord)
	if err != nil {
		return fmt.Errorf("compile registry into write core: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ops/", opsHandler(synthesizer, logger))
	healthSrv := &http.Server{Addr: cfg.Server.HealthAddr, Handler: mux, ReadTimeout: 5 * time.Second}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux, ReadTimeout: 5 * time.Second}

	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", zap.Error(err))
		}
	}()
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("catalogd ready",
		zap.String("name", cfg.Server.Name),
		zap.String("health_addr", cfg.Server.HealthAddr),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
		zap.Strings("entity_types", reg.EntityTypes()))

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	logger.Info("catalogd stopped")
	return nil
}

// opResponse is the JSON rendering of a synth.OpResult (SPEC_FULL.md §6):
// urn, version?, timestamp?, created_entity?, created_relationships.
type opResponse struct {
	URN                  string              `json:"urn"`
	Version              *int64              `json:"version,omitempty"`
	TimestampMs          *int64              `json:"timestamp_ms,omitempty"`
	CreatedEntity        bool                `json:"created_entity,omitempty"`
	CreatedRelationships []relationshipEntry `json:"created_relationships,omitempty"`
}

type relationshipEntry struct {
	RelType string `json:"rel_type"`
	SrcURN  string `json:"src_urn"`
	DstURN  string `json:"dst_urn"`
}

// opsHandler serves POST /ops/{name}, the thinnest possible transport over
// the Operation Synthesizer's descriptor table: it looks the named op up
// with Synthesizer.Operation (a map lookup, no reflection over methods),
// decodes the JSON request body as the op's params bag, and renders the
// resulting OpResult. This is the first real caller the descriptor table
// was built for; an RPC front end wired in later would call Operation the
// same way.
func opsHandler(s *synth.Synthesizer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		name := strings.TrimPrefix(r.URL.Path, "/ops/")
		op, ok := s.Operation(name)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown operation %q", name), http.StatusNotFound)
			return
		}

		var params map[string]any
		if r.Body != nil {
			if err := json.NewDecoder(r.Body).Decode(&params); err != nil && err.Error() != "EOF" {
				http.Error(w, fmt.Sprintf("decode request body: %v", err), http.StatusBadRequest)
				return
			}
		}

		result, err := op.Run(r.Context(), params)
		if err != nil {
			logger.Warn("operation failed", zap.String("op", name), zap.Error(err))
			writeOpError(w, err)
			return
		}

		resp := opResponse{
			URN:           string(result.URN),
			Version:       result.Version,
			TimestampMs:   result.TimestampMs,
			CreatedEntity: result.CreatedEntity,
		}
		for _, rel := range result.CreatedRelationships {
			resp.CreatedRelationships = append(resp.CreatedRelationships, relationshipEntry{
				RelType: rel.RelType, SrcURN: string(rel.SrcURN), DstURN: string(rel.DstURN),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// writeOpError maps the catalog package's typed errors to HTTP status
// codes so a transport caller can distinguish a bad request from a store
// outage without parsing error text.
func writeOpError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case catalog.IsValidationError(err):
		status = http.StatusBadRequest
	case errors.Is(err, catalog.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, catalog.ErrDependencyViolation), errors.Is(err, catalog.ErrStoreConflict):
		status = http.StatusConflict
	case errors.Is(err, catalog.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}
