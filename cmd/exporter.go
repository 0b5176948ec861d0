package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cloudfleet/internal/cloud"
	"cloudfleet/internal/config"
	"cloudfleet/internal/inventory"
	"cloudfleet/internal/logging"
	"cloudfleet/internal/metrics"
)

var (
	exporterListen   string
	exporterInterval time.Duration
)

// exporterCmd represents the exporter command
var exporterCmd = &cobra.Command{
	Use:   "exporter",
	Short: "Expose the instance inventory as Prometheus metrics",
	Long: `Periodically list all configured providers and expose instance counts,
vendor call counters and operation wait times on /metrics.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := validateInterval(exporterInterval); err != nil {
			logging.Logger().Fatal("Invalid --interval", zap.Error(err))
		}
		cfg := loadConfig()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics.Register(reg)

		var providers []cloud.Provider
		providers = append(providers, newAWSAdapter(ctx, cfg))
		if len(cfg.GCP.Projects) > 0 {
			providers = append(providers, newGCPAdapter(ctx, cfg))
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		srv := &http.Server{Addr: exporterListen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		go func() {
			logging.Logger().Info("Starting exporter", zap.String("listen", exporterListen), zap.Duration("interval", exporterInterval))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Logger().Fatal("Exporter failed", zap.Error(err))
			}
		}()

		runInventoryLoop(ctx, cfg, providers)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Logger().Error("failed to shut down exporter", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(exporterCmd)

	exporterCmd.Flags().StringVar(&exporterListen, "listen", ":9478", "Address to serve /metrics on")
	exporterCmd.Flags().DurationVar(&exporterInterval, "interval", time.Minute, "Time between two inventory runs")
}

func validateInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("interval must be positive, got %s", d)
	}
	return nil
}

func runInventoryLoop(ctx context.Context, cfg *config.Config, providers []cloud.Provider) {
	ticker := time.NewTicker(exporterInterval)
	defer ticker.Stop()
	for {
		runCtx, cancel := context.WithTimeout(ctx, exporterInterval)
		snap, err := inventory.Collect(runCtx, providers, cfg.Inventory.Concurrency)
		cancel()
		inventory.Publish(snap)
		logging.Logger().Info("inventory refreshed",
			zap.Int("instances", len(snap.Instances)),
			zap.Int("failed_scopes", len(snap.Failures)))
		if err != nil {
			logging.Logger().Debug("inventory errors", zap.Error(err))
		}
		saveSnapshot(ctx, cfg.Inventory.StateFile, cfg.Inventory.EtcdEndpoints, snap)

		select {
		case <-ctx.Done():
			logging.Logger().Info("Stopping exporter")
			return
		case <-ticker.C:
		}
	}
}

func saveSnapshot(ctx context.Context, stateFile string, etcdEndpoints []string, snap *inventory.Snapshot) {
	store, err := inventory.OpenStore(stateFile, etcdEndpoints)
	if err != nil {
		logging.Logger().Error("failed to open snapshot store", zap.Error(err))
		return
	}
	defer store.Close()
	if err := store.Save(ctx, snap); err != nil {
		logging.Logger().Error("failed to save snapshot", zap.Stringer("snapshot", snap), zap.Error(err))
		return
	}
	logging.Logger().Debug("snapshot saved", zap.Stringer("snapshot", snap))
}
