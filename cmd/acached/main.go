// Command acached runs the packet cache dispatcher standalone, connecting to
// an AD process over the configured transport (spec.md §3, §6.2).
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cscouto/acache/internal/config"
	"github.com/cscouto/acache/internal/dispatcher"
	"github.com/cscouto/acache/internal/metrics"
	"github.com/cscouto/acache/internal/pipemsg"
)

var version = "dev"

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "acached:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath   string
		adAddr       string
		capacity     int
		metricsAddr  string
		printVersion bool
	)

	cmd := &cobra.Command{
		Use:          "acached",
		Short:        "Dispatches and caches mesh packets for an AD process",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printVersion {
				fmt.Println(version)
				return nil
			}
			return run(configPath, adAddr, capacity, metricsAddr)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to acached config file (default: $ALLNET_CONFIG/acached/acached.conf)")
	flags.StringVar(&adAddr, "ad-addr", "", "address of the AD process (unix:/path or host:port); overrides config")
	flags.IntVar(&capacity, "capacity", 0, "cache capacity in packets (0: use config/default)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "listen address for /metrics and /debug/acache/snapshot (empty disables)")
	flags.BoolVar(&printVersion, "version", false, "print version and exit")

	return cmd
}

func run(configPath, adAddrFlag string, capacityFlag int, metricsAddrFlag string) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("acached: build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if adAddrFlag != "" {
		cfg.ADAddress = adAddrFlag
	}
	if capacityFlag > 0 {
		cfg.CacheCapacity = capacityFlag
	}
	if metricsAddrFlag != "" {
		cfg.MetricsAddress = metricsAddrFlag
	}
	if cfg.ADAddress == "" {
		return fmt.Errorf("acached: no AD address configured (pass --ad-addr or set ad_address)")
	}

	reg := prometheus.NewRegistry()
	sink := metrics.NewProm(reg)

	disp := dispatcher.New(cfg.CacheCapacity, nil, log, sink)

	if cfg.MetricsAddress != "" {
		go serveMetrics(cfg.MetricsAddress, reg, disp, log)
	}

	conn, err := dialAD(cfg.ADAddress)
	if err != nil {
		return fmt.Errorf("acached: connect to AD at %s: %w", cfg.ADAddress, err)
	}
	defer conn.Close()

	ch := pipemsg.NewStream(conn)
	log.Info("dispatcher starting", zap.String("ad_addr", cfg.ADAddress), zap.Int("capacity", cfg.CacheCapacity))
	return disp.Run(ch)
}

func loadConfig(explicitPath string) (config.Config, error) {
	if explicitPath != "" {
		return config.Load(explicitPath)
	}
	root, err := config.Root()
	if err != nil {
		return config.Config{}, err
	}
	path, err := config.Path(root, "acached", "acached.conf")
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(path)
}

// dialAD connects to the AD process. An address beginning with "unix:" is
// dialed as a Unix domain socket; anything else is dialed over TCP.
func dialAD(addr string) (net.Conn, error) {
	if network, path, ok := splitUnix(addr); ok {
		return net.Dial(network, path)
	}
	return net.Dial("tcp", addr)
}

func splitUnix(addr string) (network, path string, ok bool) {
	const prefix = "unix:"
	if len(addr) > len(prefix) && addr[:len(prefix)] == prefix {
		return "unix", addr[len(prefix):], true
	}
	return "", "", false
}

func serveMetrics(addr string, reg *prometheus.Registry, disp *dispatcher.Dispatcher, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/acache/snapshot", func(w http.ResponseWriter, r *http.Request) {
		live, evictions := disp.Cache().Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{
			"live_entries":    live,
			"capacity":        disp.Cache().Cap(),
			"evictions_total": evictions,
		})
	})
	log.Info("metrics listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", zap.Error(err))
	}
}
