// Command acache-allinone runs the cache dispatcher and the key responder
// side by side against the same AD address (each loop over its own
// connection), for deployments that do not
// want to manage two separate processes (spec.md §3/§4.5 describe them as
// independent loops; nothing requires them to run in separate binaries).
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cscouto/acache/internal/config"
	"github.com/cscouto/acache/internal/dispatcher"
	"github.com/cscouto/acache/internal/keyresponder"
	"github.com/cscouto/acache/internal/keyring"
	"github.com/cscouto/acache/internal/metrics"
	"github.com/cscouto/acache/internal/pipemsg"
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "acache-allinone:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		adAddr      string
		capacity    int
		keyringDir  string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:          "acache-allinone",
		Short:        "Runs the cache dispatcher and key responder together",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, adAddr, capacity, keyringDir, metricsAddr)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to config file (default: $ALLNET_CONFIG/acache/acache.conf)")
	flags.StringVar(&adAddr, "ad-addr", "", "address of the AD process (unix:/path or host:port); overrides config")
	flags.IntVar(&capacity, "capacity", 0, "cache capacity in packets (0: use config/default)")
	flags.StringVar(&keyringDir, "keyring-dir", "", "Badger directory for the key responder's identities (empty: in-memory)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "listen address for /metrics (empty disables)")

	return cmd
}

func run(configPath, adAddrFlag string, capacityFlag int, keyringDirFlag, metricsAddrFlag string) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("acache-allinone: build logger: %w", err)
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
	if keyringDirFlag != "" {
		cfg.KeyringDir = keyringDirFlag
	}
	if metricsAddrFlag != "" {
		cfg.MetricsAddress = metricsAddrFlag
	}
	if cfg.ADAddress == "" {
		return fmt.Errorf("acache-allinone: no AD address configured (pass --ad-addr or set ad_address)")
	}

	reg := prometheus.NewRegistry()
	sink := metrics.NewProm(reg)

	if cfg.MetricsAddress != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			log.Info("metrics listening", zap.String("addr", cfg.MetricsAddress))
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	disp := dispatcher.New(cfg.CacheCapacity, nil, log, sink)

	kr, err := openKeyring(cfg.KeyringDir)
	if err != nil {
		return err
	}
	if closer, ok := kr.(interface{ Close() error }); ok {
		defer closer.Close() //nolint:errcheck
	}
	responder := keyresponder.New(kr, nil, log, sink)

	network, target := "tcp", cfg.ADAddress
	if len(target) > len("unix:") && target[:len("unix:")] == "unix:" {
		network, target = "unix", target[len("unix:"):]
	}
	dispConn, err := net.Dial(network, target)
	if err != nil {
		return fmt.Errorf("acache-allinone: connect dispatcher to AD at %s: %w", cfg.ADAddress, err)
	}
	defer dispConn.Close()

	keyConn, err := net.Dial(network, target)
	if err != nil {
		return fmt.Errorf("acache-allinone: connect key responder to AD at %s: %w", cfg.ADAddress, err)
	}
	defer keyConn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return disp.Run(pipemsg.NewStream(dispConn))
	})
	g.Go(func() error {
		return responder.Run(pipemsg.NewStream(keyConn))
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down, closing AD connections")
		dispConn.Close()
		keyConn.Close()
		return nil
	})

	log.Info("acache-allinone starting", zap.String("ad_addr", cfg.ADAddress))
	return g.Wait()
}

func loadConfig(explicitPath string) (config.Config, error) {
	if explicitPath != "" {
		return config.Load(explicitPath)
	}
	root, err := config.Root()
	if err != nil {
		return config.Config{}, err
	}
	path, err := config.Path(root, "acache", "acache.conf")
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(path)
}

func openKeyring(dir string) (keyring.Keyring, error) {
	if dir == "" {
		return keyring.NewMemory(), nil
	}
	return keyring.OpenBadger(dir)
}
