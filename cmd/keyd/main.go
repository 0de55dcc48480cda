// Command keyd runs the independent key-request responder standalone,
// answering KEY_REQ packets from a keyring of local identities (spec.md
// §4.5).
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cscouto/acache/internal/config"
	"github.com/cscouto/acache/internal/keyresponder"
	"github.com/cscouto/acache/internal/keyring"
	"github.com/cscouto/acache/internal/pipemsg"
)

var version = "dev"

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "keyd:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath   string
		adAddr       string
		printVersion bool
	)

	cmd := &cobra.Command{
		Use:          "keyd",
		Short:        "Answers key requests on behalf of local identities",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printVersion {
				fmt.Println(version)
				return nil
			}
			return run(configPath, adAddr)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to keyd config file (default: $ALLNET_CONFIG/keyd/keyd.conf)")
	flags.StringVar(&adAddr, "ad-addr", "", "address of the AD process (unix:/path or host:port); overrides config")
	flags.BoolVar(&printVersion, "version", false, "print version and exit")

	return cmd
}

func run(configPath, adAddrFlag string) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("keyd: build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if adAddrFlag != "" {
		cfg.ADAddress = adAddrFlag
	}
	if cfg.ADAddress == "" {
		return fmt.Errorf("keyd: no AD address configured (pass --ad-addr or set ad_address)")
	}

	kr, err := openKeyring(cfg.KeyringDir)
	if err != nil {
		return err
	}
	if closer, ok := kr.(interface{ Close() error }); ok {
		defer closer.Close() //nolint:errcheck
	}

	r := keyresponder.New(kr, nil, log, nil)

	network, target := "tcp", cfg.ADAddress
	if len(target) > len("unix:") && target[:len("unix:")] == "unix:" {
		network, target = "unix", target[len("unix:"):]
	}
	conn, err := net.Dial(network, target)
	if err != nil {
		return fmt.Errorf("keyd: connect to AD at %s: %w", cfg.ADAddress, err)
	}
	defer conn.Close()

	ch := pipemsg.NewStream(conn)
	log.Info("key responder starting", zap.String("ad_addr", cfg.ADAddress))
	return r.Run(ch)
}

func loadConfig(explicitPath string) (config.Config, error) {
	if explicitPath != "" {
		return config.Load(explicitPath)
	}
	root, err := config.Root()
	if err != nil {
		return config.Config{}, err
	}
	path, err := config.Path(root, "keyd", "keyd.conf")
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
