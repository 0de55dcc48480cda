// Command acachectl polls a running acached's debug endpoints and prints
// cache occupancy, pretty or as JSON. Adapted from arena-cache-inspect,
// retargeted at the dispatcher's snapshot shape instead of per-shard arena
// statistics.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "acachectl:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		target       string
		asJSON       bool
		watch        bool
		interval     time.Duration
		printVersion bool
	)

	cmd := &cobra.Command{
		Use:          "acachectl",
		Short:        "Inspects a running acached's cache occupancy",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printVersion {
				fmt.Println(version)
				return nil
			}
			return runCLI(target, asJSON, watch, interval)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&target, "target", "http://127.0.0.1:9090", "base URL of the acached metrics server")
	flags.BoolVar(&asJSON, "json", false, "print the raw snapshot JSON instead of a formatted summary")
	flags.BoolVar(&watch, "watch", false, "poll repeatedly instead of a single fetch")
	flags.DurationVar(&interval, "interval", 2*time.Second, "poll interval in watch mode")
	flags.BoolVar(&printVersion, "version", false, "print version and exit")

	return cmd
}

func runCLI(target string, asJSON, watch bool, interval time.Duration) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !watch {
		return dumpOnce(ctx, target, asJSON)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := dumpOnce(ctx, target, asJSON); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			return nil
		}
	}
}

func dumpOnce(ctx context.Context, target string, asJSON bool) error {
	snap, err := fetchSnapshot(ctx, target)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return prettyPrint(snap)
}

func fetchSnapshot(ctx context.Context, base string) (map[string]any, error) {
	url := base + "/debug/acache/snapshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func prettyPrint(data map[string]any) error {
	fmt.Printf("Live entries:    %v\n", data["live_entries"])
	fmt.Printf("Capacity:        %v\n", data["capacity"])
	fmt.Printf("Evictions total: %v\n", data["evictions_total"])
	return nil
}
