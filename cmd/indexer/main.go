package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/chainmapper/indexer-core/buildinfo"
	"github.com/chainmapper/indexer-core/internal/config"
	"github.com/chainmapper/indexer-core/internal/orchestrator"
	"github.com/chainmapper/indexer-core/pkg/chainfeed"
	"github.com/chainmapper/indexer-core/pkg/logging"
	"github.com/chainmapper/indexer-core/pkg/mappingworker"
	"github.com/chainmapper/indexer-core/pkg/metrics"
	"github.com/chainmapper/indexer-core/pkg/runtimehost"
	"github.com/chainmapper/indexer-core/pkg/sharedmemory"
	"github.com/chainmapper/indexer-core/pkg/trigger"
)

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "indexer runs a data-source manifest against an Ethereum-compatible chain",
	Args:  cobra.ExactArgs(0),
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "dial the configured chain and start indexing every data source in the manifest",
	Args:  cobra.ExactArgs(0),
	RunE: func(*cobra.Command, []string) error {
		return run()
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "load and validate the manifest without dialing a chain",
	Args:  cobra.ExactArgs(0),
	RunE: func(*cobra.Command, []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		manifest, err := config.LoadManifest(cfg.ManifestPath)
		if err != nil {
			return err
		}
		fmt.Printf("manifest %q declares %d data source(s)\n", cfg.ManifestPath, len(manifest.DataSources))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("indexer failed")
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logging.SetupLogger(buildinfo.GitCommit, cfg.Debug, cfg.HumanLogs)
	if err := metrics.SetupInstrumentation(cfg.MetricsAddr, "indexer-core"); err != nil {
		return fmt.Errorf("setting up instrumentation: %w", err)
	}
	log.Info().Interface("build", buildinfo.GetSummary()).Msg("starting indexer")

	manifest, err := config.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}

	abis, err := loadABIs(manifest.ABIPaths)
	if err != nil {
		return fmt.Errorf("loading ABIs: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	client, err := ethclient.DialContext(ctx, cfg.RPCEndpoint)
	if err != nil {
		return fmt.Errorf("dialing %q: %w", cfg.RPCEndpoint, err)
	}
	defer client.Close()
	adapter := chainfeed.NewEthClientAdapter(client)

	hosts, workers, err := buildHosts(manifest.DataSources, abis, cfg.WorkerQueueSize)
	if err != nil {
		return fmt.Errorf("building runtime hosts: %w", err)
	}
	defer func() {
		for _, w := range workers {
			w.Stop()
		}
	}()

	memory := sharedmemory.NewSharedMemory()
	pipeline := orchestrator.New("indexer", adapter, manifest.DataSources, hosts, memory, cfg.BatchSize, log.Logger)

	if err := pipeline.Run(ctx, cfg.StartBlock); err != nil && ctx.Err() == nil {
		return fmt.Errorf("running pipeline: %w", err)
	}
	log.Info().Msg("indexer shut down")
	return nil
}

// loadABIs parses every ABI file referenced by the manifest, keyed by the
// name data sources use to reference it.
func loadABIs(paths map[string]string) (map[string]*gethabi.ABI, error) {
	abis := make(map[string]*gethabi.ABI, len(paths))
	for name, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading ABI %q at %q: %w", name, path, err)
		}
		parsed, err := gethabi.JSON(strings.NewReader(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("parsing ABI %q: %w", name, err)
		}
		abis[name] = &parsed
	}
	return abis, nil
}

// buildHosts spins up one mapping worker and one runtime host per data
// source, returning both so the caller can stop the workers on shutdown.
func buildHosts(
	dataSources []trigger.DataSource,
	abis map[string]*gethabi.ABI,
	queueSize int,
) ([]*runtimehost.Host, []*mappingworker.Worker, error) {
	hosts := make([]*runtimehost.Host, 0, len(dataSources))
	workers := make([]*mappingworker.Worker, 0, len(dataSources))

	for _, ds := range dataSources {
		wasmBytes, err := os.ReadFile(ds.Mapping)
		if err != nil {
			return nil, nil, fmt.Errorf("reading mapping module for data source %q: %w", ds.Name, err)
		}

		worker, err := mappingworker.New(wasmBytes, queueSize)
		if err != nil {
			return nil, nil, fmt.Errorf("starting mapping worker for data source %q: %w", ds.Name, err)
		}
		workers = append(workers, worker)

		host, err := runtimehost.New(runtimehost.Config{
			DataSource: ds,
			ABIs:       abis,
			Worker:     worker,
			Logger:     log.Logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("building runtime host for data source %q: %w", ds.Name, err)
		}
		hosts = append(hosts, host)
	}
	return hosts, workers, nil
}
