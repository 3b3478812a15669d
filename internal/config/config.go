// Package config decodes the process configuration and data-source
// manifest an indexer process is started with.
package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/chainmapper/indexer-core/pkg/trigger"
)

// Config is the process-level configuration: where to reach the chain, how
// big to make the internal queues, and where to expose metrics. Manifest
// data sources are decoded separately via LoadManifest.
type Config struct {
	RPCEndpoint     string `envconfig:"RPC_ENDPOINT" required:"true"`
	ManifestPath    string `envconfig:"MANIFEST_PATH" default:"manifest.yaml"`
	MetricsAddr     string `envconfig:"METRICS_ADDR" default:":9090"`
	WorkerQueueSize int    `envconfig:"WORKER_QUEUE_SIZE" default:"100"`
	BatchSize       int64  `envconfig:"BATCH_SIZE" default:"2000"`
	StartBlock      int64  `envconfig:"START_BLOCK" default:"0"`
	Debug           bool   `envconfig:"DEBUG" default:"false"`
	HumanLogs       bool   `envconfig:"HUMAN_LOGS" default:"false"`
}

// FromEnv decodes Config from environment variables prefixed INDEXER_, the
// way the teacher's process configuration layers environment overrides on
// top of defaults.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("indexer", &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config from environment: %w", err)
	}
	return cfg, nil
}

// Manifest is a named collection of data sources, decoded from a YAML
// manifest file.
type Manifest struct {
	DataSources []trigger.DataSource `yaml:"dataSources"`
	// ABIPaths maps an ABI name (as referenced by a data source's ABI
	// field) to the filesystem path of its JSON ABI file.
	ABIPaths map[string]string `yaml:"abis"`
}

// LoadManifest reads and decodes a data-source manifest from path.
func LoadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("reading manifest %q: %w", path, err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("decoding manifest %q: %w", path, err)
	}
	if len(manifest.DataSources) == 0 {
		return Manifest{}, fmt.Errorf("manifest %q declares no data sources", path)
	}
	return manifest, nil
}
