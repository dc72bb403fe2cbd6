// Package config loads the proxy configuration file.
//
// The file is YAML. Pool order in the file is preserved; it determines
// the order listeners are bound in and the scan order during listener
// migration on reload.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is one parsed configuration generation.
type Config struct {
	// WorkerProcesses is the number of worker processes to spawn per
	// generation. Zero means run single-process.
	WorkerProcesses int `yaml:"worker_processes"`

	// StatsAddr is the master's admin/metrics listen address. Empty
	// disables the admin server.
	StatsAddr string `yaml:"stats_addr"`

	Pools []Pool `yaml:"pools"`
}

// Pool defines one logical listening endpoint. The name is a human
// label; the listen address is the pool's identity for migration.
type Pool struct {
	Name   string `yaml:"name"`
	Listen string `yaml:"listen"`

	// Servers is the backend set for this pool. Routing is handled
	// downstream of the supervision core; the entries are carried
	// opaquely here.
	Servers []string `yaml:"servers"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't read config %q", path)
	}
	return Parse(data)
}

// Parse parses and validates a raw YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "can't parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants the supervision core relies on.
func (c *Config) Validate() error {
	if c.WorkerProcesses < 0 {
		return errors.Errorf("worker_processes must not be negative, got %d", c.WorkerProcesses)
	}
	if len(c.Pools) == 0 {
		return errors.New("config defines no pools")
	}
	seen := make(map[string]struct{}, len(c.Pools))
	for i := range c.Pools {
		p := &c.Pools[i]
		if p.Name == "" {
			return errors.Errorf("pool %d has no name", i)
		}
		if p.Listen == "" {
			return errors.Errorf("pool %q has no listen address", p.Name)
		}
		if _, ok := seen[p.Name]; ok {
			return errors.Errorf("duplicate pool name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}
