package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"sort"

	"github.com/travis-ci/cloud-driver/cloudbrain"
	yaml "gopkg.in/yaml.v2"
)

// fileConfig is the layout of the esh configuration file:
//
//	sentry_dsn: https://...
//	drivers:
//	  devstack:
//	    provider: openstack
//	    auth_url: http://keystone:5000/v3
//	    username: admin
//	    ...
type fileConfig struct {
	SentryDSN string                  `yaml:"sentry_dsn"`
	Drivers   map[string]*driverEntry `yaml:"drivers"`
}

// driverEntry keeps a driver's settings as YAML so the provider's own
// factory can decode them into its configuration type.
type driverEntry struct {
	Provider string
	raw      []byte
}

func (e *driverEntry) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var fields map[string]interface{}
	if err := unmarshal(&fields); err != nil {
		return err
	}

	provider, ok := fields["provider"].(string)
	if !ok || provider == "" {
		return fmt.Errorf("driver has no provider")
	}
	delete(fields, "provider")

	raw, err := yaml.Marshal(fields)
	if err != nil {
		return err
	}

	e.Provider = provider
	e.raw = raw
	return nil
}

func (e *driverEntry) decode(v interface{}) error {
	return yaml.Unmarshal(e.raw, v)
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't read config: %v", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("couldn't parse config %s: %v", path, err)
	}
	return &cfg, nil
}

// loadCore builds a Core holding every driver in cfg. When only is set,
// just that driver is loaded.
func loadCore(ctx context.Context, cfg *fileConfig, only string) (*cloudbrain.Core, error) {
	core := cloudbrain.NewCore()

	names := make([]string, 0, len(cfg.Drivers))
	for name := range cfg.Drivers {
		if only == "" || name == only {
			names = append(names, name)
		}
	}
	if only != "" && len(names) == 0 {
		return nil, fmt.Errorf("no driver named %q in config", only)
	}
	sort.Strings(names)

	for _, name := range names {
		entry := cfg.Drivers[name]
		if err := core.LoadDriver(ctx, name, entry.Provider, entry.decode); err != nil {
			return nil, fmt.Errorf("couldn't load driver %s: %v", name, err)
		}
	}

	return core, nil
}
