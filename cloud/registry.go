package cloud

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

var (
	backendRegistry      = map[string]*backendRegistryEntry{}
	backendRegistryMutex sync.Mutex
)

// A ConfigDecoder decodes a provider-specific configuration into v. It lets
// the same factory read JSON or YAML configuration.
type ConfigDecoder func(v interface{}) error

// JSONConfig returns a ConfigDecoder for a JSON document.
func JSONConfig(cfg []byte) ConfigDecoder {
	return func(v interface{}) error {
		return json.Unmarshal(cfg, v)
	}
}

type backendRegistryEntry struct {
	Alias             string
	HumanReadableName string
	DriverFunc        func(ConfigDecoder) (Driver, error)
}

// RegisterProvider makes a driver factory available under alias. Connection
// adapters call it from an init function.
func RegisterProvider(alias, humanReadableName string, driverFunc func(ConfigDecoder) (Driver, error)) {
	backendRegistryMutex.Lock()
	defer backendRegistryMutex.Unlock()

	backendRegistry[alias] = &backendRegistryEntry{
		Alias:             alias,
		HumanReadableName: humanReadableName,
		DriverFunc:        driverFunc,
	}
}

// NewDriver creates a new driver given the alias and provider-specific JSON
// configuration. The alias must match what was passed to RegisterProvider.
func NewDriver(alias string, cfg []byte) (Driver, error) {
	return NewDriverFromConfig(alias, JSONConfig(cfg))
}

// NewDriverFromConfig is like NewDriver, with the configuration read by
// decode.
func NewDriverFromConfig(alias string, decode ConfigDecoder) (Driver, error) {
	backendRegistryMutex.Lock()
	backend, ok := backendRegistry[alias]
	backendRegistryMutex.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown cloud provider: %s", alias)
	}

	return backend.DriverFunc(decode)
}

// RegisteredProviders returns the registered aliases and their human
// readable names, sorted by alias.
func RegisteredProviders() [][2]string {
	backendRegistryMutex.Lock()
	defer backendRegistryMutex.Unlock()

	var providers [][2]string
	for alias, entry := range backendRegistry {
		providers = append(providers, [2]string{alias, entry.HumanReadableName})
	}
	sort.Slice(providers, func(i, j int) bool {
		return providers[i][0] < providers[j][0]
	})
	return providers
}
