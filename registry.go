package dronesdk

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ConnectionFactory builds a connection from the drone configuration.
type ConnectionFactory func(cfg Config) (Connection, error)

// PluginFactory returns a new, uninitialised plugin.
type PluginFactory func() Plugin

var (
	registryMu  sync.RWMutex
	connections = map[string]ConnectionFactory{}
	plugins     = map[string]PluginFactory{}
)

func init() {
	RegisterConnection("sim", func(cfg Config) (Connection, error) {
		return NewSimulator(cfg.Source), nil
	})
	RegisterConnection("skytraq", func(cfg Config) (Connection, error) {
		if cfg.Source.Port == "" {
			return nil, errors.New("skytraq source needs a port")
		}
		return NewSkytraqGPS(cfg.Source.Port), nil
	})
	RegisterConnection("canbattery", func(cfg Config) (Connection, error) {
		if cfg.Source.Port == "" {
			return nil, errors.New("canbattery source needs a port")
		}
		return NewCANBattery(cfg.Source.Port), nil
	})
	RegisterConnection("hardware", func(cfg Config) (Connection, error) {
		if cfg.Source.Port == "" || cfg.Source.BatteryPort == "" {
			return nil, errors.New("hardware source needs a port and a battery port")
		}
		return NewMux(nil).
			Route(ChannelGPS, NewSkytraqGPS(cfg.Source.Port)).
			Route(ChannelBattery, NewCANBattery(cfg.Source.BatteryPort)), nil
	})
}

// RegisterConnection makes a connection kind available to NewConnection.
// It panics if the name is registered twice.
func RegisterConnection(name string, factory ConnectionFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic("dronesdk: nil connection factory for " + name)
	}
	if _, dup := connections[name]; dup {
		panic("dronesdk: connection registered twice: " + name)
	}
	connections[name] = factory
}

func lookupConnection(name string) (ConnectionFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := connections[name]
	return f, ok
}

// NewConnection builds the connection named by cfg.Source.Kind.
func NewConnection(cfg Config) (Connection, error) {
	factory, ok := lookupConnection(cfg.Source.Kind)
	if !ok {
		return nil, errors.Errorf("unknown connection %q", cfg.Source.Kind)
	}
	conn, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create %s connection", cfg.Source.Kind)
	}
	return conn, nil
}

// ConnectionNames lists the registered connection kinds in order.
func ConnectionNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return sortedKeys(connections)
}

// RegisterPlugin makes a plugin available to PluginManager.Load. It panics
// if the name is registered twice.
func RegisterPlugin(name string, factory PluginFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic("dronesdk: nil plugin factory for " + name)
	}
	if _, dup := plugins[name]; dup {
		panic("dronesdk: plugin registered twice: " + name)
	}
	plugins[name] = factory
}

func lookupPlugin(name string) (PluginFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := plugins[name]
	return f, ok
}

// PluginNames lists the registered plugins in order.
func PluginNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return sortedKeys(plugins)
}

func sortedKeys[V any](m map[string]V) []string {
	names := lo.Keys(m)
	sort.Strings(names)
	return names
}
