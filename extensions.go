package dronesdk

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Plugin extends a drone with behaviour built on the public API, usually
// by subscribing to events or adding forwarders.
type Plugin interface {
	Name() string
	Version() string
	Initialize(d *Drone) error
}

// Closer is implemented by plugins that hold resources to release on
// Unload.
type Closer interface {
	Close() error
}

// ModelHandle identifies a model loaded by an InferenceProvider.
type ModelHandle string

// InferenceProvider runs machine learning models on behalf of plugins.
type InferenceProvider interface {
	Load(path string) (ModelHandle, error)
	Run(ctx context.Context, handle ModelHandle, input []float64) ([]float64, error)
}

// Command is a request arriving from an external control surface.
type Command struct {
	Name string
	Args map[string]interface{}
}

type Response struct {
	OK      bool
	Message string
	Data    interface{}
}

// CommandEndpoint handles commands from an external control surface such
// as a REST API.
type CommandEndpoint interface {
	Handle(ctx context.Context, cmd Command) (Response, error)
}

// PluginManager loads registered plugins into a drone.
type PluginManager struct {
	drone *Drone

	mu      sync.Mutex
	loaded  map[string]Plugin
	ordered []string
}

func NewPluginManager(d *Drone) *PluginManager {
	return &PluginManager{
		drone:  d,
		loaded: map[string]Plugin{},
	}
}

// Load creates and initialises the plugin registered under name.
func (m *PluginManager) Load(name string) (Plugin, error) {
	factory, ok := lookupPlugin(name)
	if !ok {
		return nil, errors.Errorf("unknown plugin %q", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loaded[name]; ok {
		return nil, errors.Errorf("plugin %q already loaded", name)
	}

	p := factory()
	if err := p.Initialize(m.drone); err != nil {
		return nil, errors.Wrapf(err, "unable to initialize plugin %s", name)
	}
	m.loaded[name] = p
	m.ordered = append(m.ordered, name)
	log.WithFields(log.Fields{
		"plugin":  p.Name(),
		"version": p.Version(),
	}).Info("plugin loaded")
	return p, nil
}

func (m *PluginManager) Get(name string) (Plugin, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.loaded[name]
	return p, ok
}

// List returns the loaded plugin names in load order.
func (m *PluginManager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ordered...)
}

// Unload drops the plugin and closes it if it holds resources.
func (m *PluginManager) Unload(name string) error {
	m.mu.Lock()
	p, ok := m.loaded[name]
	if ok {
		delete(m.loaded, name)
		for i, n := range m.ordered {
			if n == name {
				m.ordered = append(m.ordered[:i], m.ordered[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	if !ok {
		return errors.Errorf("plugin %q not loaded", name)
	}
	if c, ok := p.(Closer); ok {
		return errors.Wrapf(c.Close(), "unable to close plugin %s", name)
	}
	return nil
}

// Close unloads every plugin in reverse load order.
func (m *PluginManager) Close() error {
	names := m.List()
	var errs error
	for i := len(names) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, m.Unload(names[i]))
	}
	return errs
}
