package reef

import (
	"os"
	"runtime"
	"sync"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/newbpydev/reef/pkg/reef/monitoring"
	"github.com/newbpydev/reef/pkg/reef/path"
	"github.com/newbpydev/reef/pkg/reef/store"
)

// Settings configures an Environment.
type Settings struct {
	// Dir is the environment's store directory. Deleting it is a full
	// reset.
	Dir string `yaml:"dir"`

	// Parallelism bounds how many component builders run concurrently
	// within one build pass. Zero means runtime.NumCPU().
	Parallelism int `yaml:"parallelism"`
}

// LoadSettings reads Settings from a YAML file.
//
// Example file:
//
//	dir: /var/lib/myapp/reef
//	parallelism: 8
func LoadSettings(file string) (Settings, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Settings{}, err
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Environment is a process-wide handle to one store directory plus the
// registry of root effect providers. Apps are registered against an
// Environment; their names are exclusive while the registration is live.
//
// The Environment exclusively owns the store handle. Close it when done
// (or manage it through the planet, see InitPlanet).
type Environment struct {
	settings Settings
	store    *store.Store
	logger   *zap.Logger
	metrics  monitoring.EngineMetrics

	appMu    sync.Mutex
	appNames map[string]struct{}

	provMu    sync.Mutex
	providers map[string]*erasedProvider // keyed by encoded provider EffectPath
}

// EnvOption configures an Environment.
type EnvOption func(*Environment)

// WithLogger sets the environment's structured logger. The default
// discards everything.
func WithLogger(l *zap.Logger) EnvOption {
	return func(e *Environment) { e.logger = l }
}

// WithMetrics overrides the metrics sink for this environment. The default
// is the process-global one (monitoring.GetGlobalMetrics).
func WithMetrics(m monitoring.EngineMetrics) EnvOption {
	return func(e *Environment) { e.metrics = m }
}

// NewEnvironment opens (creating if necessary) the store directory and
// returns a fresh Environment with no registered apps or providers.
func NewEnvironment(settings Settings, opts ...EnvOption) (*Environment, error) {
	env := &Environment{
		settings:  settings,
		logger:    zap.NewNop(),
		appNames:  make(map[string]struct{}),
		providers: make(map[string]*erasedProvider),
	}
	for _, opt := range opts {
		opt(env)
	}
	if env.metrics == nil {
		env.metrics = monitoring.GetGlobalMetrics()
	}
	st, err := store.Open(settings.Dir, store.WithLogger(env.logger))
	if err != nil {
		return nil, storageErr(err)
	}
	env.store = st
	env.logger.Info("environment opened", zap.String("dir", settings.Dir))
	return env, nil
}

// Store exposes the underlying store handle, used by the inspect package.
func (e *Environment) Store() *store.Store { return e.store }

// Logger returns the environment's logger.
func (e *Environment) Logger() *zap.Logger { return e.logger }

// Parallelism returns the effective builder concurrency bound.
func (e *Environment) Parallelism() int {
	if e.settings.Parallelism > 0 {
		return e.settings.Parallelism
	}
	return runtime.NumCPU()
}

// Close releases the store handle. Apps must be closed first; closing an
// environment with live registrations is an invariant violation by the
// caller but is tolerated (their names simply die with the process).
func (e *Environment) Close() error {
	e.logger.Info("environment closed", zap.String("dir", e.settings.Dir))
	return e.store.Close()
}

// registerProvider adds a provider to the registry. Root registration
// refuses duplicates (a client error); child providers re-register on
// every pass that declares their parent, so they overwrite.
func (e *Environment) registerProvider(p *erasedProvider, overwrite bool) error {
	key := string(p.epath.Encode())
	e.provMu.Lock()
	defer e.provMu.Unlock()
	if _, ok := e.providers[key]; ok && !overwrite {
		return &DuplicateEffectError{Path: p.epath}
	}
	e.providers[key] = p
	return nil
}

func (e *Environment) lookupProvider(ep path.EffectPath) (*erasedProvider, bool) {
	e.provMu.Lock()
	defer e.provMu.Unlock()
	p, ok := e.providers[string(ep.Encode())]
	return p, ok
}

// appRegistration holds a uniquely-acquired app name. Releasing it permits
// re-registration.
type appRegistration struct {
	name string
	env  *Environment
	once sync.Once
}

func newAppRegistration(name string, env *Environment) (*appRegistration, error) {
	env.appMu.Lock()
	defer env.appMu.Unlock()
	if _, taken := env.appNames[name]; taken {
		return nil, &AppNameError{Name: name}
	}
	env.appNames[name] = struct{}{}
	return &appRegistration{name: name, env: env}, nil
}

func (r *appRegistration) release() {
	r.once.Do(func() {
		r.env.appMu.Lock()
		defer r.env.appMu.Unlock()
		delete(r.env.appNames, r.name)
	})
}
