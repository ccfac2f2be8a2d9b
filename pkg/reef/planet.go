package reef

import (
	"sync"
)

// The planet is the outermost scope: one per process, governing the
// lifecycle of the default Environment. Initialization is idempotent —
// repeated InitPlanet calls return the already-open environment and ignore
// the new settings.
//
// Embedding code that wants several environments (tests, tools) can bypass
// the planet entirely and call NewEnvironment directly.
var planet = struct {
	sync.Mutex
	env *Environment
}{}

// InitPlanet opens the process-wide environment, or returns the existing
// one if a previous call already succeeded.
func InitPlanet(settings Settings, opts ...EnvOption) (*Environment, error) {
	planet.Lock()
	defer planet.Unlock()
	if planet.env != nil {
		return planet.env, nil
	}
	env, err := NewEnvironment(settings, opts...)
	if err != nil {
		return nil, err
	}
	planet.env = env
	return env, nil
}

// PlanetEnv returns the process-wide environment, if initialized.
func PlanetEnv() (*Environment, bool) {
	planet.Lock()
	defer planet.Unlock()
	return planet.env, planet.env != nil
}

// ClosePlanet closes and forgets the process-wide environment. Closing an
// uninitialized planet is a no-op.
func ClosePlanet() error {
	planet.Lock()
	defer planet.Unlock()
	if planet.env == nil {
		return nil
	}
	err := planet.env.Close()
	planet.env = nil
	return err
}
