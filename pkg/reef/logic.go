package reef

import (
	"sync"

	"github.com/newbpydev/reef/pkg/reef/fingerprint"
)

// The current logic set: fingerprints of all user logic live in this
// process. A memoized result is only honored while every logic fingerprint
// it recorded is still registered; unregistering a fingerprint (the code
// changed) silently invalidates every cache entry that depended on it.
//
// Logic fingerprints are opaque to the engine — how a host derives them
// from callback code is the caller's concern.
var currentLogicSet = struct {
	sync.RWMutex
	m map[fingerprint.Fingerprint]struct{}
}{m: make(map[fingerprint.Fingerprint]struct{})}

// RegisterLogic adds fp to the current logic set.
func RegisterLogic(fp fingerprint.Fingerprint) {
	currentLogicSet.Lock()
	defer currentLogicSet.Unlock()
	currentLogicSet.m[fp] = struct{}{}
}

// UnregisterLogic removes fp from the current logic set.
func UnregisterLogic(fp fingerprint.Fingerprint) {
	currentLogicSet.Lock()
	defer currentLogicSet.Unlock()
	delete(currentLogicSet.m, fp)
}

// LogicRegistered reports whether fp is in the current logic set.
func LogicRegistered(fp fingerprint.Fingerprint) bool {
	currentLogicSet.RLock()
	defer currentLogicSet.RUnlock()
	_, ok := currentLogicSet.m[fp]
	return ok
}

func allLogicRegistered(fps []fingerprint.Fingerprint) bool {
	currentLogicSet.RLock()
	defer currentLogicSet.RUnlock()
	for _, fp := range fps {
		if _, ok := currentLogicSet.m[fp]; !ok {
			return false
		}
	}
	return true
}
