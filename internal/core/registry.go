package core

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var (
	registry   = make(map[string]ModuleInfo)
	registryMu sync.RWMutex
)

// RegisterModule records a module's info. Intended for init() functions;
// it panics on an empty ID, a nil constructor, or a duplicate registration.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	if info.ID == "" {
		panic("core: module ID must not be empty")
	}
	if info.New == nil {
		panic(fmt.Sprintf("core: module %s has no constructor", info.ID))
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[string(info.ID)]; dup {
		panic(fmt.Sprintf("core: module already registered: %s", info.ID))
	}
	registry[string(info.ID)] = info
}

// GetModule returns the ModuleInfo registered under id.
func GetModule(id string) (ModuleInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[id]
	return info, ok
}

// GetModules returns every registered module sorted by ID.
func GetModules() []ModuleInfo {
	return filterModules(func(string) bool { return true })
}

// GetModulesByNamespace returns the modules whose ID starts with
// "<namespace>.", e.g. "store" matches "store.sqlite" and "store.postgres".
func GetModulesByNamespace(namespace string) []ModuleInfo {
	prefix := namespace + "."
	return filterModules(func(id string) bool { return strings.HasPrefix(id, prefix) })
}

func filterModules(keep func(id string) bool) []ModuleInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var out []ModuleInfo
	for id, info := range registry {
		if keep(id) {
			out = append(out, info)
		}
	}
	slices.SortFunc(out, func(a, b ModuleInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// resetRegistry clears the registry. Only for testing.
func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]ModuleInfo)
}
