package core

// ModuleID identifies a module as "<namespace>.<name>", for example
// "store.sqlite" or "automation.engine".
type ModuleID string

// Namespace returns the part of the ID before the first dot.
func (id ModuleID) Namespace() string {
	for i := 0; i < len(id); i++ {
		if id[i] == '.' {
			return string(id[:i])
		}
	}
	return string(id)
}

// Module is the interface every appcraft module implements.
type Module interface {
	ModuleInfo() ModuleInfo
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	ID ModuleID

	// New returns a fresh, unconfigured instance.
	New func() Module
}
