package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const shutdownTimeout = 30 * time.Second

// App manages the lifecycle of the configured modules.
type App struct {
	ctx     *AppContext
	modules []moduleInstance
	logger  *slog.Logger
}

type moduleInstance struct {
	id      ModuleID
	module  Module
	started bool
	stopped bool
}

// NewApp creates a new App with the given context.
func NewApp(ctx *AppContext) *App {
	return &App{
		ctx:    ctx,
		logger: ctx.Logger.With("component", "core"),
	}
}

// LoadModules instantiates, provisions, and validates all modules for the
// given IDs in order. If any step fails, already-loaded modules are released.
func (a *App) LoadModules(ids []string) error {
	for _, id := range ids {
		mod, err := a.ctx.LoadModule(id)
		if err != nil {
			a.release()
			return fmt.Errorf("loading module %s: %w", id, err)
		}
		info := mod.ModuleInfo()
		a.modules = append(a.modules, moduleInstance{id: info.ID, module: mod})
		a.logger.Info("module loaded", "module", string(info.ID))
	}
	return nil
}

// Modules returns the IDs of loaded modules in load order.
func (a *App) Modules() []ModuleID {
	ids := make([]ModuleID, len(a.modules))
	for i, mi := range a.modules {
		ids[i] = mi.id
	}
	return ids
}

// Start starts every loaded module implementing Starter, in load order.
// If one fails, the modules already started are stopped in reverse order.
func (a *App) Start() error {
	for i := range a.modules {
		mi := &a.modules[i]
		s, ok := mi.module.(Starter)
		if !ok {
			continue
		}
		a.logger.Info("starting module", "module", string(mi.id))
		if err := s.Start(); err != nil {
			a.logger.Error("module start failed", "module", string(mi.id), "error", err)
			a.stopModules(i - 1)
			return fmt.Errorf("starting module %s: %w", mi.id, err)
		}
		mi.started = true
	}
	a.logger.Info("all modules started", "count", len(a.modules))
	return nil
}

// Stop stops all started modules in reverse order, then releases every
// module that holds resources without having been started.
func (a *App) Stop() {
	a.stopModules(len(a.modules) - 1)
	a.release()
}

func (a *App) stopModules(fromIndex int) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := fromIndex; i >= 0; i-- {
		mi := &a.modules[i]
		if !mi.started {
			continue
		}
		if s, ok := mi.module.(Stopper); ok {
			a.logger.Info("stopping module", "module", string(mi.id))
			if err := s.Stop(ctx); err != nil {
				a.logger.Error("module stop error", "module", string(mi.id), "error", err)
			}
		}
		mi.started = false
		mi.stopped = true
	}
}

// release calls Stop on modules that never started (a provisioned store
// holds an open database even before Start).
func (a *App) release() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := len(a.modules) - 1; i >= 0; i-- {
		mi := &a.modules[i]
		if mi.started || mi.stopped {
			continue
		}
		if s, ok := mi.module.(Stopper); ok {
			_ = s.Stop(ctx)
		}
		mi.stopped = true
	}
	a.modules = nil
}
