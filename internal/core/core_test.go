package core

import (
	"context"
	"errors"
	"slices"
	"testing"
)

type lifecycleModule struct {
	id       ModuleID
	events   *[]string
	startErr error
}

func (m *lifecycleModule) ModuleInfo() ModuleInfo {
	return ModuleInfo{ID: m.id, New: func() Module { return m }}
}

func (m *lifecycleModule) Start() error {
	*m.events = append(*m.events, "start:"+string(m.id))
	return m.startErr
}

func (m *lifecycleModule) Stop(_ context.Context) error {
	*m.events = append(*m.events, "stop:"+string(m.id))
	return nil
}

func TestApp_StartStopOrder(t *testing.T) {
	t.Cleanup(resetRegistry)

	var events []string
	RegisterModule(&lifecycleModule{id: "test.a", events: &events})
	RegisterModule(&lifecycleModule{id: "test.b", events: &events})

	app := NewApp(NewAppContext(nil, t.TempDir()))
	if err := app.LoadModules([]string{"test.a", "test.b"}); err != nil {
		t.Fatalf("LoadModules: %v", err)
	}
	if err := app.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	app.Stop()

	want := []string{"start:test.a", "start:test.b", "stop:test.b", "stop:test.a"}
	if !slices.Equal(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestApp_StartFailureRollsBack(t *testing.T) {
	t.Cleanup(resetRegistry)

	var events []string
	RegisterModule(&lifecycleModule{id: "test.ok", events: &events})
	RegisterModule(&lifecycleModule{id: "test.bad", events: &events, startErr: errors.New("boom")})

	app := NewApp(NewAppContext(nil, t.TempDir()))
	if err := app.LoadModules([]string{"test.ok", "test.bad"}); err != nil {
		t.Fatalf("LoadModules: %v", err)
	}
	if err := app.Start(); err == nil {
		t.Fatal("expected start error")
	}

	want := []string{"start:test.ok", "start:test.bad", "stop:test.ok"}
	if !slices.Equal(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}

	// Stop releases the module that never started, exactly once.
	app.Stop()
	if got := events[len(events)-1]; got != "stop:test.bad" {
		t.Errorf("last event = %q, want stop:test.bad", got)
	}
}

func TestGetModulesByNamespace(t *testing.T) {
	t.Cleanup(resetRegistry)

	var events []string
	RegisterModule(&lifecycleModule{id: "store.b", events: &events})
	RegisterModule(&lifecycleModule{id: "store.a", events: &events})
	RegisterModule(&lifecycleModule{id: "gateway.http", events: &events})

	got := GetModulesByNamespace("store")
	if len(got) != 2 || got[0].ID != "store.a" || got[1].ID != "store.b" {
		t.Errorf("GetModulesByNamespace(store) = %v", got)
	}
}
