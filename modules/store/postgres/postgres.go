// Package postgres implements the store.postgres module: job and data
// point persistence on PostgreSQL through lib/pq, with the schema managed
// by golang-migrate from embedded migration files.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/flemzord/appcraft/internal/core"
	"github.com/flemzord/appcraft/internal/store"
	"github.com/lib/pq"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module registers a PostgreSQL-backed store.Store under store.ServiceName.
type Module struct {
	config Config
	db     *sql.DB
	logger *slog.Logger
	store  *Store
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "store.postgres",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("postgres: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if err := m.config.validate(); err != nil {
		return err
	}

	db, err := Open(context.TODO(), m.config)
	if err != nil {
		return err
	}
	m.db = db
	m.store = NewStore(db)

	ctx.RegisterService(store.ServiceName, store.Store(m.store))

	m.logger.Info("postgres store provisioned", "max_open_conns", m.config.MaxOpenConns)
	return nil
}

// Open connects with cfg, verifies the connection and migrates the schema.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	cfg.defaults()

	connector, err := pq.NewConnector(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.logger != nil {
		m.logger.Info("postgres store stopping")
	}
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// Store returns the store.Store implementation.
func (m *Module) Store() *Store {
	return m.store
}
