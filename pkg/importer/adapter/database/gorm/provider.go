// Package gorm implements the database adapter on top of GORM. Dialects register a
// DialectorFactory from their own package so that only linked drivers are available.
package gorm

import (
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tigerroll/surfin-import/pkg/importer/adapter/database"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/logger"
)

// DialectorFactory generates a gorm.Dialector from a database.DatabaseConfig.
type DialectorFactory func(cfg database.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given database type.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// GetDialectorFactory retrieves the DialectorFactory registered for dbType.
func GetDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type: %s", dbType)
	}
	return factory, nil
}

// BaseProvider opens and caches GORM connections of one database type.
type BaseProvider struct {
	dbType      string
	connections map[string]*gorm.DB
	mu          sync.RWMutex
}

// NewBaseProvider creates a BaseProvider for dbType.
func NewBaseProvider(dbType string) *BaseProvider {
	return &BaseProvider{dbType: dbType, connections: make(map[string]*gorm.DB)}
}

// Type returns the database type.
func (p *BaseProvider) Type() string {
	return p.dbType
}

// GetConnection retrieves an existing connection or establishes a new one.
func (p *BaseProvider) GetConnection(name string, cfg database.DatabaseConfig) (*gorm.DB, error) {
	p.mu.RLock()
	db, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return db, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if db, ok = p.connections[name]; ok {
		return db, nil
	}
	return p.createAndStoreConnection(name, cfg)
}

// ForceReconnect closes the named connection if open and establishes a new one.
func (p *BaseProvider) ForceReconnect(name string, cfg database.DatabaseConfig) (*gorm.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.connections[name]; ok {
		if err := closeDB(existing); err != nil {
			logger.Warnf("Failed to close existing connection '%s' before reconnect: %v", name, err)
		}
		delete(p.connections, name)
	}
	db, err := p.createAndStoreConnection(name, cfg)
	if err != nil {
		return nil, err
	}
	logger.Infof("Re-established DB connection: %s (%s)", name, p.dbType)
	return db, nil
}

// CloseAll closes all connections managed by this provider.
func (p *BaseProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var lastErr error
	for name, db := range p.connections {
		if err := closeDB(db); err != nil {
			logger.Errorf("Failed to close connection '%s': %v", name, err)
			lastErr = err
		}
		delete(p.connections, name)
	}
	return lastErr
}

func (p *BaseProvider) createAndStoreConnection(name string, cfg database.DatabaseConfig) (*gorm.DB, error) {
	if cfg.Type != p.dbType {
		return nil, fmt.Errorf("provider type mismatch: expected '%s', got '%s' for connection '%s'", p.dbType, cfg.Type, name)
	}
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	p.connections[name] = db
	logger.Infof("Established new DB connection: %s (%s)", name, p.dbType)
	return db, nil
}

// Open establishes a GORM connection for cfg using its registered dialector.
func Open(cfg database.DatabaseConfig) (*gorm.DB, error) {
	factory, err := GetDialectorFactory(cfg.Type)
	if err != nil {
		return nil, err
	}
	dialector, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", cfg.Type, err)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewGormLogger(cfg.LogLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	if cfg.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return db, nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
